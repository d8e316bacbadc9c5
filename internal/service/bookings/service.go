package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/events"
	"reserva/backend/internal/idempotency"
	"reserva/backend/internal/payment"
	"reserva/backend/internal/service/availability"
	"reserva/backend/internal/store"
)

var (
	ErrNoProfessionalAvailable = errors.New("no professional available")
	ErrSlotNoLongerAvailable   = errors.New("slot no longer available")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrRequestInProgress       = errors.New("request with this idempotency key is in progress")
)

type Customer struct {
	ID    string `json:"id" validate:"required,max=128"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

type PaymentInput struct {
	// Method defaults to card.
	Method payment.Method `json:"method" validate:"omitempty,oneof=card on_site"`
	// Token is the provider payment method reference, required for card charges.
	Token string `json:"token" validate:"max=255"`
}

type CreateInput struct {
	TenantID       string       `json:"tenant_id" validate:"required,max=128"`
	ServiceID      uuid.UUID    `json:"service_id"`
	ProfessionalID *uuid.UUID   `json:"professional_id"`
	StartTime      time.Time    `json:"start_time"`
	Customer       Customer     `json:"customer"`
	Payment        PaymentInput `json:"payment"`
	IdempotencyKey string       `json:"idempotency_key" validate:"max=256"`
}

type Deps struct {
	Engine   *availability.Engine
	Catalog  store.CatalogRepository
	Bookings store.BookingRepository
	Packages store.PackageResolver
	Payments payment.Gateway
	Guard    idempotency.Guard
	Events   events.Publisher

	// PublishTimeout bounds event delivery after commit. Defaults to 2s.
	PublishTimeout time.Duration
}

type Service struct {
	engine         *availability.Engine
	catalog        store.CatalogRepository
	bookings       store.BookingRepository
	packages       store.PackageResolver
	payments       payment.Gateway
	guard          idempotency.Guard
	events         events.Publisher
	publishTimeout time.Duration
	validate       *validator.Validate
	log            *slog.Logger
	tracer         trace.Tracer
}

func NewService(d Deps, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if d.Payments == nil {
		d.Payments = payment.Disabled{}
	}
	if d.Guard == nil {
		d.Guard = idempotency.Noop{}
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.PublishTimeout <= 0 {
		d.PublishTimeout = 2 * time.Second
	}
	return &Service{
		engine:         d.Engine,
		catalog:        d.Catalog,
		bookings:       d.Bookings,
		packages:       d.Packages,
		payments:       d.Payments,
		guard:          d.Guard,
		events:         d.Events,
		publishTimeout: d.PublishTimeout,
		validate:       newValidator(),
		log:            log.With(slog.String("component", "bookings")),
		tracer:         otel.Tracer("reserva/bookings"),
	}
}

// BookingID derives the id a keyed create request will produce, so retries
// of the same request converge on one row.
func BookingID(tenantID, idempotencyKey string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("reserva:create_booking:"+tenantID+":"+idempotencyKey))
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "bookings.Create", trace.WithAttributes(
		attribute.String("tenant_id", in.TenantID),
		attribute.String("service_id", in.ServiceID.String()),
	))
	defer span.End()

	b, err := s.create(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Booking{}, err
	}
	span.SetAttributes(
		attribute.String("booking_id", b.ID.String()),
		attribute.String("professional_id", b.ProfessionalID.String()),
	)
	return b, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	in = normalize(in)
	if err := s.validateInput(in); err != nil {
		return domain.Booking{}, err
	}

	if in.IdempotencyKey == "" {
		return s.allocate(ctx, in, uuid.Nil)
	}

	id := BookingID(in.TenantID, in.IdempotencyKey)
	if existing, ok, err := s.replay(ctx, in, id); err != nil || ok {
		return existing, err
	}

	claim, err := s.guard.Claim(ctx, in.IdempotencyKey)
	if err != nil {
		// The deterministic id still deduplicates at the storage layer.
		s.log.Warn("idempotency claim failed", slog.String("tenant_id", in.TenantID), slog.Any("err", err))
		return s.allocate(ctx, in, id)
	}
	switch claim.Outcome {
	case idempotency.InProgress:
		return domain.Booking{}, ErrRequestInProgress
	case idempotency.Completed:
		return s.bookings.Get(ctx, in.TenantID, claim.BookingID)
	}

	b, err := s.allocate(ctx, in, id)
	if err != nil {
		if rerr := s.guard.Release(context.WithoutCancel(ctx), in.IdempotencyKey); rerr != nil {
			s.log.Warn("idempotency release failed", slog.String("tenant_id", in.TenantID), slog.Any("err", rerr))
		}
		return domain.Booking{}, err
	}
	if cerr := s.guard.Complete(context.WithoutCancel(ctx), in.IdempotencyKey, b.ID); cerr != nil {
		s.log.Warn("idempotency complete failed", slog.String("booking_id", b.ID.String()), slog.Any("err", cerr))
	}
	return b, nil
}

// replay returns the booking a previous request with the same key produced.
func (s *Service) replay(ctx context.Context, in CreateInput, id uuid.UUID) (domain.Booking, bool, error) {
	existing, err := s.bookings.Get(ctx, in.TenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	if existing.CustomerID != in.Customer.ID || existing.ServiceID != in.ServiceID || !existing.StartTime.Equal(in.StartTime) {
		return domain.Booking{}, false, store.ErrIdempotencyConflict
	}
	return existing, true, nil
}

func (s *Service) validateInput(in CreateInput) error {
	if err := s.validate.Struct(in); err != nil {
		return translate(err)
	}
	if in.ServiceID == uuid.Nil {
		return validationError("service_id is required")
	}
	if in.ProfessionalID != nil && *in.ProfessionalID == uuid.Nil {
		return validationError("professional_id is invalid")
	}
	if in.StartTime.IsZero() {
		return validationError("start_time is required")
	}
	return nil
}

func normalize(in CreateInput) CreateInput {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Customer.ID = strings.TrimSpace(in.Customer.ID)
	in.Customer.Name = strings.TrimSpace(in.Customer.Name)
	in.Customer.Email = strings.TrimSpace(in.Customer.Email)
	in.Customer.Phone = strings.TrimSpace(in.Customer.Phone)
	in.Payment.Token = strings.TrimSpace(in.Payment.Token)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.Payment.Method == "" {
		in.Payment.Method = payment.MethodCard
	}
	in.StartTime = in.StartTime.UTC()
	return in
}

// settlement is how the booking gets paid for.
type settlement struct {
	session *domain.PackageSession
	charge  bool
}

func (s *Service) allocate(ctx context.Context, in CreateInput, id uuid.UUID) (domain.Booking, error) {
	settings, err := s.engine.Settings(ctx, in.TenantID)
	if err != nil {
		return domain.Booking{}, err
	}
	svc, err := s.catalog.Service(ctx, in.TenantID, in.ServiceID)
	if err != nil {
		return domain.Booking{}, err
	}
	if svc.DurationMinutes <= 0 {
		return domain.Booking{}, fmt.Errorf("%w: service %s has no duration", availability.ErrInvalidConfiguration, svc.ID)
	}

	now := s.engine.Now()
	if in.StartTime.Before(now) {
		return domain.Booking{}, validationError("start_time must not be in the past")
	}
	day := domain.StartOfDay(in.StartTime, settings.Location)
	point := domain.PointOf(day, in.StartTime, false)
	local := in.StartTime.In(settings.Location)
	if local.Second() != 0 || local.Nanosecond() != 0 || int(point)%settings.IntervalMinutes != 0 {
		return domain.Booking{}, validationError("start_time must align to the %d-minute grid", settings.IntervalMinutes)
	}

	professionalID, err := s.pickProfessional(ctx, in, svc, settings)
	if err != nil {
		return domain.Booking{}, err
	}

	plan, err := s.plan(ctx, in, svc, now)
	if err != nil {
		return domain.Booking{}, err
	}

	booking := domain.Booking{
		ID:             id,
		TenantID:       in.TenantID,
		ProfessionalID: professionalID,
		ServiceID:      svc.ID,
		CustomerID:     in.Customer.ID,
		CustomerName:   in.Customer.Name,
		CustomerEmail:  in.Customer.Email,
		CustomerPhone:  in.Customer.Phone,
		StartTime:      in.StartTime,
		EndTime:        in.StartTime.Add(svc.Duration()),
		Status:         domain.BookingStatusActive,
		AmountCents:    svc.PriceCents,
	}
	if booking.ID == uuid.Nil {
		if booking.ID, err = uuid.NewV7(); err != nil {
			return domain.Booking{}, err
		}
	}

	var (
		created domain.Booking
		receipt *payment.Receipt
	)
	err = s.bookings.InProfessionalTransaction(ctx, in.TenantID, professionalID, func(ctx context.Context, tx store.BookingTx) error {
		dayIn, err := s.engine.DayFor(ctx, tx, in.TenantID, professionalID, svc, day, settings)
		if err != nil {
			return err
		}
		if !domain.IsBookable(dayIn, svc.DurationMinutes, point) {
			s.log.Info(
				"slot failed revalidation",
				slog.String("tenant_id", in.TenantID),
				slog.String("professional_id", professionalID.String()),
				slog.Time("start_time", in.StartTime),
			)
			return ErrSlotNoLongerAvailable
		}

		switch {
		case plan.session != nil:
			if err := tx.ConsumePackage(ctx, *plan.session); err != nil {
				return err
			}
			booking.PackageSessionID = &plan.session.ID
			booking.AmountCents = 0
			s.log.Info(
				"package session consumed",
				slog.String("tenant_id", in.TenantID),
				slog.String("package_session_id", plan.session.ID.String()),
				slog.String("customer_id", in.Customer.ID),
			)
		case plan.charge:
			r, err := s.payments.Charge(ctx, payment.ChargeRequest{
				TenantID:       in.TenantID,
				CustomerID:     in.Customer.ID,
				CustomerEmail:  in.Customer.Email,
				AmountCents:    svc.PriceCents,
				PaymentMethod:  in.Payment.Token,
				Description:    svc.Name,
				IdempotencyKey: "booking:" + booking.ID.String(),
			})
			if err != nil {
				s.log.Warn(
					"charge failed",
					slog.String("tenant_id", in.TenantID),
					slog.String("customer_id", in.Customer.ID),
					slog.Int64("amount_cents", svc.PriceCents),
					slog.Any("err", err),
				)
				return fmt.Errorf("%w: %w", ErrPaymentFailed, err)
			}
			receipt = &r
			booking.PaymentReceiptID = r.ID
			s.log.Info(
				"charge succeeded",
				slog.String("tenant_id", in.TenantID),
				slog.String("receipt_id", r.ID),
				slog.Int64("amount_cents", r.AmountCents),
			)
		default:
			booking.AmountCents = 0
		}

		created, err = tx.Insert(ctx, booking)
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrSlotNoLongerAvailable, err)
		}
		return err
	})
	if err != nil {
		s.compensate(ctx, booking, receipt, err)
		return domain.Booking{}, err
	}

	s.log.Info(
		"booking committed",
		slog.String("tenant_id", created.TenantID),
		slog.String("booking_id", created.ID.String()),
		slog.String("professional_id", created.ProfessionalID.String()),
		slog.Time("start_time", created.StartTime),
	)
	s.publish(ctx, events.BookingCreated, created)
	return created, nil
}

func (s *Service) pickProfessional(ctx context.Context, in CreateInput, svc domain.Service, settings availability.Settings) (uuid.UUID, error) {
	if in.ProfessionalID != nil {
		p, err := s.catalog.Professional(ctx, in.TenantID, *in.ProfessionalID)
		if err != nil {
			return uuid.Nil, err
		}
		if !p.Active {
			return uuid.Nil, store.ErrNotFound
		}
		return p.ID, nil
	}

	candidates, err := s.engine.CandidatesAt(ctx, in.TenantID, svc, in.StartTime, settings)
	if err != nil {
		return uuid.Nil, err
	}
	if len(candidates) == 0 {
		return uuid.Nil, ErrNoProfessionalAvailable
	}
	s.log.Debug(
		"professional resolved",
		slog.String("tenant_id", in.TenantID),
		slog.String("professional_id", candidates[0].ID.String()),
		slog.Int("candidates", len(candidates)),
	)
	return candidates[0].ID, nil
}

// plan decides between a package session, a charge, or neither. A package
// session always wins over payment.
func (s *Service) plan(ctx context.Context, in CreateInput, svc domain.Service, now time.Time) (settlement, error) {
	session, err := s.packages.FindUsableSession(ctx, in.TenantID, in.Customer.ID, svc.ID)
	if err != nil {
		return settlement{}, err
	}
	if session != nil && session.Usable(now) {
		return settlement{session: session}, nil
	}
	if svc.PriceCents <= 0 || in.Payment.Method == payment.MethodOnSite {
		return settlement{}, nil
	}
	if in.Payment.Token == "" {
		return settlement{}, validationError("payment.token is required")
	}
	return settlement{charge: true}, nil
}

// compensate refunds a charge taken inside the rolled back transaction. A
// consumed package session rolls back with the transaction itself. Failures
// are logged for manual reconciliation and never replace cause.
func (s *Service) compensate(ctx context.Context, b domain.Booking, receipt *payment.Receipt, cause error) {
	ctx = context.WithoutCancel(ctx)
	if receipt != nil {
		if err := s.payments.Refund(ctx, *receipt); err != nil {
			s.log.Error(
				"refund failed",
				slog.String("tenant_id", b.TenantID),
				slog.String("receipt_id", receipt.ID),
				slog.String("customer_id", b.CustomerID),
				slog.Time("start_time", b.StartTime),
				slog.Int64("amount_cents", receipt.AmountCents),
				slog.String("cause", cause.Error()),
				slog.Any("err", err),
			)
		} else {
			s.log.Info("charge refunded", slog.String("tenant_id", b.TenantID), slog.String("receipt_id", receipt.ID))
		}
	}
}

func (s *Service) Get(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error) {
	if strings.TrimSpace(tenantID) == "" {
		return domain.Booking{}, validationError("tenant_id is required")
	}
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	return s.bookings.Get(ctx, strings.TrimSpace(tenantID), bookingID)
}

// Cancel frees the booking's interval. Cancelling twice returns
// store.ErrAlreadyCancelled and has no further effect.
func (s *Service) Cancel(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.Booking{}, validationError("tenant_id is required")
	}
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}

	b, err := s.bookings.Cancel(ctx, tenantID, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	s.log.Info("booking cancelled", slog.String("tenant_id", tenantID), slog.String("booking_id", bookingID.String()))
	s.publish(ctx, events.BookingCancelled, b)
	return b, nil
}

func (s *Service) publish(ctx context.Context, t events.Type, b domain.Booking) {
	ev := events.NewBookingEvent(t, b, s.engine.Now())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn(
			"event publish failed",
			slog.String("event_type", string(t)),
			slog.String("booking_id", b.ID.String()),
			slog.Any("err", err),
		)
	}
}

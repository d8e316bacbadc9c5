package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/payment"
	"reserva/backend/internal/service/availability"
	"reserva/backend/internal/service/bookings"
	"reserva/backend/internal/store"
)

type BookingServer struct {
	availability availabilityService
	bookings     bookingService
	log          *slog.Logger
}

type availabilityService interface {
	Resolve(ctx context.Context, tenantID string, serviceID uuid.UUID, professionalID *uuid.UUID, from time.Time) (availability.Result, error)
}

type bookingService interface {
	Create(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	Cancel(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error)
	Get(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error)
}

func NewBookingServer(avail availabilityService, svc bookingService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		availability: avail,
		bookings:     svc,
		log:          log.With(slog.String("component", "grpc.bookings")),
	}
}

func (s *BookingServer) GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAvailability"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		log.Warn("invalid request", slog.String("reason", "missing_tenant"))
		return nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", tenantID))
		return nil, status.Error(codes.InvalidArgument, "service_id must be a UUID")
	}
	professionalID, err := optionalUUID(req.ProfessionalID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", tenantID))
		return nil, status.Error(codes.InvalidArgument, "professional_id must be a UUID")
	}
	var from time.Time
	if strings.TrimSpace(req.From) != "" {
		if from, err = time.Parse(time.RFC3339, strings.TrimSpace(req.From)); err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_time"), slog.String("tenant_id", tenantID))
			return nil, status.Error(codes.InvalidArgument, "from must be an RFC 3339 timestamp")
		}
	}

	res, err := s.availability.Resolve(ctx, tenantID, serviceID, professionalID, from)
	if err != nil {
		return nil, s.toStatus(log, err, "availability resolve failed", slog.String("tenant_id", tenantID), slog.String("service_id", serviceID.String()))
	}

	log.Debug(
		"availability returned",
		slog.String("tenant_id", tenantID),
		slog.String("service_id", serviceID.String()),
		slog.Int("days", len(res.Dates)),
	)
	return toAvailabilityResponse(res), nil
}

func (s *BookingServer) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", req.TenantID))
		return nil, status.Error(codes.InvalidArgument, "service_id must be a UUID")
	}
	professionalID, err := optionalUUID(req.ProfessionalID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", req.TenantID))
		return nil, status.Error(codes.InvalidArgument, "professional_id must be a UUID")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		log.Warn("invalid request", slog.String("reason", "missing_time"), slog.String("tenant_id", req.TenantID))
		return nil, status.Error(codes.InvalidArgument, "start_time is required")
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_time"), slog.String("tenant_id", req.TenantID))
		return nil, status.Error(codes.InvalidArgument, "start_time must be an RFC 3339 timestamp")
	}

	b, err := s.bookings.Create(ctx, bookings.CreateInput{
		TenantID:       req.TenantID,
		ServiceID:      serviceID,
		ProfessionalID: professionalID,
		StartTime:      start,
		Customer: bookings.Customer{
			ID:    req.Customer.ID,
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Payment: bookings.PaymentInput{
			Method: payment.Method(strings.TrimSpace(req.Payment.Method)),
			Token:  req.Payment.Token,
		},
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.toStatus(log, err, "booking create failed",
			slog.String("tenant_id", req.TenantID),
			slog.String("customer_id", req.Customer.ID),
			slog.Time("start_time", start),
		)
	}

	log.Info(
		"booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("tenant_id", b.TenantID),
		slog.String("professional_id", b.ProfessionalID.String()),
		slog.Time("start_time", b.StartTime),
	)
	return &CreateBookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *BookingServer) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*CancelBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelBooking"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", req.TenantID))
		return nil, status.Error(codes.InvalidArgument, "booking_id must be a UUID")
	}

	b, err := s.bookings.Cancel(ctx, req.TenantID, id)
	if err != nil {
		return nil, s.toStatus(log, err, "booking cancel failed", slog.String("tenant_id", req.TenantID), slog.String("booking_id", id.String()))
	}

	log.Info("booking cancelled", slog.String("booking_id", id.String()), slog.String("tenant_id", req.TenantID))
	return &CancelBookingResponse{Booking: toWireBooking(b)}, nil
}

func (s *BookingServer) GetBooking(ctx context.Context, req *GetBookingRequest) (*GetBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "GetBooking"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", req.TenantID))
		return nil, status.Error(codes.InvalidArgument, "booking_id must be a UUID")
	}

	b, err := s.bookings.Get(ctx, req.TenantID, id)
	if err != nil {
		return nil, s.toStatus(log, err, "booking get failed", slog.String("tenant_id", req.TenantID), slog.String("booking_id", id.String()))
	}
	return &GetBookingResponse{Booking: toWireBooking(b)}, nil
}

// toStatus maps service errors to gRPC codes. Only unexpected errors are
// logged at ERROR; msg names the failed operation.
func (s *BookingServer) toStatus(log *slog.Logger, err error, msg string, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)

	var vErr *bookings.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, availability.ErrInvalidConfiguration):
		log.Warn("invalid configuration", args...)
		return status.Error(codes.InvalidArgument, "The schedule configuration is invalid. Contact the business.")
	case errors.Is(err, store.ErrNotFound):
		log.Info("not found", args...)
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, bookings.ErrNoProfessionalAvailable):
		log.Info("no professional available", args...)
		return status.Error(codes.FailedPrecondition, "No professional is available at that time. Pick a different slot.")
	case errors.Is(err, bookings.ErrSlotNoLongerAvailable):
		log.Info("slot no longer available", args...)
		return status.Error(codes.FailedPrecondition, "That time is no longer available. Pick a different slot.")
	case errors.Is(err, store.ErrAlreadyCancelled):
		log.Info("booking already cancelled", args...)
		return status.Error(codes.FailedPrecondition, "This booking is already cancelled.")
	case errors.Is(err, store.ErrPackageExhausted):
		log.Info("package session exhausted", args...)
		return status.Error(codes.FailedPrecondition, "Your package has no sessions left for this service.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict", args...)
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, bookings.ErrPaymentFailed):
		log.Info("payment failed", args...)
		return status.Error(codes.Aborted, "Payment was not completed. No booking was made.")
	case errors.Is(err, bookings.ErrRequestInProgress):
		log.Info("request in progress", args...)
		return status.Error(codes.Aborted, "This request is already being processed.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("deadline exceeded", args...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info("request cancelled", args...)
		return status.Error(codes.Canceled, "request cancelled")
	}
	log.Error(msg, args...)
	return status.Error(codes.Internal, "internal error")
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func toAvailabilityResponse(res availability.Result) *GetAvailabilityResponse {
	out := &GetAvailabilityResponse{
		Service: ServiceInfo{
			ID:              res.Service.ID.String(),
			Name:            res.Service.Name,
			DurationMinutes: res.Service.DurationMinutes,
			PriceCents:      res.Service.PriceCents,
		},
		Professionals: make([]ProfessionalInfo, 0, len(res.Professionals)),
		Timezone:      res.Timezone,
		Days:          make([]DayAvailability, 0, len(res.Dates)),
	}
	for _, p := range res.Professionals {
		out.Professionals = append(out.Professionals, ProfessionalInfo{ID: p.ID.String(), Name: p.Name})
	}
	for _, date := range res.Dates {
		perProfessional := res.Days[date]
		day := DayAvailability{Date: date, Professionals: make([]ProfessionalSlots, 0, len(perProfessional))}
		// Catalog order keeps the response stable.
		for _, p := range res.Professionals {
			times, ok := perProfessional[p.ID]
			if !ok {
				continue
			}
			day.Professionals = append(day.Professionals, ProfessionalSlots{ProfessionalID: p.ID.String(), Times: times})
		}
		out.Days = append(out.Days, day)
	}
	return out
}

func toWireBooking(b domain.Booking) Booking {
	out := Booking{
		ID:               b.ID.String(),
		TenantID:         b.TenantID,
		ProfessionalID:   b.ProfessionalID.String(),
		ServiceID:        b.ServiceID.String(),
		CustomerID:       b.CustomerID,
		CustomerName:     b.CustomerName,
		StartTime:        b.StartTime.UTC().Format(time.RFC3339),
		EndTime:          b.EndTime.UTC().Format(time.RFC3339),
		Status:           string(b.Status),
		AmountCents:      b.AmountCents,
		PaymentReceiptID: b.PaymentReceiptID,
	}
	if b.PackageSessionID != nil {
		out.PackageSessionID = b.PackageSessionID.String()
	}
	if b.CancelledAt != nil {
		out.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
	}
	return out
}

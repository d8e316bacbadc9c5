package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/store"
)

const DateLayout = "2006-01-02"

var ErrInvalidConfiguration = errors.New("invalid configuration")

// DayReader is the read side needed to resolve one professional's day. Both
// the repositories and a booking transaction satisfy it.
type DayReader interface {
	store.ScheduleReader
	store.BookingReader
}

type Options struct {
	DefaultIntervalMinutes int
	DefaultTimezone        string
	SearchDays             int
	ResultDays             int
	Concurrency            int
	Now                    func() time.Time
}

type Settings struct {
	IntervalMinutes int
	Location        *time.Location
}

type Engine struct {
	catalog store.CatalogRepository
	reader  DayReader
	opts    Options
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewEngine(catalog store.CatalogRepository, reader DayReader, opts Options, log *slog.Logger) *Engine {
	if opts.DefaultIntervalMinutes == 0 {
		opts.DefaultIntervalMinutes = 15
	}
	if opts.SearchDays <= 0 {
		opts.SearchDays = 365
	}
	if opts.ResultDays <= 0 {
		opts.ResultDays = 7
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		catalog: catalog,
		reader:  reader,
		opts:    opts,
		log:     log.With(slog.String("component", "availability")),
		tracer:  otel.Tracer("reserva/availability"),
	}
}

// Result maps each populated date (in the tenant timezone) to the bookable
// start times of every professional with at least one opening that day.
type Result struct {
	Service       domain.Service
	Professionals []domain.Professional
	Timezone      string
	Dates         []string
	Days          map[string]map[uuid.UUID][]string
}

func (e *Engine) Now() time.Time {
	return e.opts.Now()
}

// Settings resolves the tenant's granularity and timezone, falling back to
// the configured defaults when the tenant has none stored.
func (e *Engine) Settings(ctx context.Context, tenantID string) (Settings, error) {
	interval := e.opts.DefaultIntervalMinutes
	tz := e.opts.DefaultTimezone

	ts, err := e.catalog.Settings(ctx, tenantID)
	switch {
	case err == nil:
		interval = ts.IntervalMinutes
		tz = ts.Timezone
	case errors.Is(err, store.ErrNotFound):
	default:
		return Settings{}, err
	}

	if interval <= 0 {
		return Settings{}, fmt.Errorf("%w: schedule interval must be positive, got %d", ErrInvalidConfiguration, interval)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfiguration, tz)
	}
	return Settings{IntervalMinutes: interval, Location: loc}, nil
}

func (e *Engine) Resolve(ctx context.Context, tenantID string, serviceID uuid.UUID, professionalID *uuid.UUID, from time.Time) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "availability.Resolve", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("service_id", serviceID.String()),
	))
	defer span.End()
	if professionalID != nil {
		span.SetAttributes(attribute.String("professional_id", professionalID.String()))
	}

	res, err := e.resolve(ctx, tenantID, serviceID, professionalID, from)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("days_returned", len(res.Dates)))
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, tenantID string, serviceID uuid.UUID, professionalID *uuid.UUID, from time.Time) (Result, error) {
	settings, err := e.Settings(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}

	svc, err := e.catalog.Service(ctx, tenantID, serviceID)
	if err != nil {
		return Result{}, err
	}
	if svc.DurationMinutes <= 0 {
		return Result{}, fmt.Errorf("%w: service %s has no duration", ErrInvalidConfiguration, svc.ID)
	}

	professionals, err := e.professionals(ctx, tenantID, serviceID, professionalID)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Service:       svc,
		Professionals: professionals,
		Timezone:      settings.Location.String(),
		Days:          make(map[string]map[uuid.UUID][]string),
	}
	if len(professionals) == 0 {
		return res, nil
	}

	now := e.opts.Now()
	floorAt := now
	if from.After(now) {
		floorAt = from
	}
	first := domain.StartOfDay(floorAt, settings.Location)

	cache := newScheduleCache(e.reader, tenantID, svc.ID)
	daysScanned := 0
	for i := 0; i < e.opts.SearchDays && len(res.Dates) < e.opts.ResultDays; i++ {
		day := first.AddDate(0, 0, i)
		daysScanned++

		perProfessional, err := e.resolveDay(ctx, cache, tenantID, svc, professionals, day, floorAt, settings)
		if err != nil {
			return Result{}, err
		}
		if len(perProfessional) > 0 {
			date := day.Format(DateLayout)
			res.Dates = append(res.Dates, date)
			res.Days[date] = perProfessional
		}

		// Schedules repeat weekly: a full week without any window means no
		// later day can produce one either.
		if i == 6 && !cache.anyWindows() {
			break
		}
	}

	e.log.Debug(
		"availability resolved",
		slog.String("tenant_id", tenantID),
		slog.String("service_id", svc.ID.String()),
		slog.Int("professionals", len(professionals)),
		slog.Int("days_scanned", daysScanned),
		slog.Int("days_returned", len(res.Dates)),
	)

	return res, nil
}

func (e *Engine) professionals(ctx context.Context, tenantID string, serviceID uuid.UUID, professionalID *uuid.UUID) ([]domain.Professional, error) {
	if professionalID == nil {
		return e.catalog.ProfessionalsForService(ctx, tenantID, serviceID)
	}
	p, err := e.catalog.Professional(ctx, tenantID, *professionalID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, store.ErrNotFound
	}
	return []domain.Professional{p}, nil
}

func (e *Engine) resolveDay(ctx context.Context, cache *scheduleCache, tenantID string, svc domain.Service, professionals []domain.Professional, day, floorAt time.Time, settings Settings) (map[uuid.UUID][]string, error) {
	var mu sync.Mutex
	out := make(map[uuid.UUID][]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, p := range professionals {
		g.Go(func() error {
			windows, err := cache.windows(gctx, p.ID, day.Weekday())
			if err != nil {
				return err
			}
			if len(windows) == 0 {
				return nil
			}
			in, err := e.dayInput(gctx, e.reader, tenantID, p.ID, windows, day, floorAt, settings)
			if err != nil {
				return err
			}
			points := domain.Bookable(in, svc.DurationMinutes)
			if len(points) == 0 {
				return nil
			}
			times := make([]string, 0, len(points))
			for _, pt := range points {
				times = append(times, pt.String())
			}
			mu.Lock()
			out[p.ID] = times
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DayFor builds the slot input for one professional on day from r, which may
// be a booking transaction.
func (e *Engine) DayFor(ctx context.Context, r DayReader, tenantID string, professionalID uuid.UUID, svc domain.Service, day time.Time, settings Settings) (domain.DayInput, error) {
	schedules, err := r.ForProfessionalAndWeekday(ctx, tenantID, professionalID, day.Weekday(), svc.ID)
	if err != nil {
		return domain.DayInput{}, err
	}
	windows := qualifyingWindows(schedules, day.Weekday(), svc.ID)
	if len(windows) == 0 {
		return domain.DayInput{Granularity: settings.IntervalMinutes}, nil
	}
	return e.dayInput(ctx, r, tenantID, professionalID, windows, day, e.opts.Now(), settings)
}

// CandidatesAt returns, in catalog order, the professionals for whom the
// service can start exactly at start.
func (e *Engine) CandidatesAt(ctx context.Context, tenantID string, svc domain.Service, start time.Time, settings Settings) ([]domain.Professional, error) {
	professionals, err := e.catalog.ProfessionalsForService(ctx, tenantID, svc.ID)
	if err != nil {
		return nil, err
	}
	day := domain.StartOfDay(start, settings.Location)
	point := domain.PointOf(day, start, false)

	var out []domain.Professional
	for _, p := range professionals {
		in, err := e.DayFor(ctx, e.reader, tenantID, p.ID, svc, day, settings)
		if err != nil {
			return nil, err
		}
		if domain.IsBookable(in, svc.DurationMinutes, point) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *Engine) dayInput(ctx context.Context, r store.BookingReader, tenantID string, professionalID uuid.UUID, windows []domain.Window, day, floorAt time.Time, settings Settings) (domain.DayInput, error) {
	bookings, err := r.ActiveBetween(ctx, tenantID, professionalID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return domain.DayInput{}, err
	}
	busy := make([]domain.Window, 0, len(bookings))
	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		if w, ok := domain.BusyWindow(day, b.StartTime, b.EndTime); ok {
			busy = append(busy, w)
		}
	}
	return domain.DayInput{
		Granularity: settings.IntervalMinutes,
		Floor:       domain.MinimumFloor(day, floorAt, settings.IntervalMinutes),
		Windows:     windows,
		Busy:        busy,
	}, nil
}

func qualifyingWindows(schedules []domain.WorkingSchedule, weekday time.Weekday, serviceID uuid.UUID) []domain.Window {
	var out []domain.Window
	for _, s := range schedules {
		if !s.AppliesTo(weekday) || !s.Qualifies(serviceID) {
			continue
		}
		w := s.Window()
		if w.Start >= w.End {
			continue
		}
		out = append(out, w)
	}
	return out
}

type scheduleKey struct {
	professionalID uuid.UUID
	weekday        time.Weekday
}

// scheduleCache memoizes qualifying windows per professional and weekday for
// the duration of one Resolve call.
type scheduleCache struct {
	reader    store.ScheduleReader
	tenantID  string
	serviceID uuid.UUID

	mu      sync.Mutex
	entries map[scheduleKey][]domain.Window
}

func newScheduleCache(reader store.ScheduleReader, tenantID string, serviceID uuid.UUID) *scheduleCache {
	return &scheduleCache{
		reader:    reader,
		tenantID:  tenantID,
		serviceID: serviceID,
		entries:   make(map[scheduleKey][]domain.Window),
	}
}

func (c *scheduleCache) windows(ctx context.Context, professionalID uuid.UUID, weekday time.Weekday) ([]domain.Window, error) {
	key := scheduleKey{professionalID: professionalID, weekday: weekday}

	c.mu.Lock()
	w, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return w, nil
	}

	schedules, err := c.reader.ForProfessionalAndWeekday(ctx, c.tenantID, professionalID, weekday, c.serviceID)
	if err != nil {
		return nil, err
	}
	w = qualifyingWindows(schedules, weekday, c.serviceID)

	c.mu.Lock()
	c.entries[key] = w
	c.mu.Unlock()
	return w, nil
}

func (c *scheduleCache) anyWindows() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.entries {
		if len(w) > 0 {
			return true
		}
	}
	return false
}

package availability

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/store"
)

var (
	tenantID  = "t1"
	serviceID = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	profA     = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	profB     = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

type fakeCatalog struct {
	serviceFn       func(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.Service, error)
	professionalFn  func(ctx context.Context, tenantID string, professionalID uuid.UUID) (domain.Professional, error)
	professionalsFn func(ctx context.Context, tenantID string, serviceID uuid.UUID) ([]domain.Professional, error)
	settingsFn      func(ctx context.Context, tenantID string) (domain.TenantSettings, error)
}

func (f *fakeCatalog) Service(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.Service, error) {
	if f.serviceFn == nil {
		panic("Service not configured")
	}
	return f.serviceFn(ctx, tenantID, serviceID)
}

func (f *fakeCatalog) Professional(ctx context.Context, tenantID string, professionalID uuid.UUID) (domain.Professional, error) {
	if f.professionalFn == nil {
		panic("Professional not configured")
	}
	return f.professionalFn(ctx, tenantID, professionalID)
}

func (f *fakeCatalog) ProfessionalsForService(ctx context.Context, tenantID string, serviceID uuid.UUID) ([]domain.Professional, error) {
	if f.professionalsFn == nil {
		panic("ProfessionalsForService not configured")
	}
	return f.professionalsFn(ctx, tenantID, serviceID)
}

func (f *fakeCatalog) Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	if f.settingsFn == nil {
		return domain.TenantSettings{}, store.ErrNotFound
	}
	return f.settingsFn(ctx, tenantID)
}

type fakeReader struct {
	mu           sync.Mutex
	schedules    []domain.WorkingSchedule
	bookings     []domain.Booking
	bookingCalls int
}

func (f *fakeReader) ForProfessionalAndWeekday(ctx context.Context, tenantID string, professionalID uuid.UUID, weekday time.Weekday, serviceID uuid.UUID) ([]domain.WorkingSchedule, error) {
	var out []domain.WorkingSchedule
	for _, s := range f.schedules {
		if s.ProfessionalID == professionalID && s.AppliesTo(weekday) && s.Qualifies(serviceID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeReader) ActiveBetween(ctx context.Context, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	f.mu.Lock()
	f.bookingCalls++
	f.mu.Unlock()

	var out []domain.Booking
	for _, b := range f.bookings {
		if b.ProfessionalID == professionalID && b.Active() && b.StartTime.Before(end) && b.EndTime.After(start) {
			out = append(out, b)
		}
	}
	return out, nil
}

func schedule(professionalID uuid.UUID, weekdays []int16, start, end string) domain.WorkingSchedule {
	s, _ := domain.ParsePoint(start)
	e, _ := domain.ParsePoint(end)
	return domain.WorkingSchedule{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ProfessionalID: professionalID,
		Weekdays:       weekdays,
		StartMinute:    int(s),
		EndMinute:      int(e),
		ServiceIDs:     []string{serviceID.String()},
	}
}

func newCatalog(duration int) *fakeCatalog {
	return &fakeCatalog{
		serviceFn: func(ctx context.Context, tid string, id uuid.UUID) (domain.Service, error) {
			if id != serviceID {
				return domain.Service{}, store.ErrNotFound
			}
			return domain.Service{ID: serviceID, TenantID: tid, Name: "cut", DurationMinutes: duration, PriceCents: 5000}, nil
		},
		professionalFn: func(ctx context.Context, tid string, id uuid.UUID) (domain.Professional, error) {
			switch id {
			case profA:
				return domain.Professional{ID: profA, Name: "Ana", Active: true}, nil
			case profB:
				return domain.Professional{ID: profB, Name: "Bia", Active: true}, nil
			}
			return domain.Professional{}, store.ErrNotFound
		},
		professionalsFn: func(ctx context.Context, tid string, id uuid.UUID) ([]domain.Professional, error) {
			return []domain.Professional{
				{ID: profA, Name: "Ana", Active: true},
				{ID: profB, Name: "Bia", Active: true},
			}, nil
		},
	}
}

// 2026-10-12 is a Monday.
var monday = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

func newReader() *fakeReader {
	return &fakeReader{
		schedules: []domain.WorkingSchedule{
			schedule(profA, []int16{1, 2, 3, 4, 5}, "09:00", "12:00"),
			schedule(profB, []int16{3}, "14:00", "16:00"),
		},
		bookings: []domain.Booking{
			{
				ID:             uuid.New(),
				ProfessionalID: profA,
				ServiceID:      serviceID,
				StartTime:      monday.Add(10 * time.Hour),
				EndTime:        monday.Add(10*time.Hour + 45*time.Minute),
				Status:         domain.BookingStatusActive,
			},
			{
				ID:             uuid.New(),
				ProfessionalID: profA,
				ServiceID:      serviceID,
				StartTime:      monday.Add(9 * time.Hour),
				EndTime:        monday.Add(9*time.Hour + 45*time.Minute),
				Status:         domain.BookingStatusCancelled,
			},
		},
	}
}

func newEngine(catalog *fakeCatalog, reader *fakeReader, now time.Time) *Engine {
	return NewEngine(catalog, reader, Options{
		DefaultIntervalMinutes: 15,
		DefaultTimezone:        "UTC",
		Now:                    func() time.Time { return now },
	}, nil)
}

func TestResolve_SevenPopulatedDaysWithSubtraction(t *testing.T) {
	if monday.Weekday() != time.Monday {
		t.Fatalf("fixture day is %s, want Monday", monday.Weekday())
	}
	now := monday.Add(8 * time.Hour)
	eng := newEngine(newCatalog(45), newReader(), now)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, nil, now)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	wantDates := []string{"2026-10-12", "2026-10-13", "2026-10-14", "2026-10-15", "2026-10-16", "2026-10-19", "2026-10-20"}
	if !slices.Equal(res.Dates, wantDates) {
		t.Fatalf("dates = %v, want %v", res.Dates, wantDates)
	}

	gotMon := res.Days["2026-10-12"][profA]
	wantMon := []string{"09:00", "09:15", "10:45", "11:00", "11:15"}
	if !slices.Equal(gotMon, wantMon) {
		t.Fatalf("monday slots = %v, want %v", gotMon, wantMon)
	}
	if _, ok := res.Days["2026-10-12"][profB]; ok {
		t.Fatalf("professional B has no monday schedule and must be omitted")
	}

	gotWed := res.Days["2026-10-14"][profB]
	wantWed := []string{"14:00", "14:15", "14:30", "14:45", "15:00", "15:15"}
	if !slices.Equal(gotWed, wantWed) {
		t.Fatalf("wednesday B slots = %v, want %v", gotWed, wantWed)
	}
	if len(res.Professionals) != 2 {
		t.Fatalf("professionals = %d, want 2", len(res.Professionals))
	}
	if res.Service.ID != serviceID {
		t.Fatalf("service = %s, want %s", res.Service.ID, serviceID)
	}
}

func TestResolve_TodayExcludesPast(t *testing.T) {
	now := monday.Add(10*time.Hour + 50*time.Minute)
	eng := newEngine(newCatalog(45), newReader(), now)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, &profA, now)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	got := res.Days["2026-10-12"][profA]
	want := []string{"11:00", "11:15"}
	if !slices.Equal(got, want) {
		t.Fatalf("monday slots = %v, want %v", got, want)
	}
}

func TestResolve_FromInThePastStartsToday(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	eng := newEngine(newCatalog(45), newReader(), now)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, &profA, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(res.Dates) == 0 || res.Dates[0] != "2026-10-12" {
		t.Fatalf("first date = %v, want 2026-10-12", res.Dates)
	}
}

func TestResolve_ProfessionalFilter(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	eng := newEngine(newCatalog(45), newReader(), now)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, &profB, now)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(res.Dates) != 7 {
		t.Fatalf("len(dates) = %d, want 7", len(res.Dates))
	}
	for _, d := range res.Dates {
		if _, ok := res.Days[d][profA]; ok {
			t.Fatalf("professional A must not appear when filtering on B")
		}
	}
	// B only works on Wednesdays, so seven populated days span seven weeks.
	if res.Dates[6] != "2026-11-25" {
		t.Fatalf("last date = %s, want 2026-11-25", res.Dates[6])
	}
}

func TestResolve_UnknownServiceIsNotFound(t *testing.T) {
	eng := newEngine(newCatalog(45), newReader(), monday)
	_, err := eng.Resolve(context.Background(), tenantID, uuid.New(), nil, monday)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, store.ErrNotFound)
	}
}

func TestResolve_UnknownProfessionalIsNotFound(t *testing.T) {
	eng := newEngine(newCatalog(45), newReader(), monday)
	unknown := uuid.New()
	_, err := eng.Resolve(context.Background(), tenantID, serviceID, &unknown, monday)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, store.ErrNotFound)
	}
}

func TestResolve_NonPositiveIntervalIsInvalidConfiguration(t *testing.T) {
	catalog := newCatalog(45)
	catalog.settingsFn = func(ctx context.Context, tid string) (domain.TenantSettings, error) {
		return domain.TenantSettings{TenantID: tid, IntervalMinutes: 0, Timezone: "UTC"}, nil
	}
	eng := newEngine(catalog, newReader(), monday)

	_, err := eng.Resolve(context.Background(), tenantID, serviceID, nil, monday)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("error = %v, want %v", err, ErrInvalidConfiguration)
	}
}

func TestResolve_TenantTimezoneShiftsDays(t *testing.T) {
	catalog := newCatalog(60)
	catalog.settingsFn = func(ctx context.Context, tid string) (domain.TenantSettings, error) {
		return domain.TenantSettings{TenantID: tid, IntervalMinutes: 30, Timezone: "America/New_York"}, nil
	}
	// Monday 03:00 UTC is still Sunday evening in New York.
	now := monday.Add(3 * time.Hour)
	eng := newEngine(catalog, newReader(), now)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, &profA, now)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Timezone != "America/New_York" {
		t.Fatalf("timezone = %q, want America/New_York", res.Timezone)
	}
	if res.Dates[0] != "2026-10-12" {
		t.Fatalf("first date = %s, want 2026-10-12", res.Dates[0])
	}
	// The 10:00-10:45 UTC booking is 06:00-06:45 in New York and does not
	// touch the 09:00-12:00 local window.
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
	if got := res.Days["2026-10-12"][profA]; !slices.Equal(got, want) {
		t.Fatalf("monday slots = %v, want %v", got, want)
	}
}

func TestResolve_NoSchedulesStopsAfterOneWeek(t *testing.T) {
	reader := &fakeReader{}
	eng := newEngine(newCatalog(45), reader, monday)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, nil, monday)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(res.Dates) != 0 {
		t.Fatalf("dates = %v, want none", res.Dates)
	}
	if reader.bookingCalls != 0 {
		t.Fatalf("booking lookups = %d, want 0 without windows", reader.bookingCalls)
	}
}

func TestResolve_FullyBookedDayIsOmitted(t *testing.T) {
	reader := &fakeReader{
		schedules: []domain.WorkingSchedule{schedule(profA, []int16{1}, "09:00", "10:00")},
		bookings: []domain.Booking{{
			ProfessionalID: profA,
			StartTime:      monday.Add(9 * time.Hour),
			EndTime:        monday.Add(10 * time.Hour),
			Status:         domain.BookingStatusActive,
		}},
	}
	now := monday.Add(7 * time.Hour)
	eng := newEngine(newCatalog(60), reader, now)

	res, err := eng.Resolve(context.Background(), tenantID, serviceID, &profA, now)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(res.Dates) == 0 || res.Dates[0] != "2026-10-19" {
		t.Fatalf("dates = %v, want first date 2026-10-19", res.Dates)
	}
}

func TestCandidatesAt(t *testing.T) {
	now := monday.Add(8 * time.Hour)
	eng := newEngine(newCatalog(45), newReader(), now)
	settings, err := eng.Settings(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Settings error: %v", err)
	}
	svc, _ := newCatalog(45).Service(context.Background(), tenantID, serviceID)

	wed := monday.AddDate(0, 0, 2)
	got, err := eng.CandidatesAt(context.Background(), tenantID, svc, wed.Add(9*time.Hour), settings)
	if err != nil {
		t.Fatalf("CandidatesAt error: %v", err)
	}
	if len(got) != 1 || got[0].ID != profA {
		t.Fatalf("candidates at wed 09:00 = %v, want [A]", got)
	}

	got, err = eng.CandidatesAt(context.Background(), tenantID, svc, monday.Add(9*time.Hour+30*time.Minute), settings)
	if err != nil {
		t.Fatalf("CandidatesAt error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("candidates at mon 09:30 = %v, want none", got)
	}
}

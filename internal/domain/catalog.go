package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID        string    `bun:"tenant_id,notnull"`
	Name            string    `bun:"name,notnull"`
	DurationMinutes int       `bun:"duration_minutes,notnull"`
	PriceCents      int64     `bun:"price_cents,notnull"`
	CostCents       int64     `bun:"cost_cents,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Professional struct {
	bun.BaseModel `bun:"table:professionals"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID  string    `bun:"tenant_id,notnull"`
	Name      string    `bun:"name,notnull"`
	Active    bool      `bun:"active,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// WorkingSchedule is a recurring weekly window. Weekdays use time.Weekday
// numbering (0 = Sunday) and the window bounds are minutes after local midnight
// in the tenant's timezone.
type WorkingSchedule struct {
	bun.BaseModel `bun:"table:working_schedules"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID       string    `bun:"tenant_id,notnull"`
	ProfessionalID uuid.UUID `bun:"professional_id,notnull,type:uuid"`
	Weekdays       []int16   `bun:"weekdays,array,notnull"`
	StartMinute    int       `bun:"start_minute,notnull"`
	EndMinute      int       `bun:"end_minute,notnull"`
	ServiceIDs     []string  `bun:"service_ids,array,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func (s WorkingSchedule) AppliesTo(weekday time.Weekday) bool {
	return slices.Contains(s.Weekdays, int16(weekday))
}

func (s WorkingSchedule) Qualifies(serviceID uuid.UUID) bool {
	return slices.Contains(s.ServiceIDs, serviceID.String())
}

func (s WorkingSchedule) Window() Window {
	return Window{Start: Point(s.StartMinute), End: Point(s.EndMinute)}
}

// TenantSettings holds the tenant-wide slot granularity and operating timezone.
type TenantSettings struct {
	bun.BaseModel `bun:"table:tenant_settings"`

	TenantID        string `bun:"tenant_id,pk"`
	IntervalMinutes int    `bun:"interval_minutes,notnull"`
	Timezone        string `bun:"timezone,notnull"`
}

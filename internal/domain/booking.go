package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking occupies [StartTime, EndTime) for its professional while active.
// EndTime is StartTime plus the service duration at the time of booking.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID               uuid.UUID     `bun:"id,pk,type:uuid"`
	TenantID         string        `bun:"tenant_id,notnull"`
	ProfessionalID   uuid.UUID     `bun:"professional_id,notnull,type:uuid"`
	ServiceID        uuid.UUID     `bun:"service_id,notnull,type:uuid"`
	CustomerID       string        `bun:"customer_id,notnull"`
	CustomerName     string        `bun:"customer_name,notnull"`
	CustomerEmail    string        `bun:"customer_email"`
	CustomerPhone    string        `bun:"customer_phone"`
	StartTime        time.Time     `bun:"start_time,notnull"`
	EndTime          time.Time     `bun:"end_time,notnull"`
	Status           BookingStatus `bun:"status,notnull"`
	AmountCents      int64         `bun:"amount_cents,notnull"`
	PaymentReceiptID string        `bun:"payment_receipt_id"`
	PackageSessionID *uuid.UUID    `bun:"package_session_id,type:uuid"`
	CancelledAt      *time.Time    `bun:"cancelled_at"`
	CreatedAt        time.Time     `bun:"created_at,notnull"`
	UpdatedAt        time.Time     `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Booking) Active() bool {
	return b.Status == BookingStatusActive
}

// PackageSession is a pre-purchased credit balance for one service.
type PackageSession struct {
	bun.BaseModel `bun:"table:package_sessions"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID   string    `bun:"tenant_id,notnull"`
	CustomerID string    `bun:"customer_id,notnull"`
	ServiceID  uuid.UUID `bun:"service_id,notnull,type:uuid"`
	Remaining  int       `bun:"remaining,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (p PackageSession) Usable(now time.Time) bool {
	return p.Remaining > 0 && now.Before(p.ExpiresAt)
}

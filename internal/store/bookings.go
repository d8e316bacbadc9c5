package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reserva/backend/internal/domain"
)

type BookingReader interface {
	// ActiveBetween returns active bookings overlapping [start, end).
	ActiveBetween(ctx context.Context, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error)
}

type BookingRepository interface {
	BookingReader

	Get(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error)
	Cancel(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error)

	// InProfessionalTransaction runs fn in a transaction holding an exclusive
	// lock on the professional's calendar until commit or rollback.
	InProfessionalTransaction(ctx context.Context, tenantID string, professionalID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error
}

type BookingTx interface {
	ScheduleReader
	BookingReader

	// Insert returns ErrConflict when the booking overlaps an active one.
	Insert(ctx context.Context, booking domain.Booking) (domain.Booking, error)
	// ConsumePackage takes one credit from the session; rollback restores it.
	// ErrPackageExhausted when nothing usable is left.
	ConsumePackage(ctx context.Context, session domain.PackageSession) error
}

type PackageResolver interface {
	// FindUsableSession returns nil when the customer holds no active,
	// unexpired session with remaining balance for the service.
	FindUsableSession(ctx context.Context, tenantID, customerID string, serviceID uuid.UUID) (*domain.PackageSession, error)
}

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reserva/backend/internal/domain"
)

type CatalogRepository interface {
	Service(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.Service, error)
	Professional(ctx context.Context, tenantID string, professionalID uuid.UUID) (domain.Professional, error)
	// ProfessionalsForService lists active professionals with at least one
	// working schedule qualifying for the service, ordered by name.
	ProfessionalsForService(ctx context.Context, tenantID string, serviceID uuid.UUID) ([]domain.Professional, error)
	// Settings returns ErrNotFound when the tenant has no settings row.
	Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error)
}

type ScheduleReader interface {
	ForProfessionalAndWeekday(ctx context.Context, tenantID string, professionalID uuid.UUID, weekday time.Weekday, serviceID uuid.UUID) ([]domain.WorkingSchedule, error)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/store"
)

type CatalogRepo struct {
	db bun.IDB
}

func NewCatalogRepo(db bun.IDB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

func (r *CatalogRepo) Service(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.Service, error) {
	var s domain.Service
	err := r.db.NewSelect().
		Model(&s).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Service{}, notFound(err)
	}
	return s, nil
}

func (r *CatalogRepo) Professional(ctx context.Context, tenantID string, professionalID uuid.UUID) (domain.Professional, error) {
	var p domain.Professional
	err := r.db.NewSelect().
		Model(&p).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", professionalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Professional{}, notFound(err)
	}
	return p, nil
}

func (r *CatalogRepo) ProfessionalsForService(ctx context.Context, tenantID string, serviceID uuid.UUID) ([]domain.Professional, error) {
	var rows []domain.Professional
	err := r.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Where("?TableAlias.active").
		Where(`EXISTS (
			SELECT 1 FROM working_schedules ws
			WHERE ws.tenant_id = ?TableAlias.tenant_id
			  AND ws.professional_id = ?TableAlias.id
			  AND ? = ANY(ws.service_ids)
		)`, serviceID.String()).
		OrderExpr("?TableAlias.name ASC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CatalogRepo) Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	var ts domain.TenantSettings
	err := r.db.NewSelect().
		Model(&ts).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.TenantSettings{}, notFound(err)
	}
	return ts, nil
}

type ScheduleRepo struct {
	db bun.IDB
}

func NewScheduleRepo(db bun.IDB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

func (r *ScheduleRepo) ForProfessionalAndWeekday(ctx context.Context, tenantID string, professionalID uuid.UUID, weekday time.Weekday, serviceID uuid.UUID) ([]domain.WorkingSchedule, error) {
	return schedulesFor(ctx, r.db, tenantID, professionalID, weekday, serviceID)
}

func schedulesFor(ctx context.Context, db bun.IDB, tenantID string, professionalID uuid.UUID, weekday time.Weekday, serviceID uuid.UUID) ([]domain.WorkingSchedule, error) {
	var rows []domain.WorkingSchedule
	err := db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("professional_id = ?", professionalID).
		Where("? = ANY(weekdays)", int16(weekday)).
		Where("? = ANY(service_ids)", serviceID.String()).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

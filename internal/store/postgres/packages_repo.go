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

type PackageRepo struct {
	db bun.IDB
}

func NewPackageRepo(db bun.IDB) *PackageRepo {
	return &PackageRepo{db: db}
}

// FindUsableSession picks the session closest to expiry.
func (r *PackageRepo) FindUsableSession(ctx context.Context, tenantID, customerID string, serviceID uuid.UUID) (*domain.PackageSession, error) {
	var s domain.PackageSession
	err := r.db.NewSelect().
		Model(&s).
		Where("tenant_id = ?", tenantID).
		Where("customer_id = ?", customerID).
		Where("service_id = ?", serviceID).
		Where("remaining > 0").
		Where("expires_at > now()").
		OrderExpr("expires_at ASC, id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// consumeSession takes one credit. Run it on the booking transaction so a
// rollback restores the balance.
func consumeSession(ctx context.Context, db bun.IDB, session domain.PackageSession) error {
	res, err := db.NewUpdate().
		Model((*domain.PackageSession)(nil)).
		Set("remaining = remaining - 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", session.TenantID).
		Where("id = ?", session.ID).
		Where("remaining > 0").
		Where("expires_at > now()").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrPackageExhausted
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/store"
)

const overlapConstraint = "bookings_no_overlap"

type BookingRepo struct {
	db bun.IDB
}

func NewBookingRepo(db bun.IDB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) ActiveBetween(ctx context.Context, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	return activeBetween(ctx, r.db, tenantID, professionalID, start, end)
}

func (r *BookingRepo) Get(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

func (r *BookingRepo) Cancel(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error) {
	var out domain.Booking
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var b domain.Booking
		err := tx.NewSelect().
			Model(&b).
			Where("tenant_id = ?", tenantID).
			Where("id = ?", bookingID).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if err != nil {
			return notFound(err)
		}
		if !b.Active() {
			return store.ErrAlreadyCancelled
		}

		now := time.Now().UTC()
		b.Status = domain.BookingStatusCancelled
		b.CancelledAt = &now
		_, err = tx.NewUpdate().
			Model(&b).
			Column("status", "cancelled_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) InProfessionalTransaction(ctx context.Context, tenantID string, professionalID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProfessionalCalendar(ctx, tx, tenantID, professionalID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func professionalLockKey(tenantID string, professionalID uuid.UUID) string {
	return tenantID + ":" + professionalID.String()
}

// lockProfessionalCalendar serializes allocations for one professional until
// the transaction ends.
func lockProfessionalCalendar(ctx context.Context, tx bun.Tx, tenantID string, professionalID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", professionalLockKey(tenantID, professionalID)).Exec(ctx)
	return err
}

func (t bookingTx) ForProfessionalAndWeekday(ctx context.Context, tenantID string, professionalID uuid.UUID, weekday time.Weekday, serviceID uuid.UUID) ([]domain.WorkingSchedule, error) {
	return schedulesFor(ctx, t.tx, tenantID, professionalID, weekday, serviceID)
}

func (t bookingTx) ConsumePackage(ctx context.Context, session domain.PackageSession) error {
	return consumeSession(ctx, t.tx, session)
}

func (t bookingTx) ActiveBetween(ctx context.Context, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	return activeBetween(ctx, t.tx, tenantID, professionalID, start, end)
}

// Insert runs under a savepoint so a constraint violation leaves the
// surrounding transaction usable. Re-inserting an identical, still active
// booking id returns the stored row.
func (t bookingTx) Insert(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.ID != uuid.Nil {
		existing, ok, err := t.byID(ctx, b.ID)
		if err != nil {
			return domain.Booking{}, err
		}
		if ok {
			return replayed(existing, b)
		}
	}

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT booking_insert"); err != nil {
		return domain.Booking{}, err
	}

	m := b
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err == nil {
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT booking_insert"); err != nil {
			return domain.Booking{}, err
		}
		return m, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return domain.Booking{}, err
	}
	if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT booking_insert"); rbErr != nil {
		return domain.Booking{}, err
	}

	switch {
	case pgErr.Code == "23P01" && pgErr.ConstraintName == overlapConstraint:
		return domain.Booking{}, store.ErrConflict
	case pgErr.Code == "23505" && pgErr.ConstraintName == "bookings_pkey":
		existing, ok, selectErr := t.byID(ctx, b.ID)
		if selectErr != nil || !ok {
			return domain.Booking{}, err
		}
		return replayed(existing, b)
	}
	return domain.Booking{}, err
}

func (t bookingTx) byID(ctx context.Context, id uuid.UUID) (domain.Booking, bool, error) {
	var b domain.Booking
	err := t.tx.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	return b, true, nil
}

// replayed resolves an insert whose id is already taken. A different booking
// under the id is ErrIdempotencyConflict; an identical one that has since been
// cancelled no longer holds the slot and is ErrConflict.
func replayed(existing, b domain.Booking) (domain.Booking, error) {
	if !sameBooking(existing, b) {
		return domain.Booking{}, store.ErrIdempotencyConflict
	}
	if !existing.Active() {
		return domain.Booking{}, store.ErrConflict
	}
	return existing, nil
}

func sameBooking(existing, b domain.Booking) bool {
	return existing.TenantID == b.TenantID &&
		existing.ProfessionalID == b.ProfessionalID &&
		existing.ServiceID == b.ServiceID &&
		existing.CustomerID == b.CustomerID &&
		existing.StartTime.Equal(b.StartTime) &&
		existing.EndTime.Equal(b.EndTime)
}

func activeBetween(ctx context.Context, db bun.IDB, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("professional_id = ?", professionalID).
		Where("status = ?", domain.BookingStatusActive).
		Where("start_time < ?", end).
		Where("end_time > ?", start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/models"

	"github.com/google/uuid"
)

// LockRepository keeps reservation locks as one row per night. The
// (property_id, night) primary key makes acquisition insert-if-no-conflict.
type LockRepository struct {
	db  *DB
	ttl time.Duration
}

func NewLockRepository(db *DB, ttl time.Duration) *LockRepository {
	if ttl <= 0 {
		ttl = models.DefaultLockTTL
	}
	return &LockRepository{db: db, ttl: ttl}
}

func (r *LockRepository) Acquire(ctx context.Context, propertyID int64, dr daterange.DateRange) (*models.ReservationLock, error) {
	if dr.Nights() < 1 {
		return nil, &daterange.InvalidRangeError{CheckIn: dr.CheckIn, CheckOut: dr.CheckOut}
	}

	now := r.db.now()
	lock := &models.ReservationLock{
		PropertyID: propertyID,
		Range:      dr,
		Token:      uuid.NewString(),
		ExpiresAt:  now.Add(r.ttl),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// expired locks are treated as absent
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reservation_locks WHERE property_id = ? AND expires_at <= ?`,
		propertyID, now.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("failed to drop expired locks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reservation_locks (property_id, night, token, check_in, check_out, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare lock insert: %w", err)
	}
	defer stmt.Close()

	checkIn, checkOut := dr.CheckIn.Format(daterange.Layout), dr.CheckOut.Format(daterange.Layout)
	for _, night := range dr.Dates() {
		n := night.Format(daterange.Layout)
		if _, err := stmt.ExecContext(ctx, propertyID, n, lock.Token, checkIn, checkOut, lock.ExpiresAt.UnixMilli()); err != nil {
			if isConstraintViolation(err) {
				return nil, r.conflict(ctx, tx, propertyID, dr, n)
			}
			return nil, fmt.Errorf("failed to insert lock night: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lock: %w", err)
	}
	return lock, nil
}

func (r *LockRepository) conflict(ctx context.Context, tx *sql.Tx, propertyID int64, requested daterange.DateRange, night string) error {
	conflict := &domain.LockConflictError{PropertyID: propertyID, Requested: requested}

	var in, out string
	err := tx.QueryRowContext(ctx,
		`SELECT check_in, check_out FROM reservation_locks WHERE property_id = ? AND night = ?`,
		propertyID, night,
	).Scan(&in, &out)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.db.logger.Warn().Err(err).Int64("property_id", propertyID).Msg("failed to load conflicting lock")
		}
		return conflict
	}
	if held, err := daterange.Parse(in, out); err == nil {
		conflict.Held = held
	}
	return conflict
}

// Release deletes the lock rows carrying the token. A lock that already
// expired or was replaced leaves nothing to delete, which is not an error.
func (r *LockRepository) Release(ctx context.Context, lock *models.ReservationLock) error {
	if lock == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM reservation_locks WHERE property_id = ? AND token = ?`,
		lock.PropertyID, lock.Token,
	)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (r *LockRepository) PurgeExpiredLocks(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservation_locks WHERE expires_at <= ?`, r.db.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired locks: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ActiveLocks counts unexpired locked nights of a property.
func (r *LockRepository) ActiveLocks(ctx context.Context, propertyID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservation_locks WHERE property_id = ? AND expires_at > ?`,
		propertyID, r.db.now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count locks: %w", err)
	}
	return n, nil
}

package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLockRepository acquires on the primary backend and switches to the
// fallback while the primary is failing. A lock is released on the backend
// that granted it.
type FailoverLockRepository struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	granted   sync.Map // token -> domain.Locker
}

func NewFailoverLockRepository(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLockRepository {
	return &FailoverLockRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLockRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary lock backend failed, falling back")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverLockRepository) shouldTryPrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after a minute
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverLockRepository) Acquire(ctx context.Context, propertyID int64, dr daterange.DateRange) (*models.ReservationLock, error) {
	if r.shouldTryPrimary() {
		lock, err := r.primary.Acquire(ctx, propertyID, dr)
		if err == nil || isDecisive(err) {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary lock backend recovered")
			}
			if lock != nil {
				r.granted.Store(lock.Token, r.primary)
			}
			return lock, err
		}
		r.markDown(err)
	}

	lock, err := r.fallback.Acquire(ctx, propertyID, dr)
	if lock != nil {
		r.granted.Store(lock.Token, r.fallback)
	}
	return lock, err
}

func (r *FailoverLockRepository) Release(ctx context.Context, lock *models.ReservationLock) error {
	if lock == nil {
		return nil
	}

	backend, ok := r.granted.LoadAndDelete(lock.Token)
	if !ok {
		// unknown token, release everywhere
		return errors.Join(r.primary.Release(ctx, lock), r.fallback.Release(ctx, lock))
	}
	return backend.(domain.Locker).Release(ctx, lock)
}

// IsDown reports whether the fallback is serving acquisitions.
func (r *FailoverLockRepository) IsDown() bool {
	return r.isDown.Load()
}

// isDecisive reports whether the backend answered rather than failed.
func isDecisive(err error) bool {
	var lc *domain.LockConflictError
	var ir *daterange.InvalidRangeError
	return errors.As(err, &lc) || errors.As(err, &ir)
}

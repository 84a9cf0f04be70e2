package repository

import (
	"context"
	"sync"
	"time"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/models"

	"github.com/google/uuid"
)

// MemoryLockRepository is a single-process lock table.
type MemoryLockRepository struct {
	mu    sync.Mutex
	locks map[int64][]*models.ReservationLock
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryLockRepository(ttl time.Duration) *MemoryLockRepository {
	if ttl <= 0 {
		ttl = models.DefaultLockTTL
	}
	return &MemoryLockRepository{
		locks: make(map[int64][]*models.ReservationLock),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (r *MemoryLockRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *MemoryLockRepository) Acquire(_ context.Context, propertyID int64, dr daterange.DateRange) (*models.ReservationLock, error) {
	if dr.Nights() < 1 {
		return nil, &daterange.InvalidRangeError{CheckIn: dr.CheckIn, CheckOut: dr.CheckOut}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	alive := r.locks[propertyID][:0]
	var conflict *models.ReservationLock
	for _, l := range r.locks[propertyID] {
		if l.Expired(now) {
			continue
		}
		alive = append(alive, l)
		if conflict == nil && l.Range.Overlaps(dr) {
			conflict = l
		}
	}
	r.locks[propertyID] = alive

	if conflict != nil {
		return nil, &domain.LockConflictError{PropertyID: propertyID, Requested: dr, Held: conflict.Range}
	}

	lock := &models.ReservationLock{
		PropertyID: propertyID,
		Range:      dr,
		Token:      uuid.NewString(),
		ExpiresAt:  now.Add(r.ttl),
	}
	r.locks[propertyID] = append(r.locks[propertyID], lock)

	cp := *lock
	return &cp, nil
}

func (r *MemoryLockRepository) Release(_ context.Context, lock *models.ReservationLock) error {
	if lock == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.locks[lock.PropertyID]
	for i, l := range held {
		if l.Token == lock.Token {
			r.locks[lock.PropertyID] = append(held[:i], held[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryLockRepository) PurgeExpiredLocks(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var purged int64
	for id, held := range r.locks {
		alive := held[:0]
		for _, l := range held {
			if l.Expired(now) {
				purged++
				continue
			}
			alive = append(alive, l)
		}
		if len(alive) == 0 {
			delete(r.locks, id)
			continue
		}
		r.locks[id] = alive
	}
	return purged, nil
}

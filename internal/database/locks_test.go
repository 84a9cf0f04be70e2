package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loft/internal/daterange"
	"loft/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupLocks(t *testing.T, ttl time.Duration) (*LockRepository, *fakeClock) {
	db := setupTestDB(t)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	db.SetClock(clock.Now)
	return NewLockRepository(db, ttl), clock
}

func TestLockRepository_AcquireRelease(t *testing.T) {
	locks, _ := setupLocks(t, 5*time.Minute)
	ctx := context.Background()
	r := daterange.MustParse("2025-06-10", "2025-06-13")

	lock, err := locks.Acquire(ctx, 1, r)
	require.NoError(t, err)
	assert.NotEmpty(t, lock.Token)
	assert.Equal(t, r, lock.Range)

	n, err := locks.ActiveLocks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("OverlapConflicts", func(t *testing.T) {
		_, err := locks.Acquire(ctx, 1, daterange.MustParse("2025-06-12", "2025-06-20"))
		require.Error(t, err)

		var lc *domain.LockConflictError
		require.True(t, errors.As(err, &lc))
		assert.Equal(t, r, lc.Held)
	})

	t.Run("BackToBackAllowed", func(t *testing.T) {
		other, err := locks.Acquire(ctx, 1, daterange.MustParse("2025-06-13", "2025-06-14"))
		require.NoError(t, err)
		require.NoError(t, locks.Release(ctx, other))
	})

	t.Run("OtherPropertyAllowed", func(t *testing.T) {
		other, err := locks.Acquire(ctx, 2, r)
		require.NoError(t, err)
		require.NoError(t, locks.Release(ctx, other))
	})

	t.Run("ForeignTokenIgnored", func(t *testing.T) {
		fake := *lock
		fake.Token = "not-the-token"
		require.NoError(t, locks.Release(ctx, &fake))

		n, err := locks.ActiveLocks(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	require.NoError(t, locks.Release(ctx, lock))
	n, err = locks.ActiveLocks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// releasing twice is a no-op
	assert.NoError(t, locks.Release(ctx, lock))
	assert.NoError(t, locks.Release(ctx, nil))
}

func TestLockRepository_Expiry(t *testing.T) {
	locks, clock := setupLocks(t, 5*time.Minute)
	ctx := context.Background()
	r := daterange.MustParse("2025-06-10", "2025-06-13")

	first, err := locks.Acquire(ctx, 1, r)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	_, err = locks.Acquire(ctx, 1, r)
	assert.Error(t, err, "lock is still active before expiry")

	clock.Advance(time.Minute + time.Second)
	second, err := locks.Acquire(ctx, 1, r)
	require.NoError(t, err, "expired lock must be treated as absent")
	assert.NotEqual(t, first.Token, second.Token)

	// the expired holder releasing must not remove the new lock
	require.NoError(t, locks.Release(ctx, first))
	n, err := locks.ActiveLocks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLockRepository_Purge(t *testing.T) {
	locks, clock := setupLocks(t, time.Minute)
	ctx := context.Background()

	_, err := locks.Acquire(ctx, 1, daterange.MustParse("2025-06-10", "2025-06-12"))
	require.NoError(t, err)
	_, err = locks.Acquire(ctx, 2, daterange.MustParse("2025-06-10", "2025-06-11"))
	require.NoError(t, err)

	purged, err := locks.PurgeExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)

	clock.Advance(2 * time.Minute)
	purged, err = locks.PurgeExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
}

func TestLockRepository_Concurrent(t *testing.T) {
	locks, _ := setupLocks(t, time.Minute)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	conflicts := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every range shares the night of 2025-06-12
			in := time.Date(2025, 6, 10+i%3, 0, 0, 0, 0, time.UTC)
			r, _ := daterange.New(in, time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC))
			_, err := locks.Acquire(ctx, 1, r)

			mu.Lock()
			defer mu.Unlock()
			var lc *domain.LockConflictError
			switch {
			case err == nil:
				acquired++
			case errors.As(err, &lc):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
	assert.Equal(t, workers-1, conflicts)
}

func TestLockRepository_InvalidRange(t *testing.T) {
	locks, _ := setupLocks(t, time.Minute)
	_, err := locks.Acquire(context.Background(), 1, daterange.DateRange{})
	assert.ErrorIs(t, err, daterange.ErrInvalidRange)
}

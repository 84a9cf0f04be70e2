package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"loft/internal/config"
	"loft/internal/daterange"
	"loft/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisLockRepository(t *testing.T) {
	s, client := setupRedis(t)
	repo := NewRedisLockRepository(client, 5*time.Minute, "test:lock")
	ctx := context.Background()
	r := daterange.MustParse("2025-06-10", "2025-06-13")

	lock, err := repo.Acquire(ctx, 7, r)
	require.NoError(t, err)
	assert.NotEmpty(t, lock.Token)

	t.Run("KeysPerNight", func(t *testing.T) {
		assert.True(t, s.Exists("test:lock:{7}:2025-06-10"))
		assert.True(t, s.Exists("test:lock:{7}:2025-06-12"))
		assert.False(t, s.Exists("test:lock:{7}:2025-06-13"))
		assert.Equal(t, 5*time.Minute, s.TTL("test:lock:{7}:2025-06-11"))
	})

	t.Run("OverlapConflicts", func(t *testing.T) {
		_, err := repo.Acquire(ctx, 7, daterange.MustParse("2025-06-12", "2025-06-15"))
		var lc *domain.LockConflictError
		require.True(t, errors.As(err, &lc))
		assert.Equal(t, r, lc.Held)

		// all or nothing: no partial keys were written
		assert.False(t, s.Exists("test:lock:{7}:2025-06-14"))
	})

	t.Run("BackToBackAllowed", func(t *testing.T) {
		other, err := repo.Acquire(ctx, 7, daterange.MustParse("2025-06-13", "2025-06-15"))
		require.NoError(t, err)
		require.NoError(t, repo.Release(ctx, other))
	})

	t.Run("ForeignTokenIgnored", func(t *testing.T) {
		fake := *lock
		fake.Token = "other"
		require.NoError(t, repo.Release(ctx, &fake))
		assert.True(t, s.Exists("test:lock:{7}:2025-06-10"))
	})

	t.Run("Release", func(t *testing.T) {
		require.NoError(t, repo.Release(ctx, lock))
		assert.False(t, s.Exists("test:lock:{7}:2025-06-10"))
		assert.NoError(t, repo.Release(ctx, lock))
	})
}

func TestRedisLockRepository_Expiry(t *testing.T) {
	s, client := setupRedis(t)
	repo := NewRedisLockRepository(client, 5*time.Minute, "")
	ctx := context.Background()
	r := daterange.MustParse("2025-06-10", "2025-06-13")

	first, err := repo.Acquire(ctx, 1, r)
	require.NoError(t, err)

	s.FastForward(4 * time.Minute)
	_, err = repo.Acquire(ctx, 1, r)
	assert.Error(t, err)

	s.FastForward(time.Minute + time.Second)
	second, err := repo.Acquire(ctx, 1, r)
	require.NoError(t, err)

	// the expired holder's release is a no-op
	require.NoError(t, repo.Release(ctx, first))
	assert.True(t, s.Exists("loft:lock:{1}:2025-06-10"))

	require.NoError(t, repo.Release(ctx, second))
	assert.False(t, s.Exists("loft:lock:{1}:2025-06-10"))
}

func TestRedisLockRepository_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisLockRepository(nil, time.Minute, "")
		_, err := repo.Acquire(ctx, 1, daterange.MustParse("2025-06-10", "2025-06-11"))
		assert.Error(t, err)
	})

	t.Run("ServerDown", func(t *testing.T) {
		s, client := setupRedis(t)
		repo := NewRedisLockRepository(client, time.Minute, "")
		s.Close()

		_, err := repo.Acquire(ctx, 1, daterange.MustParse("2025-06-10", "2025-06-11"))
		require.Error(t, err)
		var lc *domain.LockConflictError
		assert.False(t, errors.As(err, &lc))
	})

	t.Run("InvalidRange", func(t *testing.T) {
		_, client := setupRedis(t)
		repo := NewRedisLockRepository(client, time.Minute, "")
		_, err := repo.Acquire(ctx, 1, daterange.DateRange{})
		assert.ErrorIs(t, err, daterange.ErrInvalidRange)
	})
}

func TestRedisHelpers(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
	assert.NoError(t, Close(nil))
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loft/internal/config"
	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript sets every night key or none. It returns an empty string on
// success, otherwise the value held by the first conflicting key.
var acquireScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local holder = redis.call('GET', key)
	if holder then
		return holder
	end
end
for i, key in ipairs(KEYS) do
	redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
end
return ''
`)

// releaseScript deletes only the keys still holding our value.
var releaseScript = redis.NewScript(`
local n = 0
for i, key in ipairs(KEYS) do
	if redis.call('GET', key) == ARGV[1] then
		redis.call('DEL', key)
		n = n + 1
	end
end
return n
`)

// RedisLockRepository keeps one key per locked night with a native TTL.
type RedisLockRepository struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisLockRepository(client *redis.Client, ttl time.Duration, prefix string) *RedisLockRepository {
	if ttl <= 0 {
		ttl = models.DefaultLockTTL
	}
	if prefix == "" {
		prefix = "loft:lock"
	}
	return &RedisLockRepository{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}
}

// nightKeys share a hash tag so a cluster keeps one property's nights in one slot.
func (r *RedisLockRepository) nightKeys(propertyID int64, dr daterange.DateRange) []string {
	keys := make([]string, 0, dr.Nights())
	for _, night := range dr.Dates() {
		keys = append(keys, fmt.Sprintf("%s:{%d}:%s", r.prefix, propertyID, night.Format(daterange.Layout)))
	}
	return keys
}

func lockValue(token string, dr daterange.DateRange) string {
	return token + "|" + dr.CheckIn.Format(daterange.Layout) + "|" + dr.CheckOut.Format(daterange.Layout)
}

func parseLockValue(v string) (daterange.DateRange, bool) {
	parts := strings.Split(v, "|")
	if len(parts) != 3 {
		return daterange.DateRange{}, false
	}
	dr, err := daterange.Parse(parts[1], parts[2])
	return dr, err == nil
}

func (r *RedisLockRepository) Acquire(ctx context.Context, propertyID int64, dr daterange.DateRange) (*models.ReservationLock, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if dr.Nights() < 1 {
		return nil, &daterange.InvalidRangeError{CheckIn: dr.CheckIn, CheckOut: dr.CheckOut}
	}

	lock := &models.ReservationLock{
		PropertyID: propertyID,
		Range:      dr,
		Token:      uuid.NewString(),
		ExpiresAt:  time.Now().Add(r.ttl),
	}

	holder, err := acquireScript.Run(ctx, r.client, r.nightKeys(propertyID, dr),
		lockValue(lock.Token, dr), r.ttl.Milliseconds()).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock in redis: %w", err)
	}

	if holder != "" {
		conflict := &domain.LockConflictError{PropertyID: propertyID, Requested: dr}
		if held, ok := parseLockValue(holder); ok {
			conflict.Held = held
		}
		return nil, conflict
	}

	return lock, nil
}

func (r *RedisLockRepository) Release(ctx context.Context, lock *models.ReservationLock) error {
	if lock == nil {
		return nil
	}
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	err := releaseScript.Run(ctx, r.client, r.nightKeys(lock.PropertyID, lock.Range), lockValue(lock.Token, lock.Range)).Err()
	if err != nil {
		return fmt.Errorf("failed to release lock in redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

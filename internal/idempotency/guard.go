package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Outcome int

const (
	// Claimed means the caller owns the key and must Complete or Release it.
	Claimed Outcome = iota
	InProgress
	Completed
)

type Claim struct {
	Outcome   Outcome
	BookingID uuid.UUID
}

type Guard interface {
	Claim(ctx context.Context, key string) (Claim, error)
	Complete(ctx context.Context, key string, bookingID uuid.UUID) error
	Release(ctx context.Context, key string) error
}

const pendingValue = "pending"

// RedisGuard keeps one value per key: "pending" while a request is in flight,
// then the id of the booking it produced.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration, prefix string) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "reserva:idem"
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (g *RedisGuard) key(k string) string {
	return g.prefix + ":" + k
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (Claim, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.rdb.SetNX(ctx, g.key(key), pendingValue, g.ttl).Result()
		if err != nil {
			return Claim{}, err
		}
		if ok {
			return Claim{Outcome: Claimed}, nil
		}

		val, err := g.rdb.Get(ctx, g.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			// Expired or released between SETNX and GET.
			continue
		}
		if err != nil {
			return Claim{}, err
		}
		if val == pendingValue {
			return Claim{Outcome: InProgress}, nil
		}
		id, err := uuid.Parse(val)
		if err != nil {
			return Claim{}, fmt.Errorf("corrupt idempotency record %q: %w", key, err)
		}
		return Claim{Outcome: Completed, BookingID: id}, nil
	}
	return Claim{Outcome: InProgress}, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key string, bookingID uuid.UUID) error {
	return g.rdb.Set(ctx, g.key(key), bookingID.String(), g.ttl).Err()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, g.key(key)).Err()
}

// Noop lets every request through; the storage-level idempotent insert still
// deduplicates bookings.
type Noop struct{}

func (Noop) Claim(ctx context.Context, key string) (Claim, error) {
	return Claim{Outcome: Claimed}, nil
}

func (Noop) Complete(ctx context.Context, key string, bookingID uuid.UUID) error { return nil }

func (Noop) Release(ctx context.Context, key string) error { return nil }

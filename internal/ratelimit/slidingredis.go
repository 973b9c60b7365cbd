package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sliding counts events in a Redis sorted set whose window slides with every
// request, so a kiosk bursting right at a bucket boundary cannot double its
// allowance the way a fixed-bucket counter would permit.
type Sliding struct {
	Client *redis.Client
	Prefix string
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Take registers one event under class:key and reports whether the caller is
// still within the limit. With no client or a non-positive limit the limiter
// is disarmed and everything passes.
func (s Sliding) Take(ctx context.Context, class, key string, window time.Duration, max int) (Decision, error) {
	if s.Client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: max, ResetAt: time.Now().Add(window)}, nil
	}

	now := time.Now()
	cutoff := float64(now.Add(-window).UnixNano())
	redisKey := s.Prefix + class + ":" + key

	pipe := s.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{ResetAt: now.Add(window)}, err
	}

	current := int(countCmd.Val())
	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: current <= max, Remaining: remaining, ResetAt: now.Add(window)}, nil
}

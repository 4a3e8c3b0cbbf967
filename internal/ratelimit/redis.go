package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLimiter is a fixed-window counter. Each window gets its own key,
// created by INCR and expired after the window.
type RedisLimiter struct {
	Client redis.UniversalClient
	Window time.Duration
	Now    func() time.Time
}

// NewRedisLimiter returns a RedisLimiter with a one minute window.
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{Client: client, Window: DefaultWindow}
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, s Subject, limit int) (Decision, error) {
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	win := r.Window
	if win <= 0 {
		win = DefaultWindow
	}

	current, reset := windowBounds(now, win)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", s.EndpointID, s.ClientID, current)

	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return failOpen(limit, now, win), err
	}
	if count == 1 {
		if err := r.Client.Expire(ctx, key, win).Err(); err != nil {
			// The key is per window, so counting stays correct; it only
			// lingers in redis.
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("rate limit window expiry not set")
		}
	}

	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remainingAfter(limit, count),
		ResetAt:   reset,
	}, nil
}

// windowBounds returns the index of the window containing now and the time
// it ends.
func windowBounds(now time.Time, win time.Duration) (int64, time.Time) {
	secs := int64(win / time.Second)
	if secs <= 0 {
		secs = 1
	}
	idx := now.Unix() / secs
	return idx, time.Unix((idx+1)*secs, 0).UTC()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultRedisPrefix = "apicache:"
	scanBatch          = 500
)

// RedisManager stores JSON-encoded entries in redis. The entry TTL is the
// key's expiry, so redis drops stale entries by itself.
type RedisManager struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisManager returns a RedisManager with the default key prefix.
func NewRedisManager(client redis.UniversalClient) *RedisManager {
	return &RedisManager{Client: client, Prefix: defaultRedisPrefix}
}

func (m *RedisManager) prefix() string {
	if m.Prefix == "" {
		return defaultRedisPrefix
	}
	return m.Prefix
}

func (m *RedisManager) entryKey(key string) string { return m.prefix() + key }
func (m *RedisManager) hitsKey(key string) string  { return m.prefix() + "hits:" + key }

// Get implements Manager.
func (m *RedisManager) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := m.Client.Get(ctx, m.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := sonic.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if !e.ExpiresAt.IsZero() && !time.Now().Before(e.ExpiresAt) {
		return nil, nil
	}

	pipe := m.Client.Pipeline()
	pipe.Incr(ctx, m.hitsKey(key))
	if ttl := time.Until(e.ExpiresAt); ttl > 0 {
		pipe.Expire(ctx, m.hitsKey(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache hit counter update failed")
	}
	return &e, nil
}

// Set implements Manager.
func (m *RedisManager) Set(ctx context.Context, key, _ string, e Entry, ttl time.Duration) error {
	e.ExpiresAt = time.Now().UTC().Add(ttl)
	raw, err := sonic.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	pipe := m.Client.TxPipeline()
	pipe.Set(ctx, m.entryKey(key), raw, ttl)
	pipe.Del(ctx, m.hitsKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate implements Manager with SCAN MATCH plus DEL.
func (m *RedisManager) Invalidate(ctx context.Context, pattern string) (int64, error) {
	match := m.prefix() + RedisGlob(pattern)
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := m.Client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.Client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// RedisGlob escapes every redis glob metacharacter in pattern except '*'.
func RedisGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

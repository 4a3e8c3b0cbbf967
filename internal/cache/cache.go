// Package cache stores rendered endpoint responses keyed by slug and query.
//
// Two backends implement Manager: DBManager keeps entries in the api_cache
// table and RedisManager keeps them in redis with a native expiry. Both
// honor the entry TTL at read time, so an entry is served until it expires
// and never after.
package cache

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-api-endpoints/internal/params"
)

// DefaultTTL applies when an endpoint enables caching without a TTL.
const DefaultTTL = 300 * time.Second

// Entry is a cached response.
type Entry struct {
	Body        []byte            `json:"body"`
	Status      int               `json:"status"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Manager is a response cache.
type Manager interface {
	// Get returns the live entry for key, or nil on a miss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores e under key for ttl, overwriting any previous entry.
	Set(ctx context.Context, key, slug string, e Entry, ttl time.Duration) error
	// Invalidate deletes every entry whose key matches a '*' glob and
	// reports how many were removed.
	Invalidate(ctx context.Context, pattern string) (int64, error)
}

// Key builds the cache key for a request: the slug alone, or the slug plus
// "?" plus the canonical query so parameter order does not matter.
func Key(slug string, q url.Values) string {
	if c := params.Canonical(q); c != "" {
		return slug + "?" + c
	}
	return slug
}

// SlugPatterns match every key of slug, with or without a query, and no key
// of another slug that merely shares the prefix.
func SlugPatterns(slug string) []string {
	return []string{slug, slug + "?*"}
}

// InvalidateSlug drops every cached response of slug and reports how many
// entries were removed.
func InvalidateSlug(ctx context.Context, m Manager, slug string) (int64, error) {
	var total int64
	for _, p := range SlugPatterns(slug) {
		n, err := m.Invalidate(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TTL resolves an endpoint's configured TTL in seconds against the server
// default.
func TTL(seconds int, def time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if def > 0 {
		return def
	}
	return DefaultTTL
}

// Purgeable is a backend that needs expired entries removed periodically.
type Purgeable interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Purger deletes expired entries on a fixed interval until ctx is done.
type Purger struct {
	Store    Purgeable
	Interval time.Duration
	Log      zerolog.Logger
}

// Run blocks until ctx is cancelled. A non-positive interval returns at once.
func (p *Purger) Run(ctx context.Context) {
	if p.Interval <= 0 || p.Store == nil {
		return
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	log := p.Log.With().Str("component", "cache_purger").Logger()
	log.Info().Dur("interval", p.Interval).Msg("starting cache purger")

	for {
		select {
		case <-ticker.C:
			n, err := p.Store.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("cache purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged expired cache entries")
			}
		case <-ctx.Done():
			log.Info().Msg("stopping cache purger")
			return
		}
	}
}

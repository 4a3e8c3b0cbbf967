package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"
)

// DBManager stores entries in the api_cache table.
type DBManager struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewDBManager returns a DBManager using the wall clock.
func NewDBManager(db *gorm.DB) *DBManager {
	return &DBManager{DB: db}
}

func (m *DBManager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Get implements Manager. A hit bumps the row's hit counter; a failure to
// do so does not turn the hit into an error.
func (m *DBManager) Get(ctx context.Context, key string) (*Entry, error) {
	row, err := repo.GetCacheEntry(ctx, m.DB, key, m.now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := repo.IncrementCacheHit(ctx, m.DB, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache hit counter update failed")
	}
	return &Entry{
		Body:        row.Body,
		Status:      row.Status,
		ContentType: row.ContentType,
		Headers:     row.Headers,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// Set implements Manager.
func (m *DBManager) Set(ctx context.Context, key, slug string, e Entry, ttl time.Duration) error {
	return repo.UpsertCacheEntry(ctx, m.DB, &domain.CacheEntry{
		Key:         key,
		Slug:        slug,
		Body:        e.Body,
		Status:      e.Status,
		ContentType: e.ContentType,
		Headers:     e.Headers,
		ExpiresAt:   m.now().Add(ttl),
	})
}

// Invalidate implements Manager.
func (m *DBManager) Invalidate(ctx context.Context, pattern string) (int64, error) {
	return repo.DeleteCacheByPattern(ctx, m.DB, pattern)
}

// PurgeExpired implements Purgeable.
func (m *DBManager) PurgeExpired(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredCache(ctx, m.DB, m.now())
}

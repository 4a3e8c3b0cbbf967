package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// GetCacheEntry returns the entry for key when it has not expired at now.
// Expired rows are treated as missing (ErrNotFound).
func GetCacheEntry(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.CacheEntry, error) {
	var e domain.CacheEntry
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// IncrementCacheHit bumps hit_count for key.
func IncrementCacheHit(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).
		Model(&domain.CacheEntry{}).
		Where("key = ?", key).
		UpdateColumn("hit_count", gorm.Expr("hit_count + ?", 1)).Error
}

// UpsertCacheEntry inserts e or overwrites every column of the existing row
// with the same key. The hit counter restarts at zero.
func UpsertCacheEntry(ctx context.Context, db *gorm.DB, e *domain.CacheEntry) error {
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	e.HitCount = 0
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"slug", "body", "status", "content_type", "headers", "expires_at", "hit_count", "updated_at",
			}),
		}).
		Create(e).Error
}

// DeleteCacheByPattern deletes entries whose key matches a glob pattern
// where '*' matches any run of characters. Other characters are literal.
func DeleteCacheByPattern(ctx context.Context, db *gorm.DB, pattern string) (int64, error) {
	res := db.WithContext(ctx).
		Where(`key LIKE ? ESCAPE '\'`, GlobToLike(pattern)).
		Delete(&domain.CacheEntry{})
	return res.RowsAffected, res.Error
}

// PurgeExpiredCache deletes entries that expired at or before now.
func PurgeExpiredCache(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.CacheEntry{})
	return res.RowsAffected, res.Error
}

// GlobToLike converts a '*' glob into a LIKE pattern escaped with '\'.
func GlobToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

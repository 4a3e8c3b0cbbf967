package repo

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// CreateAccessLog inserts one access log row. CreatedAt defaults to now.
func CreateAccessLog(ctx context.Context, db *gorm.DB, row *domain.AccessLog) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(row).Error
}

// recentAccess scopes access rows for (endpointID, clientID) newer than
// since. Rejected (429) rows are excluded so throttled retries do not extend
// the lockout.
func recentAccess(ctx context.Context, db *gorm.DB, endpointID, clientID string, since time.Time) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.AccessLog{}).
		Where("endpoint_id = ? AND client_id = ? AND created_at > ? AND status_code <> ?",
			endpointID, clientID, since, http.StatusTooManyRequests)
}

// CountRecentAccess counts admitted requests by clientID against endpointID
// after since.
func CountRecentAccess(ctx context.Context, db *gorm.DB, endpointID, clientID string, since time.Time) (int64, error) {
	var n int64
	err := recentAccess(ctx, db, endpointID, clientID, since).Count(&n).Error
	return n, err
}

// OldestRecentAccess returns the CreatedAt of the oldest admitted request in
// the window, or nil when there is none.
func OldestRecentAccess(ctx context.Context, db *gorm.DB, endpointID, clientID string, since time.Time) (*time.Time, error) {
	var rows []struct {
		CreatedAt time.Time
	}
	// Avoid MIN() -> TEXT in SQLite.
	err := recentAccess(ctx, db, endpointID, clientID, since).
		Select("created_at").
		Order("created_at ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0].CreatedAt, nil
}

// CountAccessLogs returns the number of access rows for endpointID.
func CountAccessLogs(ctx context.Context, db *gorm.DB, endpointID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.AccessLog{}).Where("endpoint_id = ?", endpointID).Count(&n).Error
	return n, err
}

// ListAccessLogsPage returns access rows for endpointID, newest first.
func ListAccessLogsPage(ctx context.Context, db *gorm.DB, endpointID string, offset, limit int) ([]domain.AccessLog, error) {
	var out []domain.AccessLog
	err := db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

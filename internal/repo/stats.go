// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate queries over the access log
// used by the admin analytics endpoints.
package repo

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// EndpointStats summarizes access-log rows for one endpoint.
type EndpointStats struct {
	Total         int64      `json:"total"`
	CacheHits     int64      `json:"cache_hits"`
	Errors        int64      `json:"errors"`
	RateLimited   int64      `json:"rate_limited"`
	Unauthorized  int64      `json:"unauthorized"`
	AvgResponseMs float64    `json:"avg_response_ms"`
	LastAccessAt  *time.Time `json:"last_access_at,omitempty"`
}

// AccessStats aggregates the access log of endpointID, optionally limited
// to rows created after since (zero since means all time).
//
// It runs one grouped count query and one ordered lookup for the latest row.
// When the endpoint has no rows, the zero value is returned.
func AccessStats(ctx context.Context, db *gorm.DB, endpointID string, since time.Time) (EndpointStats, error) {
	var st EndpointStats
	base := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.AccessLog{}).Where("endpoint_id = ?", endpointID)
		if !since.IsZero() {
			q = q.Where("created_at > ?", since)
		}
		return q
	}

	var agg struct {
		Total        int64
		CacheHits    int64
		Errors       int64
		RateLimited  int64
		Unauthorized int64
		AvgMs        float64
	}
	err := base().Select(
		"COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hits, "+
			"COALESCE(SUM(CASE WHEN status_code >= ? THEN 1 ELSE 0 END), 0) AS errors, "+
			"COALESCE(SUM(CASE WHEN status_code = ? THEN 1 ELSE 0 END), 0) AS rate_limited, "+
			"COALESCE(SUM(CASE WHEN status_code = ? THEN 1 ELSE 0 END), 0) AS unauthorized, "+
			"COALESCE(AVG(response_time_ms), 0) AS avg_ms",
		http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusUnauthorized,
	).Scan(&agg).Error
	if err != nil {
		return st, err
	}
	st = EndpointStats{
		Total:         agg.Total,
		CacheHits:     agg.CacheHits,
		Errors:        agg.Errors,
		RateLimited:   agg.RateLimited,
		Unauthorized:  agg.Unauthorized,
		AvgResponseMs: agg.AvgMs,
	}
	if st.Total == 0 {
		return st, nil
	}

	// Latest created_at (avoid MAX() -> TEXT in SQLite)
	var rows []struct {
		CreatedAt time.Time
	}
	if err := base().Select("created_at").Order("created_at DESC").Limit(1).Scan(&rows).Error; err != nil {
		return st, err
	}
	if len(rows) > 0 {
		st.LastAccessAt = &rows[0].CreatedAt
	}
	return st, nil
}

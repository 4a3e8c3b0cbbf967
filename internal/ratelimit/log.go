package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/repo"
)

// LogLimiter derives quotas from the access log over a trailing window.
// Rows with status 429 are not counted.
type LogLimiter struct {
	DB     *gorm.DB
	Window time.Duration
	Now    func() time.Time
}

// NewLogLimiter returns a LogLimiter with a one minute window.
func NewLogLimiter(db *gorm.DB) *LogLimiter {
	return &LogLimiter{DB: db, Window: DefaultWindow}
}

func (l *LogLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *LogLimiter) window() time.Duration {
	if l.Window > 0 {
		return l.Window
	}
	return DefaultWindow
}

// Allow implements Limiter. With count rows in the window the request is
// allowed while count < limit, so exactly limit requests pass per window.
func (l *LogLimiter) Allow(ctx context.Context, s Subject, limit int) (Decision, error) {
	now := l.now()
	win := l.window()
	since := now.Add(-win)

	count, err := repo.CountRecentAccess(ctx, l.DB, s.EndpointID, s.ClientID, since)
	if err != nil {
		return failOpen(limit, now, win), err
	}

	d := Decision{Limit: limit, ResetAt: now.Add(win)}
	if count < int64(limit) {
		d.Allowed = true
		d.Remaining = remainingAfter(limit, count+1)
		return d, nil
	}

	// The quota frees up when the oldest counted request leaves the window.
	oldest, err := repo.OldestRecentAccess(ctx, l.DB, s.EndpointID, s.ClientID, since)
	if err == nil && oldest != nil {
		d.ResetAt = oldest.Add(win)
	}
	return d, nil
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"
)

// AccessLogger writes access-log rows, in the background by default. Each
// write gets its own timeout context detached from the request. Failures
// are logged at warn and dropped.
type AccessLogger struct {
	DB      *gorm.DB
	Timeout time.Duration
	Log     zerolog.Logger

	wg sync.WaitGroup
}

// NewAccessLogger returns an AccessLogger with a 5s write timeout.
func NewAccessLogger(db *gorm.DB, log zerolog.Logger) *AccessLogger {
	return &AccessLogger{DB: db, Timeout: 5 * time.Second, Log: log}
}

// Record schedules row for insertion and returns immediately.
func (a *AccessLogger) Record(row *domain.AccessLog) {
	if a == nil || a.DB == nil || row == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.write(context.Background(), row)
	}()
}

// Write inserts row before returning. Rate-limited endpoints use it so the
// next request from the same client already counts this one. The write
// outlives a cancelled request context but not the timeout.
func (a *AccessLogger) Write(ctx context.Context, row *domain.AccessLog) {
	if a == nil || a.DB == nil || row == nil {
		return
	}
	a.write(context.WithoutCancel(ctx), row)
}

func (a *AccessLogger) write(ctx context.Context, row *domain.AccessLog) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := repo.CreateAccessLog(ctx, a.DB, row); err != nil {
		a.Log.Warn().Err(err).
			Str("slug", row.Slug).
			Int("status", row.StatusCode).
			Msg("access log write failed")
	}
}

// Wait blocks until pending writes finish or ctx is done.
func (a *AccessLogger) Wait(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.AccessLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func logHit(t *testing.T, db *gorm.DB, s Subject, status int, at time.Time) {
	t.Helper()
	if err := repo.CreateAccessLog(context.Background(), db, &domain.AccessLog{
		EndpointID: s.EndpointID, ClientID: s.ClientID, StatusCode: status, CreatedAt: at,
	}); err != nil {
		t.Fatalf("CreateAccessLog: %v", err)
	}
}

func TestLogLimiter_ExactlyNAllowed(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := &LogLimiter{DB: db, Window: time.Minute, Now: func() time.Time { return now }}
	s := Subject{EndpointID: "e1", ClientID: "ip:1.2.3.4"}
	const limit = 3

	for i := 0; i < limit; i++ {
		d, err := l.Allow(context.Background(), s, limit)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d rejected: %+v, %v", i+1, d, err)
		}
		if d.Remaining != limit-i-1 {
			t.Fatalf("request %d remaining = %d; want %d", i+1, d.Remaining, limit-i-1)
		}
		logHit(t, db, s, http.StatusOK, now.Add(time.Duration(i)*time.Second))
	}

	d, err := l.Allow(context.Background(), s, limit)
	if err != nil || d.Allowed {
		t.Fatalf("request %d should be rejected: %+v, %v", limit+1, d, err)
	}
	if d.Remaining != 0 || !d.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("rejection = %+v", d)
	}

	// Rejected rows do not count.
	logHit(t, db, s, http.StatusTooManyRequests, now)

	// Once the oldest counted request leaves the window, one slot frees up.
	now = now.Add(time.Minute + 500*time.Millisecond)
	if d, _ := l.Allow(context.Background(), s, limit); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected one slot after window slide, got %+v", d)
	}

	// Other clients have their own quota.
	if d, _ := l.Allow(context.Background(), Subject{EndpointID: "e1", ClientID: "ip:other"}, limit); !d.Allowed {
		t.Fatalf("other client limited")
	}
}

func TestLogLimiter_FailsOpen(t *testing.T) {
	db := newTestDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	l := NewLogLimiter(db)
	d, err := l.Allow(context.Background(), Subject{EndpointID: "e", ClientID: "c"}, 5)
	if err == nil {
		t.Fatalf("expected the store error to be reported")
	}
	if !d.Allowed || d.Limit != 5 || d.Remaining != 5 {
		t.Fatalf("expected fail-open decision, got %+v", d)
	}
}

func TestDecisionHeaders(t *testing.T) {
	now := time.Unix(1000, 0)
	d := Decision{Allowed: false, Limit: 10, Remaining: 0, ResetAt: now.Add(42 * time.Second)}
	h := d.Headers(now)
	if h["X-RateLimit-Limit"] != "10" || h["X-RateLimit-Remaining"] != "0" || h["X-RateLimit-Reset"] != "1042" {
		t.Fatalf("headers = %v", h)
	}
	if h["Retry-After"] != "42" {
		t.Fatalf("Retry-After = %q", h["Retry-After"])
	}

	d = Decision{Allowed: true, Limit: 10, Remaining: 9, ResetAt: now}
	if _, ok := d.Headers(now)["Retry-After"]; ok {
		t.Fatalf("allowed decisions carry no Retry-After")
	}
	d = Decision{Allowed: false, ResetAt: now}
	if d.Headers(now)["Retry-After"] != "1" {
		t.Fatalf("Retry-After must be at least 1")
	}
}

func TestClientID(t *testing.T) {
	if ClientID("apikey:abc", "1.1.1.1") != "apikey:abc" {
		t.Fatalf("identity ignored")
	}
	if ClientID("", "1.1.1.1") != "ip:1.1.1.1" {
		t.Fatalf("ip fallback wrong")
	}
}

func TestWindowBounds(t *testing.T) {
	now := time.Unix(125, 0)
	idx, reset := windowBounds(now, time.Minute)
	if idx != 2 || reset.Unix() != 180 {
		t.Fatalf("windowBounds = %d, %v", idx, reset.Unix())
	}
}

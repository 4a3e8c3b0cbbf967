// Package ratelimit enforces per-endpoint, per-client request quotas.
//
// LogLimiter counts the client's rows in api_access_logs over the trailing
// window. RedisLimiter keeps a fixed-window counter in redis. Both fail
// open: when the backing store errors, the request is allowed and the error
// is returned for logging.
//
// The LogLimiter only sees rows that are already written, so callers write
// the row of a limited request before responding. Requests from one client
// that are in flight at the same moment are all counted against the rows
// written before them and can together exceed the limit; sequential
// requests get exactly the limit. RedisLimiter counts atomically and has no
// such window.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// DefaultWindow is the quota window for RequestsPerMinute.
const DefaultWindow = time.Minute

// Subject identifies whose quota a request counts against.
type Subject struct {
	EndpointID string
	ClientID   string
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter checks a subject against limit requests per window.
type Limiter interface {
	Allow(ctx context.Context, s Subject, limit int) (Decision, error)
}

// Headers returns the X-RateLimit-* headers for d. Rejections also carry
// Retry-After in whole seconds (at least 1).
func (d Decision) Headers(now time.Time) map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(d.ResetAt.Unix(), 10),
	}
	if !d.Allowed {
		secs := int(d.ResetAt.Sub(now).Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		h["Retry-After"] = strconv.Itoa(secs)
	}
	return h
}

// ClientID returns the quota key for a request: the authenticated identity
// when there is one, otherwise the client IP.
func ClientID(identity, ip string) string {
	if identity != "" {
		return identity
	}
	return "ip:" + ip
}

// failOpen is the decision returned when the store cannot be consulted.
func failOpen(limit int, now time.Time, window time.Duration) Decision {
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
}

func remainingAfter(limit int, used int64) int {
	r := limit - int(used)
	if r < 0 {
		return 0
	}
	return r
}

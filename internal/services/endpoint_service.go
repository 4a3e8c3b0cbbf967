// Package services – EndpointService
//
// This file implements EndpointService, the orchestrator behind the public
// endpoint routes. For one request it resolves the endpoint by slug, checks
// credentials and the rate limit, consults the response cache, fetches every
// data source concurrently, runs the transformation pipeline per source,
// renders the configured output format and stores the result in the cache.
// Every outcome, including 401, 404, 429 and 500, is written to the access
// log in the background.
//
// Observability: Serve and each source fetch are OpenTelemetry spans; domain
// counters and latency histograms are exported through Prometheus.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/auth"
	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/format"
	"github.com/tbourn/go-api-endpoints/internal/params"
	"github.com/tbourn/go-api-endpoints/internal/ratelimit"
	"github.com/tbourn/go-api-endpoints/internal/repo"
	"github.com/tbourn/go-api-endpoints/internal/transform"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultFetchConcurrency bounds parallel source fetches per request.
const DefaultFetchConcurrency = 4

// Cache status header values.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

var slugRE = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a well-formed endpoint slug.
func ValidSlug(s string) bool {
	return len(s) <= 128 && slugRE.MatchString(s)
}

// Request is one public endpoint request.
type Request struct {
	Slug      string
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	ClientIP  string
	UserAgent string
}

// Response is a rendered (or cached) endpoint response.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
	Headers     map[string]string
	CacheHit    bool
}

// SourceFetcher loads the normalized records of a data source.
// *source.Registry implements it.
type SourceFetcher interface {
	Fetch(ctx context.Context, ds *domain.DataSource, q url.Values) ([]any, error)
}

// EndpointService serves configured endpoints.
type EndpointService struct {
	DB      *gorm.DB
	Sources SourceFetcher

	// Cache and Limiter are optional; nil disables the feature regardless
	// of endpoint configuration.
	Cache   cache.Manager
	Limiter ratelimit.Limiter

	AccessLog *AccessLogger

	DefaultTTL       time.Duration
	FetchConcurrency int

	Now func() time.Time
}

func (s *EndpointService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *EndpointService) concurrency() int {
	if s.FetchConcurrency > 0 {
		return s.FetchConcurrency
	}
	return DefaultFetchConcurrency
}

// Serve resolves req.Slug and produces the endpoint's response.
//
// Errors:
//   - ErrEndpointNotFound for an invalid slug or a missing/inactive endpoint.
//   - *AuthError (matches ErrUnauthorized) when credentials are required and
//     missing or wrong.
//   - *RateLimitError when the client's quota is exhausted.
//   - ErrUnsupportedFormat when no generator exists for the output format.
//   - Other errors are unexpected storage or rendering failures.
func (s *EndpointService) Serve(ctx context.Context, req Request) (*Response, error) {
	tr := otel.Tracer("services/EndpointService")
	ctx, span := tr.Start(ctx, "Serve",
		trace.WithAttributes(
			attribute.String("endpoint.slug", req.Slug),
			attribute.String("http.method", req.Method),
		),
	)
	defer span.End()

	start := time.Now()
	row := &domain.AccessLog{
		Slug:      truncate(req.Slug, 128),
		ClientID:  ratelimit.ClientID("", req.ClientIP),
		Method:    req.Method,
		Path:      truncate(req.Path, 512),
		Query:     params.WithoutSecrets(req.Query).Encode(),
		UserAgent: truncate(req.UserAgent, 512),
	}

	var limited bool
	resp, err := s.serve(ctx, req, row, &limited)

	row.StatusCode = StatusOf(resp, err)
	row.ResponseTimeMs = time.Since(start).Milliseconds()
	row.CreatedAt = s.now()
	if resp != nil {
		row.CacheHit = resp.CacheHit
	}
	if err != nil {
		row.Error = truncate(err.Error(), 1024)
		if row.StatusCode >= http.StatusInternalServerError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.SetAttributes(attribute.Int("http.status_code", row.StatusCode))
	if limited {
		s.AccessLog.Write(ctx, row)
	} else {
		s.AccessLog.Record(row)
	}

	return resp, err
}

// serve sets *limited when the endpoint's quota is counted over the access
// log, so the caller writes row before returning.
func (s *EndpointService) serve(ctx context.Context, req Request, row *domain.AccessLog, limited *bool) (*Response, error) {
	lg := zerolog.Ctx(ctx)

	if !ValidSlug(req.Slug) {
		return nil, ErrEndpointNotFound
	}
	ep, err := repo.GetActiveEndpointBySlug(ctx, s.DB, req.Slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("load endpoint: %w", err)
	}
	row.EndpointID = ep.ID

	// Credentials never reach the access log, the cache key or the sources.
	q := params.WithoutSecrets(req.Query, auth.QueryParam(ep.AuthConfig))
	row.Query = q.Encode()

	identity, err := auth.Check(ep.AuthConfig, req.Header, req.Query)
	if err != nil {
		return nil, &AuthError{Challenge: auth.Challenge(ep.AuthConfig), Cause: err}
	}
	row.ClientID = ratelimit.ClientID(identity, req.ClientIP)

	var limitHeaders map[string]string
	if rl := ep.RateLimitConfig; rl.Enabled && rl.RequestsPerMinute > 0 && s.Limiter != nil {
		*limited = true
		d, err := s.Limiter.Allow(ctx, ratelimit.Subject{EndpointID: ep.ID, ClientID: row.ClientID}, rl.RequestsPerMinute)
		if err != nil {
			lg.Warn().Err(err).Str("slug", ep.Slug).Msg("rate limiter unavailable, allowing request")
			d.Allowed = true
		}
		limitHeaders = d.Headers(s.now())
		if !d.Allowed {
			rateLimited.Inc()
			return nil, &RateLimitError{Decision: d, Headers: limitHeaders}
		}
	}

	cacheOn := ep.CacheConfig.Enabled && s.Cache != nil
	ttl := cache.TTL(ep.CacheConfig.TTLSeconds, s.DefaultTTL)
	key := cache.Key(ep.Slug, q)

	if cacheOn {
		e, err := s.Cache.Get(ctx, key)
		if err != nil {
			lg.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		if e != nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return &Response{
				Status:      e.Status,
				Body:        e.Body,
				ContentType: e.ContentType,
				Headers:     mergeHeaders(e.Headers, limitHeaders, map[string]string{"X-Cache": CacheHit}),
				CacheHit:    true,
			}, nil
		}
		cacheLookups.WithLabelValues("miss").Inc()
	}

	out, err := s.generate(ctx, ep, q)
	if err != nil {
		return nil, err
	}

	stored := map[string]string{"Cache-Control": "no-cache"}
	if cacheOn {
		stored["Cache-Control"] = fmt.Sprintf("public, max-age=%d", int(ttl/time.Second))
		entry := cache.Entry{Body: out.Body, Status: http.StatusOK, ContentType: out.ContentType, Headers: stored}
		if err := s.Cache.Set(ctx, key, ep.Slug, entry, ttl); err != nil {
			lg.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}

	return &Response{
		Status:      http.StatusOK,
		Body:        out.Body,
		ContentType: out.ContentType,
		Headers:     mergeHeaders(stored, limitHeaders, map[string]string{"X-Cache": CacheMiss}),
	}, nil
}

// generate fetches, transforms and renders ep.
func (s *EndpointService) generate(ctx context.Context, ep *domain.Endpoint, q url.Values) (*format.Output, error) {
	f := strings.ToLower(ep.OutputFormat)
	if f == "" {
		f = domain.FormatJSON
	}
	if !format.Supported(f) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ep.OutputFormat)
	}

	start := time.Now()
	data := s.fetchAll(ctx, ep, q)
	out, err := format.Render(ep, data, s.now())
	if err != nil {
		if errors.Is(err, format.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ep.OutputFormat)
		}
		return nil, fmt.Errorf("render %s: %w", f, err)
	}
	responsesGenerated.WithLabelValues(f).Inc()
	generationLatency.WithLabelValues(f).Observe(time.Since(start).Seconds())
	return out, nil
}

// fetchAll loads every source of ep with bounded parallelism. Results keep
// the endpoint's source order; failed sources are left out.
func (s *EndpointService) fetchAll(ctx context.Context, ep *domain.Endpoint, q url.Values) []format.SourceData {
	results := make([]*format.SourceData, len(ep.Sources))

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i := range ep.Sources {
		ds := &ep.Sources[i]
		g.Go(func() error {
			recs, err := s.fetchOne(ctx, ds, q)
			if err != nil {
				return nil
			}
			results[i] = &format.SourceData{
				ID:    ds.ID,
				Name:  ds.Name,
				Type:  ds.Type,
				Items: transform.Apply(ctx, ep.TransformConfig, recs, q),
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]format.SourceData, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (s *EndpointService) fetchOne(ctx context.Context, ds *domain.DataSource, q url.Values) ([]any, error) {
	tr := otel.Tracer("services/EndpointService")
	ctx, span := tr.Start(ctx, "fetchSource",
		trace.WithAttributes(
			attribute.String("source.id", ds.ID),
			attribute.String("source.type", ds.Type),
		),
	)
	defer span.End()

	recs, err := s.Sources.Fetch(ctx, ds, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sourceFailures.WithLabelValues(ds.Type).Inc()
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("source_id", ds.ID).
			Str("source", ds.Name).
			Str("type", ds.Type).
			Msg("source fetch failed, skipping")
		return nil, err
	}
	span.SetAttributes(attribute.Int("source.records", len(recs)))
	return recs, nil
}

// mergeHeaders combines header maps; later maps win.
func mergeHeaders(ms ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

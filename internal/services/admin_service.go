// Package services – EndpointAdminService and DataSourceService
//
// This file implements the admin use-cases for configured endpoints and data
// sources: validated create/update, paginated listing, deletion, linking
// sources to endpoints and explicit cache invalidation. Every change that can
// alter a rendered response invalidates the cached responses of the affected
// endpoints (the slug key and "<slug>?*").
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/auth"
	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/format"
	"github.com/tbourn/go-api-endpoints/internal/repo"
	"github.com/tbourn/go-api-endpoints/internal/source"
	"github.com/tbourn/go-api-endpoints/internal/transform"
	"github.com/tbourn/go-api-endpoints/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EndpointInput is the writable part of an endpoint.
type EndpointInput struct {
	Name            string                 `json:"name"`
	Slug            string                 `json:"slug"`
	Description     string                 `json:"description"`
	OutputFormat    string                 `json:"output_format"`
	SchemaConfig    domain.SchemaConfig    `json:"schema_config"`
	TransformConfig domain.TransformConfig `json:"transform_config"`
	AuthConfig      domain.AuthConfig      `json:"auth_config"`
	CacheConfig     domain.CacheConfig     `json:"cache_config"`
	RateLimitConfig domain.RateLimitConfig `json:"rate_limit_config"`
	Active          *bool                  `json:"active"`
}

// DataSourceInput is the writable part of a data source.
type DataSourceInput struct {
	Name   string              `json:"name"`
	Type   string              `json:"type"`
	Config domain.SourceConfig `json:"config"`
	Active *bool               `json:"active"`
}

// page normalizes pagination input.
func page(p, size int) (offset, limit int) {
	return utils.Offset(p, size)
}

// invalidateSlugs drops cached responses for slugs. Failures are logged;
// entries still expire by TTL.
func invalidateSlugs(ctx context.Context, c cache.Manager, slugs ...string) {
	if c == nil {
		return
	}
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		if _, err := cache.InvalidateSlug(ctx, c, slug); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("slug", slug).Msg("cache invalidation failed")
		}
	}
}

// ValidateEndpoint reports the first problem with in.
func ValidateEndpoint(in EndpointInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "is required")
	}
	if !ValidSlug(in.Slug) {
		return invalid("slug", "must be lowercase letters, digits and single dashes")
	}
	if in.OutputFormat != "" && !format.Supported(in.OutputFormat) {
		return invalid("output_format", "unsupported format %q", in.OutputFormat)
	}
	if err := transform.Validate(in.TransformConfig); err != nil {
		return invalid("transform_config", "%v", err)
	}
	if err := auth.Validate(in.AuthConfig); err != nil {
		return invalid("auth_config", "%v", err)
	}
	if in.CacheConfig.TTLSeconds < 0 {
		return invalid("cache_config.ttl_seconds", "must not be negative")
	}
	if in.RateLimitConfig.Enabled && in.RateLimitConfig.RequestsPerMinute <= 0 {
		return invalid("rate_limit_config.requests_per_minute", "must be positive when enabled")
	}
	return nil
}

// ValidateDataSource reports the first problem with in.
func ValidateDataSource(in DataSourceInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "is required")
	}
	cfg := in.Config
	switch in.Type {
	case domain.SourceAPI:
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			// Placeholders may sit in the path or query, never in the host.
			return invalid("config.url", "must be an absolute http(s) URL")
		}
	case domain.SourceDatabase:
		if err := source.ValidateDatabaseConfig(cfg); err != nil {
			return invalid("config", "%v", err)
		}
	case domain.SourceFile:
		if cfg.Path == "" && (cfg.Bucket == "" || cfg.Object == "") {
			return invalid("config", "path or bucket and object are required")
		}
	case domain.SourceWebhook:
	default:
		return invalid("type", "unknown source type %q", in.Type)
	}
	if f := strings.ToLower(cfg.Format); f != "" && f != "json" && f != "csv" {
		return invalid("config.format", "must be json or csv")
	}
	if cfg.Limit < 0 {
		return invalid("config.limit", "must not be negative")
	}
	return nil
}

// EndpointAdminService manages endpoint configuration.
type EndpointAdminService struct {
	DB    *gorm.DB
	Cache cache.Manager
}

func (s *EndpointAdminService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/EndpointAdminService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Create validates in and inserts a new endpoint. New endpoints are active
// unless in.Active says otherwise.
func (s *EndpointAdminService) Create(ctx context.Context, in EndpointInput) (*domain.Endpoint, error) {
	ctx, span := s.span(ctx, "Create", attribute.String("endpoint.slug", in.Slug))
	defer span.End()

	if err := ValidateEndpoint(in); err != nil {
		return nil, err
	}
	ep := &domain.Endpoint{Active: true}
	applyEndpoint(ep, in)
	if err := repo.CreateEndpoint(ctx, s.DB, ep); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("endpoint slug %q %w", in.Slug, ErrConflict)
		}
		return nil, err
	}
	invalidateSlugs(ctx, s.Cache, ep.Slug)
	return ep, nil
}

// Get returns an endpoint with all linked sources, active or not.
func (s *EndpointAdminService) Get(ctx context.Context, id string) (*domain.Endpoint, error) {
	ctx, span := s.span(ctx, "Get", attribute.String("endpoint.id", id))
	defer span.End()

	ep, err := repo.GetEndpoint(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}
	srcs, err := repo.ListEndpointSources(ctx, s.DB, id, false)
	if err != nil {
		return nil, err
	}
	ep.Sources = srcs
	return ep, nil
}

// ListPage returns a page of endpoints and the total count.
func (s *EndpointAdminService) ListPage(ctx context.Context, p, size int) ([]domain.Endpoint, int64, error) {
	ctx, span := s.span(ctx, "ListPage", attribute.Int("page", p), attribute.Int("page_size", size))
	defer span.End()

	offset, limit := page(p, size)
	total, err := repo.CountEndpoints(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Endpoint{}, 0, nil
	}
	items, err := repo.ListEndpointsPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// Update replaces the writable fields of endpoint id and invalidates the
// cached responses under both the old and the new slug.
func (s *EndpointAdminService) Update(ctx context.Context, id string, in EndpointInput) (*domain.Endpoint, error) {
	ctx, span := s.span(ctx, "Update", attribute.String("endpoint.id", id))
	defer span.End()

	if err := ValidateEndpoint(in); err != nil {
		return nil, err
	}
	ep, err := repo.GetEndpoint(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}
	oldSlug := ep.Slug
	applyEndpoint(ep, in)
	if err := repo.SaveEndpoint(ctx, s.DB, ep); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			return nil, fmt.Errorf("endpoint slug %q %w", in.Slug, ErrConflict)
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}
	invalidateSlugs(ctx, s.Cache, oldSlug, ep.Slug)
	return ep, nil
}

// Delete removes endpoint id and its cached responses.
func (s *EndpointAdminService) Delete(ctx context.Context, id string) error {
	ctx, span := s.span(ctx, "Delete", attribute.String("endpoint.id", id))
	defer span.End()

	ep, err := repo.GetEndpoint(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEndpointNotFound
		}
		return err
	}
	if err := repo.DeleteEndpoint(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEndpointNotFound
		}
		return err
	}
	invalidateSlugs(ctx, s.Cache, ep.Slug)
	return nil
}

// AttachSource links source sourceID to endpoint endpointID at position.
// Re-attaching an already linked source moves it.
func (s *EndpointAdminService) AttachSource(ctx context.Context, endpointID, sourceID string, position int) error {
	ctx, span := s.span(ctx, "AttachSource",
		attribute.String("endpoint.id", endpointID),
		attribute.String("source.id", sourceID),
	)
	defer span.End()

	ep, err := repo.GetEndpoint(ctx, s.DB, endpointID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEndpointNotFound
		}
		return err
	}
	if _, err := repo.GetDataSource(ctx, s.DB, sourceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDataSourceNotFound
		}
		return err
	}
	if err := repo.AttachSource(ctx, s.DB, endpointID, sourceID, position); err != nil {
		return err
	}
	invalidateSlugs(ctx, s.Cache, ep.Slug)
	return nil
}

// DetachSource unlinks sourceID from endpointID.
func (s *EndpointAdminService) DetachSource(ctx context.Context, endpointID, sourceID string) error {
	ctx, span := s.span(ctx, "DetachSource",
		attribute.String("endpoint.id", endpointID),
		attribute.String("source.id", sourceID),
	)
	defer span.End()

	ep, err := repo.GetEndpoint(ctx, s.DB, endpointID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEndpointNotFound
		}
		return err
	}
	if err := repo.DetachSource(ctx, s.DB, endpointID, sourceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDataSourceNotFound
		}
		return err
	}
	invalidateSlugs(ctx, s.Cache, ep.Slug)
	return nil
}

// InvalidateCache deletes cached responses whose key matches pattern.
func (s *EndpointAdminService) InvalidateCache(ctx context.Context, pattern string) (int64, error) {
	ctx, span := s.span(ctx, "InvalidateCache", attribute.String("cache.pattern", pattern))
	defer span.End()

	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0, invalid("pattern", "is required")
	}
	if s.Cache == nil {
		return 0, nil
	}
	return s.Cache.Invalidate(ctx, pattern)
}

func applyEndpoint(ep *domain.Endpoint, in EndpointInput) {
	ep.Name = strings.TrimSpace(in.Name)
	ep.Slug = in.Slug
	ep.Description = in.Description
	ep.OutputFormat = strings.ToLower(in.OutputFormat)
	if ep.OutputFormat == "" {
		ep.OutputFormat = domain.FormatJSON
	}
	ep.SchemaConfig = in.SchemaConfig
	ep.TransformConfig = in.TransformConfig
	ep.AuthConfig = in.AuthConfig
	ep.CacheConfig = in.CacheConfig
	ep.RateLimitConfig = in.RateLimitConfig
	if in.Active != nil {
		ep.Active = *in.Active
	}
}

// DataSourceService manages data source configuration.
type DataSourceService struct {
	DB    *gorm.DB
	Cache cache.Manager
}

func (s *DataSourceService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/DataSourceService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Create validates in and inserts a new, active-by-default data source.
func (s *DataSourceService) Create(ctx context.Context, in DataSourceInput) (*domain.DataSource, error) {
	ctx, span := s.span(ctx, "Create", attribute.String("source.type", in.Type))
	defer span.End()

	if err := ValidateDataSource(in); err != nil {
		return nil, err
	}
	ds := &domain.DataSource{Active: true}
	applySource(ds, in)
	if err := repo.CreateDataSource(ctx, s.DB, ds); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("data source %q %w", in.Name, ErrConflict)
		}
		return nil, err
	}
	return ds, nil
}

// Get returns data source id.
func (s *DataSourceService) Get(ctx context.Context, id string) (*domain.DataSource, error) {
	ds, err := repo.GetDataSource(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDataSourceNotFound
		}
		return nil, err
	}
	return ds, nil
}

// ListPage returns a page of data sources and the total count.
func (s *DataSourceService) ListPage(ctx context.Context, p, size int) ([]domain.DataSource, int64, error) {
	ctx, span := s.span(ctx, "ListPage", attribute.Int("page", p), attribute.Int("page_size", size))
	defer span.End()

	offset, limit := page(p, size)
	total, err := repo.CountDataSources(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DataSource{}, 0, nil
	}
	items, err := repo.ListDataSourcesPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// Update replaces the writable fields of data source id and invalidates
// every endpoint that uses it.
func (s *DataSourceService) Update(ctx context.Context, id string, in DataSourceInput) (*domain.DataSource, error) {
	ctx, span := s.span(ctx, "Update", attribute.String("source.id", id))
	defer span.End()

	if err := ValidateDataSource(in); err != nil {
		return nil, err
	}
	ds, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applySource(ds, in)
	if err := repo.SaveDataSource(ctx, s.DB, ds); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			return nil, fmt.Errorf("data source %q %w", in.Name, ErrConflict)
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrDataSourceNotFound
		}
		return nil, err
	}
	s.invalidateUsers(ctx, id)
	return ds, nil
}

// Delete removes data source id and invalidates the endpoints that used it.
func (s *DataSourceService) Delete(ctx context.Context, id string) error {
	ctx, span := s.span(ctx, "Delete", attribute.String("source.id", id))
	defer span.End()

	slugs, err := repo.SlugsForSource(ctx, s.DB, id)
	if err != nil {
		return err
	}
	if err := repo.DeleteDataSource(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDataSourceNotFound
		}
		return err
	}
	invalidateSlugs(ctx, s.Cache, slugs...)
	return nil
}

func (s *DataSourceService) invalidateUsers(ctx context.Context, sourceID string) {
	slugs, err := repo.SlugsForSource(ctx, s.DB, sourceID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("source_id", sourceID).Msg("lookup of dependent endpoints failed")
		return
	}
	invalidateSlugs(ctx, s.Cache, slugs...)
}

func applySource(ds *domain.DataSource, in DataSourceInput) {
	ds.Name = strings.TrimSpace(in.Name)
	ds.Type = in.Type
	ds.Config = in.Config
	if in.Active != nil {
		ds.Active = *in.Active
	}
}

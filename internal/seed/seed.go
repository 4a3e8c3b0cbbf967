// Package seed loads endpoint and data source definitions from a TOML file
// and upserts them at startup.
//
// Sources are matched by name and endpoints by slug, so applying the same
// file twice is a no-op apart from updated_at. Secrets in auth_config are
// stored as given: tokens and API keys as sha256 hex digests, basic auth
// passwords as bcrypt hashes.
//
// Example:
//
//	[[sources]]
//	name = "news-api"
//	type = "api"
//	[sources.config]
//	url = "https://example.com/news.json"
//	data_path = "articles"
//
//	[[endpoints]]
//	name = "News"
//	slug = "news"
//	output_format = "rss"
//	sources = ["news-api"]
//	[endpoints.cache_config]
//	enabled = true
//	ttl_seconds = 120
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"
	"github.com/tbourn/go-api-endpoints/internal/services"
)

// File is the root of a seed document.
type File struct {
	Sources   []Source   `toml:"sources"   validate:"unique=Name,dive"`
	Endpoints []Endpoint `toml:"endpoints" validate:"unique=Slug,dive"`
}

// Source declares a data source.
type Source struct {
	Name   string              `toml:"name"   validate:"required,max=255"`
	Type   string              `toml:"type"   validate:"required,oneof=api database file webhook"`
	Active *bool               `toml:"active"`
	Config domain.SourceConfig `toml:"config"`
}

// Endpoint declares an endpoint and the names of its sources, in merge
// order.
type Endpoint struct {
	Name            string                 `toml:"name"          validate:"required,max=255"`
	Slug            string                 `toml:"slug"          validate:"required,max=128"`
	Description     string                 `toml:"description"`
	OutputFormat    string                 `toml:"output_format" validate:"omitempty,oneof=json rss xml csv"`
	Active          *bool                  `toml:"active"`
	Sources         []string               `toml:"sources"       validate:"unique,dive,required"`
	SchemaConfig    domain.SchemaConfig    `toml:"schema_config"`
	TransformConfig domain.TransformConfig `toml:"transform_config"`
	AuthConfig      domain.AuthConfig      `toml:"auth_config"`
	CacheConfig     domain.CacheConfig     `toml:"cache_config"`
	RateLimitConfig domain.RateLimitConfig `toml:"rate_limit_config"`
}

// Result counts what Apply wrote.
type Result struct {
	SourcesCreated   int
	SourcesUpdated   int
	EndpointsCreated int
	EndpointsUpdated int
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load decodes path. Unknown keys are rejected so typos do not silently
// drop configuration.
func Load(path string) (*File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("seed: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("seed: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return &f, nil
}

// Validate checks f completely before anything is written.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	declared := make(map[string]struct{}, len(f.Sources))
	for _, s := range f.Sources {
		if err := services.ValidateDataSource(s.input()); err != nil {
			return fmt.Errorf("seed: source %q: %w", s.Name, err)
		}
		declared[s.Name] = struct{}{}
	}
	for _, e := range f.Endpoints {
		if err := services.ValidateEndpoint(e.input()); err != nil {
			return fmt.Errorf("seed: endpoint %q: %w", e.Slug, err)
		}
		for _, name := range e.Sources {
			if _, ok := declared[name]; !ok {
				return fmt.Errorf("seed: endpoint %q: source %q is not declared in the file", e.Slug, name)
			}
		}
	}
	return nil
}

// Apply validates f and upserts its sources, then its endpoints. An
// endpoint's links are replaced by the listed sources. Cached responses of
// touched endpoints are invalidated through the admin services.
func Apply(ctx context.Context, db *gorm.DB, c cache.Manager, f *File) (Result, error) {
	var res Result
	if err := f.Validate(); err != nil {
		return res, err
	}
	lg := zerolog.Ctx(ctx)

	sources := &services.DataSourceService{DB: db, Cache: c}
	endpoints := &services.EndpointAdminService{DB: db, Cache: c}

	ids := make(map[string]string, len(f.Sources))
	for _, s := range f.Sources {
		existing, err := repo.GetDataSourceByName(ctx, db, s.Name)
		switch {
		case err == nil:
			if _, err := sources.Update(ctx, existing.ID, s.input()); err != nil {
				return res, fmt.Errorf("seed: update source %q: %w", s.Name, err)
			}
			ids[s.Name] = existing.ID
			res.SourcesUpdated++
		case errors.Is(err, repo.ErrNotFound):
			ds, err := sources.Create(ctx, s.input())
			if err != nil {
				return res, fmt.Errorf("seed: create source %q: %w", s.Name, err)
			}
			ids[s.Name] = ds.ID
			res.SourcesCreated++
		default:
			return res, fmt.Errorf("seed: load source %q: %w", s.Name, err)
		}
	}

	for _, e := range f.Endpoints {
		var id string
		existing, err := repo.GetEndpointBySlug(ctx, db, e.Slug)
		switch {
		case err == nil:
			if _, err := endpoints.Update(ctx, existing.ID, e.input()); err != nil {
				return res, fmt.Errorf("seed: update endpoint %q: %w", e.Slug, err)
			}
			id = existing.ID
			res.EndpointsUpdated++
		case errors.Is(err, repo.ErrNotFound):
			ep, err := endpoints.Create(ctx, e.input())
			if err != nil {
				return res, fmt.Errorf("seed: create endpoint %q: %w", e.Slug, err)
			}
			id = ep.ID
			res.EndpointsCreated++
		default:
			return res, fmt.Errorf("seed: load endpoint %q: %w", e.Slug, err)
		}

		if err := relink(ctx, db, endpoints, id, e.Sources, ids); err != nil {
			return res, fmt.Errorf("seed: link endpoint %q: %w", e.Slug, err)
		}
	}

	lg.Info().
		Int("sources_created", res.SourcesCreated).
		Int("sources_updated", res.SourcesUpdated).
		Int("endpoints_created", res.EndpointsCreated).
		Int("endpoints_updated", res.EndpointsUpdated).
		Msg("seed applied")
	return res, nil
}

// relink makes the sources of endpointID exactly names, in order.
func relink(ctx context.Context, db *gorm.DB, svc *services.EndpointAdminService, endpointID string, names []string, ids map[string]string) error {
	want := make(map[string]struct{}, len(names))
	for pos, name := range names {
		sid := ids[name]
		want[sid] = struct{}{}
		if err := svc.AttachSource(ctx, endpointID, sid, pos); err != nil {
			return err
		}
	}

	current, err := repo.ListEndpointSources(ctx, db, endpointID, false)
	if err != nil {
		return err
	}
	for _, ds := range current {
		if _, ok := want[ds.ID]; ok {
			continue
		}
		if err := svc.DetachSource(ctx, endpointID, ds.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s Source) input() services.DataSourceInput {
	return services.DataSourceInput{
		Name:   s.Name,
		Type:   s.Type,
		Config: s.Config,
		Active: activeOrTrue(s.Active),
	}
}

func (e Endpoint) input() services.EndpointInput {
	return services.EndpointInput{
		Name:            e.Name,
		Slug:            e.Slug,
		Description:     e.Description,
		OutputFormat:    e.OutputFormat,
		SchemaConfig:    e.SchemaConfig,
		TransformConfig: e.TransformConfig,
		AuthConfig:      e.AuthConfig,
		CacheConfig:     e.CacheConfig,
		RateLimitConfig: e.RateLimitConfig,
		Active:          activeOrTrue(e.Active),
	}
}

// activeOrTrue makes seeded rows active unless the file says otherwise.
func activeOrTrue(b *bool) *bool {
	if b != nil {
		return b
	}
	t := true
	return &t
}

// Package source fetches raw records for an endpoint's data sources.
//
// Each source type (api, database, file, webhook) has a Fetcher. A Registry
// dispatches by type, applies the shared DataPath and Limit settings, and
// normalizes whatever the fetcher returned into a flat record list.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/fieldpath"
)

var (
	// ErrUnknownType is returned for a source type with no registered fetcher.
	ErrUnknownType = errors.New("unknown source type")
	// ErrInvalidConfig is returned when a source's config cannot be used.
	ErrInvalidConfig = errors.New("invalid source config")
	// ErrUpstreamStatus is returned when an API source answers non-2xx.
	ErrUpstreamStatus = errors.New("upstream returned non-2xx status")
	// ErrDataPath is returned when DataPath does not resolve.
	ErrDataPath = errors.New("data path not found")
)

// Fetcher retrieves the raw decoded payload of one data source. q carries the
// incoming request's query parameters for placeholder expansion.
type Fetcher interface {
	Fetch(ctx context.Context, ds *domain.DataSource, q url.Values) (any, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ds *domain.DataSource, q url.Values) (any, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, ds *domain.DataSource, q url.Values) (any, error) {
	return f(ctx, ds, q)
}

// Registry maps source types to fetchers.
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: map[string]Fetcher{}}
}

// Register binds typ to f, replacing any previous fetcher.
func (r *Registry) Register(typ string, f Fetcher) *Registry {
	r.fetchers[typ] = f
	return r
}

// Has reports whether typ has a fetcher.
func (r *Registry) Has(typ string) bool {
	_, ok := r.fetchers[typ]
	return ok
}

// Fetch runs the fetcher for ds.Type and returns its records.
func (r *Registry) Fetch(ctx context.Context, ds *domain.DataSource, q url.Values) ([]any, error) {
	f, ok := r.fetchers[ds.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ds.Type)
	}
	raw, err := f.Fetch(ctx, ds, q)
	if err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(ds.Config.DataPath); p != "" {
		v, ok := fieldpath.Get(raw, p)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDataPath, p)
		}
		raw = v
	}
	records := Normalize(raw)
	if ds.Config.Limit > 0 && len(records) > ds.Config.Limit {
		records = records[:ds.Config.Limit]
	}
	return records, nil
}

// Normalize turns a decoded payload into a record list: an array becomes its
// elements, null becomes empty and anything else becomes a single record.
func Normalize(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	}
	return []any{v}
}

// decode parses body as CSV when format says so, otherwise as JSON.
func decode(body []byte, format, delimiter string) (any, error) {
	if strings.EqualFold(format, "csv") {
		return decodeCSV(bytes.NewReader(body), delimiter)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := sonic.ConfigStd.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// decodeCSV reads a headed CSV document into one map per row. Short rows
// leave missing columns unset.
func decodeCSV(r io.Reader, delimiter string) ([]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if delimiter != "" {
		if delimiter == `\t` || delimiter == "tab" {
			cr.Comma = '\t'
		} else {
			cr.Comma = []rune(delimiter)[0]
		}
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if len(rows) == 0 {
		return []any{}, nil
	}
	header := rows[0]
	out := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[strings.TrimSpace(col)] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Deps carries what the built-in fetchers need.
type Deps struct {
	DB         *gorm.DB
	HTTPClient *http.Client
	APITimeout time.Duration
	FileRoot   string
	Store      ObjectStore // nil disables bucket-backed file sources
}

// NewDefaultRegistry registers the fetcher for every built-in source type.
func NewDefaultRegistry(d Deps) *Registry {
	return NewRegistry().
		Register(domain.SourceAPI, &APIFetcher{Client: d.HTTPClient, Timeout: d.APITimeout}).
		Register(domain.SourceDatabase, &DatabaseFetcher{DB: d.DB}).
		Register(domain.SourceFile, &FileFetcher{Root: d.FileRoot, Store: d.Store}).
		Register(domain.SourceWebhook, &WebhookFetcher{DB: d.DB})
}

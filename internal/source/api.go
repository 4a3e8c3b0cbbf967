package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/params"
)

const (
	defaultAPITimeout = 10 * time.Second
	maxAPIBody        = 10 << 20
)

// APIFetcher calls a remote HTTP API.
type APIFetcher struct {
	Client  *http.Client
	Timeout time.Duration // used when the source sets no timeout_ms
}

// Fetch implements Fetcher.
func (f *APIFetcher) Fetch(ctx context.Context, ds *domain.DataSource, q url.Values) (any, error) {
	cfg := ds.Config
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(params.ExpandURL(cfg.URL, q))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: bad url %q", ErrInvalidConfig, cfg.URL)
	}

	query := u.Query()
	for k, v := range params.ExpandMap(cfg.Query, q) {
		query.Set(k, v)
	}
	if cfg.ForwardQuery {
		for k, vs := range q {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	}
	u.RawQuery = query.Encode()

	timeout := f.Timeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.1")
	for k, v := range params.ExpandMap(cfg.Headers, q) {
		req.Header.Set(k, v)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api source %s: %w", ds.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, fmt.Errorf("api source %s: read body: %w", ds.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s answered %d", ErrUpstreamStatus, ds.Name, resp.StatusCode)
	}

	format := cfg.Format
	if format == "" && strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "csv") {
		format = "csv"
	}
	return decode(body, format, cfg.Delimiter)
}

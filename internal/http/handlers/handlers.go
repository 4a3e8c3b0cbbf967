package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"
	"github.com/tbourn/go-api-endpoints/internal/services"
)

//
// Service contracts (context-aware)
//

// EndpointServer renders configured endpoints for public requests.
type EndpointServer interface {
	// Serve resolves req.Slug and returns the rendered (or cached) response.
	Serve(ctx context.Context, req services.Request) (*services.Response, error)
}

// EndpointAdmin manages endpoint configuration.
type EndpointAdmin interface {
	Create(ctx context.Context, in services.EndpointInput) (*domain.Endpoint, error)
	Get(ctx context.Context, id string) (*domain.Endpoint, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Endpoint, int64, error)
	Update(ctx context.Context, id string, in services.EndpointInput) (*domain.Endpoint, error)
	Delete(ctx context.Context, id string) error
	AttachSource(ctx context.Context, endpointID, sourceID string, position int) error
	DetachSource(ctx context.Context, endpointID, sourceID string) error
	// InvalidateCache drops cached responses matching a key pattern.
	InvalidateCache(ctx context.Context, pattern string) (int64, error)
}

// DataSources manages data source configuration.
type DataSources interface {
	Create(ctx context.Context, in services.DataSourceInput) (*domain.DataSource, error)
	Get(ctx context.Context, id string) (*domain.DataSource, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.DataSource, int64, error)
	Update(ctx context.Context, id string, in services.DataSourceInput) (*domain.DataSource, error)
	Delete(ctx context.Context, id string) error
}

// Webhooks stores pushed payloads for webhook data sources.
type Webhooks interface {
	Ingest(ctx context.Context, sourceID, secret, idemKey string, body []byte) (*services.WebhookResult, error)
}

// Analytics reads the access log.
type Analytics interface {
	Stats(ctx context.Context, endpointID string, since time.Time) (repo.EndpointStats, error)
	LogsPage(ctx context.Context, endpointID string, page, pageSize int) ([]domain.AccessLog, int64, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP routes. Admin services may be nil when the
// admin API is not mounted.
type Handlers struct {
	endpoints EndpointServer
	admin     EndpointAdmin
	sources   DataSources
	webhooks  Webhooks
	analytics Analytics

	// webhookMaxBody caps webhook payloads; <= 0 means 1 MiB.
	webhookMaxBody int64
}

// Services bundles the dependencies of New.
type Services struct {
	Endpoints EndpointServer
	Admin     EndpointAdmin
	Sources   DataSources
	Webhooks  Webhooks
	Analytics Analytics

	WebhookMaxBody int64
}

// New constructs a Handlers instance bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{
		endpoints:      s.Endpoints,
		admin:          s.Admin,
		sources:        s.Sources,
		webhooks:       s.Webhooks,
		analytics:      s.Analytics,
		webhookMaxBody: s.WebhookMaxBody,
	}
}

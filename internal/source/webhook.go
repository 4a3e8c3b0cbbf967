package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"
)

const defaultWebhookLimit = 100

// WebhookFetcher serves the most recent payloads pushed to a webhook source.
type WebhookFetcher struct {
	DB *gorm.DB
}

// Fetch implements Fetcher. Payloads are returned newest first and array
// payloads are flattened into their elements.
func (f *WebhookFetcher) Fetch(ctx context.Context, ds *domain.DataSource, _ url.Values) (any, error) {
	limit := ds.Config.Limit
	if limit <= 0 {
		limit = defaultWebhookLimit
	}
	rows, err := repo.ListRecentPayloads(ctx, f.DB, ds.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("webhook source %s: %w", ds.Name, err)
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		var v any
		if err := sonic.ConfigStd.Unmarshal(r.Payload, &v); err != nil {
			continue
		}
		if list, ok := v.([]any); ok {
			out = append(out, list...)
			continue
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

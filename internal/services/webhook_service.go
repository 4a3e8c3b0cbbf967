// Package services – WebhookService
//
// This file implements webhook ingestion for data sources of type webhook.
// A delivery is checked against the source's shared secret, stored as a
// WebhookPayload and deduplicated by Idempotency-Key: a redelivery with the
// same key inside the TTL resolves to the originally stored payload. Stored
// payloads change what the source returns, so the cached responses of every
// endpoint using the source are invalidated.
package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultIdempotencyTTL is how long a delivery key is remembered.
const DefaultIdempotencyTTL = 24 * time.Hour

// WebhookService stores pushed payloads.
type WebhookService struct {
	DB             *gorm.DB
	Cache          cache.Manager
	IdempotencyTTL time.Duration
}

// WebhookResult describes a stored (or replayed) delivery.
type WebhookResult struct {
	PayloadID string `json:"payload_id"`
	Replayed  bool   `json:"replayed"`
}

// Ingest stores body for webhook source sourceID.
//
// Errors:
//   - ErrDataSourceNotFound when the source is missing or inactive.
//   - ErrNotWebhookSource when the source is not of type webhook.
//   - ErrWebhookForbidden when the source has a secret and it does not match.
//   - ErrEmptyPayload or *ValidationError for an empty or non-JSON body.
func (s *WebhookService) Ingest(ctx context.Context, sourceID, secret, idemKey string, body []byte) (*WebhookResult, error) {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("source.id", sourceID),
			attribute.Bool("idempotent", idemKey != ""),
		),
	)
	defer span.End()

	ds, err := repo.GetDataSource(ctx, s.DB, sourceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDataSourceNotFound
		}
		return nil, err
	}
	if !ds.Active {
		return nil, ErrDataSourceNotFound
	}
	if ds.Type != domain.SourceWebhook {
		return nil, ErrNotWebhookSource
	}
	if want := ds.Config.Secret; want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		return nil, ErrWebhookForbidden
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}
	if !sonic.Valid(body) {
		return nil, invalid("body", "must be valid JSON")
	}

	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, s.DB, sourceID, idemKey, time.Now().UTC()); err == nil {
			return &WebhookResult{PayloadID: rec.PayloadID, Replayed: true}, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	var stored *domain.WebhookPayload
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.CreateWebhookPayload(ctx, tx, sourceID, json.RawMessage(body))
		if err != nil {
			return err
		}
		if idemKey != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, sourceID, idemKey, p.ID, http.StatusCreated, s.ttl()); err != nil {
				return err
			}
		}
		stored = p
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent delivery with the same key won.
		rec, gerr := repo.GetIdempotency(ctx, s.DB, sourceID, idemKey, time.Now().UTC())
		if gerr != nil {
			return nil, gerr
		}
		return &WebhookResult{PayloadID: rec.PayloadID, Replayed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	slugs, err := repo.SlugsForSource(ctx, s.DB, sourceID)
	if err == nil {
		invalidateSlugs(ctx, s.Cache, slugs...)
	}
	return &WebhookResult{PayloadID: stored.ID}, nil
}

// Seen reports whether key was already processed for sourceID. It backs
// the idempotency middleware.
func (s *WebhookService) Seen(ctx context.Context, sourceID, key string, now time.Time) (bool, error) {
	_, err := repo.GetIdempotency(ctx, s.DB, sourceID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *WebhookService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return DefaultIdempotencyTTL
}

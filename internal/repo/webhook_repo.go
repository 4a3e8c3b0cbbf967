package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// CreateWebhookPayload stores a pushed payload for sourceID.
func CreateWebhookPayload(ctx context.Context, db *gorm.DB, sourceID string, payload json.RawMessage) (*domain.WebhookPayload, error) {
	p := &domain.WebhookPayload{
		ID:           uuid.NewString(),
		DataSourceID: sourceID,
		Payload:      payload,
		ReceivedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ListRecentPayloads returns up to limit payloads for sourceID, newest first.
func ListRecentPayloads(ctx context.Context, db *gorm.DB, sourceID string, limit int) ([]domain.WebhookPayload, error) {
	var out []domain.WebhookPayload
	err := db.WithContext(ctx).
		Where("data_source_id = ?", sourceID).
		Order("received_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

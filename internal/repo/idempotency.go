// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to deduplicate webhook redeliveries.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// ErrDuplicate indicates a unique constraint violation, e.g. an idempotency
// record that already exists for (data_source_id, key).
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, sourceID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("data_source_id = ? AND key = ? AND expires_at > ?", sourceID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique
// violation. An expired record for the same pair is replaced.
func CreateIdempotency(ctx context.Context, db *gorm.DB, sourceID, key, payloadID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	tx := db.WithContext(ctx)
	if err := tx.Where("data_source_id = ? AND key = ? AND expires_at <= ?", sourceID, key, now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	rec := &domain.Idempotency{
		ID:           uuid.NewString(),
		DataSourceID: sourceID,
		Key:          key,
		PayloadID:    payloadID,
		Status:       status,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := tx.Create(rec).Error; err != nil {
		return nil, asDuplicate(err)
	}
	return rec, nil
}

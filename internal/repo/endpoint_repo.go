// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for endpoints and
// their ordered data-source links.
//
// All functions are context-aware and accept a *gorm.DB handle, so they
// work inside transactions. They follow the thin-repository approach: no
// business rules, only persistence and query composition.
//
// Error semantics:
//   - Missing rows return ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - Unique violations on insert/update return ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateEndpoint inserts ep, assigning an ID when empty.
func CreateEndpoint(ctx context.Context, db *gorm.DB, ep *domain.Endpoint) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ep.CreatedAt, ep.UpdatedAt = now, now
	return asDuplicate(db.WithContext(ctx).Create(ep).Error)
}

// GetEndpoint fetches an endpoint by ID regardless of its active flag.
func GetEndpoint(ctx context.Context, db *gorm.DB, id string) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ep).Error; err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetEndpointBySlug fetches an endpoint by slug regardless of its active flag.
func GetEndpointBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	if err := db.WithContext(ctx).Where("slug = ?", slug).First(&ep).Error; err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetActiveEndpointBySlug loads an active endpoint together with its active
// data sources in position order. Inactive or missing endpoints return
// ErrNotFound.
func GetActiveEndpointBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	err := db.WithContext(ctx).
		Where("slug = ? AND active = ?", slug, true).
		First(&ep).Error
	if err != nil {
		return nil, err
	}
	srcs, err := ListEndpointSources(ctx, db, ep.ID, true)
	if err != nil {
		return nil, err
	}
	ep.Sources = srcs
	return &ep, nil
}

// ListEndpointSources returns the data sources linked to endpointID ordered
// by junction position, then link creation time.
func ListEndpointSources(ctx context.Context, db *gorm.DB, endpointID string, activeOnly bool) ([]domain.DataSource, error) {
	q := db.WithContext(ctx).
		Model(&domain.DataSource{}).
		Joins("JOIN endpoint_data_sources eds ON eds.data_source_id = data_sources.id").
		Where("eds.endpoint_id = ?", endpointID)
	if activeOnly {
		q = q.Where("data_sources.active = ?", true)
	}
	var out []domain.DataSource
	err := q.Order("eds.position ASC").Order("eds.created_at ASC").Find(&out).Error
	return out, err
}

// CountEndpoints returns the number of (non-deleted) endpoints.
func CountEndpoints(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Endpoint{}).Count(&n).Error
	return n, err
}

// ListEndpointsPage returns endpoints ordered by slug.
func ListEndpointsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Endpoint, error) {
	var out []domain.Endpoint
	err := db.WithContext(ctx).
		Order("slug ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SaveEndpoint writes every column of ep. The row must exist.
func SaveEndpoint(ctx context.Context, db *gorm.DB, ep *domain.Endpoint) error {
	ep.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Endpoint{}).
		Where("id = ?", ep.ID).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(ep)
	if res.Error != nil {
		return asDuplicate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEndpoint soft-deletes an endpoint and hard-deletes its links.
func DeleteEndpoint(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&domain.Endpoint{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("endpoint_id = ?", id).Delete(&domain.EndpointSource{}).Error
	})
}

// AttachSource links a data source to an endpoint at position. Re-attaching
// an existing pair only moves it.
func AttachSource(ctx context.Context, db *gorm.DB, endpointID, sourceID string, position int) error {
	link := &domain.EndpointSource{
		EndpointID:   endpointID,
		DataSourceID: sourceID,
		Position:     position,
		CreatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint_id"}, {Name: "data_source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"position"}),
		}).
		Create(link).Error
}

// DetachSource removes a link. Missing links return ErrNotFound.
func DetachSource(ctx context.Context, db *gorm.DB, endpointID, sourceID string) error {
	res := db.WithContext(ctx).
		Where("endpoint_id = ? AND data_source_id = ?", endpointID, sourceID).
		Delete(&domain.EndpointSource{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SlugsForSource returns the slugs of endpoints linked to sourceID, used to
// invalidate cached responses when the source changes.
func SlugsForSource(ctx context.Context, db *gorm.DB, sourceID string) ([]string, error) {
	var slugs []string
	err := db.WithContext(ctx).
		Model(&domain.Endpoint{}).
		Joins("JOIN endpoint_data_sources eds ON eds.endpoint_id = api_endpoints.id").
		Where("eds.data_source_id = ?", sourceID).
		Order("api_endpoints.slug ASC").
		Pluck("api_endpoints.slug", &slugs).Error
	return slugs, err
}

// asDuplicate maps unique-constraint failures to ErrDuplicate.
func asDuplicate(err error) error {
	if err == nil {
		return nil
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") {
		return ErrDuplicate
	}
	return err
}

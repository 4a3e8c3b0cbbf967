package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// CreateDataSource inserts ds, assigning an ID when empty.
func CreateDataSource(ctx context.Context, db *gorm.DB, ds *domain.DataSource) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ds.CreatedAt, ds.UpdatedAt = now, now
	return asDuplicate(db.WithContext(ctx).Create(ds).Error)
}

// GetDataSource fetches a data source by ID.
func GetDataSource(ctx context.Context, db *gorm.DB, id string) (*domain.DataSource, error) {
	var ds domain.DataSource
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ds).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

// GetDataSourceByName fetches a data source by its unique name.
func GetDataSourceByName(ctx context.Context, db *gorm.DB, name string) (*domain.DataSource, error) {
	var ds domain.DataSource
	if err := db.WithContext(ctx).Where("name = ?", name).First(&ds).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

// CountDataSources returns the number of (non-deleted) data sources.
func CountDataSources(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DataSource{}).Count(&n).Error
	return n, err
}

// ListDataSourcesPage returns data sources ordered by name.
func ListDataSourcesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.DataSource, error) {
	var out []domain.DataSource
	err := db.WithContext(ctx).
		Order("name ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SaveDataSource writes every column of ds. The row must exist.
func SaveDataSource(ctx context.Context, db *gorm.DB, ds *domain.DataSource) error {
	ds.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.DataSource{}).
		Where("id = ?", ds.ID).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(ds)
	if res.Error != nil {
		return asDuplicate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDataSource soft-deletes a source and hard-deletes its endpoint links.
func DeleteDataSource(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&domain.DataSource{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("data_source_id = ?", id).Delete(&domain.EndpointSource{}).Error
	})
}

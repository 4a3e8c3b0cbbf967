package domain

import "time"

// Idempotency records a processed webhook delivery keyed by
// (data_source_id, key). A redelivery with the same Idempotency-Key inside
// the TTL resolves to the originally stored payload instead of a new row.
type Idempotency struct {
	ID           string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	DataSourceID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_source_key,priority:1"`
	Key          string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_source_key,priority:2"`
	PayloadID    string    `gorm:"type:TEXT NOT NULL"`
	Status       int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt    time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt    time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "webhook_idempotency" }

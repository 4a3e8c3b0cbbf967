// Package domain defines the persistence models for configurable API
// endpoints, their data sources, the response cache and the access log.
// These types are mapped with GORM and shared by the repository, service
// and HTTP layers.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Output formats an endpoint can serialize to.
const (
	FormatJSON = "json"
	FormatRSS  = "rss"
	FormatXML  = "xml"
	FormatCSV  = "csv"
)

// Data source types.
const (
	SourceAPI      = "api"
	SourceDatabase = "database"
	SourceFile     = "file"
	SourceWebhook  = "webhook"
)

// Endpoint is a configured, sluggable public route that serializes the
// records of its data sources into one output format.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Slug: URL path identifier, unique across endpoints.
//   - OutputFormat: one of json, rss, xml, csv.
//   - SchemaConfig / TransformConfig / AuthConfig / CacheConfig /
//     RateLimitConfig: JSON blobs holding per-endpoint behavior.
//   - Active: inactive endpoints answer 404.
//   - Sources: populated by the repository in junction position order;
//     not a GORM association.
type Endpoint struct {
	ID              string          `json:"id"               gorm:"type:char(36);primaryKey"`
	Name            string          `json:"name"             gorm:"type:varchar(255);not null"`
	Slug            string          `json:"slug"             gorm:"type:varchar(128);not null;uniqueIndex"`
	Description     string          `json:"description"      gorm:"type:text"`
	OutputFormat    string          `json:"output_format"    gorm:"type:varchar(16);not null;default:'json'"`
	SchemaConfig    SchemaConfig    `json:"schema_config"    gorm:"type:text;serializer:json"`
	TransformConfig TransformConfig `json:"transform_config" gorm:"type:text;serializer:json"`
	AuthConfig      AuthConfig      `json:"auth_config"      gorm:"type:text;serializer:json"`
	CacheConfig     CacheConfig     `json:"cache_config"     gorm:"type:text;serializer:json"`
	RateLimitConfig RateLimitConfig `json:"rate_limit_config" gorm:"type:text;serializer:json"`
	Active          bool            `json:"active"           gorm:"not null;index"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `json:"-"                gorm:"index"`

	Sources []DataSource `json:"sources,omitempty" gorm:"-"`
}

// TableName returns the database table name for Endpoint.
func (Endpoint) TableName() string { return "api_endpoints" }

// DataSource is a configured origin from which raw records are fetched.
type DataSource struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex"`
	Type      string         `json:"type"       gorm:"type:varchar(16);not null;check:type IN ('api','database','file','webhook')"`
	Config    SourceConfig   `json:"config"     gorm:"type:text;serializer:json"`
	Active    bool           `json:"active"     gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for DataSource.
func (DataSource) TableName() string { return "data_sources" }

// EndpointSource joins endpoints and data sources many-to-many. Position
// orders the sources of one endpoint for merging.
type EndpointSource struct {
	EndpointID   string    `json:"endpoint_id"    gorm:"type:char(36);primaryKey"`
	DataSourceID string    `json:"data_source_id" gorm:"type:char(36);primaryKey;index"`
	Position     int       `json:"position"       gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`

	Endpoint   Endpoint   `json:"-" gorm:"foreignKey:EndpointID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	DataSource DataSource `json:"-" gorm:"foreignKey:DataSourceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for EndpointSource.
func (EndpointSource) TableName() string { return "endpoint_data_sources" }

// CacheEntry is a memoized serialized response. Rows whose ExpiresAt has
// passed are ignored on read.
type CacheEntry struct {
	Key         string            `gorm:"type:varchar(512);primaryKey"`
	Slug        string            `gorm:"type:varchar(128);not null;index"`
	Body        []byte            `gorm:"not null"`
	Status      int               `gorm:"not null;default:200"`
	ContentType string            `gorm:"type:varchar(128);not null"`
	Headers     map[string]string `gorm:"type:text;serializer:json"`
	ExpiresAt   time.Time         `gorm:"not null;index"`
	HitCount    int64             `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string { return "api_cache" }

// AccessLog is one row per public request. It doubles as the counter for
// the sliding-window rate limiter, hence the composite index.
type AccessLog struct {
	ID             uint      `json:"id"               gorm:"primaryKey;autoIncrement"`
	EndpointID     string    `json:"endpoint_id"      gorm:"type:varchar(36);index:idx_access_window,priority:1"`
	Slug           string    `json:"slug"             gorm:"type:varchar(128);index"`
	ClientID       string    `json:"client_id"        gorm:"type:varchar(128);index:idx_access_window,priority:2"`
	Method         string    `json:"method"           gorm:"type:varchar(8)"`
	Path           string    `json:"path"             gorm:"type:varchar(512)"`
	Query          string    `json:"query"            gorm:"type:text"`
	StatusCode     int       `json:"status_code"      gorm:"not null"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CacheHit       bool      `json:"cache_hit"`
	UserAgent      string    `json:"user_agent"       gorm:"type:varchar(512)"`
	Error          string    `json:"error,omitempty"  gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"       gorm:"index:idx_access_window,priority:3"`
}

// TableName returns the database table name for AccessLog.
func (AccessLog) TableName() string { return "api_access_logs" }

// WebhookPayload is a record set pushed to a webhook data source.
type WebhookPayload struct {
	ID           string          `json:"id"             gorm:"type:char(36);primaryKey"`
	DataSourceID string          `json:"data_source_id" gorm:"type:char(36);not null;index:idx_webhook_recent,priority:1"`
	Payload      json.RawMessage `json:"payload"        gorm:"not null"`
	ReceivedAt   time.Time       `json:"received_at"    gorm:"not null;index:idx_webhook_recent,priority:2"`

	DataSource DataSource `json:"-" gorm:"foreignKey:DataSourceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for WebhookPayload.
func (WebhookPayload) TableName() string { return "webhook_payloads" }

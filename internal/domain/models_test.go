package domain

import (
	"encoding/json"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection so the FK pragma applies to every statement.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Endpoint{}).TableName():       "api_endpoints",
		(DataSource{}).TableName():     "data_sources",
		(EndpointSource{}).TableName(): "endpoint_data_sources",
		(CacheEntry{}).TableName():     "api_cache",
		(AccessLog{}).TableName():      "api_access_logs",
		(WebhookPayload{}).TableName(): "webhook_payloads",
		(Idempotency{}).TableName():    "webhook_idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_ConfigBlobs_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Endpoint{}, &DataSource{}, &EndpointSource{}, &CacheEntry{}, &AccessLog{}, &WebhookPayload{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&AccessLog{}, "idx_access_window") {
		t.Fatalf("expected index idx_access_window on api_access_logs")
	}
	if !m.HasIndex(&WebhookPayload{}, "idx_webhook_recent") {
		t.Fatalf("expected index idx_webhook_recent on webhook_payloads")
	}

	now := time.Now().UTC()
	ep := &Endpoint{
		ID:           "e1",
		Name:         "News",
		Slug:         "news",
		OutputFormat: FormatRSS,
		SchemaConfig: SchemaConfig{RSS: RSSOptions{
			MergeStrategy: MergeInterleaved,
			MaxItems:      5,
			FieldMapping:  RSSFieldMapping{Title: "headline"},
		}},
		TransformConfig: TransformConfig{Steps: []TransformStep{{Type: "limit", Count: 3}}},
		AuthConfig:      AuthConfig{Required: true, Type: AuthAPIKey, APIKeys: []string{"abc"}},
		CacheConfig:     CacheConfig{Enabled: true, TTLSeconds: 60},
		RateLimitConfig: RateLimitConfig{Enabled: true, RequestsPerMinute: 10},
		Active:          false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.Create(ep).Error; err != nil {
		t.Fatalf("insert endpoint: %v", err)
	}

	var got Endpoint
	if err := db.First(&got, "id = ?", "e1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Active {
		t.Fatalf("Active=false must persist as false")
	}
	if got.SchemaConfig.RSS.MergeStrategy != MergeInterleaved || got.SchemaConfig.RSS.FieldMapping.Title != "headline" {
		t.Fatalf("schema config not round-tripped: %+v", got.SchemaConfig.RSS)
	}
	if len(got.TransformConfig.Steps) != 1 || got.TransformConfig.Steps[0].Count != 3 {
		t.Fatalf("transform config not round-tripped: %+v", got.TransformConfig)
	}
	if !got.AuthConfig.Required || got.AuthConfig.APIKeys[0] != "abc" {
		t.Fatalf("auth config not round-tripped: %+v", got.AuthConfig)
	}
	if got.CacheConfig.TTLSeconds != 60 || got.RateLimitConfig.RequestsPerMinute != 10 {
		t.Fatalf("cache/rate config not round-tripped: %+v %+v", got.CacheConfig, got.RateLimitConfig)
	}

	ds := &DataSource{ID: "s1", Name: "hook", Type: SourceWebhook, Active: true, Config: SourceConfig{Secret: "s"}}
	if err := db.Create(ds).Error; err != nil {
		t.Fatalf("insert source: %v", err)
	}
	bad := &DataSource{ID: "s2", Name: "bad", Type: "ftp", Active: true}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check constraint violation for unknown type")
	}

	if err := db.Omit("Endpoint", "DataSource").Create(&EndpointSource{EndpointID: "e1", DataSourceID: "s1", Position: 1}).Error; err != nil {
		t.Fatalf("insert junction: %v", err)
	}
	p := &WebhookPayload{ID: "p1", DataSourceID: "s1", Payload: json.RawMessage(`[{"a":1}]`), ReceivedAt: now}
	if err := db.Omit("DataSource").Create(p).Error; err != nil {
		t.Fatalf("insert payload: %v", err)
	}

	// Hard-delete the source: junction rows and payloads cascade.
	if err := db.Unscoped().Delete(&DataSource{}, "id = ?", "s1").Error; err != nil {
		t.Fatalf("delete source: %v", err)
	}
	var n int64
	db.Model(&EndpointSource{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected junction cascade, got %d rows", n)
	}
	db.Model(&WebhookPayload{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected payload cascade, got %d rows", n)
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-api-endpoints/internal/auth"
	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/config"
	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/http/middleware"
	"github.com/tbourn/go-api-endpoints/internal/ratelimit"
	"github.com/tbourn/go-api-endpoints/internal/repo"
	"github.com/tbourn/go-api-endpoints/internal/services"
	"github.com/tbourn/go-api-endpoints/internal/source"
)

const adminSecret = "router-test-secret-0123456789"

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		PublicAliasPath: "/api",
		RateRPS:         0, // edge limiter off
		RateBurst:       1,
		CacheDefaultTTL: time.Minute,
		IdempotencyTTL:  time.Hour,
		WebhookMaxBody:  1 << 16,
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, db *gorm.DB, cfg config.Config) (*gin.Engine, *services.AccessLogger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	al := services.NewAccessLogger(db, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = al.Wait(ctx)
	})
	RegisterRoutes(r, Deps{
		DB:        db,
		Sources:   source.NewDefaultRegistry(source.Deps{DB: db}),
		Cache:     cache.NewDBManager(db),
		Limiter:   ratelimit.NewLogLimiter(db),
		AccessLog: al,
	}, cfg)
	return r, al
}

// seedWebhookEndpoint creates an active JSON endpoint backed by one webhook
// source.
func seedWebhookEndpoint(t *testing.T, db *gorm.DB, ep *domain.Endpoint) *domain.DataSource {
	t.Helper()
	ctx := context.Background()
	ds := &domain.DataSource{Name: "hook-" + ep.Slug, Type: domain.SourceWebhook, Active: true}
	if err := repo.CreateDataSource(ctx, db, ds); err != nil {
		t.Fatalf("create source: %v", err)
	}
	ep.Active = true
	if ep.OutputFormat == "" {
		ep.OutputFormat = "json"
	}
	if err := repo.CreateEndpoint(ctx, db, ep); err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	if err := repo.AttachSource(ctx, db, ep.ID, ds.ID, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return ds
}

func send(r http.Handler, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body %q: %v", w.Body.String(), err)
	}
	code, _ := body["code"].(string)
	return code
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, newTestDB(t), baseConfig())

	w := send(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing request id or security headers: %v", w.Header())
	}

	w = send(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = send(r, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound || errCode(t, w) != "not_found" {
		t.Fatalf("NoRoute = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed || errCode(t, w) != "method_not_allowed" {
		t.Fatalf("NoMethod = %d %s", w.Code, w.Body.String())
	}

	// admin API is not mounted without a secret
	if w = send(r, http.MethodGet, "/admin/endpoints", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("admin without secret = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://ok.example"}}
	r, _ := newRouter(t, newTestDB(t), cfg)

	w := send(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://ok.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ok.example" {
		t.Fatalf("allowed origin not echoed: %q", got)
	}
	w = send(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin echoed: %q", got)
	}
}

func TestPublicEndpoint_CanonicalAndAlias(t *testing.T) {
	db := newTestDB(t)
	r, _ := newRouter(t, db, baseConfig())
	ds := seedWebhookEndpoint(t, db, &domain.Endpoint{Name: "Events", Slug: "events"})

	if _, err := repo.CreateWebhookPayload(context.Background(), db, ds.ID, json.RawMessage(`{"event":"push"}`)); err != nil {
		t.Fatalf("payload: %v", err)
	}

	for _, p := range []string{"/api-endpoints/events", "/api/events"} {
		w := send(r, http.MethodGet, p, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d %s", p, w.Code, w.Body.String())
		}
		if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
			t.Fatalf("content-type = %q", w.Header().Get("Content-Type"))
		}
		if !strings.Contains(w.Body.String(), `"push"`) {
			t.Fatalf("payload missing from %s: %s", p, w.Body.String())
		}
		if w.Header().Get("X-Cache") != services.CacheMiss {
			t.Fatalf("X-Cache = %q", w.Header().Get("X-Cache"))
		}
	}

	w := send(r, http.MethodHead, "/api-endpoints/events", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Fatalf("HEAD = %d body=%q", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, "/api-endpoints/unknown", nil, nil)
	if w.Code != http.StatusNotFound || errCode(t, w) != "not_found" {
		t.Fatalf("unknown slug = %d %s", w.Code, w.Body.String())
	}
}

func TestPublicEndpoint_AuthAndRateLimit(t *testing.T) {
	db := newTestDB(t)
	r, al := newRouter(t, db, baseConfig())
	seedWebhookEndpoint(t, db, &domain.Endpoint{
		Name: "Private",
		Slug: "private",
		AuthConfig: domain.AuthConfig{
			Required: true,
			Type:     domain.AuthAPIKey,
			APIKeys:  []string{auth.HashSecret("k-1")},
		},
		RateLimitConfig: domain.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})

	w := send(r, http.MethodGet, "/api-endpoints/private", nil, nil)
	if w.Code != http.StatusUnauthorized || errCode(t, w) != "unauthorized" {
		t.Fatalf("no key = %d %s", w.Code, w.Body.String())
	}

	key := map[string]string{"X-API-Key": "k-1"}
	for i := 0; i < 2; i++ {
		w = send(r, http.MethodGet, "/api-endpoints/private", nil, key)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d = %d %s", i+1, w.Code, w.Body.String())
		}
		// the quota counts persisted access-log rows
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = al.Wait(ctx)
		cancel()
	}
	if w.Header().Get("X-RateLimit-Limit") != "2" || w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("rate limit headers = %v", w.Header())
	}

	w = send(r, http.MethodGet, "/api-endpoints/private", nil, key)
	if w.Code != http.StatusTooManyRequests || errCode(t, w) != "too_many_requests" {
		t.Fatalf("third request = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After: %v", w.Header())
	}
}

func TestWebhook_IngestReplayAndVisibility(t *testing.T) {
	db := newTestDB(t)
	r, _ := newRouter(t, db, baseConfig())
	ds := seedWebhookEndpoint(t, db, &domain.Endpoint{Name: "Hooks", Slug: "hooks"})

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "delivery-1"}
	w := send(r, http.MethodPost, "/webhooks/"+ds.ID, strings.NewReader(`{"id":7,"status":"shipped"}`), hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest = %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPost, "/webhooks/"+ds.ID, strings.NewReader(`{"id":7,"status":"shipped"}`), hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d %v", w.Code, w.Header())
	}

	var n int64
	db.Model(&domain.WebhookPayload{}).Where("data_source_id = ?", ds.ID).Count(&n)
	if n != 1 {
		t.Fatalf("stored payloads = %d, want 1", n)
	}

	w = send(r, http.MethodGet, "/api-endpoints/hooks", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"shipped"`) {
		t.Fatalf("endpoint after webhook = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodPost, "/webhooks/"+ds.ID, strings.NewReader(`{}`), map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key = %d", w.Code)
	}
}

func TestAdmin_RequiresTokenAndManagesEndpoints(t *testing.T) {
	cfg := baseConfig()
	cfg.AdminJWTSecret = adminSecret
	db := newTestDB(t)
	r, _ := newRouter(t, db, cfg)

	w := send(r, http.MethodGet, "/admin/endpoints", nil, nil)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("no token = %d %v", w.Code, w.Header())
	}

	tok, err := auth.IssueToken(adminSecret, "ops", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + tok, "Content-Type": "application/json"}

	body := `{"name":"Prices","slug":"prices","output_format":"csv","active":true}`
	w = send(r, http.MethodPost, "/admin/endpoints", bytes.NewBufferString(body), bearer)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("admin Cache-Control = %q", w.Header().Get("Cache-Control"))
	}
	var ep domain.Endpoint
	if err := json.Unmarshal(w.Body.Bytes(), &ep); err != nil || ep.ID == "" {
		t.Fatalf("create body = %s", w.Body.String())
	}

	w = send(r, http.MethodPost, "/admin/endpoints", bytes.NewBufferString(body), bearer)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate slug = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, "/admin/endpoints?page_size=5", nil, bearer)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":1`) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, "/admin/endpoints/"+ep.ID+"/stats?since=1h", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodDelete, "/admin/cache?pattern=prices*", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("invalidate = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodDelete, "/admin/endpoints/"+ep.ID, nil, bearer)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(4))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	if w := send(r, http.MethodPost, "/echo", strings.NewReader("abc"), nil); w.Code != http.StatusOK {
		t.Fatalf("small body = %d", w.Code)
	}
	if w := send(r, http.MethodPost, "/echo", strings.NewReader("abcdef"), nil); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body = %d", w.Code)
	}
}

func TestPublicBases(t *testing.T) {
	if got := publicBases("/api"); len(got) != 2 || got[1] != "/api" {
		t.Fatalf("publicBases(/api) = %v", got)
	}
	for _, alias := range []string{"", "/", PublicBasePath} {
		if got := publicBases(alias); len(got) != 1 {
			t.Fatalf("publicBases(%q) = %v", alias, got)
		}
	}
}

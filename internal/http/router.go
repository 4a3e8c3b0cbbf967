// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Route map:
//   - GET|HEAD /api-endpoints/{slug} and {alias}/{slug}: generated endpoints
//   - POST     /webhooks/{id}: webhook data source ingestion
//   - /admin/...: configuration API, only when an admin secret is configured
//   - /health, /metrics
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/config"
	"github.com/tbourn/go-api-endpoints/internal/http/handlers"
	"github.com/tbourn/go-api-endpoints/internal/http/middleware"
	"github.com/tbourn/go-api-endpoints/internal/ratelimit"
	"github.com/tbourn/go-api-endpoints/internal/services"
)

// PublicBasePath is the canonical mount point of generated endpoints.
const PublicBasePath = "/api-endpoints"

// Deps carries the infrastructure the routes are built on. Cache and
// Limiter may be nil to disable response caching and per-endpoint quotas.
type Deps struct {
	DB        *gorm.DB
	Sources   services.SourceFetcher
	Cache     cache.Manager
	Limiter   ratelimit.Limiter
	AccessLog *services.AccessLogger
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// Per group, idempotency validation runs before the edge rate limiter so
// webhook replays bypass it.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", handlers.HeaderWebhookSecret},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (at least 1 MiB, more if webhooks allow it)
	bodyLimit := int64(1 << 20)
	if cfg.WebhookMaxBody > bodyLimit {
		bodyLimit = cfg.WebhookMaxBody
	}
	r.Use(limitBody(bodyLimit))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key",
			handlers.HeaderWebhookSecret, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    append([]string{"Content-Length"}, middleware.DefaultExposeHeaders...),
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← infrastructure
	endpointSvc := &services.EndpointService{
		DB:               deps.DB,
		Sources:          deps.Sources,
		Cache:            deps.Cache,
		Limiter:          deps.Limiter,
		AccessLog:        deps.AccessLog,
		DefaultTTL:       cfg.CacheDefaultTTL,
		FetchConcurrency: cfg.FetchConcurrency,
	}
	webhookSvc := &services.WebhookService{DB: deps.DB, Cache: deps.Cache, IdempotencyTTL: cfg.IdempotencyTTL}
	h := handlers.New(handlers.Services{
		Endpoints:      endpointSvc,
		Admin:          &services.EndpointAdminService{DB: deps.DB, Cache: deps.Cache},
		Sources:        &services.DataSourceService{DB: deps.DB, Cache: deps.Cache},
		Webhooks:       webhookSvc,
		Analytics:      &services.AnalyticsService{DB: deps.DB},
		WebhookMaxBody: cfg.WebhookMaxBody,
	})

	// Edge token bucket per IP, shared by public and webhook routes.
	edge := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())

	// Public endpoints, canonical path and alias
	compress := gzip.Gzip(gzip.DefaultCompression)
	for _, base := range publicBases(cfg.PublicAliasPath) {
		pub := r.Group(base, compress, edge.Handler())
		pub.GET("/:slug", h.ServeEndpoint)
		pub.HEAD("/:slug", h.ServeEndpoint)
	}

	// Webhooks
	hooks := r.Group("/webhooks")
	hooks.POST("/:id",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, webhookSvc.Seen),
		edge.Handler(),
		h.IngestWebhook,
	)

	// Admin API
	if cfg.AdminJWTSecret == "" {
		return
	}
	admin := r.Group("/admin",
		middleware.RequireAdmin(cfg.AdminJWTSecret),
		middleware.SecurityHeaders(middleware.SecurityOptions{
			EnableHSTS: cfg.Security.EnableHSTS,
			HSTSMaxAge: cfg.Security.HSTSMaxAge,
			NoStore:    true,
		}),
	)
	{
		admin.POST("/endpoints", h.CreateEndpoint)
		admin.GET("/endpoints", h.ListEndpoints)
		admin.GET("/endpoints/:id", h.GetEndpoint)
		admin.PUT("/endpoints/:id", h.UpdateEndpoint)
		admin.DELETE("/endpoints/:id", h.DeleteEndpoint)
		admin.POST("/endpoints/:id/sources", h.AttachSource)
		admin.DELETE("/endpoints/:id/sources/:source_id", h.DetachSource)
		admin.GET("/endpoints/:id/stats", h.EndpointStats)
		admin.GET("/endpoints/:id/logs", h.EndpointLogs)

		admin.POST("/sources", h.CreateSource)
		admin.GET("/sources", h.ListSources)
		admin.GET("/sources/:id", h.GetSource)
		admin.PUT("/sources/:id", h.UpdateSource)
		admin.DELETE("/sources/:id", h.DeleteSource)

		admin.DELETE("/cache", h.InvalidateCache)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// publicBases returns the canonical base path plus the alias, if distinct.
func publicBases(alias string) []string {
	bases := []string{PublicBasePath}
	if alias != "" && alias != "/" && alias != PublicBasePath {
		bases = append(bases, alias)
	}
	return bases
}

// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage backends, caching, rate limiting,
// source fetching, admin access and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage and backend selectors.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendDB    = "db"
	BackendLog   = "log"
	BackendRedis = "redis"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-api-endpoints")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the gorm dialector.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file
	URL    string // Postgres DSN
}

// RedisConfig is only consulted when a redis backend is selected.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// S3Config configures the object store behind bucket-backed file sources.
// An empty Endpoint disables them.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Routing
	PublicAliasPath string // second mount point for the public routes

	// Storage
	DB    DatabaseConfig
	Redis RedisConfig

	// Cache
	CacheBackend       string        // db|redis
	CacheDefaultTTL    time.Duration // used when an endpoint sets no TTL
	CachePurgeInterval time.Duration // 0 disables the purger

	// Rate limiting
	RateLimitBackend string        // log|redis (per endpoint quotas)
	RateLimitWindow  time.Duration // trailing window of the quotas
	RateRPS          float64       // edge token bucket, tokens per second (>= 0)
	RateBurst        int           // edge bucket size (>= 1)

	// Fetching
	FetchTimeout     time.Duration
	FetchConcurrency int
	FileSourceRoot   string // empty disables path-based file sources
	S3               S3Config

	// Access log
	AccessLogTimeout time.Duration

	// Admin API; empty secret leaves it unmounted
	AdminJWTSecret string

	// Webhooks
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid
	WebhookMaxBody int64         // bytes

	// Seeding
	SeedFile string

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Routing
		PublicAliasPath: normalizeBasePath(getenv("PUBLIC_ALIAS_PATH", "/api")),

		// Storage
		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", DriverSQLite)),
			Path:   getenv("DB_PATH", "app.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Cache
		CacheBackend:       strings.ToLower(getenv("CACHE_BACKEND", BackendDB)),
		CacheDefaultTTL:    getdur("CACHE_DEFAULT_TTL", 300*time.Second),
		CachePurgeInterval: getdur("CACHE_PURGE_INTERVAL", 5*time.Minute),

		// Rate limiting
		RateLimitBackend: strings.ToLower(getenv("RATE_LIMIT_BACKEND", BackendLog)),
		RateLimitWindow:  getdur("RATE_LIMIT_WINDOW", time.Minute),
		RateRPS:          getfloat("RATE_RPS", 20.0),
		RateBurst:        getint("RATE_BURST", 40),

		// Fetching
		FetchTimeout:     getdur("FETCH_TIMEOUT", 10*time.Second),
		FetchConcurrency: getint("FETCH_CONCURRENCY", 4),
		FileSourceRoot:   getenv("FILE_SOURCE_ROOT", ""),
		S3: S3Config{
			Endpoint:  getenv("S3_ENDPOINT", ""),
			AccessKey: getenv("S3_ACCESS_KEY", ""),
			SecretKey: getenv("S3_SECRET_KEY", ""),
			UseSSL:    getbool("S3_USE_SSL", true),
			Region:    getenv("S3_REGION", ""),
		},

		// Access log
		AccessLogTimeout: getdur("ACCESS_LOG_TIMEOUT", 5*time.Second),

		// Admin
		AdminJWTSecret: getenv("ADMIN_JWT_SECRET", ""),

		// Webhooks
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		WebhookMaxBody: int64(getint("WEBHOOK_MAX_BODY", 1<<20)),

		// Seeding
		SeedFile: getenv("SEED_FILE", ""),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-api-endpoints"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = DriverPostgres
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.PublicAliasPath == "/" || cfg.PublicAliasPath == "/api-endpoints" {
		return cfg, errors.New("PUBLIC_ALIAS_PATH must be a path other than / and /api-endpoints")
	}

	switch cfg.DB.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	switch cfg.CacheBackend {
	case BackendDB, BackendRedis:
	default:
		return cfg, errors.New("CACHE_BACKEND must be one of: db, redis")
	}
	switch cfg.RateLimitBackend {
	case BackendLog, BackendRedis:
	default:
		return cfg, errors.New("RATE_LIMIT_BACKEND must be one of: log, redis")
	}
	if (cfg.CacheBackend == BackendRedis || cfg.RateLimitBackend == BackendRedis) && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return cfg, errors.New("REDIS_ADDR is required when a redis backend is selected")
	}
	if cfg.Redis.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}

	if cfg.CacheDefaultTTL <= 0 {
		return cfg, errors.New("CACHE_DEFAULT_TTL must be > 0")
	}
	if cfg.CachePurgeInterval < 0 {
		return cfg, errors.New("CACHE_PURGE_INTERVAL must be >= 0")
	}
	if cfg.RateLimitWindow <= 0 {
		return cfg, errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.FetchTimeout <= 0 {
		return cfg, errors.New("FETCH_TIMEOUT must be > 0")
	}
	if cfg.FetchConcurrency < 1 {
		return cfg, errors.New("FETCH_CONCURRENCY must be >= 1")
	}
	if cfg.S3.Endpoint != "" && (cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "") {
		return cfg, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required with S3_ENDPOINT")
	}
	if cfg.AccessLogTimeout <= 0 {
		return cfg, errors.New("ACCESS_LOG_TIMEOUT must be > 0")
	}
	if cfg.AdminJWTSecret != "" && len(cfg.AdminJWTSecret) < 16 {
		return cfg, errors.New("ADMIN_JWT_SECRET must be at least 16 characters")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.WebhookMaxBody <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / routing
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("PUBLIC_ALIAS_PATH", "feeds/") // -> "/feeds"

	// Storage
	t.Setenv("DB_DRIVER", "PostgreSQL") // -> "postgres"
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/app")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")

	// Cache / rate limiting
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("CACHE_DEFAULT_TTL", "90s")
	t.Setenv("CACHE_PURGE_INTERVAL", "0s")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_RPS", "x")      // -> default 20
	t.Setenv("RATE_BURST", "nope") // -> default 40

	// Fetching
	t.Setenv("FETCH_TIMEOUT", "2s")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("FILE_SOURCE_ROOT", "/srv/data")
	t.Setenv("S3_ENDPOINT", "minio:9000")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_USE_SSL", "off")

	// Admin / webhooks / seed
	t.Setenv("ADMIN_JWT_SECRET", "0123456789abcdef")
	t.Setenv("IDEMPOTENCY_TTL", "48h")
	t.Setenv("WEBHOOK_MAX_BODY", "2048")
	t.Setenv("SEED_FILE", "seed.toml")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.PublicAliasPath != "/feeds" {
		t.Fatalf("logging/routing unexpected: %+v", cfg)
	}

	if cfg.DB.Driver != DriverPostgres || cfg.DB.URL == "" || cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("storage unexpected: %+v %+v", cfg.DB, cfg.Redis)
	}

	if cfg.CacheBackend != BackendRedis || cfg.CacheDefaultTTL != 90*time.Second || cfg.CachePurgeInterval != 0 {
		t.Fatalf("cache unexpected: %+v", cfg)
	}
	if cfg.RateLimitBackend != BackendRedis || cfg.RateLimitWindow != 30*time.Second || cfg.RateRPS != 20 || cfg.RateBurst != 40 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	if cfg.FetchTimeout != 2*time.Second || cfg.FetchConcurrency != 8 || cfg.FileSourceRoot != "/srv/data" {
		t.Fatalf("fetching unexpected: %+v", cfg)
	}
	if cfg.S3.Endpoint != "minio:9000" || cfg.S3.UseSSL {
		t.Fatalf("s3 unexpected: %+v", cfg.S3)
	}

	if cfg.AdminJWTSecret != "0123456789abcdef" || cfg.IdempotencyTTL != 48*time.Hour || cfg.WebhookMaxBody != 2048 || cfg.SeedFile != "seed.toml" {
		t.Fatalf("admin/webhook/seed unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"alias collides with public path", map[string]string{"PUBLIC_ALIAS_PATH": "/api-endpoints/"}, "PUBLIC_ALIAS_PATH"},
		{"alias at root", map[string]string{"PUBLIC_ALIAS_PATH": " / "}, "PUBLIC_ALIAS_PATH"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown cache backend", map[string]string{"CACHE_BACKEND": "memcached"}, "CACHE_BACKEND"},
		{"unknown limiter backend", map[string]string{"RATE_LIMIT_BACKEND": "memory"}, "RATE_LIMIT_BACKEND"},
		{"redis backend without addr", map[string]string{"CACHE_BACKEND": "redis"}, "REDIS_ADDR"},
		{"negative redis db", map[string]string{"REDIS_DB": "-1"}, "REDIS_DB"},
		{"cache ttl non-positive", map[string]string{"CACHE_DEFAULT_TTL": "0s"}, "CACHE_DEFAULT_TTL"},
		{"purge interval negative", map[string]string{"CACHE_PURGE_INTERVAL": "-1s"}, "CACHE_PURGE_INTERVAL"},
		{"window non-positive", map[string]string{"RATE_LIMIT_WINDOW": "0s"}, "RATE_LIMIT_WINDOW"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"fetch timeout non-positive", map[string]string{"FETCH_TIMEOUT": "0s"}, "FETCH_TIMEOUT"},
		{"fetch concurrency < 1", map[string]string{"FETCH_CONCURRENCY": "0"}, "FETCH_CONCURRENCY"},
		{"s3 without keys", map[string]string{"S3_ENDPOINT": "minio:9000"}, "S3_ACCESS_KEY"},
		{"access log timeout", map[string]string{"ACCESS_LOG_TIMEOUT": "0s"}, "ACCESS_LOG_TIMEOUT"},
		{"short admin secret", map[string]string{"ADMIN_JWT_SECRET": "short"}, "ADMIN_JWT_SECRET"},
		{"idempotency ttl non-positive", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"webhook body limit", map[string]string{"WEBHOOK_MAX_BODY": "0"}, "WEBHOOK_MAX_BODY"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + config_strconv(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + config_strconv(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	// normalizeBasePath
	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

// small helper (avoid fmt just for ints)
func config_strconv(i int) string { return string('a' + rune(i)) }

// Ensure tests don't inherit host env.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DB_DRIVER", "CACHE_BACKEND", "RATE_LIMIT_BACKEND", "REDIS_ADDR", "ADMIN_JWT_SECRET", "S3_ENDPOINT"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PublicAliasPath != "/api" {
		t.Fatalf("PUBLIC_ALIAS_PATH default expected '/api', got %q", cfg.PublicAliasPath)
	}
	if cfg.DB.Driver != DriverSQLite || cfg.CacheBackend != BackendDB || cfg.RateLimitBackend != BackendLog {
		t.Fatalf("backend defaults unexpected: %+v", cfg)
	}
	// Admin API stays unmounted unless a secret is configured.
	if cfg.AdminJWTSecret != "" {
		t.Fatalf("expected empty AdminJWTSecret when unset, got %q", cfg.AdminJWTSecret)
	}
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	// No special env needed; defaults are valid.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.Port == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

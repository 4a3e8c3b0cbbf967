// Command server runs the API endpoint generator: public generated
// endpoints, webhook ingestion and, when ADMIN_JWT_SECRET is set, the admin
// API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/cache"
	"github.com/tbourn/go-api-endpoints/internal/config"
	httpapi "github.com/tbourn/go-api-endpoints/internal/http"
	"github.com/tbourn/go-api-endpoints/internal/observability"
	"github.com/tbourn/go-api-endpoints/internal/ratelimit"
	"github.com/tbourn/go-api-endpoints/internal/repo"
	"github.com/tbourn/go-api-endpoints/internal/seed"
	"github.com/tbourn/go-api-endpoints/internal/services"
	"github.com/tbourn/go-api-endpoints/internal/source"
	"github.com/tbourn/go-api-endpoints/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

// @title                      API Endpoint Generator
// @version                    1.0
// @description                Configurable endpoints that render data sources as JSON, RSS, XML or CSV.
// @BasePath                   /
// @securityDefinitions.apikey AdminBearer
// @in                         header
// @name                       Authorization
// @description                "Bearer <token>" minted by cmd/admintoken.
func main() {
	// Load .env if it exists.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log := sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server exited")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var rdb redis.UniversalClient
	if cfg.CacheBackend == config.BackendRedis || cfg.RateLimitBackend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return err
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}

	var cacheMgr cache.Manager
	var purgeable cache.Purgeable
	switch cfg.CacheBackend {
	case config.BackendRedis:
		cacheMgr = cache.NewRedisManager(rdb)
	default:
		m := cache.NewDBManager(db)
		cacheMgr, purgeable = m, m
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		rl := ratelimit.NewRedisLimiter(rdb)
		rl.Window = cfg.RateLimitWindow
		limiter = rl
	default:
		ll := ratelimit.NewLogLimiter(db)
		ll.Window = cfg.RateLimitWindow
		limiter = ll
	}

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, db, cacheMgr, f); err != nil {
			return err
		}
	}

	var store source.ObjectStore
	if cfg.S3.Endpoint != "" {
		ms, err := source.NewMinioStore(source.MinioOptions{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Region:    cfg.S3.Region,
		})
		if err != nil {
			return err
		}
		store = ms
	}

	registry := source.NewDefaultRegistry(source.Deps{
		DB:         db,
		HTTPClient: &http.Client{Timeout: cfg.FetchTimeout},
		APITimeout: cfg.FetchTimeout,
		FileRoot:   cfg.FileSourceRoot,
		Store:      store,
	})

	accessLog := services.NewAccessLogger(db, log)
	accessLog.Timeout = cfg.AccessLogTimeout

	if purgeable != nil {
		purger := &cache.Purger{Store: purgeable, Interval: cfg.CachePurgeInterval, Log: log}
		go purger.Run(ctx)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        db,
		Sources:   registry,
		Cache:     cacheMgr,
		Limiter:   limiter,
		AccessLog: accessLog,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db_driver", cfg.DB.Driver).
			Str("cache_backend", cfg.CacheBackend).
			Str("rate_limit_backend", cfg.RateLimitBackend).
			Bool("admin_api", cfg.AdminJWTSecret != "").
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := accessLog.Wait(sctx); err != nil {
		log.Warn().Err(err).Msg("pending access log writes dropped")
	}
	return nil
}

// openDB connects, instruments and migrates the configured database.
func openDB(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	dsn := cfg.DB.Path
	if cfg.DB.Driver == config.DriverPostgres {
		dsn = cfg.DB.URL
	}
	db, err := repo.Open(ctx, cfg.DB.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := observability.InstrumentDB(db, cfg.OTEL); err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

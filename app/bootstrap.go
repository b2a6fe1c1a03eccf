package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/Tietve/AI-saas-sub007/internal/auth"
	"github.com/Tietve/AI-saas-sub007/internal/chat"
	"github.com/Tietve/AI-saas-sub007/internal/db"
	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
	"github.com/Tietve/AI-saas-sub007/internal/quota"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  Config
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	plans, prices, err := quota.LoadConfigFile(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), database, logger); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	closeAll := func() error {
		observability.FlushSentry()
		return errors.Join(closeStore(), database.Close())
	}

	authRepo := auth.NewRepository(database)
	quotaRepo := quota.NewRepository(database)
	estimator := chat.NewTokenEstimator(logger)

	services, err := NewServices(Deps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   observability.NewMetrics(),
		Store:     store,
		Users:     authRepo,
		Quota:     quotaRepo,
		Usage:     quotaRepo,
		Retention: quotaRepo,
		Completer: chat.EchoCompleter{Estimator: estimator},
		Estimator: estimator,
		Plans:     plans,
		Prices:    prices,
		PingDB:    database.PingContext,
	})
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	if err := services.Auth.BootstrapFromEnv(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	logger.Info("runtime_built", map[string]any{
		"store_backend":      cfg.StoreBackend,
		"rate_limit_backend": cfg.RateLimitBackend,
		"app_env":            cfg.AppEnv,
	})

	return &Runtime{
		Config:  cfg,
		Handler: services.Handler,
		Close:   closeAll,
	}, nil
}

// openStore connects the shared kv store. An unreachable Redis is logged,
// not fatal: every gate has a policy for a missing store.
func openStore(cfg Config, logger *observability.Logger) (kv.Store, func() error, error) {
	if cfg.StoreBackend == StoreBackendMemory {
		logger.Warn("kv_store_in_memory", map[string]any{
			"detail": "gate state is per instance",
		})
		return kv.NewMemoryStore(), func() error { return nil }, nil
	}

	client, err := kv.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	store := kv.NewRedisStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.Warn("kv_store_unreachable", map[string]any{"error": err.Error()})
	}

	return store, store.Close, nil
}

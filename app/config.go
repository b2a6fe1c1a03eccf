package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/ratelimit"
	"github.com/Tietve/AI-saas-sub007/internal/session"
)

const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

type Config struct {
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	JWTSecret  string
	CSRFSecret string

	StoreBackend string
	Redis        kv.RedisOptions

	RateLimitBackend string
	RateLimit        ratelimit.Limit
	LoginRateLimit   ratelimit.Limit
	GateTimeout      time.Duration
	TrustedProxyHops int

	LockoutMaxAttempts int
	LockoutWindow      time.Duration
	LockoutDuration    time.Duration

	QuotaDedupeWindow time.Duration
	PlansFile         string

	AccessTokenTTL time.Duration
	SecureCookies  bool

	CronSecret       string
	UsageRetention   time.Duration
	CleanupBatchSize int

	AdminAPIKey   string
	AdminEmail    string
	AdminPassword string

	SentryDSN string
	AppEnv    string
	Port      string
}

func LoadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	csrfSecret, err := mustEnv("CSRF_SECRET")
	if err != nil {
		return Config{}, err
	}

	appEnv := envOrDefault("APP_ENV", "development")

	cfg := Config{
		DatabaseURL:       databaseURL,
		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),

		JWTSecret:  jwtSecret,
		CSRFSecret: csrfSecret,

		StoreBackend: strings.ToLower(envOrDefault("STORE_BACKEND", StoreBackendRedis)),
		Redis: kv.RedisOptions{
			URL:          envOrDefault("REDIS_URL", "redis://localhost:6379/0"),
			ClusterAddrs: envList("REDIS_CLUSTER_ADDRS"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DialTimeout:  envMillisOrDefault("REDIS_DIAL_TIMEOUT_MS", 2000),
		},

		RateLimitBackend: envOrDefault("RATE_LIMIT_BACKEND", ratelimit.BackendFixedWindow),
		RateLimit: ratelimit.Limit{
			Limit:  envIntOrDefault("RATE_LIMIT_MAX", 60),
			Window: envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
			Burst:  envIntOrZero("RATE_LIMIT_BURST"),
		},
		LoginRateLimit: ratelimit.Limit{
			Limit:  envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			Window: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		GateTimeout:      envMillisOrDefault("GATE_TIMEOUT_MS", 250),
		TrustedProxyHops: envIntOrZero("TRUST_PROXY_HOPS"),

		LockoutMaxAttempts: envIntOrDefault("LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutWindow:      envSecondsOrDefault("LOCKOUT_WINDOW_SECONDS", 300),
		LockoutDuration:    envSecondsOrDefault("LOCKOUT_DURATION_SECONDS", 900),

		QuotaDedupeWindow: envSecondsOrDefault("QUOTA_IDEMPOTENCY_WINDOW_SECONDS", 60),
		PlansFile:         os.Getenv("PLANS_FILE"),

		AccessTokenTTL: min(envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15), session.RevokedTTL),
		SecureCookies:  EnvBoolOrDefault("SECURE_COOKIES", appEnv == "production"),

		CronSecret:       os.Getenv("CRON_SECRET"),
		UsageRetention:   envDaysOrDefault("USAGE_RETENTION_DAYS", 400),
		CleanupBatchSize: envIntOrDefault("USAGE_CLEANUP_BATCH_SIZE", 500),

		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		SentryDSN: os.Getenv("SENTRY_DSN"),
		AppEnv:    appEnv,
		Port:      envOrDefault("PORT", "8080"),
	}

	switch cfg.StoreBackend {
	case StoreBackendRedis, StoreBackendMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envIntOrZero(name string) int {
	return envIntOrDefault(name, 0)
}

func envList(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envMillisOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Millisecond
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

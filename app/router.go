package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/auth"
	"github.com/Tietve/AI-saas-sub007/internal/chat"
	"github.com/Tietve/AI-saas-sub007/internal/csrf"
	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/lockout"
	"github.com/Tietve/AI-saas-sub007/internal/maintenance"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
	"github.com/Tietve/AI-saas-sub007/internal/quota"
	"github.com/Tietve/AI-saas-sub007/internal/ratelimit"
	"github.com/Tietve/AI-saas-sub007/internal/session"
)

// csrfExempt lists the mutating routes that carry their own authorisation
// or precede any session.
var csrfExempt = csrf.AllowList{
	"/auth/login",
	"/admin/",
	"/internal/",
}

// Deps are the collaborators the HTTP surface is built from. Build fills
// them from the environment; tests pass in-memory ones.
type Deps struct {
	Config    Config
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Store     kv.Store
	Users     auth.UserStore
	Quota     quota.Store
	Usage     chat.UsageLister
	Retention maintenance.UsageStore
	Completer chat.Completer
	Estimator chat.Estimator
	Plans     quota.Plans
	Prices    quota.PriceTable
	PingDB    func(ctx context.Context) error
}

type Services struct {
	Handler http.Handler
	Auth    *auth.Service
	Ledger  *quota.Ledger
}

func NewServices(d Deps) (*Services, error) {
	cfg := d.Config

	apiLimiter, err := ratelimit.New(cfg.RateLimitBackend, d.Store, cfg.RateLimit, d.Logger, d.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}
	loginLimiter, err := ratelimit.New(cfg.RateLimitBackend, d.Store, cfg.LoginRateLimit, d.Logger, d.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build login rate limiter: %w", err)
	}

	verifier, err := csrf.NewVerifier(cfg.CSRFSecret, csrf.DefaultTTL)
	if err != nil {
		return nil, err
	}

	guard := lockout.NewGuard(d.Store,
		lockout.WithMaxAttempts(cfg.LockoutMaxAttempts),
		lockout.WithAttemptWindow(cfg.LockoutWindow),
		lockout.WithLockoutDuration(cfg.LockoutDuration),
		lockout.WithLogger(d.Logger),
		lockout.WithMetrics(d.Metrics),
	)
	sessions := session.NewStore(d.Store, d.Logger, d.Metrics)

	authService := auth.NewService(d.Users, guard, sessions, cfg.JWTSecret).
		WithAccessTTL(cfg.AccessTokenTTL).
		WithLogger(d.Logger)
	authHandler := auth.NewHandler(authService)

	ledger := quota.NewLedger(d.Quota,
		quota.WithPlans(d.Plans),
		quota.WithPrices(d.Prices),
		quota.WithDedupeWindow(cfg.QuotaDedupeWindow),
		quota.WithLogger(d.Logger),
		quota.WithMetrics(d.Metrics),
	)
	chatHandler := chat.NewHandler(ledger, d.Completer, d.Estimator, d.Logger)

	ips := observability.IPResolver{TrustedHops: cfg.TrustedProxyHops}
	byIP := func(r *http.Request) ratelimit.Identity {
		return ratelimit.Identity{IP: ips.ClientIP(r), Route: r.URL.Path}
	}
	byUser := func(r *http.Request) ratelimit.Identity {
		p, _ := auth.PrincipalFrom(r.Context())
		return ratelimit.Identity{UserID: p.UserID, IP: ips.ClientIP(r), Route: r.URL.Path}
	}
	loginGate := ratelimit.NewMiddleware(loginLimiter, "login", cfg.LoginRateLimit, byIP, cfg.GateTimeout)
	apiGate := ratelimit.NewMiddleware(apiLimiter, "api", cfg.RateLimit, byUser, cfg.GateTimeout)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(d.PingDB, d.Store))
	mux.Handle("GET /metrics", d.Metrics.Handler())
	mux.Handle("GET /auth/csrf", csrf.NewTokenHandler(verifier, cfg.SecureCookies))
	mux.Handle("POST /auth/login", loginGate.Wrap(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /auth/logout", authed(authHandler.Logout))
	mux.Handle("POST /auth/logout-all", authed(authHandler.LogoutAll))
	mux.Handle("GET /auth/sessions", authed(authHandler.Sessions))
	mux.Handle("POST /chat/completions", auth.Middleware(authService, apiGate.Wrap(http.HandlerFunc(chatHandler.Complete))))
	if d.Usage != nil {
		mux.Handle("GET /usage", auth.Middleware(authService, chat.NewUsageHandler(ledger, d.Usage)))
	}
	mux.Handle("POST /admin/lockout/unlock", auth.AdminMiddleware(cfg.AdminAPIKey, http.HandlerFunc(authHandler.Unlock)))
	if d.Retention != nil {
		cleanup := maintenance.NewCleanupHandler(d.Retention, d.Logger, cfg.CronSecret, cfg.UsageRetention, cfg.CleanupBatchSize)
		mux.HandleFunc("GET /internal/maintenance/cleanup", cleanup.Handle)
		mux.HandleFunc("POST /internal/maintenance/cleanup", cleanup.Handle)
	}

	handler := csrf.Middleware(verifier, csrfExempt, d.Metrics, mux)
	handler = observability.RecoverMiddleware(d.Logger, observability.RequestLoggingMiddleware(d.Logger, handler))

	return &Services{Handler: handler, Auth: authService, Ledger: ledger}, nil
}

func healthHandler(pingDB func(ctx context.Context) error, store kv.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "store": "ok"}
		status := http.StatusOK
		if pingDB != nil {
			if err := pingDB(ctx); err != nil {
				checks["database"] = "down"
				status = http.StatusServiceUnavailable
			}
		}
		if err := store.Ping(ctx); err != nil {
			// A store outage degrades the gates but keeps the instance in
			// rotation.
			checks["store"] = "down"
		}

		body := map[string]any{
			"status": "ok",
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		if status != http.StatusOK || checks["store"] != "ok" {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/ai"
	"github.com/maltehedderich/mealplan-api/internal/api"
	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/auth"
	"github.com/maltehedderich/mealplan-api/internal/circuitbreaker"
	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/health"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/mealplan"
	"github.com/maltehedderich/mealplan-api/internal/metrics"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
	"github.com/maltehedderich/mealplan-api/internal/ratelimit"
	"github.com/maltehedderich/mealplan-api/internal/tracing"
)

const healthCheckTimeout = 2 * time.Second

// App holds the wired service and the handler that serves it. The HTTP
// server and the Lambda entry point both run an App.
type App struct {
	Handler http.Handler
	Health  *health.Manager

	limiter *ratelimit.Limiter
	logger  *logger.ComponentLogger
}

// Dependencies lets callers replace the backends NewApp would build from
// configuration. Nil fields are built from cfg.
type Dependencies struct {
	Clock    clock.Clock
	Limiter  *ratelimit.Limiter
	Store    mealplan.Store
	Provider ai.Provider
}

// NewApp builds every component from cfg and assembles the middleware chain
func NewApp(ctx context.Context, cfg *config.Config, version string, deps Dependencies) (*App, error) {
	log := logger.Get().WithComponent("server")

	if cfg.Observability.MetricsEnabled {
		metrics.Init()
	}
	if err := tracing.Init(tracing.ConfigFrom(&cfg.Observability, version)); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	limiter := deps.Limiter
	if limiter == nil {
		var err error
		if limiter, err = ratelimit.NewFromConfig(ctx, &cfg.RateLimit, clk); err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
	}

	store := deps.Store
	if store == nil {
		var err error
		if store, err = mealplan.NewStoreFromConfig(ctx, &cfg.Store); err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
	}

	breakers := circuitbreaker.NewManager(&circuitbreaker.Config{
		FailureThreshold: cfg.AI.FailureThreshold,
		SuccessThreshold: cfg.AI.SuccessThreshold,
		Timeout:          cfg.AI.BreakerTimeout,
		MaxRequests:      1,
	}, clk)
	provider := deps.Provider
	if provider == nil {
		provider = ai.NewClient(&cfg.AI, breakers)
	}

	svc := mealplan.NewService(mealplan.Options{
		Gate:          limiter,
		Store:         store,
		AI:            provider,
		Clock:         clk,
		MaxImageBytes: cfg.AI.MaxImageBytes,
	})

	validator, err := auth.NewTokenValidator(&cfg.Authorization, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}
	authMiddleware := auth.NewMiddleware(auth.NewTokenExtractor(cfg.Authorization.CookieName), validator).
		WithRevocation(auth.NewRevocationChecker(&cfg.Authorization, clk))

	healthMgr := health.NewManager(version, healthCheckTimeout)
	healthMgr.Register("ratelimit_storage", health.PingChecker("ratelimit_storage",
		cfg.RateLimit.FailureMode == string(ratelimit.FailClosed), limiter.Ping))
	healthMgr.Register("store", health.PingChecker("store", true, svc.Ping))
	for _, provider := range []string{ai.ProviderLLM, ai.ProviderImages} {
		cb := breakers.Get(provider)
		healthMgr.Register("ai_"+provider, health.BreakerChecker("ai_"+provider, cb.IsOpen))
	}

	mux := http.NewServeMux()
	obs := cfg.Observability
	mux.HandleFunc("GET "+obs.HealthPath, healthMgr.HealthHandler())
	mux.HandleFunc("GET "+obs.ReadinessPath, healthMgr.ReadinessHandler())
	mux.HandleFunc("GET "+obs.LivenessPath, healthMgr.LivenessHandler())
	if obs.MetricsEnabled {
		mux.Handle("GET "+obs.MetricsPath, metrics.Handler())
	}
	api.NewHandler(svc, cfg.AI.MaxImageBytes).Register(mux, authMiddleware.RequireUser)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, apperror.NotFound("Route not found"))
	})

	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.CorrelationID(),
		tracing.Middleware(),
	)
	if obs.MetricsEnabled {
		chain = chain.Append(metrics.Middleware(obs.MetricsPath))
	}
	chain = chain.Append(
		middleware.Logging(),
		middleware.Security(&cfg.Security),
		middleware.CORS(cfg.Security.AllowedOrigins),
		middleware.InputValidation(&cfg.Security),
		ratelimit.Headers(),
	)

	log.Info("application wired", logger.Fields{
		"ratelimit_backend": cfg.RateLimit.Backend,
		"ratelimit_enabled": cfg.RateLimit.Enabled,
		"failure_mode":      cfg.RateLimit.FailureMode,
		"store_backend":     cfg.Store.Backend,
		"buckets":           len(limiter.Registry().Operations()),
	})

	return &App{
		Handler: chain.Then(mux),
		Health:  healthMgr,
		limiter: limiter,
		logger:  log,
	}, nil
}

// Close releases the rate limit storage and flushes pending spans
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if err := a.limiter.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close rate limit storage: %w", err)
	}
	if err := tracing.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to shut down tracing: %w", err)
	}
	return firstErr
}

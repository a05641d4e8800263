package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/supportgate/internal/api"
	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/backend"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/healthcheck"
	"github.com/blueberrycongee/supportgate/internal/ratelimit"
	"github.com/blueberrycongee/supportgate/internal/resilience"
)

// gateway is the assembled HTTP surface and the background work behind it.
type gateway struct {
	Handler  http.Handler
	Reloader *configReloader

	cfg     *config.Config
	logger  *slog.Logger
	prober  *healthcheck.Prober
	audit   *auditRuntime
	limiter *limiterRuntime
	stops   []func()
}

func newGateway(ctx context.Context, cfg *config.Config, secrets *secretResolver, tracer trace.Tracer, logger *slog.Logger) (_ *gateway, err error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	resolved, err := secrets.Resolve(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	g := &gateway{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = g.Close()
		}
	}()

	sessions, err := buildSessionManager(cfg, resolved.SessionSecret)
	if err != nil {
		return nil, err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		APIToken:       resolved.BackendToken,
		Timeout:        cfg.Backend.Timeout,
		RosterCacheTTL: cfg.Backend.RosterCacheTTL,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Backend.Breaker.FailureThreshold,
			Timeout:          cfg.Backend.Breaker.Cooldown,
		},
		Tracer: tracer,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init backend client: %w", err)
	}

	signIn, err := auth.NewSignInService(auth.SignInConfig{
		Source:             client,
		Sessions:           sessions,
		AllowedEmailDomain: cfg.Auth.AllowedEmailDomain,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init sign-in: %w", err)
	}

	redirects, err := auth.NewRedirectValidator(cfg.Server.BaseURL, cfg.Auth.AllowedRedirectOrigins)
	if err != nil {
		return nil, fmt.Errorf("init redirect validator: %w", err)
	}

	if g.audit, err = initAuditStore(ctx, cfg, resolved.PostgresDSN, logger); err != nil {
		return nil, err
	}
	auditLogger := auth.NewAuditLogger(g.audit.Store, cfg.Audit.Enabled, logger)
	authz := auth.NewMiddleware(auth.MiddlewareConfig{Logger: logger, Audit: auditLogger})

	if g.limiter, err = buildLimiter(ctx, cfg, resolved.RedisPassword, logger); err != nil {
		return nil, err
	}
	var limiter *ratelimit.Limiter
	if g.limiter != nil {
		limiter = g.limiter.Limiter
	}
	limit := limitFunc(limiter, auditLogger)
	var authLimit func(http.Handler) http.Handler
	if limit != nil {
		authLimit = limit(config.ClassAuth)
	}

	authHandler, err := api.NewAuthHandler(ctx, api.AuthHandlerConfig{
		OIDC:      mapOIDCConfig(cfg.Auth.OIDC, resolved.OIDCClientSecret),
		Sessions:  sessions,
		SignIn:    signIn,
		Redirects: redirects,
		Audit:     auditLogger,
		Limit:     authLimit,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth handler: %w", err)
	}
	if cfg.Auth.OIDC.IssuerURL == "" {
		logger.Warn("oidc issuer not configured, sign-in disabled")
	}

	proxy, err := api.NewBackendProxy(api.BackendProxyConfig{
		Target:       client.BaseURL(),
		Authorize:    client.Authorize,
		StripCookies: sessions.CookieNames(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init backend proxy: %w", err)
	}

	policies, err := routePolicies(cfg.Routes)
	if err != nil {
		return nil, err
	}

	g.prober = healthcheck.NewProber(healthcheck.Config{
		Enabled:          cfg.HealthCheck.Enabled,
		Interval:         cfg.HealthCheck.Interval,
		Timeout:          cfg.HealthCheck.Timeout,
		FailureThreshold: cfg.HealthCheck.FailureThreshold,
	}, g.healthChecks(client), logger)

	mux, err := buildMux(cfg, handlers{
		Auth:     authHandler,
		Audit:    api.NewAuditLogHandler(g.audit.Store, logger),
		Proxy:    proxy,
		Authz:    authz,
		Prober:   g.prober,
		Limit:    limit,
		Policies: policies,
	})
	if err != nil {
		return nil, err
	}

	stack, err := buildMiddlewareStack(cfg, sessions, tracer, logger)
	if err != nil {
		return nil, err
	}

	g.Handler = stack(mux)
	g.Reloader = newConfigReloader(logger, limiter, authHandler, client, secrets)

	logger.Info("gateway assembled",
		"backend", client.BaseURL().Redacted(),
		"routes", len(policies),
		"rate_limit", cfg.RateLimit.Enabled,
		"audit", cfg.Audit.Enabled,
	)
	return g, nil
}

func (g *gateway) healthChecks(client *backend.Client) []healthcheck.Check {
	var checks []healthcheck.Check
	if g.cfg.Backend.HealthPath != "" {
		probeClient := &http.Client{Timeout: g.cfg.HealthCheck.Timeout}
		target := client.BaseURL().JoinPath(g.cfg.Backend.HealthPath).String()
		checks = append(checks, healthcheck.Check{
			Name: "backend",
			Run:  healthcheck.HTTPCheck(probeClient, target, client.Authorize),
		})
	}
	if g.limiter != nil {
		checks = append(checks, g.limiter.Checks...)
	}
	if g.audit != nil {
		checks = append(checks, g.audit.Checks...)
	}
	return checks
}

// Start launches the prober, audit retention and pool metrics. They stop when
// ctx is canceled or Close is called.
func (g *gateway) Start(ctx context.Context) {
	g.prober.Start(ctx)
	if stop := startAuditRetention(ctx, g.audit.Store, g.cfg.Audit.RetentionDays, auditRetentionInterval, g.logger); stop != nil {
		g.stops = append(g.stops, stop)
	}
	if g.audit.Stats != nil {
		if stop := startAuditPoolMetrics(ctx, g.audit.Stats, g.logger, 0); stop != nil {
			g.stops = append(g.stops, stop)
		}
	}
}

// Close stops background work and releases the limiter and audit stores.
func (g *gateway) Close() error {
	for _, stop := range g.stops {
		stop()
	}
	g.stops = nil
	g.limiter.Stop()
	return g.audit.Close()
}

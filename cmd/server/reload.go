package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/backend"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/ratelimit"
)

const reloadTimeout = 10 * time.Second

type redirectSetter interface {
	SetRedirectValidator(*auth.RedirectValidator)
}

// configReloader applies the hot-reloadable parts of a new config: limiter
// classes, the redirect allow-list and the backend credential. Listener,
// session and OIDC settings need a restart.
type configReloader struct {
	logger     *slog.Logger
	limiter    *ratelimit.Limiter
	redirects  redirectSetter
	backend    *backend.Client
	secrets    *secretResolver
	inProgress atomic.Bool
}

func newConfigReloader(logger *slog.Logger, limiter *ratelimit.Limiter, redirects redirectSetter, client *backend.Client, secrets *secretResolver) *configReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &configReloader{
		logger:    logger,
		limiter:   limiter,
		redirects: redirects,
		backend:   client,
		secrets:   secrets,
	}
}

func (r *configReloader) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("config reload already in progress")
		return
	}
	defer r.inProgress.Store(false)

	if r.limiter != nil {
		r.limiter.SetClasses(limitClasses(cfg.RateLimit.Classes))
	}

	if r.redirects != nil {
		validator, err := auth.NewRedirectValidator(cfg.Server.BaseURL, cfg.Auth.AllowedRedirectOrigins)
		if err != nil {
			r.logger.Error("keeping previous redirect allow-list", "error", err)
		} else {
			r.redirects.SetRedirectValidator(validator)
		}
	}

	if r.backend != nil && r.secrets != nil {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		token, err := r.secrets.BackendToken(ctx, cfg)
		if err != nil {
			r.logger.Error("keeping previous backend token", "error", err)
		} else {
			r.backend.SetAPIToken(token)
		}
		r.backend.InvalidateRoster()
	}

	r.logger.Info("config reloaded",
		"limit_classes", len(cfg.RateLimit.Classes),
		"redirect_origins", len(cfg.Auth.AllowedRedirectOrigins),
	)
}

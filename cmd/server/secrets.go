package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/secret"
	"github.com/blueberrycongee/supportgate/internal/secret/env"
	"github.com/blueberrycongee/supportgate/internal/secret/vault"
)

var newVaultProvider = func(cfg vault.Config) (secret.Provider, error) {
	p, err := vault.New(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// resolvedSecrets holds the values behind the config's secret references.
type resolvedSecrets struct {
	SessionSecret    string
	OIDCClientSecret string
	BackendToken     string
	RedisPassword    string
	PostgresDSN      string
}

// secretResolver resolves env:// and vault:// references in the config.
// Vault lookups are cached; Flush drops the cache so a reload sees rotated
// values.
type secretResolver struct {
	manager *secret.Manager
	caches  []*secret.CachedProvider
}

func newSecretResolver(cfg *config.Config, logger *slog.Logger) (*secretResolver, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &secretResolver{manager: secret.NewManager()}
	r.manager.Register("env", env.New())

	v := cfg.Secrets.Vault
	if v.Enabled {
		provider, err := newVaultProvider(vault.Config{
			Address:    v.Address,
			AuthMethod: v.AuthMethod,
			RoleID:     v.RoleID,
			SecretID:   v.SecretID,
			CACert:     v.CACert,
			ClientCert: v.ClientCert,
			ClientKey:  v.ClientKey,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init vault secrets: %w", err)
		}
		ttl := cfg.Secrets.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		cached := secret.NewCachedProvider(provider, ttl)
		r.caches = append(r.caches, cached)
		r.manager.Register("vault", cached)
		logger.Info("vault secret provider enabled", "address", v.Address, "auth_method", v.AuthMethod)
	}

	return r, nil
}

// Resolve returns every secret the gateway needs. The session secret is
// mandatory, as is the DSN when audit events go to postgres.
func (r *secretResolver) Resolve(ctx context.Context, cfg *config.Config) (resolvedSecrets, error) {
	var out resolvedSecrets
	var err error

	if out.SessionSecret, err = r.manager.Require(ctx, "auth.session.secret", cfg.Auth.Session.Secret); err != nil {
		return out, err
	}
	if out.OIDCClientSecret, err = r.optional(ctx, "auth.oidc.client_secret", cfg.Auth.OIDC.ClientSecret); err != nil {
		return out, err
	}
	if out.BackendToken, err = r.optional(ctx, "backend.api_token", cfg.Backend.APIToken); err != nil {
		return out, err
	}
	if strings.EqualFold(cfg.RateLimit.Backend, "redis") {
		if out.RedisPassword, err = r.optional(ctx, "rate_limit.redis.password", cfg.RateLimit.Redis.Password); err != nil {
			return out, err
		}
	}
	if cfg.Audit.Enabled && strings.EqualFold(cfg.Audit.Backend, "postgres") {
		if out.PostgresDSN, err = r.manager.Require(ctx, "audit.postgres.dsn", cfg.Audit.Postgres.DSN); err != nil {
			return out, err
		}
	}
	return out, nil
}

// BackendToken re-resolves the backend credential, bypassing the cache.
func (r *secretResolver) BackendToken(ctx context.Context, cfg *config.Config) (string, error) {
	r.Flush()
	return r.optional(ctx, "backend.api_token", cfg.Backend.APIToken)
}

func (r *secretResolver) optional(ctx context.Context, name, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	resolved, err := r.manager.Get(ctx, value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return resolved, nil
}

func (r *secretResolver) Flush() {
	for _, c := range r.caches {
		c.Flush()
	}
}

func (r *secretResolver) Close() error {
	if r == nil {
		return nil
	}
	return r.manager.Close()
}

var errNilConfig = errors.New("config is required")

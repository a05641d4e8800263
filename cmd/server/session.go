package main

import (
	"fmt"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
)

func buildSessionManager(cfg *config.Config, secret string) (*auth.SessionManager, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	manager, err := auth.NewSessionManager(auth.SessionManagerConfig{
		Secret:          secret,
		CookieName:      cfg.Auth.Session.CookieName,
		StateCookieName: cfg.Auth.Session.StateCookieName,
		CookieDomain:    cfg.Auth.Session.CookieDomain,
		CookiePath:      cfg.Auth.Session.CookiePath,
		CookieSecure:    cfg.Auth.Session.CookieSecure,
		CookieSameSite:  cfg.Auth.Session.CookieSameSite,
		TTL:             cfg.Auth.Session.TTL,
		StateTTL:        cfg.Auth.Session.StateTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init session manager: %w", err)
	}

	return manager, nil
}

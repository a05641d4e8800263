package main

import (
	"strings"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
)

// mapOIDCConfig converts the file config into the handler's OIDC settings.
// clientSecret is the already-resolved secret.
func mapOIDCConfig(cfg config.OIDCConfig, clientSecret string) auth.OIDCConfig {
	scopes := make([]string, 0, len(cfg.Scopes))
	for _, s := range cfg.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return auth.OIDCConfig{
		IssuerURL:    strings.TrimSpace(cfg.IssuerURL),
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: clientSecret,
		RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
		Scopes:       scopes,
	}
}

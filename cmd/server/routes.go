package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/supportgate/internal/api"
	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/healthcheck"
)

type authRegistrar interface {
	RegisterRoutes(*http.ServeMux)
}

// handlers are the route targets mounted by buildMux.
type handlers struct {
	Auth     authRegistrar
	Audit    *api.AuditLogHandler
	Proxy    http.Handler
	Authz    *auth.Middleware
	Prober   *healthcheck.Prober
	Limit    api.LimitFunc
	Policies []api.RoutePolicy
}

func buildMux(cfg *config.Config, h handlers) (*http.ServeMux, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if h.Authz == nil {
		return nil, fmt.Errorf("authorization middleware is required")
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health/live", healthcheck.LiveHandler)
	if h.Prober != nil {
		mux.HandleFunc("GET /health/ready", h.Prober.ReadyHandler)
	} else {
		mux.HandleFunc("GET /health/ready", healthcheck.LiveHandler)
	}

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	if h.Auth != nil {
		h.Auth.RegisterRoutes(mux)
	}

	if h.Audit != nil {
		leadership := h.Authz.RequireCapability(auth.CapabilityLeadership)
		guard := leadership
		if h.Limit != nil {
			limit := h.Limit(config.ClassAPI)
			guard = func(next http.Handler) http.Handler { return limit(leadership(next)) }
		}
		h.Audit.RegisterAuditRoutes(mux, guard)
	}

	if h.Proxy != nil {
		api.RegisterProxyRoutes(mux, h.Policies, h.Proxy, h.Limit, h.Authz)
	}

	return mux, nil
}

// routePolicies converts configured routes; an empty list means the default
// dashboard table.
func routePolicies(routes []config.RouteConfig) ([]api.RoutePolicy, error) {
	if len(routes) == 0 {
		return api.DefaultRoutePolicies(), nil
	}
	out := make([]api.RoutePolicy, 0, len(routes))
	for _, r := range routes {
		c, err := auth.ParseCapability(r.Capability)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.Prefix, err)
		}
		out = append(out, api.RoutePolicy{Prefix: r.Prefix, Class: r.Class, Capability: c})
	}
	return out, nil
}

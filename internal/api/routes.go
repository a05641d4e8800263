// Route policy for the proxied backend API.
package api //nolint:revive // package name is intentional

import (
	"net/http"
	"strings"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
)

// RoutePolicy binds a path prefix to a limiter class and a capability.
type RoutePolicy struct {
	Prefix     string          `json:"prefix"`
	Class      string          `json:"class"`
	Capability auth.Capability `json:"capability"`
}

// DefaultRoutePolicies returns the dashboard's route table.
func DefaultRoutePolicies() []RoutePolicy {
	return []RoutePolicy{
		{Prefix: "/api/tickets/", Class: config.ClassAPI, Capability: auth.CapabilityAuthenticated},
		{Prefix: "/api/escalations/", Class: config.ClassAPI, Capability: auth.CapabilityEscalation},
		{Prefix: "/api/dashboard/", Class: config.ClassAnalytics, Capability: auth.CapabilityLeadership},
	}
}

// LimitFunc returns the limiter middleware for a class.
type LimitFunc func(class string) func(http.Handler) http.Handler

// RegisterProxyRoutes mounts upstream behind each policy. A request passes the
// limiter before the capability check, so rejected probes still consume quota.
func RegisterProxyRoutes(mux *http.ServeMux, policies []RoutePolicy, upstream http.Handler, limit LimitFunc, authz *auth.Middleware) {
	for _, p := range policies {
		var h http.Handler = upstream
		h = authz.RequireCapability(p.Capability)(h)
		if limit != nil {
			h = limit(p.Class)(h)
		}
		mux.Handle(p.Prefix, h)
		// The bare prefix, e.g. /api/tickets, shares the policy.
		if bare := strings.TrimSuffix(p.Prefix, "/"); bare != p.Prefix && bare != "" {
			mux.Handle(bare, h)
		}
	}
}

// RouteInfo describes a gateway route.
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// GetRoutes returns information about the gateway's own routes.
func GetRoutes() []RouteInfo {
	return []RouteInfo{
		{Method: "GET", Path: PathSignIn, Description: "Start OIDC sign-in", Category: "auth"},
		{Method: "GET", Path: PathCallback, Description: "Complete OIDC sign-in", Category: "auth"},
		{Method: "GET", Path: PathSession, Description: "Current session", Category: "auth"},
		{Method: "POST", Path: PathRefresh, Description: "Reissue the session with fresh teams", Category: "auth"},
		{Method: "POST", Path: PathSignOut, Description: "Clear the session", Category: "auth"},

		{Method: "GET", Path: "/audit/events", Description: "List audit events", Category: "audit"},
		{Method: "GET", Path: "/audit/stats", Description: "Audit statistics", Category: "audit"},
		{Method: "POST", Path: "/audit/delete", Description: "Delete old audit events", Category: "audit"},
	}
}

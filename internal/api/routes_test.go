package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
)

func TestDefaultRoutePolicies(t *testing.T) {
	policies := DefaultRoutePolicies()
	byPrefix := make(map[string]RoutePolicy, len(policies))
	for _, p := range policies {
		byPrefix[p.Prefix] = p
	}

	assert.Equal(t, auth.CapabilityAuthenticated, byPrefix["/api/tickets/"].Capability)
	assert.Equal(t, auth.CapabilityEscalation, byPrefix["/api/escalations/"].Capability)
	assert.Equal(t, auth.CapabilityLeadership, byPrefix["/api/dashboard/"].Capability)
	assert.Equal(t, config.ClassAnalytics, byPrefix["/api/dashboard/"].Class)
}

func TestRegisterProxyRoutes_LimiterRunsBeforeCapability(t *testing.T) {
	var order []string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "upstream")
		w.WriteHeader(http.StatusOK)
	})
	limit := func(class string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, "limit:"+class)
				next.ServeHTTP(w, r)
			})
		}
	}
	authz := auth.NewMiddleware(auth.MiddlewareConfig{})

	mux := http.NewServeMux()
	RegisterProxyRoutes(mux, DefaultRoutePolicies(), upstream, limit, authz)

	tests := []struct {
		name      string
		path      string
		token     *auth.AuthToken
		wantCode  int
		wantOrder []string
	}{
		{
			name:      "anonymous is counted then rejected",
			path:      "/api/dashboard/kpis",
			wantCode:  http.StatusUnauthorized,
			wantOrder: []string{"limit:analytics"},
		},
		{
			name:      "forbidden is counted then rejected",
			path:      "/api/escalations/1",
			token:     &auth.AuthToken{Email: "a@example.com"},
			wantCode:  http.StatusForbidden,
			wantOrder: []string{"limit:api"},
		},
		{
			name:      "bare prefix shares the policy",
			path:      "/api/tickets",
			token:     &auth.AuthToken{Email: "a@example.com"},
			wantCode:  http.StatusOK,
			wantOrder: []string{"limit:api", "upstream"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order = nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != nil {
				req = req.WithContext(auth.WithAuthToken(req.Context(), tt.token))
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantOrder, order)
		})
	}
}

func TestRegisterProxyRoutes_NilLimit(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	mux := http.NewServeMux()
	RegisterProxyRoutes(mux, []RoutePolicy{{Prefix: "/api/x/", Class: config.ClassAPI, Capability: auth.CapabilityAuthenticated}},
		upstream, nil, auth.NewMiddleware(auth.MiddlewareConfig{}))

	req := httptest.NewRequest(http.MethodGet, "/api/x/1", nil)
	req = req.WithContext(auth.WithAuthToken(req.Context(), &auth.AuthToken{Email: "a@example.com"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGetRoutes(t *testing.T) {
	routes := GetRoutes()
	paths := make(map[string]bool, len(routes))
	for _, r := range routes {
		paths[r.Path] = true
	}
	for _, p := range []string{PathSignIn, PathCallback, PathSession, PathRefresh, PathSignOut, "/audit/events"} {
		assert.True(t, paths[p], "missing %s", p)
	}
}

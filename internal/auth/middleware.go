package auth

import (
	"log/slog"
	"net/http"

	"github.com/blueberrycongee/supportgate/internal/metrics"
	"github.com/blueberrycongee/supportgate/internal/observability"
	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
)

// Denial reasons recorded in metrics and audit events.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonForbidden       = "forbidden"
)

// Middleware enforces capabilities on top of SessionMiddleware.
type Middleware struct {
	logger *slog.Logger
	audit  *AuditLogger
}

// MiddlewareConfig contains configuration for the authorization middleware.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Audit  *AuditLogger
}

// NewMiddleware creates a new authorization middleware.
func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{logger: logger, audit: cfg.Audit}
}

// RequireAuthenticated rejects anonymous requests with 401.
func (m *Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return m.RequireCapability(CapabilityAuthenticated)(next)
}

// RequireCapability rejects anonymous requests with 401 and signed-in users
// lacking c with 403.
func (m *Middleware) RequireCapability(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromContext(r.Context())
			if token == nil {
				m.deny(r, "", c, ReasonUnauthenticated)
				gwerrors.Write(w, gwerrors.NewAuthenticationError("authentication required"))
				return
			}
			if !c.Allows(token) {
				m.deny(r, token.Email, c, ReasonForbidden)
				gwerrors.Write(w, gwerrors.NewPermissionError("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) deny(r *http.Request, email string, c Capability, reason string) {
	metrics.RecordAuthzDenial(string(c), reason)
	m.logger.Info("request denied",
		"request_id", observability.RequestIDFromContext(r.Context()),
		"capability", string(c),
		"reason", reason,
		"path", r.URL.Path,
	)
	// Anonymous probes are not audited; they are already counted.
	if reason == ReasonForbidden {
		m.audit.LogAccessDenied(r, email, string(c))
	}
}

package main

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/metrics"
	"github.com/blueberrycongee/supportgate/internal/observability"
)

// buildMiddlewareStack wraps the mux. Outermost first: request ID, tracing,
// metrics, CORS, session.
func buildMiddlewareStack(cfg *config.Config, sessions *auth.SessionManager, tracer trace.Tracer, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	session := auth.SessionMiddleware(sessions, logger)

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := session(next)
		handler = corsMiddleware(cfg.CORS, handler)
		handler = metrics.Middleware(handler)
		if tracer != nil {
			handler = observability.TracingMiddleware(tracer)(handler)
		}
		handler = observability.RequestIDMiddleware(handler)
		return handler
	}, nil
}

package auth

import (
	"errors"
	"log/slog"
	"net/http"
)

// SessionMiddleware attaches the AuthToken carried by the request, if any.
// It never rejects: routes decide with RequireAuthenticated or
// RequireCapability. A stale or tampered session cookie is cleared.
func SessionMiddleware(manager *SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	if manager == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TokenFromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			token, err := manager.Get(r)
			if err != nil {
				if !errors.Is(err, ErrSessionNotFound) {
					logger.Debug("session rejected", "error", err, "path", r.URL.Path)
					if manager.HasCookie(r) {
						manager.Clear(w)
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthToken(r.Context(), token)))
		})
	}
}

package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// AuthTokenKey is the context key for the verified *AuthToken.
const AuthTokenKey contextKey = "auth_token"

// WithAuthToken stores a verified token on the provided context.
func WithAuthToken(ctx context.Context, token *AuthToken) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, AuthTokenKey, token)
}

// TokenFromContext returns the verified token, or nil for anonymous requests.
func TokenFromContext(ctx context.Context) *AuthToken {
	if ctx == nil {
		return nil
	}
	if token, ok := ctx.Value(AuthTokenKey).(*AuthToken); ok {
		return token
	}
	return nil
}

// EmailFromRequest returns the signed-in email for r, or "".
func EmailFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := TokenFromContext(r.Context()); token != nil {
		return token.Email
	}
	return ""
}

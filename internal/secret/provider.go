// Package secret resolves secret references such as the session signing key
// and the backend API token.
package secret

import "context"

// Provider defines the interface for retrieving secrets from various sources.
type Provider interface {
	// Get retrieves the secret value for the given path.
	// path examples: "SUPPORTGATE_SESSION_SECRET", "secret/data/supportgate#session"
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}

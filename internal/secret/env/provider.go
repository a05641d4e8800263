// Package env implements a secret provider that reads from environment variables.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider implements the secret.Provider interface for environment variables.
type Provider struct {
	lookup func(string) (string, bool)
}

// New creates a new Env provider.
func New() *Provider {
	return &Provider{lookup: os.LookupEnv}
}

// Get retrieves the value of the environment variable specified by path.
func (p *Provider) Get(_ context.Context, path string) (string, error) {
	name := strings.TrimSpace(path)
	if name == "" {
		return "", fmt.Errorf("environment variable name is empty")
	}
	val, ok := p.lookup(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return val, nil
}

// Close is a no-op for the Env provider.
func (p *Provider) Close() error {
	return nil
}

package secret

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrEmptySecret is returned when a reference resolves to an empty value.
var ErrEmptySecret = errors.New("secret resolved to empty value")

// Manager handles multiple secret providers and routes requests based on URI schemes.
// Values whose scheme has no registered provider are returned unchanged, so plain
// literals and ordinary URLs pass through.
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewManager creates a new secret manager.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider for a specific scheme (e.g., "vault", "env").
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// Schemes lists the registered schemes in sorted order.
func (m *Manager) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.providers))
	for scheme := range m.providers {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Get resolves a value. "scheme://path" goes to the matching provider; anything
// else is returned as a static value.
func (m *Manager) Get(ctx context.Context, value string) (string, error) {
	scheme, path, ok := strings.Cut(value, "://")
	if !ok {
		return value, nil
	}

	m.mu.RLock()
	provider, registered := m.providers[scheme]
	m.mu.RUnlock()

	if !registered {
		return value, nil
	}

	resolved, err := provider.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return resolved, nil
}

// Require resolves value and fails if the result is empty.
func (m *Manager) Require(ctx context.Context, name, value string) (string, error) {
	resolved, err := m.Get(ctx, value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if strings.TrimSpace(resolved) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrEmptySecret)
	}
	return resolved, nil
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scheme, err))
		}
	}
	return errors.Join(errs...)
}

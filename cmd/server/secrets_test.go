package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/secret"
	"github.com/blueberrycongee/supportgate/internal/secret/vault"
)

type fakeVault struct {
	values map[string]string
	calls  int
	closed bool
}

func (f *fakeVault) Get(_ context.Context, path string) (string, error) {
	f.calls++
	v, ok := f.values[path]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (f *fakeVault) Close() error {
	f.closed = true
	return nil
}

func stubVault(t *testing.T, fake *fakeVault) *vault.Config {
	t.Helper()
	var got vault.Config
	old := newVaultProvider
	t.Cleanup(func() { newVaultProvider = old })
	newVaultProvider = func(cfg vault.Config) (secret.Provider, error) {
		got = cfg
		return fake, nil
	}
	return &got
}

func TestSecretResolver_LiteralsAndEnv(t *testing.T) {
	t.Setenv("SUPPORTGATE_TEST_SESSION", "from-env")

	cfg := config.DefaultConfig()
	cfg.Auth.Session.Secret = "env://SUPPORTGATE_TEST_SESSION"
	cfg.Backend.APIToken = "literal-token"

	r, err := newSecretResolver(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	got, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "from-env", got.SessionSecret)
	require.Equal(t, "literal-token", got.BackendToken)
	require.Empty(t, got.OIDCClientSecret)
	require.Empty(t, got.PostgresDSN)
}

func TestSecretResolver_RequiresSessionSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Session.Secret = "env://SUPPORTGATE_TEST_MISSING_SECRET"

	r, err := newSecretResolver(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), cfg)
	require.ErrorContains(t, err, "auth.session.secret")
}

func TestSecretResolver_RequiresPostgresDSN(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Session.Secret = "s3cret"
	cfg.Audit.Backend = "postgres"

	r, err := newSecretResolver(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), cfg)
	require.ErrorIs(t, err, secret.ErrEmptySecret)
}

func TestSecretResolver_VaultIsCachedUntilFlush(t *testing.T) {
	fake := &fakeVault{values: map[string]string{
		"secret/data/supportgate#session": "vault-session",
		"secret/data/supportgate#backend": "vault-backend",
	}}
	gotCfg := stubVault(t, fake)

	cfg := config.DefaultConfig()
	cfg.Secrets.Vault = config.VaultConfig{Enabled: true, Address: "https://vault.internal:8200", AuthMethod: "approle", RoleID: "role"}
	cfg.Auth.Session.Secret = "vault://secret/data/supportgate#session"
	cfg.Backend.APIToken = "vault://secret/data/supportgate#backend"

	r, err := newSecretResolver(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.Equal(t, "https://vault.internal:8200", gotCfg.Address)
	require.Equal(t, "approle", gotCfg.AuthMethod)

	got, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "vault-session", got.SessionSecret)
	require.Equal(t, "vault-backend", got.BackendToken)
	require.Equal(t, 2, fake.calls)

	_, err = r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 2, fake.calls)

	fake.values["secret/data/supportgate#backend"] = "rotated"
	token, err := r.BackendToken(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "rotated", token)

	require.NoError(t, r.Close())
	require.True(t, fake.closed)
}

func TestSecretResolver_VaultInitError(t *testing.T) {
	old := newVaultProvider
	t.Cleanup(func() { newVaultProvider = old })
	newVaultProvider = func(vault.Config) (secret.Provider, error) {
		return nil, errors.New("permission denied")
	}

	cfg := config.DefaultConfig()
	cfg.Secrets.Vault.Enabled = true

	_, err := newSecretResolver(cfg, slog.New(slog.DiscardHandler))
	require.ErrorContains(t, err, "permission denied")
}

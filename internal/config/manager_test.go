package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManagerStatus(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.Checksum == "" {
		t.Fatal("Status().Checksum is empty")
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.ReloadCount == 0 {
		t.Fatal("Status().ReloadCount should be > 0")
	}
}

func TestManagerReloadNotifiesListeners(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var seen []string
	mgr.OnChange(func(cfg *Config) {
		seen = cfg.Auth.AllowedRedirectOrigins
	})

	before := mgr.Status()

	updated := minimalYAML + "  allowed_redirect_origins:\n    - https://*.example.com\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Status()
	if after.Checksum == before.Checksum {
		t.Fatal("expected checksum to change after reload")
	}
	if after.ReloadCount != before.ReloadCount+1 {
		t.Fatalf("expected reload count %d, got %d", before.ReloadCount+1, after.ReloadCount)
	}
	if len(seen) != 1 || seen[0] != "https://*.example.com" {
		t.Fatalf("listener saw origins %v", seen)
	}
	if got := mgr.Get().Auth.AllowedRedirectOrigins; len(got) != 1 {
		t.Fatalf("Get() origins = %v", got)
	}
}

func TestManagerReloadKeepsCurrentOnError(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	broken := strings.Replace(minimalYAML, "test-session-secret", "", 1)
	if err := os.WriteFile(path, []byte(broken), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected Reload() to fail on invalid config")
	}
	if mgr.Get().Auth.Session.Secret != "test-session-secret" {
		t.Fatalf("config should be unchanged after failed reload")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

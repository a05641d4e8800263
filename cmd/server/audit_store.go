package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/healthcheck"
)

var openPostgresAuditStore = auth.OpenPostgresAuditStore
var newMemoryAuditStore func() auth.AuditStore = func() auth.AuditStore {
	return auth.NewMemoryAuditStore()
}

// auditRuntime is the selected audit store. Stats and Checks are only set for
// postgres.
type auditRuntime struct {
	Store  auth.AuditStore
	Stats  poolStatsSource
	Checks []healthcheck.Check
	close  func() error
}

func (ar *auditRuntime) Close() error {
	if ar == nil || ar.close == nil {
		return nil
	}
	return ar.close()
}

func initAuditStore(ctx context.Context, cfg *config.Config, dsn string, logger *slog.Logger) (*auditRuntime, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	if cfg.Audit.Enabled && strings.EqualFold(cfg.Audit.Backend, "postgres") {
		pg := cfg.Audit.Postgres
		store, err := openPostgresAuditStore(ctx, auth.PostgresConfig{
			DSN:          dsn,
			MaxOpenConns: pg.MaxOpenConns,
			MaxIdleConns: pg.MaxIdleConns,
			ConnLifetime: pg.ConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres audit store: %w", err)
		}
		logger.Info("using postgres audit store", "max_open_conns", pg.MaxOpenConns)
		return &auditRuntime{
			Store: store,
			Stats: store,
			Checks: []healthcheck.Check{{
				Name:     "audit_db",
				Optional: true,
				Run:      store.Ping,
			}},
			close: store.Close,
		}, nil
	}

	if cfg.Audit.Enabled {
		logger.Info("using in-memory audit store (events are lost on restart)")
	}
	return &auditRuntime{Store: newMemoryAuditStore()}, nil
}

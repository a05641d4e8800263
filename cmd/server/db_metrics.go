package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/blueberrycongee/supportgate/internal/metrics"
)

const auditPoolMetricsInterval = 30 * time.Second

// poolStatsSource is implemented by the postgres audit store.
type poolStatsSource interface {
	DBStats() sql.DBStats
}

// startAuditPoolMetrics publishes the audit pool stats now and then every
// interval until ctx ends or the returned stop is called. stop waits for the
// loop to exit. A nil source (memory audit store) starts nothing.
func startAuditPoolMetrics(ctx context.Context, source poolStatsSource, logger *slog.Logger, interval time.Duration) func() {
	if source == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = auditPoolMetricsInterval
	}

	metrics.SetAuditPoolStats(source.DBStats())

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetAuditPoolStats(source.DBStats())
			}
		}
	}()

	logger.Debug("audit pool metrics started", "interval", interval.String())
	return func() {
		cancel()
		<-done
	}
}

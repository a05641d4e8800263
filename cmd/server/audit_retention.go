package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const auditRetentionInterval = time.Hour

type auditPruner interface {
	DeleteAuditEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// startAuditRetention deletes events older than days, once at start and then
// every interval. It returns nil when retention is off.
func startAuditRetention(ctx context.Context, store auditPruner, days int, interval time.Duration, logger *slog.Logger) func() {
	if store == nil || days <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = auditRetentionInterval
	}
	if ctx == nil {
		ctx = context.Background()
	}

	retention := time.Duration(days) * 24 * time.Hour
	prune := func() {
		cutoff := time.Now().UTC().Add(-retention)
		deleted, err := store.DeleteAuditEvents(ctx, cutoff)
		if err != nil {
			logger.Error("audit retention failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("audit events pruned", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
		}
	}

	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopCh) })
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		prune()
		for {
			select {
			case <-ticker.C:
				prune()
			case <-ctx.Done():
				stop()
				return
			case <-stopCh:
				return
			}
		}
	}()

	logger.Debug("audit retention started", "retention_days", days, "interval", interval.String())
	return stop
}

package metrics

import "database/sql"

// Audit pool connection states.
const (
	PoolStateInUse   = "in_use"
	PoolStateIdle    = "idle"
	PoolStateOpen    = "open"
	PoolStateMaxOpen = "max_open"
)

// SetAuditPoolStats publishes the audit store's pool stats. A zero max_open
// means the pool is unbounded.
func SetAuditPoolStats(stats sql.DBStats) {
	AuditDBConnections.WithLabelValues(PoolStateInUse).Set(float64(stats.InUse))
	AuditDBConnections.WithLabelValues(PoolStateIdle).Set(float64(stats.Idle))
	AuditDBConnections.WithLabelValues(PoolStateOpen).Set(float64(stats.OpenConnections))
	AuditDBConnections.WithLabelValues(PoolStateMaxOpen).Set(float64(stats.MaxOpenConnections))
}

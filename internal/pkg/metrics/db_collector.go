package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordDBPoolMetrics snapshots pool statistics into DBPoolConnections.
// A nil pool (sqlite or memory storage) is ignored.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	stats := pool.Stat()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
	DBPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns()))
}

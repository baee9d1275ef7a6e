package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbConns, dbEmptyAcquires) }

var (
	dbConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Postgres pool connections by state (max, total, idle, acquired).",
		},
		[]string{"state"},
	)
	dbEmptyAcquires = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_empty_acquires",
			Help: "Cumulative acquires that had to wait for a free connection.",
		},
	)
)

// PoolSnapshot is the subset of pgxpool.Stat the queue cares about.
type PoolSnapshot struct {
	Max, Total, Idle, Acquired int32
	EmptyAcquires              int64
}

func SetDBPoolStats(s PoolSnapshot) {
	dbConns.WithLabelValues("max").Set(float64(s.Max))
	dbConns.WithLabelValues("total").Set(float64(s.Total))
	dbConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbEmptyAcquires.Set(float64(s.EmptyAcquires))
}

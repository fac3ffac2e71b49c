package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one Client. A nil *Metrics is
// valid everywhere it's accepted and simply records nothing, so callers who
// don't want metrics never need a branch for it.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics builds a Metrics registered under reg with the given subsystem
// prefix (e.g. "messagestore"). Pass prometheus.DefaultRegisterer to use the
// global registry.
func NewMetrics(reg prometheus.Registerer, subsystem string) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Count of messagestore operations by op and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "messagestore operation round-trip latency by op.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

// observe records one call to op: its latency and its outcome, classified
// from err. Every operation in store/operations.go calls this exactly once,
// whether it reads or writes.
func (m *Metrics) observe(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(d.Seconds())
	m.operations.WithLabelValues(op, outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConcurrency(err):
		return "concurrency_error"
	case IsDatabase(err):
		return "database_error"
	case IsValidation(err):
		return "validation_error"
	default:
		return "error"
	}
}

// PoolStatsCollector exposes a pgxpool.Pool's live stats (acquired,
// idle, max conns) as Prometheus gauges. Register it alongside Metrics so
// pool exhaustion shows up next to operation counters.
type PoolStatsCollector struct {
	pool      *pgxpool.Pool
	subsystem string
}

// NewPoolStatsCollector wraps pool for Prometheus collection.
func NewPoolStatsCollector(pool *pgxpool.Pool, subsystem string) *PoolStatsCollector {
	return &PoolStatsCollector{pool: pool, subsystem: subsystem}
}

var (
	poolAcquiredDesc = prometheus.NewDesc("pool_acquired_conns", "Currently acquired connections.", []string{"subsystem"}, nil)
	poolIdleDesc     = prometheus.NewDesc("pool_idle_conns", "Currently idle connections.", []string{"subsystem"}, nil)
	poolMaxDesc      = prometheus.NewDesc("pool_max_conns", "Configured maximum connections.", []string{"subsystem"}, nil)
)

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolAcquiredDesc
	ch <- poolIdleDesc
	ch <- poolMaxDesc
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(poolAcquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()), c.subsystem)
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(stat.IdleConns()), c.subsystem)
	ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(stat.MaxConns()), c.subsystem)
}

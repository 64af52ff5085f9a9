package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exposes mirror pool statistics as Prometheus gauges.
// Values are read from the pool on every collection.
type PoolStatsCollector struct {
	pool *pgxpool.Pool

	totalConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	acquiredConns *prometheus.Desc
	maxConns      *prometheus.Desc
}

// NewPoolStatsCollector creates a collector for pool.
func NewPoolStatsCollector(pool *pgxpool.Pool, namespace string) *PoolStatsCollector {
	return &PoolStatsCollector{
		pool: pool,
		totalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mirror_pool", "total_conns"),
			"Total number of connections currently open in the pool",
			nil, nil,
		),
		idleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mirror_pool", "idle_conns"),
			"Number of idle connections in the pool",
			nil, nil,
		),
		acquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mirror_pool", "acquired_conns"),
			"Number of connections currently in use",
			nil, nil,
		),
		maxConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mirror_pool", "max_conns"),
			"Maximum size of the pool",
			nil, nil,
		),
	}
}

// Describe sends the metric descriptors.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquiredConns
	ch <- c.maxConns
}

// Collect gathers current pool statistics.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}

	stats := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stats.MaxConns()))
}

// RegisterPoolStatsCollector registers a collector for pool on reg.
func RegisterPoolStatsCollector(pool *pgxpool.Pool, namespace string, reg prometheus.Registerer) (*PoolStatsCollector, error) {
	collector := NewPoolStatsCollector(pool, namespace)
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}
	return collector, nil
}

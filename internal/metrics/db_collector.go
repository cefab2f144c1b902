package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is a snapshot of connection pool counters.
type PoolStats struct {
	Total      int32
	Idle       int32
	Acquired   int32
	Max        int32
	EmptyWaits int64
}

// DBPoolStatFunc returns database pool statistics without importing pgxpool.
type DBPoolStatFunc func() PoolStats

type dbPoolCollector struct {
	statFunc DBPoolStatFunc

	totalDesc      *prometheus.Desc
	idleDesc       *prometheus.Desc
	acquiredDesc   *prometheus.Desc
	maxDesc        *prometheus.Desc
	emptyWaitsDesc *prometheus.Desc
}

// NewDBPoolCollector creates a collector that exposes DB pool gauges.
func NewDBPoolCollector(statFunc DBPoolStatFunc) prometheus.Collector {
	return &dbPoolCollector{
		statFunc:     statFunc,
		totalDesc:    prometheus.NewDesc("huddle_db_pool_total_conns", "Total number of connections in the DB pool.", nil, nil),
		idleDesc:     prometheus.NewDesc("huddle_db_pool_idle_conns", "Number of idle connections in the DB pool.", nil, nil),
		acquiredDesc: prometheus.NewDesc("huddle_db_pool_acquired_conns", "Number of acquired connections in the DB pool.", nil, nil),
		maxDesc:      prometheus.NewDesc("huddle_db_pool_max_conns", "Configured maximum size of the DB pool.", nil, nil),
		emptyWaitsDesc: prometheus.NewDesc("huddle_db_pool_empty_acquire_total",
			"Acquires that had to wait because the DB pool was empty.", nil, nil),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
	ch <- c.maxDesc
	ch <- c.emptyWaitsDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.emptyWaitsDesc, prometheus.CounterValue, float64(s.EmptyWaits))
}

package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats provides the metrics collector access to in-process state.
type LiveStats interface {
	QueueDepth() int
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats LiveStats

	// Descriptors for scrape-time gauges.
	queueDepth      *prometheus.Desc
	wsSubscribers   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if the service
// runs neither a queue nor a live event hub.
func NewCollector(pool *pgxpool.Pool, stats LiveStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dial_queue_depth"),
			"Dial jobs currently waiting in the queue.",
			nil, nil,
		),
		wsSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "ws_subscribers_active"),
			"Current number of live websocket subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.wsSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// In-process stats
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.stats.QueueDepth()))
		ch <- prometheus.MustNewConstMetric(c.wsSubscribers, prometheus.GaugeValue, float64(c.stats.SubscriberCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.wsSubscribers, prometheus.GaugeValue, 0)
	}

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}

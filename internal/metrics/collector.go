package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	activeSessions prometheus.Gauge
	reconnects     prometheus.Counter
	evictions      prometheus.Counter
	linksTracked   prometheus.Counter
	clicks         *prometheus.CounterVec
	forwards       *prometheus.CounterVec
	groupFetch     prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linkpulse_active_sessions",
			Help: "Number of tenant sessions currently registered",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkpulse_reconnects_total",
			Help: "Automatic reconnects after transient disconnects",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkpulse_idle_evictions_total",
			Help: "Tenants evicted by the idle reaper",
		}),
		linksTracked: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkpulse_links_tracked_total",
			Help: "Distinct URLs assigned a tracking id",
		}),
		clicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpulse_clicks_total",
			Help: "Resolved link clicks",
		}, []string{"tenant_id", "channel"}),
		forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpulse_forwards_total",
			Help: "Inbound messages forwarded to the ingest endpoint",
		}, []string{"outcome"}),
		groupFetch: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkpulse_group_fetch_duration_seconds",
			Help:    "Latency of remote group-listing calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

func (c *Collector) RecordReconnect() {
	c.reconnects.Inc()
}

func (c *Collector) RecordEviction() {
	c.evictions.Inc()
}

func (c *Collector) RecordLinkTracked() {
	c.linksTracked.Inc()
}

func (c *Collector) RecordClick(tenantID, channel string) {
	c.clicks.WithLabelValues(tenantID, channel).Inc()
}

func (c *Collector) RecordForward(success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	c.forwards.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveGroupFetch(seconds float64) {
	c.groupFetch.Observe(seconds)
}

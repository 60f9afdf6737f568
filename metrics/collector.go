// Package metrics exposes the assay Prometheus series.
//
// The Collector owns its own registry so tests can construct isolated
// instances. All record methods are nil-receiver safe: components built
// without metrics (tests, one-shot CLI commands) pass nil and every
// call becomes a no-op.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector accumulates pipeline counters, latency histograms and queue
// gauges.
type Collector struct {
	registry *prometheus.Registry

	runsStarted       prometheus.Counter
	itemsTotal        *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	exportsTotal      *prometheus.CounterVec
	rateLimitTimeouts *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	deliveryLatency   prometheus.Histogram
	queueDepth        *prometheus.GaugeVec
}

// NewCollector creates a Collector with a fresh registry, including the
// standard process and Go runtime collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assay_runs_started_total",
			Help: "Runs materialized and enqueued.",
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assay_run_items_total",
			Help: "Run item executions by outcome.",
		}, []string{"outcome"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assay_deliveries_total",
			Help: "Partner delivery attempts by outcome.",
		}, []string{"outcome"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assay_exports_total",
			Help: "Export renders by outcome.",
		}, []string{"outcome"}),
		rateLimitTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assay_rate_limit_timeouts_total",
			Help: "Rate-limit acquires that hit their deadline.",
		}, []string{"bucket"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assay_provider_latency_seconds",
			Help:    "Provider invocation latency, final attempt.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assay_delivery_latency_seconds",
			Help:    "Partner webhook POST latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "assay_queue_depth",
			Help: "Tasks waiting per queue, ready plus delayed.",
		}, []string{"queue"}),
	}

	c.registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		c.runsStarted,
		c.itemsTotal,
		c.deliveriesTotal,
		c.exportsTotal,
		c.rateLimitTimeouts,
		c.providerLatency,
		c.deliveryLatency,
		c.queueDepth,
	)
	return c
}

// IncRunStarted counts one run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.runsStarted.Inc()
}

// IncItemOutcome counts one item execution reaching outcome
// (succeeded, failed, retried, skipped).
func (c *Collector) IncItemOutcome(outcome string) {
	if c == nil {
		return
	}
	c.itemsTotal.WithLabelValues(outcome).Inc()
}

// IncDeliveryOutcome counts one delivery attempt reaching outcome
// (succeeded, failed, retried).
func (c *Collector) IncDeliveryOutcome(outcome string) {
	if c == nil {
		return
	}
	c.deliveriesTotal.WithLabelValues(outcome).Inc()
}

// IncExportOutcome counts one export render reaching outcome
// (completed, failed).
func (c *Collector) IncExportOutcome(outcome string) {
	if c == nil {
		return
	}
	c.exportsTotal.WithLabelValues(outcome).Inc()
}

// IncRateLimitTimeout counts one acquire deadline hit on bucket.
func (c *Collector) IncRateLimitTimeout(bucket string) {
	if c == nil {
		return
	}
	c.rateLimitTimeouts.WithLabelValues(bucket).Inc()
}

// ObserveProviderLatency records one provider invocation's latency.
func (c *Collector) ObserveProviderLatency(provider string, d time.Duration) {
	if c == nil {
		return
	}
	c.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveDeliveryLatency records one webhook POST's latency.
func (c *Collector) ObserveDeliveryLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.deliveryLatency.Observe(d.Seconds())
}

// SetQueueDepth records the waiting task count for one queue.
func (c *Collector) SetQueueDepth(queue string, depth int64) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Handler serves the collector's registry in Prometheus exposition
// format. A nil collector serves an empty exposition.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

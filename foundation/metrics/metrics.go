// Package metrics collects prometheus counters for the monitor and api services
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	FeedFetches         *prometheus.CounterVec // labels: agency, feed, result
	PositionsRecorded   *prometheus.CounterVec // label: agency
	TripUpdatesRecorded *prometheus.CounterVec // label: agency
	ReconcileErrors     *prometheus.CounterVec // label: agency
	NATSPublished       prometheus.Counter
	NATSPublishErrs     prometheus.Counter
	CycleDuration       *prometheus.HistogramVec // label: agency
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_feed_fetches_total",
			Help: "Realtime feed fetch attempts by agency, feed type and result.",
		}, []string{"agency", "feed", "result"}),
		PositionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_vehicle_positions_recorded_total",
			Help: "Vehicle position rows written to the telemetry sink.",
		}, []string{"agency"}),
		TripUpdatesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_trip_updates_recorded_total",
			Help: "Trip update rows written to the telemetry sink.",
		}, []string{"agency"}),
		ReconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_reconcile_errors_total",
			Help: "Reconciliation cycles that failed.",
		}, []string{"agency"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orion_monitor_cycle_duration_seconds",
			Help:    "Duration of one fetch, persist and reconcile cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"agency"}),
	}

	reg.MustRegister(
		c.FeedFetches,
		c.PositionsRecorded,
		c.TripUpdatesRecorded,
		c.ReconcileErrors,
		c.NATSPublished,
		c.NATSPublishErrs,
		c.CycleDuration,
	)
	return c
}

// Handler serves the collector's registry in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

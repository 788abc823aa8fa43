// Package metrics exposes the node's Prometheus instrumentation. Grounded on
// the teacher's HealthLogger (core/system_health_logging.go): a struct of
// registered collectors plus a dedicated registry, instead of the default
// global one, so a test process can spin up more than one node without
// collector-already-registered panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the node's Prometheus collector set, covering the three
// pipeline stages, the file GC loop, and the cost engine (spec §4.1, §4.8,
// §4.9).
type Metrics struct {
	registry *prometheus.Registry

	MessagesAdmitted  prometheus.Counter
	MessagesRejected  *prometheus.CounterVec
	MessagesProcessed prometheus.Counter
	FetchRetries      prometheus.Counter
	PendingQueueDepth prometheus.Gauge

	GCPinsDeleted  prometheus.Counter
	GCFilesDeleted prometheus.Counter

	CostsMaterialized prometheus.Counter
	HoldBalanceDenied prometheus.Counter
}

// New builds a Metrics bound to its own Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MessagesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_messages_admitted_total",
			Help: "Total number of messages admitted into the pending queue.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccnode_messages_rejected_total",
			Help: "Total number of messages rejected, by error kind.",
		}, []string{"kind"}),
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_messages_processed_total",
			Help: "Total number of messages committed to the Message table.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_fetch_retries_total",
			Help: "Total number of transient fetch failures that were retried.",
		}),
		PendingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccnode_pending_queue_depth",
			Help: "Current number of rows in the PendingMessage table.",
		}),
		GCPinsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_gc_pins_deleted_total",
			Help: "Total number of expired grace-period pins deleted by the GC loop.",
		}),
		GCFilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_gc_files_deleted_total",
			Help: "Total number of StoredFile rows reclaimed by the GC loop.",
		}),
		CostsMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_costs_materialized_total",
			Help: "Total number of INSTANCE/PROGRAM messages whose AccountCosts rows were materialized.",
		}),
		HoldBalanceDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccnode_hold_balance_denied_total",
			Help: "Total number of VM creations denied by the hold balance check.",
		}),
	}
	reg.MustRegister(
		m.MessagesAdmitted,
		m.MessagesRejected,
		m.MessagesProcessed,
		m.FetchRetries,
		m.PendingQueueDepth,
		m.GCPinsDeleted,
		m.GCFilesDeleted,
		m.CostsMaterialized,
		m.HoldBalanceDenied,
	)
	return m
}

// Handler returns the HTTP handler serving this Metrics' registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

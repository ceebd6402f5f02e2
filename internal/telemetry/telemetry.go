// Package telemetry holds the Prometheus metrics the logins store and its
// sync reconciler report. Metrics are a pure side channel: nothing here
// feeds back into store or reconciler decisions.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors. The zero value is not usable;
// construct with New.
type Metrics struct {
	registry *prometheus.Registry

	storeOperationsTotal *prometheus.CounterVec
	syncRecordsTotal     *prometheus.CounterVec
	syncDuration         prometheus.Histogram
	updatePlanSize       *prometheus.GaugeVec
}

const namespace = "logins"

// New builds a Metrics instance with its own registry, so embedding
// applications can mount Handler() without colliding with their own
// default-registry metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		storeOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total Store method calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		syncRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "records_total",
				Help:      "Total reconciled sync records by outcome.",
			},
			[]string{"outcome"},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Duration of one reconcile pass (plan building, not plan execution).",
				Buckets:   prometheus.DefBuckets,
			},
		),
		updatePlanSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "update_plan_size",
				Help:      "Size of the last executed update plan, by batch.",
			},
			[]string{"batch"},
		),
	}

	registry.MustRegister(
		m.storeOperationsTotal,
		m.syncRecordsTotal,
		m.syncDuration,
		m.updatePlanSize,
	)
	return m
}

// Handler exposes the registry for an admin HTTP server to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStoreOperation increments the per-call counter. result is typically
// "ok" or "error".
func (m *Metrics) RecordStoreOperation(op, result string) {
	m.storeOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordSyncOutcome increments the per-record reconciliation outcome
// counter. outcome is one of: tombstone_deleted, mirror_inserted,
// mirror_updated, two_way_merged, three_way_merged, dupe_adopted, malformed.
func (m *Metrics) RecordSyncOutcome(outcome string) {
	m.syncRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSyncDuration records the wall time of one sync pass. Its caller,
// Store.Reconcile, reports the time spent building the update plan; plan
// execution is not included.
func (m *Metrics) ObserveSyncDuration(d time.Duration) {
	m.syncDuration.Observe(d.Seconds())
}

// SetUpdatePlanSize records the batch sizes of the most recently executed
// update plan.
func (m *Metrics) SetUpdatePlanSize(deleteLocal, deleteMirror, mirrorInserts, mirrorUpdates, localUpdates int) {
	m.updatePlanSize.WithLabelValues("delete_local").Set(float64(deleteLocal))
	m.updatePlanSize.WithLabelValues("delete_mirror").Set(float64(deleteMirror))
	m.updatePlanSize.WithLabelValues("mirror_inserts").Set(float64(mirrorInserts))
	m.updatePlanSize.WithLabelValues("mirror_updates").Set(float64(mirrorUpdates))
	m.updatePlanSize.WithLabelValues("local_updates").Set(float64(localUpdates))
}

package brigade

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the sync engine. A nil
// *Metrics is valid and records nothing, so embedding callers never need to
// guard their call sites.
type Metrics struct {
	cycles     *prometheus.CounterVec
	records    *prometheus.CounterVec
	pending    prometheus.Gauge
	failed     prometheus.Gauge
	lastSynced prometheus.Gauge
}

// NewMetrics registers the sync instruments with reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brigade",
			Name:      "sync_cycles_total",
			Help:      "Sync phases executed, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brigade",
			Name:      "sync_records_total",
			Help:      "Per-record push outcomes, by result status.",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brigade",
			Name:      "queue_pending",
			Help:      "Mutations waiting to be pushed.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brigade",
			Name:      "queue_failed",
			Help:      "Mutations in FAILED state.",
		}),
		lastSynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brigade",
			Name:      "last_synced_timestamp_seconds",
			Help:      "Unix time of the last completed pull.",
		}),
	}
	reg.MustRegister(m.cycles, m.records, m.pending, m.failed, m.lastSynced)
	return m
}

func (m *Metrics) CycleDone(phase, outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) RecordOutcome(status ResultStatus, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) SetQueueDepth(counts QueueCounts) {
	if m == nil {
		return
	}
	m.pending.Set(float64(counts.Pending))
	m.failed.Set(float64(counts.Failed))
}

func (m *Metrics) SetLastSynced(unixSeconds int64) {
	if m == nil {
		return
	}
	m.lastSynced.Set(float64(unixSeconds))
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for handover apply and queue sync.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	// Handover outcomes by source ("api", "batch", "kafka") and result ("accepted", "duplicate", reason)
	HandoverOutcome *prometheus.CounterVec

	ApplyLatency prometheus.Histogram

	// Sync passes by outcome: SUCCESS, PARTIAL, FAILED, EMPTY
	SyncOutcome *prometheus.CounterVec

	// Events left in the offline queue after the last sync pass
	QueueDepth prometheus.Gauge

	CacheLookups *prometheus.CounterVec

	RateLimited prometheus.Counter
}

// New registers the metrics on reg. Pass prometheus.DefaultRegisterer in binaries
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HandoverOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_handover_outcomes_total",
			Help: "Handover events processed by the store, by source and result",
		}, []string{"source", "result"}),

		ApplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "custody_handover_apply_duration_seconds",
			Help:    "Duration of one handover apply transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		SyncOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_sync_passes_total",
			Help: "Offline queue sync passes by outcome",
		}, []string{"outcome"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "custody_offline_queue_depth",
			Help: "Handover events waiting in the offline queue",
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_packet_cache_lookups_total",
			Help: "Packet snapshot cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss"

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "custody_sync_rate_limited_total",
			Help: "Batch sync requests rejected by the per-device rate limit",
		}),
	}
}

func (m *Metrics) IncHandover(source, result string) {
	if m != nil {
		m.HandoverOutcome.WithLabelValues(source, result).Inc()
	}
}

func (m *Metrics) ObserveApply(d time.Duration) {
	if m != nil {
		m.ApplyLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSync(outcome string) {
	if m != nil {
		m.SyncOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

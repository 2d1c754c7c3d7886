package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for finished streams.
const (
	OutcomeDone    = "done"    // completion flag observed
	OutcomeEOF     = "eof"     // upstream closed without a completion flag
	OutcomeError   = "error"   // upstream read failed
	OutcomeStalled = "stalled" // stall timeout fired
	OutcomeAborted = "aborted" // cancelled by ID
)

// Metrics holds the Prometheus collectors of the streaming core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	active   prometheus.Gauge
	relayed  prometheus.Counter
	dropped  prometheus.Counter
	skipped  prometheus.Counter
}

// NewMetrics registers the stream collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ollamarelay",
			Name:      "streams_started_total",
			Help:      "Streaming tasks started.",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ollamarelay",
			Name:      "streams_finished_total",
			Help:      "Streaming tasks finished, by outcome.",
		}, []string{"outcome"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ollamarelay",
			Name:      "streams_active",
			Help:      "Streaming tasks currently reading upstream.",
		}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ollamarelay",
			Name:      "tokens_relayed_total",
			Help:      "Tokens forwarded to consumers.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ollamarelay",
			Name:      "tokens_dropped_total",
			Help:      "Tokens dropped because the task buffer was full or the task was aborted.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ollamarelay",
			Name:      "records_skipped_total",
			Help:      "Malformed upstream lines skipped by the lenient decoder.",
		}),
	}
}

func (m *Metrics) streamStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) streamStopped() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) streamFinished(outcome string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) tokenDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) recordsSkipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.skipped.Add(float64(n))
}

func (m *Metrics) tokensRelayed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.relayed.Add(float64(n))
}

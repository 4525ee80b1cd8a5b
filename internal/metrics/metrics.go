// Package metrics exposes Prometheus collectors for the scheduler. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskcal"

// Metrics groups the scheduler's collectors.
type Metrics struct {
	sessionsCreated     prometheus.Counter
	sessionsPurged      *prometheus.CounterVec
	sessionsEvicted     prometheus.Counter
	sessionsLive        prometheus.Gauge
	extractions         *prometheus.CounterVec
	extractionDuration  prometheus.Histogram
	clarificationRounds prometheus.Histogram
	updates             *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests free of duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created.",
		}),
		sessionsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "purged_total",
			Help:      "Sessions purged, by reason.",
		}, []string{"reason"}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "evicted_total",
			Help:      "Stale sessions evicted under capacity pressure.",
		}),
		sessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "live",
			Help:      "Live sessions.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "results_total",
			Help:      "Extraction results, by outcome.",
		}, []string{"outcome"}),
		extractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "duration_seconds",
			Help:      "Wall time of one extraction including retries and fallback.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		clarificationRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "clarification_rounds",
			Help:      "Clarification rounds needed before a batch reached display.",
			Buckets:   []float64{0, 1, 2, 3, 4},
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Inbound transport updates, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.sessionsCreated,
		m.sessionsPurged,
		m.sessionsEvicted,
		m.sessionsLive,
		m.extractions,
		m.extractionDuration,
		m.clarificationRounds,
		m.updates,
	)
	return m
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionPurged(reason string) {
	if m == nil {
		return
	}
	m.sessionsPurged.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionsEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsEvicted.Add(float64(n))
}

func (m *Metrics) SetLive(n int) {
	if m == nil {
		return
	}
	m.sessionsLive.Set(float64(n))
}

// Extraction records one extraction outcome and its duration.
func (m *Metrics) Extraction(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome).Inc()
	m.extractionDuration.Observe(d.Seconds())
}

func (m *Metrics) ClarificationRounds(n int) {
	if m == nil {
		return
	}
	m.clarificationRounds.Observe(float64(n))
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

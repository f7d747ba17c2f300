package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bryan-buckman/instarelay/internal/model"
)

// Metrics holds the relay engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	relayed        *prometheus.CounterVec
	relayFailures  *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	accountErrors  *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	cyclesInFlight prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instarelay_relayed_total",
				Help: "Content items delivered to a channel",
			},
			[]string{"kind"},
		),
		relayFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instarelay_relay_failures_total",
				Help: "Content items that could not be delivered",
			},
			[]string{"kind"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instarelay_fallbacks_total",
				Help: "Media deliveries that degraded to text",
			},
			[]string{"reason"},
		),
		accountErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instarelay_account_errors_total",
				Help: "Per-account failures inside a monitoring pass",
			},
			[]string{"pass"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "instarelay_cycle_duration_seconds",
				Help:    "Wall-clock duration of monitoring cycles",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		cyclesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "instarelay_cycles_in_flight",
				Help: "Monitoring cycles currently running",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.relayed,
		m.relayFailures,
		m.fallbacks,
		m.accountErrors,
		m.cycleDuration,
		m.cyclesInFlight,
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Fallback counts a media-to-text degradation.
func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) relayDone(kind model.ContentKind, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.relayFailures.WithLabelValues(string(kind)).Inc()
		return
	}
	m.relayed.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) accountError(pass string) {
	if m == nil {
		return
	}
	m.accountErrors.WithLabelValues(pass).Inc()
}

func (m *Metrics) cycleStarted() {
	if m == nil {
		return
	}
	m.cyclesInFlight.Inc()
}

func (m *Metrics) cycleFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.cyclesInFlight.Dec()
	m.cycleDuration.Observe(d.Seconds())
}

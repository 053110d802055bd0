// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/javajoker/checkout-backend/internal/cache"
)

// Metrics holds the checkout counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Sessions        *prometheus.CounterVec
	Signals         *prometheus.CounterVec
	Finalizations   *prometheus.CounterVec
	LatePayments    prometheus.Counter
	Classifications *prometheus.CounterVec
	SweepRuns       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Payment sessions requested, by result (created, reused, zero_total, failed, rejected).",
		}, []string{"result"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_signals_total",
			Help: "Completion signals received, by source and outcome (handled, ignored, duplicate, unverified, error).",
		}, []string{"source", "outcome"}),
		Finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_finalizations_total",
			Help: "Finalize attempts, by source and result (applied, noop, late).",
		}, []string{"source", "result"}),
		LatePayments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_late_payments_total",
			Help: "Success signals for intents already closed as abandoned or failed.",
		}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_classifications_total",
			Help: "Pending intents closed without payment, by source and resulting status.",
		}, []string{"source", "status"}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_sweep_runs_total",
			Help: "Reconciliation sweeps, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.Sessions, m.Signals, m.Finalizations, m.LatePayments, m.Classifications, m.SweepRuns)
	}
	return m
}

func (m *Metrics) Session(result string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(result).Inc()
}

func (m *Metrics) Signal(source, outcome string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Finalization(source, result string) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(source, result).Inc()
	if result == "late" {
		m.LatePayments.Inc()
	}
}

func (m *Metrics) Classification(source, status string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(source, status).Inc()
}

func (m *Metrics) Sweep(result string) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
}

// RegisterCache exports an entity cache's counters, read at scrape time.
func RegisterCache(reg prometheus.Registerer, name string, stats func() cache.Stats) {
	labels := prometheus.Labels{"cache": name}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "checkout_cache_entries",
			Help:        "Entries currently held by an entity cache.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "checkout_cache_hits_total",
			Help:        "Entity cache lookups served from memory.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "checkout_cache_misses_total",
			Help:        "Entity cache lookups that went to the store.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "checkout_cache_evictions_total",
			Help:        "Entries evicted to stay within the size bound.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Evictions) }),
	)
}

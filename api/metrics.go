package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/incentive-engine/engine"
)

// Metrics implements engine.Observer with Prometheus counters on a private
// registry, so tests can build as many as they like.
type Metrics struct {
	Registry    *prometheus.Registry
	payouts     *prometheus.CounterVec
	amounts     *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_payouts_total",
			Help: "Payout calculations recorded, by outcome.",
		}, []string{"outcome"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_payout_amount_total",
			Help: "Sum of recorded payout amounts. Corrections count under direction=\"reversal\".",
		}, []string{"direction"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_transitions_total",
			Help: "Scheme version state transitions, by target state.",
		}, []string{"to"}),
	}
	m.Registry.MustRegister(
		m.payouts, m.amounts, m.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Transitioned(ref engine.SchemeRef, from, to engine.State) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) PayoutRecorded(r engine.PayoutResult) {
	m.payouts.WithLabelValues(string(r.Outcome)).Inc()
	direction := "payout"
	if r.Reverses != "" {
		direction = "reversal"
	}
	// Counters only go up; a reversal's negative total is counted by size.
	amount, _ := r.Total.Abs().Float64()
	m.amounts.WithLabelValues(direction).Add(amount)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Package metrics exposes sign-in flow counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otp-signin/signin"
)

// Metrics implements signin.Observer.
type Metrics struct {
	registry     *prometheus.Registry
	emailTotal   *prometheus.CounterVec
	otpTotal     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	actionTiming *prometheus.HistogramVec
}

var _ signin.Observer = (*Metrics)(nil)

// New registers the sign-in collectors, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		emailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_email_submissions_total",
			Help: "Email form submissions by outcome.",
		}, []string{"outcome"}),
		otpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_otp_submissions_total",
			Help: "Code form submissions by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_phase_transitions_total",
			Help: "Phase changes of sign-in flows.",
		}, []string{"from", "to"}),
		actionTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signin_action_duration_seconds",
			Help:    "Latency of the remote email-send and verify actions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		m.emailTotal,
		m.otpTotal,
		m.transitions,
		m.actionTiming,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EmailSubmission(outcome string, took time.Duration) {
	m.emailTotal.WithLabelValues(outcome).Inc()
	if outcome != signin.OutcomeRejected {
		m.actionTiming.WithLabelValues("send_code").Observe(took.Seconds())
	}
}

func (m *Metrics) OtpSubmission(outcome string, took time.Duration) {
	m.otpTotal.WithLabelValues(outcome).Inc()
	if outcome != signin.OutcomeRejected {
		m.actionTiming.WithLabelValues("verify").Observe(took.Seconds())
	}
}

func (m *Metrics) PhaseChanged(from, to signin.Phase) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

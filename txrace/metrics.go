package txrace

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrFailedToRegisterMetrics = errors.New("failed to register race metrics")

// Metrics are the prometheus collectors updated while racing
type Metrics struct {
	submissions     *prometheus.CounterVec
	receiptPolls    *prometheus.CounterVec
	connectFailures prometheus.Counter
	outcomes        *prometheus.CounterVec
	fundingResults  *prometheus.CounterVec
	activeEndpoints prometheus.Gauge

	registerer prometheus.Registerer
}

// NewMetrics creates the race collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txracer_submissions_total",
			Help: "Raw transaction submissions by payload role and result",
		}, []string{"role", "result"}),
		receiptPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txracer_receipt_polls_total",
			Help: "Receipt lookups performed by confirmation watchers",
		}, []string{"result"}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txracer_connect_failures_total",
			Help: "Endpoints excluded because they could not be connected",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txracer_race_outcomes_total",
			Help: "Finished races by outcome",
		}, []string{"status"}),
		fundingResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txracer_funding_results_total",
			Help: "Auxiliary funding actions by result",
		}, []string{"result"}),
		activeEndpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "txracer_active_endpoints",
			Help: "Endpoints currently racing",
		}),
		registerer: reg,
	}
	if reg == nil {
		return m, nil
	}
	if err := m.register(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNopMetrics returns unregistered collectors
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.submissions,
		m.receiptPolls,
		m.connectFailures,
		m.outcomes,
		m.fundingResults,
		m.activeEndpoints,
	}
}

func (m *Metrics) register() error {
	for _, c := range m.collectors() {
		if err := m.registerer.Register(c); err != nil {
			m.Unregister()
			return errors.Wrap(ErrFailedToRegisterMetrics, err.Error())
		}
	}
	return nil
}

func (m *Metrics) Unregister() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.collectors() {
		_ = m.registerer.Unregister(c)
	}
}

func (m *Metrics) submission(role Role, result string) {
	m.submissions.WithLabelValues(string(role), result).Inc()
}

func (m *Metrics) receiptPoll(result string) {
	m.receiptPolls.WithLabelValues(result).Inc()
}

func (m *Metrics) connectFailure() {
	m.connectFailures.Inc()
}

func (m *Metrics) outcome(status OutcomeStatus) {
	m.outcomes.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) funding(result string) {
	m.fundingResults.WithLabelValues(result).Inc()
}

func (m *Metrics) endpointActive(delta float64) {
	m.activeEndpoints.Add(delta)
}

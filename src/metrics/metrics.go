// Package metrics exports the prometheus collectors of a ledgerd node. They are
// observational only: nothing in the node reads them back.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics used for prometheus. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	LastClosed      prometheus.Gauge
	LedgerAge       prometheus.Gauge
	BufferSize      prometheus.Gauge
	CatchingUp      prometheus.Gauge
	Halted          prometheus.Gauge
	LedgersClosed   prometheus.Counter
	ValuesReceived  *prometheus.CounterVec
	TxResults       *prometheus.CounterVec
	Catchups        *prometheus.CounterVec
	CloseDuration   prometheus.Histogram
	ApplyDuration   prometheus.Histogram
	CatchupDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LastClosed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgerd_last_closed_ledger",
				Help: "Sequence number of the last closed ledger.",
			},
		),
		LedgerAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgerd_ledger_age_seconds",
				Help: "Seconds since the last ledger was closed locally.",
			},
		),
		BufferSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgerd_buffered_values",
				Help: "Finalized values waiting for their predecessors.",
			},
		),
		CatchingUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgerd_catching_up",
				Help: "1 while a catchup is in progress.",
			},
		),
		Halted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgerd_halted",
				Help: "1 once the node stopped closing ledgers after a storage failure.",
			},
		),
		LedgersClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerd_ledgers_closed_total",
				Help: "How many ledgers have been closed locally since start.",
			},
		),
		ValuesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_values_received_total",
				Help: "Finalized values received, by classification.",
			},
			[]string{"class"},
		),
		TxResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_tx_results_total",
				Help: "Applied transactions, by result code.",
			},
			[]string{"code"},
		),
		Catchups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerd_catchups_total",
				Help: "Finished catchups, by mode and verification status.",
			},
			[]string{"mode", "status"},
		),
		CloseDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledgerd_close_duration_seconds",
				Help:    "Time spent computing a ledger close.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		ApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledgerd_apply_duration_seconds",
				Help:    "Time spent closing and committing a ledger.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		CatchupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledgerd_catchup_duration_seconds",
				Help:    "Time from the start of a catchup to its completion.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}
	m.registry.MustRegister(
		m.LastClosed, m.LedgerAge, m.BufferSize, m.CatchingUp, m.Halted,
		m.LedgersClosed, m.ValuesReceived, m.TxResults, m.Catchups,
		m.CloseDuration, m.ApplyDuration, m.CatchupDuration,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LedgerClosed records a ledger closed locally.
func (m *Metrics) LedgerClosed(seq uint32, closing, total time.Duration, codes []string) {
	if m == nil {
		return
	}
	m.LastClosed.Set(float64(seq))
	m.LedgerAge.Set(0)
	m.LedgersClosed.Inc()
	m.CloseDuration.Observe(closing.Seconds())
	m.ApplyDuration.Observe(total.Seconds())
	for _, c := range codes {
		m.TxResults.WithLabelValues(c).Inc()
	}
}

// ValueReceived records the classification of an incoming value.
func (m *Metrics) ValueReceived(class string) {
	if m == nil {
		return
	}
	m.ValuesReceived.WithLabelValues(class).Inc()
}

// Buffered sets the size of the buffer of values ahead of the ledger.
func (m *Metrics) Buffered(n int) {
	if m == nil {
		return
	}
	m.BufferSize.Set(float64(n))
}

// CatchupStarted records the start of a catchup.
func (m *Metrics) CatchupStarted() {
	if m == nil {
		return
	}
	m.CatchingUp.Set(1)
}

// CatchupFinished records the outcome of a catchup job. active tells whether
// the node is still catching up, which is the case after a failure.
func (m *Metrics) CatchupFinished(mode, status string, d time.Duration, active bool) {
	if m == nil {
		return
	}
	m.Catchups.WithLabelValues(mode, status).Inc()
	m.CatchupDuration.Observe(d.Seconds())
	if !active {
		m.CatchingUp.Set(0)
	}
}

// CatchupAborted records an operator abort.
func (m *Metrics) CatchupAborted() {
	if m == nil {
		return
	}
	m.CatchingUp.Set(0)
}

// SetLastClosed sets the last closed ledger after a catchup.
func (m *Metrics) SetLastClosed(seq uint32) {
	if m == nil {
		return
	}
	m.LastClosed.Set(float64(seq))
}

// SetLedgerAge sets the age of the last closed ledger.
func (m *Metrics) SetLedgerAge(d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerAge.Set(d.Seconds())
}

// SetHalted records a storage failure.
func (m *Metrics) SetHalted() {
	if m == nil {
		return
	}
	m.Halted.Set(1)
}

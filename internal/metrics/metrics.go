// Package metrics holds the Prometheus collectors for ledger operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "piggybank"

// Ledger records ledger operation outcomes. A nil *Ledger is a no-op.
type Ledger struct {
	reg        *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Ledger {
	m := &Ledger{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations by name and result.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Duration of ledger operations including storage.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"op"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "tokens_total",
				Help:      "Tokens moved by kind: minted, withdrawn, penalty, reward.",
			},
			[]string{"kind"},
		),
	}
	m.reg.MustRegister(
		m.operations,
		m.duration,
		m.tokens,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Ledger) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Ledger) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Observe records one operation.
func (m *Ledger) Observe(op string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(took.Seconds())
}

// Token kinds.
const (
	Minted    = "minted"
	Withdrawn = "withdrawn"
	Penalty   = "penalty"
	Reward    = "reward"
)

// AddTokens counts n tokens of kind.
func (m *Ledger) AddTokens(kind string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.tokens.WithLabelValues(kind).Add(float64(n))
}

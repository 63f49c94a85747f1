// Package vaultmetrics provides Prometheus instrumentation for pkg/vault:
// commit latency/outcome, open-handle counts and the allocator watermark.
package vaultmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for the handle gauge.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// Label values for the commit counter's status dimension.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the Prometheus collectors pkg/vault reports through. A nil
// *Metrics is valid and every method on it is a no-op, so callers can wire
// metrics in optionally without branching at each call site.
type Metrics struct {
	commitTotal    *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	handlesActive  *prometheus.GaugeVec
	allocatorWatermark prometheus.Gauge

	registered bool
}

// NewMetrics creates vault metrics and registers them with registry if
// non-nil. A nil registry is useful for tests that want live collectors
// without exporting them anywhere.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		commitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittovault",
				Subsystem: "txn",
				Name:      "commit_total",
				Help:      "Total number of transaction commit attempts by operation and outcome",
			},
			[]string{"op", "status"},
		),
		commitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dittovault",
				Subsystem: "txn",
				Name:      "commit_duration_seconds",
				Help:      "Time spent committing a transaction, by operation",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op"},
		),
		handlesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dittovault",
				Subsystem: "vault",
				Name:      "open_handles",
				Help:      "Number of currently open file handles by mode",
			},
			[]string{"mode"},
		),
		allocatorWatermark: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittovault",
				Subsystem: "volume",
				Name:      "allocator_watermark_blocks",
				Help:      "Allocator block watermark as of the last checkpoint",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.commitTotal,
			m.commitDuration,
			m.handlesActive,
			m.allocatorWatermark,
		)
		m.registered = true
	}

	return m
}

// ObserveCommit records one transaction commit attempt for op, along with
// how long it took and whether it succeeded.
func (m *Metrics) ObserveCommit(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.commitTotal.WithLabelValues(op, status).Inc()
	m.commitDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHandleOpen increments the open-handle gauge for mode.
func (m *Metrics) RecordHandleOpen(mode string) {
	if m == nil {
		return
	}
	m.handlesActive.WithLabelValues(mode).Inc()
}

// RecordHandleClose decrements the open-handle gauge for mode.
func (m *Metrics) RecordHandleClose(mode string) {
	if m == nil {
		return
	}
	m.handlesActive.WithLabelValues(mode).Dec()
}

// SetAllocatorWatermark reports the allocator's current block watermark.
func (m *Metrics) SetAllocatorWatermark(blocks uint64) {
	if m == nil {
		return
	}
	m.allocatorWatermark.Set(float64(blocks))
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.commitTotal.Describe(ch)
	m.commitDuration.Describe(ch)
	m.handlesActive.Describe(ch)
	ch <- m.allocatorWatermark.Desc()
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.commitTotal.Collect(ch)
	m.commitDuration.Collect(ch)
	m.handlesActive.Collect(ch)
	ch <- m.allocatorWatermark
}

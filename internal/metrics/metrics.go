// Package metrics exposes transfer activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ligustah/gulp/pkg/resume"
)

// Metrics tracks transfer metrics. All metrics use the gulp_ prefix.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TransfersTotal counts finished transfers by result
	TransfersTotal *prometheus.CounterVec

	// TransferDuration tracks how long transfers take end to end
	TransferDuration prometheus.Histogram

	// ActiveTransfers tracks transfers currently running
	ActiveTransfers prometheus.Gauge

	// BytesTotal counts window bytes delivered to consumers
	BytesTotal prometheus.Counter

	// RetriesTotal counts scheduled retries by reason
	RetriesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics with reg.
// Panics if registration fails.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gulp_transfers_total",
				Help: "Total finished transfers by result",
			},
			[]string{"result"}, // "completed", "cancelled", "exhausted", "error"
		),
		TransferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gulp_transfer_duration_seconds",
				Help:    "Transfer duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
			},
		),
		ActiveTransfers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gulp_active_transfers",
				Help: "Current number of running transfers",
			},
		),
		BytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gulp_bytes_total",
				Help: "Total bytes delivered",
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gulp_retries_total",
				Help: "Total scheduled retries by reason",
			},
			[]string{"reason"}, // "idle", "inconsistent", "status", "pre", "transport"
		),
	}

	reg.MustRegister(
		m.TransfersTotal,
		m.TransferDuration,
		m.ActiveTransfers,
		m.BytesTotal,
		m.RetriesTotal,
	)

	return m
}

// TransferStarted marks a transfer as running.
func (m *Metrics) TransferStarted() {
	if m == nil {
		return
	}
	m.ActiveTransfers.Inc()
}

// TransferFinished records the outcome of a transfer started with
// TransferStarted.
func (m *Metrics) TransferFinished(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTransfers.Dec()
	m.TransfersTotal.WithLabelValues(Result(err)).Inc()
	m.TransferDuration.Observe(d.Seconds())
}

// Observer returns an observer recording one transfer's progress and
// retries. Use a fresh observer per transfer.
func (m *Metrics) Observer() resume.Observer {
	return &observer{m: m}
}

type observer struct {
	m    *Metrics
	last int64
}

func (o *observer) OnRequest(*http.Request)   {}
func (o *observer) OnResponse(*http.Response) {}

func (o *observer) OnProgress(p resume.Progress) {
	if o.m == nil {
		return
	}
	if d := p.Transferred - o.last; d > 0 {
		o.m.BytesTotal.Add(float64(d))
		o.last = p.Transferred
	}
}

func (o *observer) OnRetry(info resume.RetryInfo) {
	if o.m == nil {
		return
	}
	o.m.RetriesTotal.WithLabelValues(Reason(info.Err)).Inc()
}

// Result names the outcome of a transfer for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, resume.ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, resume.ErrExhausted):
		return "exhausted"
	default:
		return "error"
	}
}

// Reason classifies why an attempt failed for the reason label.
func Reason(err error) string {
	var se *resume.StatusError
	switch {
	case errors.Is(err, resume.ErrIdle):
		return "idle"
	case errors.Is(err, resume.ErrInconsistent):
		return "inconsistent"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, resume.ErrPre):
		return "pre"
	default:
		return "transport"
	}
}

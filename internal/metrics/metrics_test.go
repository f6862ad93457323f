package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ligustah/gulp/pkg/resume"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics

	m.TransferStarted()
	m.TransferFinished(nil, time.Second)
	obs := m.Observer()
	obs.OnProgress(resume.Progress{Transferred: 10})
	obs.(resume.RetryObserver).OnRetry(resume.RetryInfo{Err: resume.ErrIdle})
}

func TestMetricsTransfers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TransferStarted()
	m.TransferStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveTransfers))

	m.TransferFinished(nil, time.Second)
	m.TransferFinished(resume.ErrCancelled, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveTransfers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransfersTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransfersTotal.WithLabelValues("cancelled")))
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	obs := m.Observer()
	obs.OnProgress(resume.Progress{Transferred: 0, Total: 26})
	obs.OnProgress(resume.Progress{Transferred: 10, Total: 26})
	obs.OnProgress(resume.Progress{Transferred: 26, Total: 26})
	assert.Equal(t, 26.0, testutil.ToFloat64(m.BytesTotal))

	ro := obs.(resume.RetryObserver)
	ro.OnRetry(resume.RetryInfo{Err: resume.ErrIdle})
	ro.OnRetry(resume.RetryInfo{Err: errors.New("connection reset")})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("transport")))
}

func TestReason(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{resume.ErrIdle, "idle"},
		{fmt.Errorf("%w: etag has changed", resume.ErrInconsistent), "inconsistent"},
		{&resume.StatusError{Code: 503}, "status"},
		{fmt.Errorf("%w: signer down", resume.ErrPre), "pre"},
		{errors.New("EOF"), "transport"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Reason(tt.err), "%v", tt.err)
	}
}

func TestResult(t *testing.T) {
	assert.Equal(t, "completed", Result(nil))
	assert.Equal(t, "cancelled", Result(resume.ErrCancelled))
	assert.Equal(t, "exhausted", Result(&resume.ExhaustedError{Last: resume.ErrIdle}))
	assert.Equal(t, "error", Result(errors.New("disk full")))
}

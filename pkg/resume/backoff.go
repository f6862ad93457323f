package resume

import (
	"math/rand/v2"
	"time"
)

// Backoff decides how long to wait before the given attempt.
// attempt starts at 1 for the first retry after a reset of the
// consecutive-failure counter. Returning false stops the transfer.
type Backoff interface {
	Delay(attempt int, s Snapshot) (time.Duration, bool)
}

// BackoffFunc adapts a plain function to the Backoff interface.
type BackoffFunc func(attempt int, s Snapshot) (time.Duration, bool)

// Delay calls f.
func (f BackoffFunc) Delay(attempt int, s Snapshot) (time.Duration, bool) {
	return f(attempt, s)
}

// DefaultBackoff waits 1s before the first retry and doubles every time:
// the 10th attempt waits 512s.
var DefaultBackoff Backoff = Exponential{Initial: time.Second}

// NoRetry stops after the first failure.
var NoRetry Backoff = BackoffFunc(func(int, Snapshot) (time.Duration, bool) {
	return 0, false
})

// Exponential doubles Initial for every attempt.
type Exponential struct {
	// Initial is the delay before attempt 1.
	Initial time.Duration

	// Max caps the delay. Zero means no cap.
	Max time.Duration

	// Jitter spreads the delay over [d*(1-Jitter), d*(1+Jitter)).
	// Zero disables jitter.
	Jitter float64
}

// Delay implements Backoff.
func (e Exponential) Delay(attempt int, _ Snapshot) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			d = e.Max
			break
		}
		// Overflow guard for very long unlimited transfers.
		if d <= 0 {
			d = time.Duration(1<<63 - 1)
			break
		}
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	if e.Jitter > 0 {
		d = time.Duration(float64(d) * (1 - e.Jitter + 2*e.Jitter*rand.Float64()))
	}
	return d, true
}

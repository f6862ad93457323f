package resume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 512 * time.Second},
	}

	for _, tt := range tests {
		d, ok := DefaultBackoff.Delay(tt.attempt, Snapshot{})
		assert.True(t, ok)
		assert.Equal(t, tt.expected, d, "attempt %d", tt.attempt)
	}
}

func TestExponentialMax(t *testing.T) {
	b := Exponential{Initial: 100 * time.Millisecond, Max: time.Second}

	d, _ := b.Delay(4, Snapshot{})
	assert.Equal(t, 800*time.Millisecond, d)

	d, _ = b.Delay(5, Snapshot{})
	assert.Equal(t, time.Second, d)

	d, _ = b.Delay(1000, Snapshot{})
	assert.Equal(t, time.Second, d)
}

func TestExponentialOverflow(t *testing.T) {
	d, ok := Exponential{Initial: time.Second}.Delay(200, Snapshot{})
	assert.True(t, ok)
	assert.Greater(t, d, time.Duration(0))
}

func TestExponentialJitter(t *testing.T) {
	b := Exponential{Initial: time.Second, Jitter: 0.5}
	for range 100 {
		d, _ := b.Delay(1, Snapshot{})
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestNoRetry(t *testing.T) {
	_, ok := NoRetry.Delay(1, Snapshot{})
	assert.False(t, ok)
}

func TestBackoffFunc(t *testing.T) {
	var got Snapshot
	b := BackoffFunc(func(attempt int, s Snapshot) (time.Duration, bool) {
		got = s
		return time.Duration(attempt) * time.Millisecond, attempt < 3
	})

	d, ok := b.Delay(2, Snapshot{Position: 7})
	assert.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, d)
	assert.Equal(t, int64(7), got.Position)

	_, ok = b.Delay(3, Snapshot{})
	assert.False(t, ok)
}

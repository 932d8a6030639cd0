package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyNextBackoffCapsAtMax(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       6,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}

	want := []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		200 * time.Millisecond,
	}
	for i, w := range want {
		got := p.NextBackoff(i + 1)
		assert.Equalf(t, w, got, "attempt %d", i+1)
	}
}

func TestRetryPolicyJitterStaysWithinHalfToFull(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	for i := 0; i < 50; i++ {
		d := p.NextBackoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestDefaultClassifierMatchesKnownTransientMessages(t *testing.T) {
	cases := []string{
		"connection timeout after 5s",
		"server temporarily unavailable",
		"resource busy, try again",
		"serialization failure detected",
		"deadlock detected, rolling back",
		"connection reset by peer",
		"write: broken pipe",
	}
	for _, msg := range cases {
		assert.True(t, DefaultClassifier(errors.New(msg)), msg)
	}
	assert.False(t, DefaultClassifier(errors.New("permission denied")))
	assert.False(t, DefaultClassifier(nil))
}

func TestDefaultClassifierRecognizesContextDeadlineExceeded(t *testing.T) {
	assert.True(t, DefaultClassifier(context.DeadlineExceeded))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	require.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.OnFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())

	require.NoError(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenProbeRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow()) // admits the half-open probe
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// a second concurrent caller is rejected while the probe is in flight
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.OnSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.OnFailure()
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"
)

// Classifier decides whether a sink error is worth retrying.
type Classifier func(error) bool

// retryableSubstrings are matched case-insensitively against err.Error()
// when the typed checks in DefaultClassifier don't recognize the error.
// Mirrors the transient-failure vocabulary a production store driver
// reports: connection churn, lock contention, and serialization conflicts.
var retryableSubstrings = []string{
	"timeout",
	"temporarily unavailable",
	"busy",
	"serialization failure",
	"deadlock detected",
	"connection reset",
	"broken pipe",
}

// DefaultClassifier prefers a typed check (net.Error, context deadline)
// and falls back to substring matching on the error's message for errors
// a sink implementation didn't wrap in a recognizable type.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryPolicy computes exponential backoff with an optional cap and
// jitter, and classifies which sink errors are worth retrying at all.
//
// Grounded on the backoff formula in cmd/etl/main.go's writeWithRetry:
// base<<attempt capped at MaxBackoff, then a uniform jitter multiplier
// applied on top rather than added, so the jittered delay never exceeds
// the capped delay.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
	IsRetryable       Classifier
}

// DefaultRetryPolicy returns the policy used when a coordinator config
// leaves retry fields unset: 3 attempts, 100ms initial backoff doubling
// up to 30s, with jitter and the default classifier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		IsRetryable:       DefaultClassifier,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy().InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy().MaxBackoff
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = DefaultRetryPolicy().BackoffMultiplier
	}
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultClassifier
	}
	return p
}

// NextBackoff returns the delay to wait before attempt number `attempt`
// (1-indexed: attempt 1 is the delay before the first retry, i.e. after
// the initial try fails). The unjittered curve is
// InitialBackoff * BackoffMultiplier^(attempt-1), capped at MaxBackoff.
// With Jitter set, the result is scaled by a uniform [0.5, 1.0) factor so
// retries never line up in lockstep across workers.
func (p RetryPolicy) NextBackoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffMultiplier
		if delay >= float64(p.MaxBackoff) {
			delay = float64(p.MaxBackoff)
			break
		}
	}
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

// Retryable reports whether err should be retried under this policy.
func (p RetryPolicy) Retryable(err error) bool {
	p = p.withDefaults()
	return p.IsRetryable(err)
}

// CircuitState is the wire/metric representation of a CircuitBreaker's
// state machine position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker trips after FailureThreshold consecutive sink failures,
// rejecting further attempts with ErrCircuitOpen until HalfOpenAfter has
// elapsed, at which point a single probe attempt is admitted. The probe's
// outcome decides whether the breaker closes again or re-opens.
//
// Grounded on the state-machine shape in
// other_examples/23c43b3f_Azure-containerization-assist__...docker_retry.go
// (per-operation CircuitBreaker alongside a RetryPolicy), with transition
// semantics taken from original_source's test_circuit_breaker.py since no
// Go or Python source for the breaker itself was retained.
type CircuitBreaker struct {
	FailureThreshold int
	HalfOpenAfter    time.Duration

	mu           sync.Mutex
	state        CircuitState
	failures     int
	openedAt     time.Time
	probeInFlight bool
}

// NewCircuitBreaker constructs a closed breaker with the given threshold
// and half-open delay.
func NewCircuitBreaker(failureThreshold int, halfOpenAfter time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		HalfOpenAfter:    halfOpenAfter,
		state:            CircuitClosed,
	}
}

// Allow reports whether a call should proceed. Called once per attempt,
// immediately before invoking the sink. In the half_open state, exactly
// one caller at a time is admitted as the probe; concurrent callers are
// rejected until that probe resolves via OnSuccess/OnFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.HalfOpenAfter {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probeInFlight = true
		return nil
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// OnSuccess records a successful attempt, closing the breaker if it was
// half-open and resetting the consecutive-failure counter.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probeInFlight = false
	cb.state = CircuitClosed
}

// OnFailure records a failed attempt, tripping the breaker open once
// FailureThreshold consecutive failures accumulate, or immediately
// re-opening it if the half-open probe itself failed.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeInFlight = false
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.FailureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = time.Now()
		}
	}
}

// State returns the breaker's current state without performing the lazy
// open->half_open transition Allow performs; a health snapshot can
// legitimately report "open" a moment after HalfOpenAfter has elapsed, if
// nothing has called Allow yet.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

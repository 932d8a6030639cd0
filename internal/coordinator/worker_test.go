package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	batches  [][]int
	failN    int // fail the first failN calls
	calls    int
	errToUse error
}

func (s *recordingSink) Write(_ context.Context, batch []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		if s.errToUse != nil {
			return s.errToUse
		}
		return errors.New("temporarily unavailable")
	}
	cp := append([]int(nil), batch...)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) Batches() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int(nil), s.batches...)
}

func TestSinkWorkerFlushesOnBatchSize(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{}
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 2, time.Hour, DefaultRetryPolicy(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))

	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, sink.Batches()[0])

	cancel()
	<-done
}

func TestSinkWorkerReportsBatchResultOnSuccessAndDLQ(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{failN: 1, errToUse: errors.New("permission denied")}
	dlq := NewDeadLetterQueue[int](filepath.Join(t.TempDir(), "dlq.ndjson"))

	var mu sync.Mutex
	var results []BatchResult
	onResult := func(r BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 1, time.Hour, DefaultRetryPolicy(), nil, dlq, onResult)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 3))
	require.NoError(t, q.Put(ctx, 4))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, results[0].Size)
	assert.Error(t, results[0].Err, "a non-retryable failure reports a non-nil Err")
	assert.Equal(t, 1, results[1].Size)
	assert.NoError(t, results[1].Err, "a successful batch reports no error")

	cancel()
	<-done
}

func TestSinkWorkerFlushesOnTimer(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{}
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 100, 20*time.Millisecond, DefaultRetryPolicy(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 42))

	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{42}, sink.Batches()[0])

	cancel()
	<-done
}

func TestSinkWorkerRetriesThenSucceeds(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{failN: 2}
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2}
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 1, time.Hour, policy, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 7))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{7}, sink.Batches()[0])

	cancel()
	<-done
}

func TestSinkWorkerExhaustsRetriesAndDLQs(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{failN: 100} // always fails
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	dlq := NewDeadLetterQueue[int](filepath.Join(t.TempDir(), "dlq.ndjson"))
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 1, time.Hour, policy, nil, dlq, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 9))

	require.Eventually(t, func() bool {
		records, _ := dlq.Replay(0)
		return len(records) == 1
	}, time.Second, 5*time.Millisecond)

	records, err := dlq.Replay(0)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, records[0].Items)

	cancel()
	<-done
}

func TestSinkWorkerNonRetryableErrorGoesStraightToDLQ(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{failN: 1, errToUse: errors.New("permission denied")}
	dlq := NewDeadLetterQueue[int](filepath.Join(t.TempDir(), "dlq.ndjson"))
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 1, time.Hour, DefaultRetryPolicy(), nil, dlq, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 3))

	require.Eventually(t, func() bool {
		records, _ := dlq.Replay(0)
		return len(records) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, sink.calls, "a non-retryable error must not be retried")

	cancel()
	<-done
}

func TestSinkWorkerDrainStopsAfterQueueEmpties(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{}
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 100, time.Hour, DefaultRetryPolicy(), nil, nil, nil)

	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))

	w.Drain()
	err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, sink.Batches()[0])
}

func TestSinkWorkerCircuitOpenShortCircuitsToDLQ(t *testing.T) {
	q := NewBoundedQueue[int](10, 10, 1, OverflowError, nil, nil, nil)
	sink := &recordingSink{}
	cb := NewCircuitBreaker(1, time.Hour)
	require.NoError(t, cb.Allow())
	cb.OnFailure() // threshold 1: a single failure trips the breaker open
	require.Equal(t, CircuitOpen, cb.State())

	dlq := NewDeadLetterQueue[int](filepath.Join(t.TempDir(), "dlq.ndjson"))
	w := NewSinkWorker[int](0, "c1", "test", q, sink, 1, time.Hour, DefaultRetryPolicy(), cb, dlq, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Put(ctx, 5))

	require.Eventually(t, func() bool {
		records, _ := dlq.Replay(0)
		return len(records) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sink.calls, "sink must not be called while circuit is open")

	cancel()
	<-done
}

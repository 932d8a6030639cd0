package coordinator

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"market-data-coordinator/internal/logger"
)

// SinkWorker pulls items off a BoundedQueue, assembles them into batches
// (flushed on whichever comes first: BatchSize items, or FlushInterval
// elapsing since the batch's first item), and commits each batch to a
// Sink with retry and circuit-breaker protection. Batches that exhaust
// retries are handed to the DeadLetterQueue, if one is configured.
//
// Grounded on internal/sink/batched.go's batch-by-size-or-timer loop
// (BatchedSink.flushLoop), generalized from a per-writer buffering
// decorator into the coordinator's own batch-assembly stage, and on
// cmd/etl/main.go's writeWithRetry for the attempt/backoff/give-up shape.
type SinkWorker[T any] struct {
	id            int
	coordinatorID string
	sinkName      string

	queue       *BoundedQueue[T]
	sink        Sink[T]
	batchSize   int
	flushPeriod time.Duration
	retryPolicy RetryPolicy
	breaker     *CircuitBreaker
	dlq         *DeadLetterQueue[T]
	onResult    func(BatchResult)

	draining atomic.Bool
}

// BatchResult summarizes one batch's terminal outcome, for a caller (the
// demo CLI's run report, say) that wants success/failure/retry counts
// without scraping the Prometheus series.
type BatchResult struct {
	Size      int
	Attempts  int
	Err       error
	DLQReason string // "circuit_open", "shutdown_timeout" or "shutdown_nodrain"; empty on success and when the batch's own attempts failed
}

// NewSinkWorker constructs a worker. breaker, dlq, and onResult may be nil.
func NewSinkWorker[T any](id int, coordinatorID, sinkName string, queue *BoundedQueue[T], sink Sink[T], batchSize int, flushPeriod time.Duration, retryPolicy RetryPolicy, breaker *CircuitBreaker, dlq *DeadLetterQueue[T], onResult func(BatchResult)) *SinkWorker[T] {
	return &SinkWorker[T]{
		id:            id,
		coordinatorID: coordinatorID,
		sinkName:      sinkName,
		queue:         queue,
		sink:          sink,
		batchSize:     batchSize,
		flushPeriod:   flushPeriod,
		retryPolicy:   retryPolicy.withDefaults(),
		breaker:       breaker,
		dlq:           dlq,
		onResult:      onResult,
	}
}

// Drain tells the worker no more items will be submitted: once the queue
// is empty and any partial batch is flushed, Run returns nil instead of
// continuing to wait for the next item.
func (w *SinkWorker[T]) Drain() {
	w.draining.Store(true)
}

// Run assembles and commits batches until ctx is done or (after Drain)
// the queue runs dry. A non-nil return is always ctx's error; a clean
// drain or queue close returns nil.
func (w *SinkWorker[T]) Run(ctx context.Context) error {
	var batch []T
	var deadline time.Time

	for {
		if w.draining.Load() && w.queue.Size() == 0 {
			if len(batch) > 0 {
				w.commit(ctx, batch)
			}
			return nil
		}

		getCtx := ctx
		var cancel context.CancelFunc
		if len(batch) > 0 {
			getCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		item, err := w.queue.Get(getCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			if ctx.Err() != nil {
				if len(batch) > 0 {
					reason := "shutdown_nodrain"
					if w.draining.Load() {
						reason = "shutdown_timeout"
					}
					w.dlqDirect(batch, 1, ctx.Err(), reason)
				}
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				w.commit(ctx, batch)
				batch = nil
				continue
			}
			if errors.Is(err, ErrQueueClosed) {
				if len(batch) > 0 {
					w.commit(ctx, batch)
				}
				return nil
			}
			return err
		}

		if len(batch) == 0 {
			deadline = time.Now().Add(w.flushPeriod)
		}
		batch = append(batch, item)
		if len(batch) >= w.batchSize {
			w.commit(ctx, batch)
			batch = nil
		}
	}
}

// commit attempts to write batch, retrying per policy and tripping the
// circuit breaker on failure, until the batch either succeeds or is
// handed to the dead-letter queue.
func (w *SinkWorker[T]) commit(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}

	var lastErr error
	attempt := 1
	for ; attempt <= w.retryPolicy.MaxAttempts; attempt++ {
		if w.breaker != nil {
			if err := w.breaker.Allow(); err != nil {
				batchWriteTotal.WithLabelValues(w.sinkName, outcomeCircuitOpen).Inc()
				lastErr = ErrCircuitOpen
				w.dlqDirect(batch, attempt, lastErr, "circuit_open")
				return
			}
		}

		start := time.Now()
		err := w.sink.Write(ctx, batch)
		dur := time.Since(start).Seconds()

		if err == nil {
			if w.breaker != nil {
				w.breaker.OnSuccess()
			}
			batchWriteDuration.WithLabelValues(w.sinkName, outcomeSuccess).Observe(dur)
			batchWriteTotal.WithLabelValues(w.sinkName, outcomeSuccess).Inc()
			w.report(BatchResult{Size: len(batch), Attempts: attempt})
			return
		}

		if w.breaker != nil {
			w.breaker.OnFailure()
		}
		lastErr = err

		retryable := w.retryPolicy.Retryable(err) && attempt < w.retryPolicy.MaxAttempts
		outcome := outcomeFailure
		if retryable {
			outcome = outcomeRetry
		}
		batchWriteDuration.WithLabelValues(w.sinkName, outcome).Observe(dur)
		batchWriteTotal.WithLabelValues(w.sinkName, outcome).Inc()

		if !retryable {
			break
		}

		timer := time.NewTimer(w.retryPolicy.NextBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			w.dlqDirect(batch, attempt, lastErr, "shutdown_timeout")
			return
		case <-timer.C:
		}
	}

	w.dlqDirect(batch, attempt, lastErr, "")
}

func (w *SinkWorker[T]) dlqDirect(batch []T, attempts int, cause error, reason string) {
	if w.dlq == nil {
		logger.Warn("coordinator: batch exhausted retries with no dead-letter queue configured",
			"worker_id", w.id, "coordinator_id", w.coordinatorID, "batch_size", len(batch))
		w.report(BatchResult{Size: len(batch), Attempts: attempts, Err: cause, DLQReason: reason})
		return
	}
	meta := map[string]string{
		"worker_id":      strconv.Itoa(w.id),
		"coordinator_id": w.coordinatorID,
	}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := w.dlq.Save(batch, cause, meta); err != nil {
		logger.Error("coordinator: failed to persist dead-letter record", "error", err.Error())
		w.report(BatchResult{Size: len(batch), Attempts: attempts, Err: cause, DLQReason: reason})
		return
	}
	dlqRecordsTotal.WithLabelValues(w.coordinatorID).Inc()
	w.report(BatchResult{Size: len(batch), Attempts: attempts, Err: cause, DLQReason: reason})
}

func (w *SinkWorker[T]) report(result BatchResult) {
	if w.onResult != nil {
		w.onResult(result)
	}
}

// Package coordinator implements the producer -> bounded queue -> worker
// pool -> sink write pipeline described by the write coordinator design:
// bounded memory, worker-pool parallelism, retry with circuit-breaker
// protection, dead-letter capture, and an in-process feedback bus.
package coordinator

import (
	"context"
	"errors"
)

// Sink is the single external collaborator the coordinator depends on: a
// durable store for a batch of items. Write must be safe to call
// concurrently from N workers. On return the batch is considered durable;
// on error it is considered not written. Idempotence is not required - the
// coordinator handles retries.
type Sink[T any] interface {
	Write(ctx context.Context, batch []T) error
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc[T any] func(ctx context.Context, batch []T) error

func (f SinkFunc[T]) Write(ctx context.Context, batch []T) error { return f(ctx, batch) }

// OverflowStrategy selects BoundedQueue behavior when Put would exceed
// capacity.
type OverflowStrategy string

const (
	OverflowBlock      OverflowStrategy = "block"
	OverflowDropOldest OverflowStrategy = "drop_oldest"
	OverflowError      OverflowStrategy = "error"
)

var (
	// ErrQueueFull is returned by BoundedQueue.Put in OverflowError mode
	// once the queue is at capacity.
	ErrQueueFull = errors.New("coordinator: queue full")

	// ErrCircuitOpen is returned by CircuitBreaker.Allow while the breaker
	// is open, and is recorded as the error of a batch that SinkWorker's
	// commit loop short-circuits rather than retries.
	ErrCircuitOpen = errors.New("coordinator: circuit open")

	// ErrInvalidConfig marks a configuration invariant violation detected
	// by NewWriteCoordinator - a programmer error, not a runtime condition.
	ErrInvalidConfig = errors.New("coordinator: invalid configuration")

	// ErrQueueClosed is returned by BoundedQueue.Get once the queue has
	// been closed and drained.
	ErrQueueClosed = errors.New("coordinator: queue closed")

	// ErrStopped is returned by Submit/SubmitMany after Stop has been
	// called.
	ErrStopped = errors.New("coordinator: stopped")
)

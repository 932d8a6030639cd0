package sink

import (
	"context"

	"market-data-coordinator/internal/model"
)

// RecordAdapter adapts a single-item RecordWriter into a coordinator.Sink
// for model.Bar, looping over the batch and stopping at the first error.
// Grounded on BatchedSink.flush's per-record loop-and-stop-on-first-error
// behavior, the batching itself now being the worker pool's job.
type RecordAdapter struct {
	writer RecordWriter
}

// NewRecordAdapter wraps writer so it can serve as the coordinator's Sink.
func NewRecordAdapter(writer RecordWriter) *RecordAdapter {
	return &RecordAdapter{writer: writer}
}

// Write writes each bar in batch in order, returning the first error.
// ctx is not propagated to writer.Write because RecordWriter predates
// context-aware writes; a writer that needs cancellation support should
// implement it internally (HTTPSink's client carries its own timeout).
func (a *RecordAdapter) Write(_ context.Context, batch []model.Bar) error {
	for _, bar := range batch {
		if err := a.writer.Write(bar); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the wrapped writer.
func (a *RecordAdapter) Close() error {
	return a.writer.Close()
}

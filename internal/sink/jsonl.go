package sink

import (
	"encoding/json"
	"fmt"
	"io"

	"market-data-coordinator/internal/model"
)

// RecordWriter writes one Bar at a time to some underlying destination.
// It is the unit the coordinator's batch-oriented Sink is built from: a
// batch write loops over RecordWriter.Write once per item.
type RecordWriter interface {
	Write(bar model.Bar) error
	Close() error
}

// JSONLSink writes bars as JSON lines.
type JSONLSink struct {
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink wraps a WriteCloser into a JSONL writer.
func NewJSONLSink(w io.WriteCloser) *JSONLSink {
	return &JSONLSink{
		enc:    json.NewEncoder(w),
		closer: w,
	}
}

func (s *JSONLSink) Write(bar model.Bar) error {
	if err := s.enc.Encode(bar); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteSink, err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	return s.closer.Close()
}

package coordinator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"market-data-coordinator/internal/logger"
)

// DLQRecord is one append-only entry in a DeadLetterQueue file: a batch
// that exhausted retries (or was discarded at shutdown), the error that
// finally gave up on it, and whatever metadata the caller attached
// (worker id, coordinator id, shutdown reason, ...).
type DLQRecord[T any] struct {
	Timestamp time.Time         `json:"ts"`
	Error     string            `json:"error"`
	Items     []T               `json:"items"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DeadLetterQueue is an append-only NDJSON file: one JSON object per line,
// one line per Save call. Concurrent Save calls are serialized with a
// mutex so interleaved writers never interleave partial lines.
//
// Grounded on the teacher's sink package for the "open, write, close"
// per-call file style (internal/sink/jsonl.go), adapted from a
// single-record writer to a batch-record writer per original_source's
// test_dlq.py semantics: save(items, error, metadata), replay(max),
// malformed lines skipped, missing file replays as empty.
type DeadLetterQueue[T any] struct {
	path string
	mu   sync.Mutex
}

// NewDeadLetterQueue returns a DLQ backed by the NDJSON file at path. The
// parent directory is created lazily on the first Save call, not here.
func NewDeadLetterQueue[T any](path string) *DeadLetterQueue[T] {
	return &DeadLetterQueue[T]{path: path}
}

// Save appends one record capturing items, cause, and metadata. Errors
// are returned to the caller (typically a SinkWorker, which logs and
// counts them via metrics rather than propagating them further - a
// record that fails to persist to the DLQ is not retried).
func (d *DeadLetterQueue[T]) Save(items []T, cause error, metadata map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("coordinator: create dlq dir: %w", err)
	}

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("coordinator: open dlq file: %w", err)
	}
	defer f.Close()

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	rec := DLQRecord[T]{
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
		Items:     items,
		Metadata:  metadata,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("coordinator: marshal dlq record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("coordinator: write dlq record: %w", err)
	}
	return nil
}

// Replay reads up to max records from the file in append order (max<=0
// means unlimited). A missing file replays as an empty, non-error result.
// Malformed lines are logged and skipped rather than aborting the replay.
func (d *DeadLetterQueue[T]) Replay(max int) ([]DLQRecord[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("coordinator: open dlq file: %w", err)
	}
	defer f.Close()

	var records []DLQRecord[T]
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if max > 0 && len(records) >= max {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec DLQRecord[T]
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("dlq: skipping malformed record", "path", d.path, "error", err.Error())
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("coordinator: scan dlq file: %w", err)
	}
	return records, nil
}

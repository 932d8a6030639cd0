// Package report aggregates a demo run's coordinator statistics into a
// single summary, printable as JSON or scraped as a flat metrics text
// format - the same shape the ETL run summary used, re-keyed from
// log-level/service counts to per-symbol counts and DLQ reasons.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Report aggregates one demo coordinator run's statistics.
type Report struct {
	Submitted       int            `json:"submitted"`
	SubmitFailed    int            `json:"submit_failed"`
	WrittenOK       int            `json:"written_ok"`
	WriteFailed     int            `json:"write_failed"`
	BySymbol        map[string]int `json:"by_symbol"`
	DLQWritten      int            `json:"dlq_written"`
	DLQReasons      map[string]int `json:"dlq_reasons"`
	RetryStats      RetryStats     `json:"retry_stats"`
	DurationSeconds float64        `json:"duration_seconds"`
	Throughput      float64        `json:"throughput_bars_per_sec"`
	WriteErrorRate  float64        `json:"write_error_rate"`
	mu              sync.Mutex     `json:"-"`
}

// RetryStats tracks retry attempts across all batch writes.
type RetryStats struct {
	TotalRetries       int `json:"total_retries"`
	BatchesWithRetries int `json:"batches_with_retries"`
	MaxRetriesPerBatch int `json:"max_retries_per_batch"`
}

// NewReport initializes a Report with maps ready to use.
func NewReport() *Report {
	return &Report{
		BySymbol:   make(map[string]int),
		DLQReasons: make(map[string]int),
	}
}

// AddSymbol increments the count for a submitted bar's symbol.
func (r *Report) AddSymbol(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if symbol == "" {
		return
	}
	r.BySymbol[symbol]++
}

// AddSubmitted increments the submitted count, or SubmitFailed if ok is
// false.
func (r *Report) AddSubmitted(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.Submitted++
	} else {
		r.SubmitFailed++
	}
}

// AddWriteOK increments successful batch writes.
func (r *Report) AddWriteOK(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.WrittenOK += n
}

// AddWriteFailed increments failed batch writes.
func (r *Report) AddWriteFailed(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.WriteFailed += n
}

// AddDLQWithReason increments DLQ count and tracks the reason.
func (r *Report) AddDLQWithReason(reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DLQWritten += n
	if reason == "" {
		reason = "unknown"
	}
	r.DLQReasons[reason] += n
}

// AddRetry records the number of retry attempts a batch took before its
// terminal outcome.
func (r *Report) AddRetry(retries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RetryStats.TotalRetries += retries
	if retries > 0 {
		r.RetryStats.BatchesWithRetries++
		if retries > r.RetryStats.MaxRetriesPerBatch {
			r.RetryStats.MaxRetriesPerBatch = retries
		}
	}
}

// SetDuration computes derived metrics based on runtime.
func (r *Report) SetDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 && r.Submitted > 0 {
		d = time.Nanosecond
	}
	r.DurationSeconds = d.Seconds()
	if d.Seconds() > 0 {
		r.Throughput = float64(r.Submitted) / d.Seconds()
	}
	writes := r.WrittenOK + r.WriteFailed
	if writes > 0 {
		r.WriteErrorRate = float64(r.WriteFailed) / float64(writes)
	}
}

// WriteJSON writes the report to a JSON file at the given path. path ""
// or "-" writes to stdout.
func (r *Report) WriteJSON(path string) error {
	var closer io.Closer
	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		closer = f
		w = f
	}
	defer func() {
		if closer != nil {
			closer.Close()
		}
	}()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Prometheus renders counters/gauges for metrics scraping, for a one-shot
// demo run that doesn't keep a /metrics endpoint open.
func (r *Report) Prometheus() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "coord_run_submitted %d\n", r.Submitted)
	fmt.Fprintf(sb, "coord_run_submit_failed %d\n", r.SubmitFailed)
	fmt.Fprintf(sb, "coord_run_written_ok %d\n", r.WrittenOK)
	fmt.Fprintf(sb, "coord_run_write_failed %d\n", r.WriteFailed)
	fmt.Fprintf(sb, "coord_run_dlq_written %d\n", r.DLQWritten)
	fmt.Fprintf(sb, "coord_run_duration_seconds %.6f\n", r.DurationSeconds)
	fmt.Fprintf(sb, "coord_run_throughput_bars_per_sec %.6f\n", r.Throughput)
	fmt.Fprintf(sb, "coord_run_write_error_rate %.6f\n", r.WriteErrorRate)
	for k, v := range r.BySymbol {
		fmt.Fprintf(sb, "coord_run_symbol_total{symbol=%q} %d\n", k, v)
	}
	fmt.Fprintf(sb, "coord_run_retry_total %d\n", r.RetryStats.TotalRetries)
	fmt.Fprintf(sb, "coord_run_retry_batches_with_retries %d\n", r.RetryStats.BatchesWithRetries)
	fmt.Fprintf(sb, "coord_run_retry_max_per_batch %d\n", r.RetryStats.MaxRetriesPerBatch)
	for reason, count := range r.DLQReasons {
		fmt.Fprintf(sb, "coord_run_dlq_reason_total{reason=%q} %d\n", reason, count)
	}
	return sb.String()
}

package sink

import (
	"fmt"
	"os"
	"strings"

	"market-data-coordinator/internal/coordinator"
	"market-data-coordinator/internal/config"
	"market-data-coordinator/internal/model"
)

// Build constructs the coordinator.Sink[model.Bar] selected by
// cfg.SinkType, wrapping the chosen RecordWriter in a RecordAdapter.
func Build(cfg config.Config) (coordinator.Sink[model.Bar], error) {
	switch strings.ToLower(cfg.SinkType) {
	case "", "stdout":
		return NewRecordAdapter(NewJSONLSink(nopCloser{os.Stdout})), nil
	case "file":
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("%w: output path required for file sink", ErrOpenSink)
		}
		f, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpenSink, err)
		}
		return NewRecordAdapter(NewJSONLSink(f)), nil
	case "rotate", "rotating":
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("%w: output path required for rotating sink", ErrOpenSink)
		}
		maxBytes := cfg.OutputMaxBytes
		if maxBytes <= 0 {
			maxBytes = 10 * 1024 * 1024
		}
		maxFiles := cfg.OutputMaxFiles
		if maxFiles <= 0 {
			maxFiles = 5
		}
		rs, err := NewRotatingJSONLSink(cfg.OutputPath, maxBytes, maxFiles)
		if err != nil {
			return nil, err
		}
		return NewRecordAdapter(rs), nil
	case "http", "webhook":
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("%w: output URL required for http sink", ErrOpenSink)
		}
		hs, err := NewHTTPSink(cfg.OutputPath)
		if err != nil {
			return nil, err
		}
		return NewRecordAdapter(hs), nil
	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", ErrOpenSink, cfg.SinkType)
	}
}

type nopCloser struct {
	w *os.File
}

func (n nopCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopCloser) Close() error                { return nil }

// Package config loads WriteCoordinator settings with the layered
// precedence the teacher ETL used: built-in defaults, then a config file
// (JSON, TOML, or a small YAML subset), then environment variables.
package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds coordinator runtime options, matching the COORDINATOR_*
// environment variable contract.
type Config struct {
	SinkType       string `json:"sink_type,omitempty" yaml:"sink_type,omitempty" toml:"sink_type,omitempty"` // stdout|file|rotate|http
	OutputPath     string `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`
	OutputMaxBytes int64  `json:"output_max_bytes,omitempty" yaml:"output_max_bytes,omitempty" toml:"output_max_bytes,omitempty"`
	OutputMaxFiles int    `json:"output_max_files,omitempty" yaml:"output_max_files,omitempty" toml:"output_max_files,omitempty"`

	Capacity          int     `json:"capacity,omitempty" yaml:"capacity,omitempty" toml:"capacity,omitempty"`
	Workers           int     `json:"workers,omitempty" yaml:"workers,omitempty" toml:"workers,omitempty"`
	BatchSize         int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty" toml:"batch_size,omitempty"`
	FlushIntervalMS   int     `json:"flush_interval_ms,omitempty" yaml:"flush_interval_ms,omitempty" toml:"flush_interval_ms,omitempty"`
	HighWatermarkFrac float64 `json:"high_watermark,omitempty" yaml:"high_watermark,omitempty" toml:"high_watermark,omitempty"` // fraction of capacity, 0-1
	LowWatermarkFrac  float64 `json:"low_watermark,omitempty" yaml:"low_watermark,omitempty" toml:"low_watermark,omitempty"`
	Overflow          string  `json:"overflow,omitempty" yaml:"overflow,omitempty" toml:"overflow,omitempty"` // block|drop_oldest|error

	MaxAttempts       int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" toml:"max_attempts,omitempty"`
	InitialBackoffMS  int     `json:"initial_backoff_ms,omitempty" yaml:"initial_backoff_ms,omitempty" toml:"initial_backoff_ms,omitempty"`
	MaxBackoffMS      int     `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty" toml:"max_backoff_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty" toml:"backoff_multiplier,omitempty"`

	CBFailureThreshold int `json:"cb_failure_threshold,omitempty" yaml:"cb_failure_threshold,omitempty" toml:"cb_failure_threshold,omitempty"`
	CBHalfOpenAfterSec int `json:"cb_half_open_after_sec,omitempty" yaml:"cb_half_open_after_sec,omitempty" toml:"cb_half_open_after_sec,omitempty"`

	DLQPath string `json:"dlq,omitempty" yaml:"dlq,omitempty" toml:"dlq,omitempty"`

	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds,omitempty" yaml:"shutdown_timeout_seconds,omitempty" toml:"shutdown_timeout_seconds,omitempty"`

	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" toml:"log_format,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		SinkType:       "stdout",
		OutputMaxBytes: 10 * 1024 * 1024,
		OutputMaxFiles: 5,

		Capacity:          1000,
		Workers:           4,
		BatchSize:         100,
		FlushIntervalMS:   1000,
		HighWatermarkFrac: 0.8,
		LowWatermarkFrac:  0.5,
		Overflow:          "block",

		MaxAttempts:       3,
		InitialBackoffMS:  100,
		MaxBackoffMS:      30000,
		BackoffMultiplier: 2.0,

		CBFailureThreshold: 5,
		CBHalfOpenAfterSec: 30,

		ShutdownTimeoutSeconds: 30,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Merge overlays non-zero values from override onto base.
func Merge(base, override Config) Config {
	result := base

	if override.SinkType != "" {
		result.SinkType = override.SinkType
	}
	if override.OutputPath != "" {
		result.OutputPath = override.OutputPath
	}
	if override.OutputMaxBytes != 0 {
		result.OutputMaxBytes = override.OutputMaxBytes
	}
	if override.OutputMaxFiles != 0 {
		result.OutputMaxFiles = override.OutputMaxFiles
	}
	if override.Capacity > 0 {
		result.Capacity = override.Capacity
	}
	if override.Workers > 0 {
		result.Workers = override.Workers
	}
	if override.BatchSize > 0 {
		result.BatchSize = override.BatchSize
	}
	if override.FlushIntervalMS > 0 {
		result.FlushIntervalMS = override.FlushIntervalMS
	}
	if override.HighWatermarkFrac > 0 {
		result.HighWatermarkFrac = override.HighWatermarkFrac
	}
	if override.LowWatermarkFrac > 0 {
		result.LowWatermarkFrac = override.LowWatermarkFrac
	}
	if override.Overflow != "" {
		result.Overflow = override.Overflow
	}
	if override.MaxAttempts > 0 {
		result.MaxAttempts = override.MaxAttempts
	}
	if override.InitialBackoffMS > 0 {
		result.InitialBackoffMS = override.InitialBackoffMS
	}
	if override.MaxBackoffMS > 0 {
		result.MaxBackoffMS = override.MaxBackoffMS
	}
	if override.BackoffMultiplier > 0 {
		result.BackoffMultiplier = override.BackoffMultiplier
	}
	if override.CBFailureThreshold > 0 {
		result.CBFailureThreshold = override.CBFailureThreshold
	}
	if override.CBHalfOpenAfterSec > 0 {
		result.CBHalfOpenAfterSec = override.CBHalfOpenAfterSec
	}
	if override.DLQPath != "" {
		result.DLQPath = override.DLQPath
	}
	if override.ShutdownTimeoutSeconds > 0 {
		result.ShutdownTimeoutSeconds = override.ShutdownTimeoutSeconds
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		result.LogFormat = override.LogFormat
	}

	return result
}

// FromEnv applies COORDINATOR_* environment overrides to the provided
// config.
func FromEnv(base Config) Config {
	result := base

	if v := os.Getenv("COORDINATOR_SINK_TYPE"); v != "" {
		result.SinkType = v
	}
	if v := os.Getenv("COORDINATOR_OUTPUT"); v != "" {
		result.OutputPath = v
	}
	if v := os.Getenv("COORDINATOR_OUTPUT_MAX_BYTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			result.OutputMaxBytes = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_OUTPUT_MAX_FILES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.OutputMaxFiles = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_CAPACITY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.Capacity = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.Workers = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.BatchSize = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_FLUSH_INTERVAL_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.FlushIntervalMS = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_HIGH_WATERMARK"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			result.HighWatermarkFrac = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_LOW_WATERMARK"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			result.LowWatermarkFrac = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_OVERFLOW"); v != "" {
		result.Overflow = v
	}
	if v := os.Getenv("COORDINATOR_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_INITIAL_BACKOFF_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.InitialBackoffMS = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_MAX_BACKOFF_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.MaxBackoffMS = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_BACKOFF_MULTIPLIER"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			result.BackoffMultiplier = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_CB_FAILURE_THRESHOLD"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.CBFailureThreshold = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_CB_HALF_OPEN_AFTER_SEC"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.CBHalfOpenAfterSec = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_DLQ_PATH"); v != "" {
		result.DLQPath = v
	}
	if v := os.Getenv("COORDINATOR_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			result.ShutdownTimeoutSeconds = parsed
		}
	}
	if v := os.Getenv("COORDINATOR_LOG_LEVEL"); v != "" {
		result.LogLevel = v
	}
	if v := os.Getenv("COORDINATOR_LOG_FORMAT"); v != "" {
		result.LogFormat = v
	}

	return result
}

// Load reads a JSON, TOML, or YAML config file into Config, dispatching
// on file extension.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := unmarshalYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	}

	return cfg, nil
}

// unmarshalYAML is a tiny, limited YAML reader that supports top-level
// key/value pairs and simple lists. It intentionally avoids a full YAML
// dependency since TOML now covers the "structured config file" case;
// this stays only for files already written against it.
func unmarshalYAML(data []byte, out any) error {
	lines := splitLines(data)
	raw := make(map[string]any)

	for i := 0; i < len(lines); {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			i++
			continue
		}

		if strings.HasPrefix(line, "-") {
			return errors.New("top-level lists are not supported")
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid line %q", line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if value == "" {
			i++
			list := []any{}
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if next == "" {
					i++
					continue
				}
				if strings.HasPrefix(next, "-") {
					item := strings.TrimSpace(strings.TrimPrefix(next, "-"))
					list = append(list, parseScalar(item))
					i++
					continue
				}
				break
			}
			raw[key] = list
			continue
		}

		raw[key] = parseScalar(value)
		i++
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, out)
}

func parseScalar(val string) any {
	unquoted := strings.Trim(val, `"'`)

	if i, err := strconv.ParseInt(unquoted, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(unquoted, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(unquoted); err == nil {
		return b
	}

	return unquoted
}

func splitLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Validate checks the configuration for common misconfigurations and
// returns an error describing all issues found.
func Validate(cfg Config) error {
	var errs []string

	validSinks := map[string]bool{"": true, "stdout": true, "file": true, "rotate": true, "rotating": true, "http": true}
	if !validSinks[cfg.SinkType] {
		errs = append(errs, fmt.Sprintf("invalid sink_type %q: must be stdout, file, rotate, or http", cfg.SinkType))
	}
	if (cfg.SinkType == "file" || cfg.SinkType == "rotate" || cfg.SinkType == "rotating" || cfg.SinkType == "http") && cfg.OutputPath == "" {
		errs = append(errs, "output is required for file, rotate, and http sinks")
	}

	if cfg.Capacity < 0 {
		errs = append(errs, fmt.Sprintf("capacity cannot be negative: %d", cfg.Capacity))
	}
	if cfg.Workers < 0 {
		errs = append(errs, fmt.Sprintf("workers cannot be negative: %d", cfg.Workers))
	}
	if cfg.BatchSize < 0 {
		errs = append(errs, fmt.Sprintf("batch_size cannot be negative: %d", cfg.BatchSize))
	}
	if cfg.FlushIntervalMS < 0 {
		errs = append(errs, fmt.Sprintf("flush_interval_ms cannot be negative: %d", cfg.FlushIntervalMS))
	}
	if cfg.HighWatermarkFrac < 0 || cfg.HighWatermarkFrac > 1 {
		errs = append(errs, fmt.Sprintf("high_watermark must be between 0 and 1, got: %.2f", cfg.HighWatermarkFrac))
	}
	if cfg.LowWatermarkFrac < 0 || cfg.LowWatermarkFrac > 1 {
		errs = append(errs, fmt.Sprintf("low_watermark must be between 0 and 1, got: %.2f", cfg.LowWatermarkFrac))
	}
	if cfg.LowWatermarkFrac > 0 && cfg.HighWatermarkFrac > 0 && cfg.LowWatermarkFrac > cfg.HighWatermarkFrac {
		errs = append(errs, fmt.Sprintf("low_watermark (%.2f) must be <= high_watermark (%.2f)", cfg.LowWatermarkFrac, cfg.HighWatermarkFrac))
	}

	validOverflow := map[string]bool{"": true, "block": true, "drop_oldest": true, "error": true}
	if !validOverflow[cfg.Overflow] {
		errs = append(errs, fmt.Sprintf("invalid overflow %q: must be block, drop_oldest, or error", cfg.Overflow))
	}

	if cfg.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("max_attempts cannot be negative: %d", cfg.MaxAttempts))
	}
	if cfg.InitialBackoffMS < 0 {
		errs = append(errs, fmt.Sprintf("initial_backoff_ms cannot be negative: %d", cfg.InitialBackoffMS))
	}
	if cfg.MaxBackoffMS < 0 {
		errs = append(errs, fmt.Sprintf("max_backoff_ms cannot be negative: %d", cfg.MaxBackoffMS))
	}
	if cfg.MaxBackoffMS > 0 && cfg.InitialBackoffMS > 0 && cfg.MaxBackoffMS < cfg.InitialBackoffMS {
		errs = append(errs, fmt.Sprintf("max_backoff_ms (%d) must be >= initial_backoff_ms (%d)", cfg.MaxBackoffMS, cfg.InitialBackoffMS))
	}
	if cfg.BackoffMultiplier < 0 {
		errs = append(errs, fmt.Sprintf("backoff_multiplier cannot be negative: %.2f", cfg.BackoffMultiplier))
	}

	if cfg.CBFailureThreshold < 0 {
		errs = append(errs, fmt.Sprintf("cb_failure_threshold cannot be negative: %d", cfg.CBFailureThreshold))
	}
	if cfg.CBHalfOpenAfterSec < 0 {
		errs = append(errs, fmt.Sprintf("cb_half_open_after_sec cannot be negative: %d", cfg.CBHalfOpenAfterSec))
	}

	if cfg.DLQPath != "" && strings.TrimSpace(cfg.DLQPath) == "" {
		errs = append(errs, "dlq path cannot be whitespace-only")
	}

	if cfg.ShutdownTimeoutSeconds < 0 {
		errs = append(errs, fmt.Sprintf("shutdown_timeout_seconds cannot be negative: %d", cfg.ShutdownTimeoutSeconds))
	}

	validLogLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, fmt.Sprintf("invalid log_level %q: must be debug, info, warn, or error", cfg.LogLevel))
	}

	validLogFormats := map[string]bool{"": true, "json": true, "text": true}
	if !validLogFormats[strings.ToLower(cfg.LogFormat)] {
		errs = append(errs, fmt.Sprintf("invalid log_format %q: must be json or text", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

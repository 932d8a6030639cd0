// Command coordinator is a demo harness around the write coordinator: it
// reads newline-delimited Bar JSON from a file or stdin, submits each one
// to a WriteCoordinator, and prints a run summary on exit - the same
// flag/env/config-file precedence and signal-driven graceful shutdown the
// ETL CLI this was grounded on used, re-pointed at the coordinator
// package instead of an inline pipeline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"market-data-coordinator/internal/config"
	"market-data-coordinator/internal/coordinator"
	"market-data-coordinator/internal/logger"
	"market-data-coordinator/internal/model"
	"market-data-coordinator/internal/report"
	"market-data-coordinator/internal/sink"
	"market-data-coordinator/internal/subscribers"
)

func main() {
	flagConfig := flag.String("config", "", "path to JSON, TOML, or YAML config file")
	flagInput := flag.String("input", "", "input JSONL path of bars (use '-' or omit for stdin)")
	flagOutput := flag.String("output", "", "sink output path/URL (use '-' for stdout)")
	flagSinkType := flag.String("sink-type", "", "sink type: stdout|file|rotate|http")
	flagCapacity := flag.Int("capacity", 0, "bounded queue capacity")
	flagWorkers := flag.Int("workers", 0, "number of sink workers")
	flagBatchSize := flag.Int("batch-size", 0, "batch size for sink writes")
	flagFlushMS := flag.Int("flush-interval-ms", 0, "batch flush interval in milliseconds")
	flagOverflow := flag.String("overflow", "", "queue overflow strategy: block|drop_oldest|error")
	flagDLQ := flag.String("dlq", "", "dead-letter path for undeliverable batches (jsonl)")
	flagReport := flag.String("report", "", "report JSON output path")
	flagFeedbackLog := flag.Bool("feedback-log", false, "subscribe a logging handler to the feedback bus")
	flagShutdownTimeout := flag.Int("shutdown-timeout-seconds", 0, "graceful shutdown timeout in seconds")
	flagLogLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flagLogFormat := flag.String("log-format", "", "log format: json, text")
	flag.Parse()

	cfg := config.Default()

	cfgPath := *flagConfig
	if cfgPath == "" {
		cfgPath = os.Getenv("COORDINATOR_CONFIG")
	}
	if cfgPath != "" {
		fileCfg, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Merge(cfg, fileCfg)
	}

	cfg = config.FromEnv(cfg)

	override := config.Config{}
	if *flagOutput != "" {
		override.OutputPath = *flagOutput
	}
	if *flagSinkType != "" {
		override.SinkType = *flagSinkType
	}
	if *flagCapacity != 0 {
		override.Capacity = *flagCapacity
	}
	if *flagWorkers != 0 {
		override.Workers = *flagWorkers
	}
	if *flagBatchSize != 0 {
		override.BatchSize = *flagBatchSize
	}
	if *flagFlushMS != 0 {
		override.FlushIntervalMS = *flagFlushMS
	}
	if *flagOverflow != "" {
		override.Overflow = *flagOverflow
	}
	if *flagDLQ != "" {
		override.DLQPath = *flagDLQ
	}
	if *flagShutdownTimeout != 0 {
		override.ShutdownTimeoutSeconds = *flagShutdownTimeout
	}
	if *flagLogLevel != "" {
		override.LogLevel = *flagLogLevel
	}
	if *flagLogFormat != "" {
		override.LogFormat = *flagLogFormat
	}
	cfg = config.Merge(cfg, override)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	in, closeFn, err := inputReader(*flagInput)
	if err != nil {
		logger.Error("open input", "error", err)
		os.Exit(1)
	}
	if closeFn != nil {
		defer closeFn()
	}

	rep := report.NewReport()
	if err := run(ctx, in, cfg, rep, *flagFeedbackLog); err != nil {
		logger.ErrorContext(ctx, "coordinator run failed", "error", err)
		os.Exit(1)
	}

	if *flagReport != "" {
		if err := rep.WriteJSON(*flagReport); err != nil {
			logger.Error("write report", "error", err)
		}
	}

	fmt.Printf("Submitted: %d, Submit Failed: %d, Written OK: %d, Write Failed: %d\n",
		rep.Submitted, rep.SubmitFailed, rep.WrittenOK, rep.WriteFailed)
	if rep.RetryStats.TotalRetries > 0 {
		fmt.Printf("Retry Stats: Total Retries: %d, Batches with Retries: %d, Max Retries per Batch: %d\n",
			rep.RetryStats.TotalRetries, rep.RetryStats.BatchesWithRetries, rep.RetryStats.MaxRetriesPerBatch)
	}
	if rep.DLQWritten > 0 {
		fmt.Printf("DLQ Written: %d (Reasons: %s)\n", rep.DLQWritten, formatReasons(rep.DLQReasons))
	}
}

func initLogger(cfg config.Config) {
	if strings.ToLower(cfg.LogFormat) == "text" {
		logger.SetTextLogger()
	}
	var level zerolog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	logger.SetLevel(level)
}

func run(ctx context.Context, in io.Reader, cfg config.Config, rep *report.Report, feedbackLog bool) error {
	sinkImpl, err := sink.Build(cfg)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	var dlq *coordinator.DeadLetterQueue[model.Bar]
	if cfg.DLQPath != "" {
		dlq = coordinator.NewDeadLetterQueue[model.Bar](cfg.DLQPath)
	}

	breaker := coordinator.NewCircuitBreaker(cfg.CBFailureThreshold, time.Duration(cfg.CBHalfOpenAfterSec)*time.Second)

	if feedbackLog {
		sub, err := subscribers.Build("logging", "")
		if err != nil {
			return fmt.Errorf("build feedback subscriber: %w", err)
		}
		coordinator.Default().Subscribe("cli-feedback-log", sub)
		defer coordinator.Default().Unsubscribe("cli-feedback-log")
	}

	ccfg := coordinator.Config[model.Bar]{
		Sink:             sinkImpl,
		Capacity:         cfg.Capacity,
		Workers:          cfg.Workers,
		BatchSize:        cfg.BatchSize,
		FlushInterval:    time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
		HighWatermark:    int(float64(cfg.Capacity) * cfg.HighWatermarkFrac),
		LowWatermark:     int(float64(cfg.Capacity) * cfg.LowWatermarkFrac),
		OverflowStrategy: coordinator.OverflowStrategy(cfg.Overflow),
		RetryPolicy: coordinator.RetryPolicy{
			MaxAttempts:       cfg.MaxAttempts,
			InitialBackoff:    time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:        time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
			BackoffMultiplier: cfg.BackoffMultiplier,
		},
		CircuitBreaker: breaker,
		DLQ:            dlq,
		// OnBatchResult fires once per batch's terminal outcome: Err set
		// means the batch was handed to the dead-letter queue (or would
		// have been, had one been configured).
		OnBatchResult: func(result coordinator.BatchResult) {
			if result.Err != nil {
				rep.AddWriteFailed(result.Size)
				reason := result.DLQReason
				if reason == "" {
					reason = result.Err.Error()
				}
				rep.AddDLQWithReason(reason, result.Size)
			} else {
				rep.AddWriteOK(result.Size)
			}
			if result.Attempts > 1 {
				rep.AddRetry(result.Attempts - 1)
			}
		},
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	start := time.Now()
	runErr := coordinator.Run(ctx, ccfg, shutdownTimeout, func(wc *coordinator.WriteCoordinator[model.Bar]) error {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				logger.InfoContext(ctx, "shutdown signal received, stopping submission")
				return nil
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var bar model.Bar
			if err := json.Unmarshal([]byte(line), &bar); err != nil {
				logger.WarnContext(ctx, "skipping malformed bar", "error", err)
				continue
			}

			if err := wc.Submit(ctx, bar); err != nil {
				rep.AddSubmitted(false)
				logger.WarnContext(ctx, "submit failed", "error", err, "symbol", bar.Symbol)
				continue
			}
			rep.AddSubmitted(true)
			rep.AddSymbol(bar.Symbol)
		}
		return scanner.Err()
	})
	rep.SetDuration(time.Since(start))
	return runErr
}

func formatReasons(reasons map[string]int) string {
	parts := make([]string, 0, len(reasons))
	for reason, count := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, count))
	}
	return strings.Join(parts, ", ")
}

func inputReader(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"market-data-coordinator/internal/logger"
)

// Config configures a WriteCoordinator. Sink and Capacity are required;
// everything else has a production-sane default applied by
// NewWriteCoordinator.
type Config[T any] struct {
	Sink Sink[T]

	Capacity      int
	Workers       int
	BatchSize     int
	FlushInterval time.Duration

	HighWatermark    int
	LowWatermark     int
	OverflowStrategy OverflowStrategy

	RetryPolicy    RetryPolicy
	CircuitBreaker *CircuitBreaker // nil disables circuit breaking
	DLQ            *DeadLetterQueue[T] // nil disables dead-lettering

	OnBackpressureHigh func()
	OnBackpressureLow  func()
	OnDrop             func(T)
	// OnBatchResult, if set, is invoked once per batch after its terminal
	// outcome (success or dead-letter) from a worker goroutine - useful
	// for a caller that wants running success/failure/retry counts.
	OnBatchResult func(BatchResult)

	// CoordinatorID labels metrics and feedback events; a uuid is
	// generated if left empty.
	CoordinatorID string
	// SinkName labels the batch write metrics; defaults to "default".
	SinkName string
	// MetricsPollInterval controls how often queue depth is resampled
	// and reclassified into ok/soft/hard. Defaults to 1s.
	MetricsPollInterval time.Duration

	// Bus is the feedback bus events are published to. Defaults to the
	// process-wide Default() singleton.
	Bus *FeedbackBus
}

func (c Config[T]) withDefaults() Config[T] {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = c.Capacity * 4 / 5
	}
	if c.LowWatermark <= 0 {
		c.LowWatermark = c.Capacity / 2
	}
	if c.OverflowStrategy == "" {
		c.OverflowStrategy = OverflowBlock
	}
	c.RetryPolicy = c.RetryPolicy.withDefaults()
	if c.CoordinatorID == "" {
		c.CoordinatorID = "coord-" + uuid.NewString()
	}
	if c.SinkName == "" {
		c.SinkName = "default"
	}
	if c.MetricsPollInterval <= 0 {
		c.MetricsPollInterval = time.Second
	}
	if c.Bus == nil {
		c.Bus = Default()
	}
	return c
}

// Validate checks the invariants NewWriteCoordinator relies on. It is run
// automatically by NewWriteCoordinator, after defaults are applied;
// callers that want to fail fast earlier can call it directly.
func (c Config[T]) Validate() error {
	if c.Sink == nil {
		return fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be > 0", ErrInvalidConfig)
	}
	if c.LowWatermark <= 0 || c.HighWatermark <= 0 || c.LowWatermark > c.HighWatermark || c.HighWatermark > c.Capacity {
		return fmt.Errorf("%w: watermarks must satisfy 0 < low <= high <= capacity (low=%d high=%d capacity=%d)",
			ErrInvalidConfig, c.LowWatermark, c.HighWatermark, c.Capacity)
	}
	return nil
}

// CoordinatorHealth is a point-in-time snapshot of a running coordinator.
type CoordinatorHealth struct {
	WorkersAlive int          `json:"workers_alive"`
	QueueSize    int          `json:"queue_size"`
	Capacity     int          `json:"capacity"`
	CircuitState CircuitState `json:"circuit_state"`
}

// WriteCoordinator is the composition root: it owns the bounded queue,
// the worker pool, and the metrics sampler, and is the only thing
// producers talk to.
type WriteCoordinator[T any] struct {
	cfg   Config[T]
	queue *BoundedQueue[T]

	workersAlive atomic.Int64
	lastSampled  atomic.Value // BackpressureLevel, set by the metrics sampler

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopCh   chan struct{}
	workers  []*SinkWorker[T]
	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc
	sampler  sync.WaitGroup
}

// NewWriteCoordinator validates cfg, applies defaults, and returns an
// unstarted coordinator. Call Start to begin processing.
func NewWriteCoordinator[T any](cfg Config[T]) (*WriteCoordinator[T], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wc := &WriteCoordinator[T]{cfg: cfg}
	wc.lastSampled.Store(LevelOK)
	return wc, nil
}

// Start builds the queue, spawns the worker pool, and starts the metrics
// sampler. It is an error to call Start twice.
func (wc *WriteCoordinator[T]) Start(ctx context.Context) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.started {
		return fmt.Errorf("coordinator: already started")
	}

	wc.queue = NewBoundedQueue[T](
		wc.cfg.Capacity, wc.cfg.HighWatermark, wc.cfg.LowWatermark, wc.cfg.OverflowStrategy,
		wc.onHigh, wc.onLow, wc.cfg.OnDrop,
	)

	groupCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(groupCtx)
	wc.groupCtx = groupCtx
	wc.cancel = cancel
	wc.group = group
	wc.stopCh = make(chan struct{})

	for i := 0; i < wc.cfg.Workers; i++ {
		worker := NewSinkWorker[T](i, wc.cfg.CoordinatorID, wc.cfg.SinkName, wc.queue, wc.cfg.Sink,
			wc.cfg.BatchSize, wc.cfg.FlushInterval, wc.cfg.RetryPolicy, wc.cfg.CircuitBreaker, wc.cfg.DLQ, wc.cfg.OnBatchResult)
		wc.workers = append(wc.workers, worker)
		wc.workersAlive.Add(1)
		group.Go(func() error {
			defer wc.workersAlive.Add(-1)
			err := worker.Run(wc.groupCtx)
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return err
		})
	}

	wc.sampler.Add(1)
	go wc.runSampler(groupCtx)

	wc.started = true
	logger.Info("coordinator started", "coordinator_id", wc.cfg.CoordinatorID,
		"workers", wc.cfg.Workers, "capacity", wc.cfg.Capacity)
	return nil
}

func (wc *WriteCoordinator[T]) onHigh() {
	wc.cfg.Bus.Publish(FeedbackEvent{
		CoordinatorID: wc.cfg.CoordinatorID,
		QueueSize:     wc.queue.Size(),
		Capacity:      wc.cfg.Capacity,
		Level:         LevelHard,
		Reason:        "high_watermark",
		Timestamp:     time.Now().UTC(),
		Source:        "queue",
	})
	if wc.cfg.OnBackpressureHigh != nil {
		wc.cfg.OnBackpressureHigh()
	}
}

func (wc *WriteCoordinator[T]) onLow() {
	wc.cfg.Bus.Publish(FeedbackEvent{
		CoordinatorID: wc.cfg.CoordinatorID,
		QueueSize:     wc.queue.Size(),
		Capacity:      wc.cfg.Capacity,
		Level:         LevelOK,
		Reason:        "queue_recovered",
		Timestamp:     time.Now().UTC(),
		Source:        "queue",
	})
	if wc.cfg.OnBackpressureLow != nil {
		wc.cfg.OnBackpressureLow()
	}
}

// runSampler periodically resamples queue depth, updates the gauges, and
// publishes a feedback event whenever the ok/soft/hard classification
// changes. This is an independent stream from the queue's own
// high/low-watermark edge events: the sampler can surface "soft", which
// the queue's binary hysteresis cannot, at the cost of potentially
// re-announcing "hard"/"ok" moments after the queue already did so.
func (wc *WriteCoordinator[T]) runSampler(ctx context.Context) {
	defer wc.sampler.Done()
	ticker := time.NewTicker(wc.cfg.MetricsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wc.sample()
		}
	}
}

func (wc *WriteCoordinator[T]) sample() {
	size := wc.queue.Size()
	capacity := wc.cfg.Capacity
	queueSizeGauge.WithLabelValues(wc.cfg.CoordinatorID).Set(float64(size))
	queueCapacityGauge.WithLabelValues(wc.cfg.CoordinatorID).Set(float64(capacity))
	workersAliveGauge.WithLabelValues(wc.cfg.CoordinatorID).Set(float64(wc.workersAlive.Load()))

	var state CircuitState = CircuitClosed
	if wc.cfg.CircuitBreaker != nil {
		state = wc.cfg.CircuitBreaker.State()
	}
	circuitStateGauge.WithLabelValues(wc.cfg.CoordinatorID).Set(circuitStateValue(state))

	level := LevelOK
	switch {
	case size >= wc.cfg.HighWatermark:
		level = LevelHard
	case size > wc.cfg.LowWatermark:
		level = LevelSoft
	}

	prev, _ := wc.lastSampled.Load().(BackpressureLevel)
	if prev == level {
		return
	}
	wc.lastSampled.Store(level)
	wc.cfg.Bus.Publish(FeedbackEvent{
		CoordinatorID: wc.cfg.CoordinatorID,
		QueueSize:     size,
		Capacity:      capacity,
		Level:         level,
		Timestamp:     time.Now().UTC(),
		Source:        "sampler",
	})
}

// Submit enqueues item, applying the configured overflow strategy.
func (wc *WriteCoordinator[T]) Submit(ctx context.Context, item T) error {
	if wc.isStopped() {
		return ErrStopped
	}
	return wc.queue.Put(ctx, item)
}

// SubmitMany submits items in order, stopping at the first error (notably
// ErrQueueFull under OverflowError, or ctx cancellation under
// OverflowBlock).
func (wc *WriteCoordinator[T]) SubmitMany(ctx context.Context, items []T) error {
	for _, item := range items {
		if err := wc.Submit(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (wc *WriteCoordinator[T]) isStopped() bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.stopped
}

// Health returns a point-in-time snapshot.
func (wc *WriteCoordinator[T]) Health() CoordinatorHealth {
	state := CircuitClosed
	if wc.cfg.CircuitBreaker != nil {
		state = wc.cfg.CircuitBreaker.State()
	}
	return CoordinatorHealth{
		WorkersAlive: int(wc.workersAlive.Load()),
		QueueSize:    wc.queue.Size(),
		Capacity:     wc.cfg.Capacity,
		CircuitState: state,
	}
}

// Stop shuts the coordinator down. With drain=true, workers finish
// draining the queue and give up at timeout, pushing whatever's left
// in-flight to the DLQ with reason "shutdown_timeout". With drain=false,
// workers are cancelled immediately and whatever was still queued (never
// picked up by a worker) is captured as one DLQ record with reason
// "shutdown_nodrain".
func (wc *WriteCoordinator[T]) Stop(ctx context.Context, drain bool, timeout time.Duration) error {
	wc.mu.Lock()
	if wc.stopped {
		wc.mu.Unlock()
		return nil
	}
	wc.stopped = true
	workers := wc.workers
	wc.mu.Unlock()

	if drain {
		for _, w := range workers {
			w.Drain()
		}
	} else {
		wc.cancel()
	}

	done := make(chan error, 1)
	go func() { done <- wc.group.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(timeout):
		wc.cancel()
		waitErr = <-done
	}

	wc.queue.Close()
	remaining := wc.queue.DrainAll()
	if len(remaining) > 0 && wc.cfg.DLQ != nil {
		reason := "shutdown_nodrain"
		if drain {
			reason = "shutdown_timeout"
		}
		meta := map[string]string{"coordinator_id": wc.cfg.CoordinatorID, "reason": reason}
		if err := wc.cfg.DLQ.Save(remaining, fmt.Errorf("coordinator stopped before item was processed"), meta); err != nil {
			logger.Error("coordinator: failed to persist shutdown dlq record", "error", err.Error())
		} else {
			dlqRecordsTotal.WithLabelValues(wc.cfg.CoordinatorID).Inc()
		}
	}

	wc.cancel()
	wc.sampler.Wait()

	logger.Info("coordinator stopped", "coordinator_id", wc.cfg.CoordinatorID, "drain", drain)
	return waitErr
}

// Run starts the coordinator, invokes fn, and always stops with a drain
// on the way out - including when fn panics or returns an error - mapping
// the scoped "async with WriteCoordinator(...) as coord" lifecycle onto
// Go's defer-based resource management.
func Run[T any](ctx context.Context, cfg Config[T], stopTimeout time.Duration, fn func(*WriteCoordinator[T]) error) error {
	wc, err := NewWriteCoordinator(cfg)
	if err != nil {
		return err
	}
	if err := wc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = wc.Stop(context.Background(), true, stopTimeout)
	}()
	return fn(wc)
}

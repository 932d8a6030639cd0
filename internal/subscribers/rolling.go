package subscribers

import (
	"strconv"
	"sync"

	"market-data-coordinator/internal/coordinator"
)

func init() {
	Register("rolling", func(opts string) coordinator.FeedbackSubscriber {
		size := 50
		if opts != "" {
			if parsed, err := strconv.Atoi(opts); err == nil && parsed > 0 {
				size = parsed
			}
		}
		return NewRollingWindow(size).Subscriber()
	})
}

// RollingWindow keeps the last N feedback utilization samples for a
// coordinator's health report, the way a dashboard would track a trailing
// backpressure trend rather than just the instantaneous level.
type RollingWindow struct {
	mu      sync.Mutex
	samples []float64
	size    int
	hard    int
}

// NewRollingWindow constructs a window holding up to size samples.
func NewRollingWindow(size int) *RollingWindow {
	if size <= 0 {
		size = 1
	}
	return &RollingWindow{size: size}
}

// Subscriber returns a FeedbackSubscriber that records each event's
// utilization into the window.
func (w *RollingWindow) Subscriber() coordinator.FeedbackSubscriber {
	return func(event coordinator.FeedbackEvent) {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.samples = append(w.samples, event.Utilization())
		if len(w.samples) > w.size {
			w.samples = w.samples[len(w.samples)-w.size:]
		}
		if event.Level == coordinator.LevelHard {
			w.hard++
		}
	}
}

// Average returns the mean utilization over the current window, 0 if
// empty.
func (w *RollingWindow) Average() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w.samples {
		sum += s
	}
	return sum / float64(len(w.samples))
}

// HardCount returns the number of LevelHard events observed since
// construction (not windowed, unlike Average).
func (w *RollingWindow) HardCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hard
}

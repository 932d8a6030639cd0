package subscribers

import (
	"testing"
	"time"

	"market-data-coordinator/internal/coordinator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUnknownNameErrors(t *testing.T) {
	_, err := Build("nope", "")
	require.Error(t, err)
}

func TestBuildLoggingSubscriberDoesNotPanic(t *testing.T) {
	sub, err := Build("logging", "")
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		sub(coordinator.FeedbackEvent{CoordinatorID: "c1", QueueSize: 5, Capacity: 10, Level: coordinator.LevelHard, Timestamp: time.Now()})
	})
}

func TestBuildRollingSubscriberAcceptsEvents(t *testing.T) {
	sub, err := Build("rolling", "3")
	require.NoError(t, err)

	for i, qs := range []int{2, 4, 6, 8} {
		_ = i
		sub(coordinator.FeedbackEvent{QueueSize: qs, Capacity: 10, Timestamp: time.Now()})
	}
	// Window built through the registry doesn't expose the underlying
	// RollingWindow, so this only asserts Build wires a usable subscriber.
}

func TestRollingWindowAverageAndHardCount(t *testing.T) {
	w := NewRollingWindow(2)
	sub := w.Subscriber()

	sub(coordinator.FeedbackEvent{QueueSize: 2, Capacity: 10, Level: coordinator.LevelOK})
	sub(coordinator.FeedbackEvent{QueueSize: 4, Capacity: 10, Level: coordinator.LevelSoft})
	sub(coordinator.FeedbackEvent{QueueSize: 9, Capacity: 10, Level: coordinator.LevelHard})

	// window size 2: only the last two samples (0.4, 0.9) count
	assert.InDelta(t, 0.65, w.Average(), 0.001)
	assert.Equal(t, 1, w.HardCount())
}

func TestNamesIncludesRegisteredSubscribers(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "logging")
	assert.Contains(t, names, "rolling")
}

package subscribers

import (
	"market-data-coordinator/internal/coordinator"
	"market-data-coordinator/internal/logger"
)

func init() {
	Register("logging", NewLoggingSubscriber)
}

// NewLoggingSubscriber logs each feedback event, at warn level for
// LevelHard and info otherwise. opts is unused; accepted to satisfy
// Builder.
func NewLoggingSubscriber(_ string) coordinator.FeedbackSubscriber {
	return func(event coordinator.FeedbackEvent) {
		args := []any{
			"coordinator_id", event.CoordinatorID,
			"queue_size", event.QueueSize,
			"capacity", event.Capacity,
			"level", string(event.Level),
			"reason", event.Reason,
			"source", event.Source,
			"utilization", event.Utilization(),
		}
		if event.Level == coordinator.LevelHard {
			logger.Warn("backpressure", args...)
			return
		}
		logger.Info("backpressure", args...)
	}
}

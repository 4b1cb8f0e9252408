package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weather-sync/internal/cache"
)

// Housekeeping periodically purges expired provider cache entries.
type Housekeeping struct {
	scheduler *gocron.Scheduler
	purgers   []cache.Purger
	interval  time.Duration
	logger    *zap.Logger
}

// NewHousekeeping creates a new Housekeeping job runner.
func NewHousekeeping(interval time.Duration, logger *zap.Logger, purgers ...cache.Purger) *Housekeeping {
	return &Housekeeping{
		scheduler: gocron.NewScheduler(time.UTC),
		purgers:   purgers,
		interval:  interval,
		logger:    logger.Named("housekeeping"),
	}
}

// Start schedules the purge job and starts the underlying scheduler.
func (h *Housekeeping) Start() error {
	if len(h.purgers) == 0 {
		h.logger.Info("no purgeable caches configured; nothing to schedule")
		return nil
	}

	interval := h.interval
	if interval <= 0 {
		interval = time.Minute
	}

	_, err := h.scheduler.Every(interval).SingletonMode().Do(func() {
		h.RunOnce()
	})
	if err != nil {
		return err
	}

	h.scheduler.StartAsync()
	return nil
}

// RunOnce purges every cache and returns the number of dropped entries.
func (h *Housekeeping) RunOnce() int {
	removed := 0
	for _, p := range h.purgers {
		removed += p.Purge()
	}
	if removed > 0 {
		h.logger.Debug("purged expired cache entries", zap.Int("removed", removed))
	}
	return removed
}

// Stop stops the scheduler and cancels any future jobs.
func (h *Housekeeping) Stop() {
	if h.scheduler != nil {
		h.scheduler.Stop()
	}
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-sync/internal/metrics"
	"github.com/i474232898/weather-sync/internal/weather"
)

const (
	DefaultFallbackInterval = 30 * time.Minute
	DefaultFailureBackoff   = 5 * time.Minute
)

// Refresher runs one fleet-wide refresh.
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// PreferencesReader supplies the current refresh interval.
type PreferencesReader interface {
	Get(ctx context.Context) (weather.Preferences, error)
}

// Config controls the background sync loop.
type Config struct {
	Enabled bool
	// FallbackInterval is the shortest wait between successful runs.
	FallbackInterval time.Duration
	// FailureBackoff is the wait after a failed run.
	FailureBackoff time.Duration
}

// Scheduler periodically refreshes every tracked location. It waits
// max(FallbackInterval, preferences interval) after a successful run and
// FailureBackoff after a failed one. Failures never stop the loop.
type Scheduler struct {
	cfg       Config
	refresher Refresher
	prefs     PreferencesReader
	logger    *zap.Logger
	sleepFn   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Scheduler.
func New(cfg Config, refresher Refresher, prefs PreferencesReader, logger *zap.Logger) *Scheduler {
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = DefaultFallbackInterval
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	return &Scheduler{
		cfg:       cfg,
		refresher: refresher,
		prefs:     prefs,
		logger:    logger.Named("scheduler"),
		sleepFn:   sleepCtx,
	}
}

// Start runs the loop in a background goroutine until Stop is called or ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels the loop and waits for the current iteration to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks until ctx is cancelled. It returns immediately when the
// scheduler is disabled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("background sync disabled")
		return
	}
	s.logger.Info("background sync started",
		zap.Duration("fallback_interval", s.cfg.FallbackInterval),
		zap.Duration("failure_backoff", s.cfg.FailureBackoff),
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("background sync stopped")
			return
		}

		delay := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info("background sync stopped")
			return
		}

		s.logger.Debug("waiting for next run", zap.Duration("delay", delay))
		if err := s.sleepFn(ctx, delay); err != nil {
			s.logger.Info("background sync stopped")
			return
		}
	}
}

// runOnce performs one refresh and returns how long to wait before the next.
func (s *Scheduler) runOnce(ctx context.Context) time.Duration {
	n, err := s.refresher.RefreshAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		metrics.SchedulerBackoffsTotal.Inc()
		s.logger.Error("background sync failed; backing off",
			zap.Error(err),
			zap.Bool("transient", weather.IsTransient(err)),
			zap.Duration("backoff", s.cfg.FailureBackoff),
		)
		return s.cfg.FailureBackoff
	}

	s.logger.Info("background sync completed", zap.Int("locations", n))
	return s.nextInterval(ctx)
}

// nextInterval reads preferences on every call so edits apply from the next
// cycle on.
func (s *Scheduler) nextInterval(ctx context.Context) time.Duration {
	prefs, err := s.prefs.Get(ctx)
	if err != nil {
		s.logger.Warn("reading preferences failed; using fallback interval", zap.Error(err))
		return s.cfg.FallbackInterval
	}
	if interval := prefs.RefreshInterval(); interval > s.cfg.FallbackInterval {
		return interval
	}
	return s.cfg.FallbackInterval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package reservations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"boxoffice/internal/shared/metrics"
	"boxoffice/internal/shared/worker"
	"boxoffice/pkg/logger"
)

// SweeperConfig contains configuration for the expiry sweeper
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultSweeperConfig returns default sweeper configuration
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:  15 * time.Second,
		BatchSize: 100,
	}
}

// Sweeper periodically expires overdue reservations. Several sweepers may run
// against the same store; the guarded updates make overlap a no-op.
type Sweeper struct {
	service Service
	config  *SweeperConfig
	log     *logger.Logger
	metrics *metrics.Metrics
	tracker *worker.Tracker
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

func NewSweeper(service Service, config *SweeperConfig, log *logger.Logger, m *metrics.Metrics) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Sweeper{
		service: service,
		config:  config,
		log:     log.WithComponent("workers.reservation_expiry"),
		metrics: m,
		tracker: worker.NewTracker("worker.reservation_expiry"),
		now:     func() time.Time { return time.Now().UTC() },
		done:    make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tracker.SetRunning(true)
	defer s.tracker.SetRunning(false)
	s.log.Info("Started reservation expiry sweeper", slog.Duration("interval", s.config.Interval), slog.Int("batch_size", s.config.BatchSize))

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop stops the sweeper loop
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Sweeper) HealthStatus() worker.Status {
	return s.tracker.Snapshot()
}

func (s *Sweeper) runCycle(ctx context.Context) {
	s.tracker.Begin(s.now())
	if _, err := s.RunOnce(ctx); err != nil {
		s.tracker.Fail(err)
		s.log.ErrorContext(ctx, "Reservation expiry sweep crashed", slog.String("error", err.Error()))
		return
	}
	s.tracker.Succeed(s.now())
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepSummary, error) {
	started := time.Now()
	summary, err := s.service.SweepExpired(ctx, s.config.BatchSize)
	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return summary, err
	}

	if summary.Expired > 0 || summary.Failed > 0 {
		s.log.InfoContext(ctx, "Expired reservations processed",
			slog.Int("scanned", summary.Scanned),
			slog.Int("expired", summary.Expired),
			slog.Int("released_seats", summary.Released),
			slog.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

package outbox

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"boxoffice/internal/shared/metrics"
	"boxoffice/internal/shared/worker"
	"boxoffice/pkg/logger"
)

// Publisher delivers one relayed row to the message bus.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Available() bool
}

// RelayConfig contains configuration for the outbox relay
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
	MaxLoops    int
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Interval:    5 * time.Second,
		BatchSize:   100,
		Lease:       30 * time.Second,
		MaxAttempts: 10,
		MaxLoops:    5,
	}
}

// CycleResult summarises one relay cycle.
type CycleResult struct {
	Scanned int
	Sent    int
	Failed  int
	Dead    int
	Loops   int
	Paused  bool
}

// Relay moves PENDING outbox rows to the bus. Several relays may run against
// the same table; skip-locked claiming keeps their batches disjoint.
type Relay struct {
	repo      Repository
	publisher Publisher
	config    *RelayConfig
	log       *logger.Logger
	metrics   *metrics.Metrics
	tracker   *worker.Tracker

	now    func() time.Time
	jitter func() time.Duration

	mu                sync.Mutex
	warnedUnavailable bool
	done              chan struct{}
	stopOnce          sync.Once
}

// NewRelay creates a relay. A nil publisher keeps the relay paused.
func NewRelay(repo Repository, publisher Publisher, config *RelayConfig, log *logger.Logger, m *metrics.Metrics) *Relay {
	if config == nil {
		config = DefaultRelayConfig()
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Relay{
		repo:      repo,
		publisher: publisher,
		config:    config,
		log:       log.WithComponent("workers.outbox"),
		metrics:   m,
		tracker:   worker.NewTracker("worker.outbox_publisher"),
		now:       func() time.Time { return time.Now().UTC() },
		jitter:    func() time.Duration { return time.Duration(rand.Intn(300)) * time.Millisecond },
		done:      make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.tracker.SetRunning(true)
	defer r.tracker.SetRunning(false)
	r.log.Info("Started outbox relay", slog.Duration("interval", r.config.Interval), slog.Int("batch_size", r.config.BatchSize))

	for {
		select {
		case <-ticker.C:
			r.runCycle(ctx)
		case <-r.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop stops the relay loop
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// HealthStatus returns the relay's last run outcome
func (r *Relay) HealthStatus() worker.Status {
	return r.tracker.Snapshot()
}

func (r *Relay) runCycle(ctx context.Context) {
	r.tracker.Begin(r.now())
	if _, err := r.RunOnce(ctx); err != nil {
		r.tracker.Fail(err)
		r.log.ErrorContext(ctx, "Outbox publisher cycle crashed", slog.String("error", err.Error()))
		return
	}
	r.tracker.Succeed(r.now())
}

// RunOnce executes a single cycle: claim, publish, settle, and repeat while
// full batches keep coming back, up to MaxLoops.
func (r *Relay) RunOnce(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	var result CycleResult

	if r.publisher == nil || !r.publisher.Available() {
		r.mu.Lock()
		if !r.warnedUnavailable {
			r.log.WarnContext(ctx, "Message bus is not available. Outbox relay is paused.")
			r.warnedUnavailable = true
		}
		r.mu.Unlock()
		result.Paused = true
		return result, nil
	}
	r.mu.Lock()
	r.warnedUnavailable = false
	r.mu.Unlock()

	for result.Loops < r.config.MaxLoops {
		result.Loops++

		batch, err := r.repo.ClaimPending(ctx, r.config.BatchSize, r.config.Lease, r.now())
		if err != nil {
			r.record(ctx, result, started)
			return result, err
		}
		result.Scanned += len(batch)

		for i := range batch {
			if r.deliver(ctx, &batch[i]) {
				result.Sent++
				continue
			}
			result.Failed++
			if batch[i].Attempts >= r.config.MaxAttempts {
				result.Dead++
			}
		}

		if len(batch) < r.config.BatchSize {
			break
		}
	}

	r.record(ctx, result, started)
	return result, nil
}

func (r *Relay) deliver(ctx context.Context, event *Event) bool {
	headers := make(map[string]string, len(event.Headers)+1)
	for k, v := range event.Headers {
		headers[k] = v
	}
	if event.CorrelationID != nil && *event.CorrelationID != "" {
		headers[HeaderCorrelationID] = *event.CorrelationID
	}

	err := r.publisher.Publish(ctx, event.Topic, event.Key, event.Payload, headers)
	if err == nil {
		if markErr := r.repo.MarkSent(ctx, event.ID, r.now()); markErr != nil {
			// The row is re-claimed after its lease and published again.
			r.log.ErrorContext(ctx, "Failed to mark outbox event sent",
				slog.String("outbox_event_id", event.ID.String()),
				slog.String("error", markErr.Error()),
			)
		}
		return true
	}

	r.settleFailure(ctx, event, err)
	return false
}

func (r *Relay) settleFailure(ctx context.Context, event *Event, publishErr error) {
	log := r.log.WithCorrelationID(stringValue(event.CorrelationID))
	message := publishErr.Error()

	var markErr error
	if event.Attempts >= r.config.MaxAttempts {
		markErr = r.repo.MarkFailed(ctx, event.ID, message)
		log.ErrorContext(ctx, "Outbox event exhausted publish attempts",
			slog.String("outbox_event_id", event.ID.String()),
			slog.String("topic", event.Topic),
			slog.Int("attempts", event.Attempts),
			slog.String("error", message),
		)
	} else {
		next := r.now().Add(Backoff(event.Attempts, r.jitter()))
		markErr = r.repo.Reschedule(ctx, event.ID, next, message)
		log.WarnContext(ctx, "Outbox publish failed, rescheduled",
			slog.String("outbox_event_id", event.ID.String()),
			slog.String("topic", event.Topic),
			slog.Int("attempts", event.Attempts),
			slog.Time("available_at", next),
			slog.String("error", message),
		)
	}
	if markErr != nil {
		log.ErrorContext(ctx, "Failed to persist outbox failure state",
			slog.String("outbox_event_id", event.ID.String()),
			slog.String("error", errors.Join(publishErr, markErr).Error()),
		)
	}
}

func (r *Relay) record(ctx context.Context, result CycleResult, started time.Time) {
	duration := time.Since(started)
	if result.Sent > 0 || result.Failed > 0 {
		r.log.LogOutboxCycle(ctx, result.Scanned, result.Sent, result.Failed, result.Loops, duration)
	}
	if r.metrics == nil {
		return
	}
	r.metrics.OutboxScanned.Add(float64(result.Scanned))
	r.metrics.OutboxSent.Add(float64(result.Sent))
	r.metrics.OutboxFailed.Add(float64(result.Failed))
	r.metrics.OutboxDead.Add(float64(result.Dead))
	r.metrics.OutboxCycleDuration.Observe(duration.Seconds())
}

// Backoff returns min(120s, 2^(attempt-1)s) plus jitter, with attempt clamped to [1,10].
func Backoff(attempt int, jitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	base := time.Duration(1<<(attempt-1)) * time.Second
	if base > 120*time.Second {
		base = 120 * time.Second
	}
	return base + jitter
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

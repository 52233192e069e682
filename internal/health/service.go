package health

import (
	"context"
	"fmt"
	"time"

	"boxoffice/internal/messaging"
	"boxoffice/internal/shared/config"
	"boxoffice/internal/shared/metrics"
	"boxoffice/internal/shared/worker"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDisabled = "disabled"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Check is one readiness component.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Readiness struct {
	Ready     bool      `json:"ready"`
	CheckedAt time.Time `json:"checked_at"`
	Checks    []Check   `json:"checks"`
}

type Alert struct {
	Name      string  `json:"name"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Samples   float64 `json:"samples,omitempty"`
	Message   string  `json:"message"`
}

// Dependencies are the collaborators readiness inspects. Nil members are
// reported as disabled and never fail readiness.
type Dependencies struct {
	Postgres func(ctx context.Context) error
	Redis    func(ctx context.Context) error
	Producer interface{ Available() bool }
	Sweeper  func() worker.Status
	Relay    func() worker.Status
	Consumer func() messaging.ConsumerStatus
}

type Options struct {
	SweeperStaleAfter time.Duration
	RelayStaleAfter   time.Duration
	StartupGrace      time.Duration
	Alerts            config.AlertsConfig
}

func DefaultOptions() Options {
	return Options{
		SweeperStaleAfter: 90 * time.Second,
		RelayStaleAfter:   30 * time.Second,
		StartupGrace:      120 * time.Second,
		Alerts: config.AlertsConfig{
			OutboxFailureRatioThreshold:  0.1,
			OutboxMinSamples:             20,
			WebhookFailureRatioThreshold: 0.2,
			WebhookMinSamples:            20,
			DeadLetterThreshold:          1,
			ConsumerRetryThreshold:       20,
		},
	}
}

type Service interface {
	Ready(ctx context.Context) Readiness
	Alerts() []Alert
}

type service struct {
	deps      Dependencies
	options   Options
	metrics   *metrics.Metrics
	startedAt time.Time
	now       func() time.Time
}

func NewService(deps Dependencies, options Options, m *metrics.Metrics) Service {
	now := func() time.Time { return time.Now().UTC() }
	return &service{
		deps:      deps,
		options:   options,
		metrics:   m,
		startedAt: now(),
		now:       now,
	}
}

func (s *service) Ready(ctx context.Context) Readiness {
	now := s.now()
	checks := []Check{
		pingCheck(ctx, "postgres", s.deps.Postgres),
		pingCheck(ctx, "redis", s.deps.Redis),
		s.producerCheck(),
		s.workerCheck("sweeper", s.deps.Sweeper, s.options.SweeperStaleAfter, now),
		s.workerCheck("outbox_relay", s.deps.Relay, s.options.RelayStaleAfter, now),
		s.consumerCheck(now),
	}

	ready := true
	for _, check := range checks {
		if check.Status == StatusDegraded {
			ready = false
		}
	}
	return Readiness{Ready: ready, CheckedAt: now, Checks: checks}
}

func pingCheck(ctx context.Context, name string, ping func(ctx context.Context) error) Check {
	if ping == nil {
		return Check{Name: name, Status: StatusDisabled}
	}
	if err := ping(ctx); err != nil {
		return Check{Name: name, Status: StatusDegraded, Message: err.Error()}
	}
	return Check{Name: name, Status: StatusOK}
}

func (s *service) producerCheck() Check {
	if s.deps.Producer == nil {
		return Check{Name: "kafka_producer", Status: StatusDisabled}
	}
	if !s.deps.Producer.Available() {
		return Check{Name: "kafka_producer", Status: StatusDegraded, Message: "producer not configured"}
	}
	return Check{Name: "kafka_producer", Status: StatusOK}
}

func (s *service) inGrace(now time.Time) bool {
	return now.Sub(s.startedAt) < s.options.StartupGrace
}

func (s *service) workerCheck(name string, status func() worker.Status, staleAfter time.Duration, now time.Time) Check {
	if status == nil {
		return Check{Name: name, Status: StatusDisabled}
	}
	snapshot := status()
	if snapshot.LastSuccessAt == nil {
		if s.inGrace(now) {
			return Check{Name: name, Status: StatusOK, Message: "starting"}
		}
		return Check{Name: name, Status: StatusDegraded, Message: "no successful run yet"}
	}
	if age := now.Sub(*snapshot.LastSuccessAt); age > staleAfter {
		return Check{Name: name, Status: StatusDegraded, Message: fmt.Sprintf("last success %s ago", age.Round(time.Second))}
	}
	return Check{Name: name, Status: StatusOK}
}

func (s *service) consumerCheck(now time.Time) Check {
	if s.deps.Consumer == nil {
		return Check{Name: "payment_consumer", Status: StatusDisabled}
	}
	status := s.deps.Consumer()
	if status.Ready {
		return Check{Name: "payment_consumer", Status: StatusOK}
	}
	if s.inGrace(now) {
		return Check{Name: "payment_consumer", Status: StatusOK, Message: "starting"}
	}
	message := "consumer group not joined"
	if status.LastInitError != "" {
		message = status.LastInitError
	}
	return Check{Name: "payment_consumer", Status: StatusDegraded, Message: message}
}

// Alerts evaluates the alert rules against the process-lifetime totals.
func (s *service) Alerts() []Alert {
	alerts := []Alert{}
	if s.metrics == nil {
		return alerts
	}
	rules := s.options.Alerts

	sent := metrics.Total(s.metrics.OutboxSent)
	failed := metrics.Total(s.metrics.OutboxFailed)
	if alert, ok := ratioAlert("outbox_publish_failure_ratio", SeverityCritical, failed, sent+failed,
		rules.OutboxFailureRatioThreshold, rules.OutboxMinSamples); ok {
		alerts = append(alerts, alert)
	}

	webhookOK := metrics.Total(s.metrics.WebhookProcessed)
	webhookFailed := metrics.Total(s.metrics.WebhookFailed)
	if alert, ok := ratioAlert("payment_webhook_failure_ratio", SeverityWarning, webhookFailed, webhookOK+webhookFailed,
		rules.WebhookFailureRatioThreshold, rules.WebhookMinSamples); ok {
		alerts = append(alerts, alert)
	}

	if dlq := metrics.Total(s.metrics.ConsumerDeadLettered); rules.DeadLetterThreshold > 0 && dlq >= float64(rules.DeadLetterThreshold) {
		alerts = append(alerts, Alert{
			Name:      "payment_succeeded_dead_letters",
			Severity:  SeverityCritical,
			Value:     dlq,
			Threshold: float64(rules.DeadLetterThreshold),
			Message:   "payment.succeeded messages were dead-lettered and need manual finalization",
		})
	}

	if retries := metrics.Total(s.metrics.ConsumerRetries); rules.ConsumerRetryThreshold > 0 && retries >= float64(rules.ConsumerRetryThreshold) {
		alerts = append(alerts, Alert{
			Name:      "payment_succeeded_retries",
			Severity:  SeverityWarning,
			Value:     retries,
			Threshold: float64(rules.ConsumerRetryThreshold),
			Message:   "payment.succeeded processing is retrying frequently",
		})
	}
	return alerts
}

func ratioAlert(name, severity string, failures, samples, threshold float64, minSamples int) (Alert, bool) {
	if samples < float64(minSamples) || samples == 0 {
		return Alert{}, false
	}
	ratio := failures / samples
	if ratio < threshold {
		return Alert{}, false
	}
	return Alert{
		Name:      name,
		Severity:  severity,
		Value:     ratio,
		Threshold: threshold,
		Samples:   samples,
		Message:   fmt.Sprintf("%.0f of %.0f attempts failed", failures, samples),
	}, true
}

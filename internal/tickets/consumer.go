package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boxoffice/internal/messaging"
	"boxoffice/internal/outbox"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
)

// DeadLetterPublisher writes exhausted messages to the dead-letter topic.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// DeadLetter is the record written to the dead-letter topic. Payload is the
// original message body, untouched.
type DeadLetter struct {
	OriginalTopic string          `json:"originalTopic"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
	Key           *string         `json:"key"`
	Attempts      int             `json:"attempts"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failedAt"`
	Payload       json.RawMessage `json:"payload"`
}

type PaymentSucceededConfig struct {
	MaxAttempts     int
	RetryBackoff    time.Duration
	DeadLetterTopic string
}

func DefaultPaymentSucceededConfig() PaymentSucceededConfig {
	return PaymentSucceededConfig{
		MaxAttempts:     3,
		RetryBackoff:    200 * time.Millisecond,
		DeadLetterTopic: outbox.TopicPaymentSucceeded + ".dlq",
	}
}

// PaymentSucceededHandler finalizes payments announced on payment.succeeded.
// Malformed messages are dropped, failures are retried in place, and a
// message that keeps failing is parked on the dead-letter topic and acked.
type PaymentSucceededHandler struct {
	service    Service
	deadLetter DeadLetterPublisher
	config     PaymentSucceededConfig
	log        *logger.Logger
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

var _ messaging.Handler = (*PaymentSucceededHandler)(nil)

func NewPaymentSucceededHandler(service Service, deadLetter DeadLetterPublisher, config PaymentSucceededConfig, log *logger.Logger, m *metrics.Metrics) *PaymentSucceededHandler {
	defaults := DefaultPaymentSucceededConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = 0
	}
	if config.DeadLetterTopic == "" {
		config.DeadLetterTopic = defaults.DeadLetterTopic
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &PaymentSucceededHandler{
		service:    service,
		deadLetter: deadLetter,
		config:     config,
		log:        log.WithComponent("consumer.payment_succeeded"),
		metrics:    m,
		sleep:      sleepContext,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type dropError struct {
	reason string
}

func (e *dropError) Error() string { return "drop message: " + e.reason }

// parsePaymentSucceeded extracts the finalize command from a message body.
// A *dropError means the message can never be processed.
func parsePaymentSucceeded(msg messaging.InboundMessage) (FinalizeCommand, error) {
	if len(strings.TrimSpace(string(msg.Value))) == 0 {
		return FinalizeCommand{}, &dropError{reason: "empty_payload"}
	}
	env, err := outbox.Decode[outbox.PaymentStatusChanged](msg.Value)
	if err != nil {
		return FinalizeCommand{}, &dropError{reason: "invalid_json"}
	}
	if env.Data.PaymentID == "" {
		return FinalizeCommand{}, &dropError{reason: "missing_payment_id"}
	}
	if env.Data.Status != "" && env.Data.Status != "SUCCEEDED" {
		return FinalizeCommand{}, &dropError{reason: "invalid_status"}
	}
	paymentID, err := uuid.Parse(env.Data.PaymentID)
	if err != nil {
		return FinalizeCommand{}, &dropError{reason: "invalid_payment_id"}
	}

	cmd := FinalizeCommand{PaymentID: paymentID, Actor: env.Actor}
	if env.CorrelationID != nil {
		cmd.CorrelationID = *env.CorrelationID
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = msg.Headers[outbox.HeaderCorrelationID]
	}
	return cmd, nil
}

func (h *PaymentSucceededHandler) Handle(ctx context.Context, msg messaging.InboundMessage) error {
	cmd, err := parsePaymentSucceeded(msg)
	var drop *dropError
	if errors.As(err, &drop) {
		if h.metrics != nil {
			h.metrics.ConsumerDropped.WithLabelValues(drop.reason).Inc()
		}
		h.log.WarnContext(ctx, "Dropping payment.succeeded message",
			slog.String("reason", drop.reason),
			slog.String("topic", msg.Topic),
			slog.Int("partition", int(msg.Partition)),
			slog.Int64("offset", msg.Offset),
		)
		return nil
	}
	log := h.log.WithCorrelationID(cmd.CorrelationID)

	var lastErr error
	for attempt := 1; attempt <= h.config.MaxAttempts; attempt++ {
		result, err := h.service.Finalize(ctx, cmd)
		if err == nil {
			if h.metrics != nil {
				h.metrics.ConsumerProcessed.Inc()
			}
			log.DebugContext(ctx, "payment.succeeded handled",
				slog.String("payment_id", cmd.PaymentID.String()),
				slog.Bool("processed", result.Processed),
				slog.String("reason", result.Reason),
			)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == h.config.MaxAttempts {
			break
		}

		if h.metrics != nil {
			h.metrics.ConsumerRetries.Inc()
		}
		log.WarnContext(ctx, "payment.succeeded processing failed, retrying",
			slog.String("payment_id", cmd.PaymentID.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if err := h.sleep(ctx, h.config.RetryBackoff*time.Duration(attempt)); err != nil {
			return err
		}
	}

	return h.sendToDeadLetter(ctx, msg, lastErr)
}

func (h *PaymentSucceededHandler) sendToDeadLetter(ctx context.Context, msg messaging.InboundMessage, cause error) error {
	if h.deadLetter == nil {
		return fmt.Errorf("no dead-letter publisher configured: %w", cause)
	}

	record := DeadLetter{
		OriginalTopic: msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Attempts:      h.config.MaxAttempts,
		Error:         cause.Error(),
		FailedAt:      h.now(),
		Payload:       rawPayload(msg.Value),
	}
	if msg.Key != nil {
		key := string(msg.Key)
		record.Key = &key
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if err := h.deadLetter.Publish(ctx, h.config.DeadLetterTopic, string(msg.Key), body, headers); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	if h.metrics != nil {
		h.metrics.ConsumerDeadLettered.Inc()
	}
	h.log.LogDeadLettered(ctx, msg.Topic, msg.Partition, msg.Offset, h.config.MaxAttempts, cause)
	return nil
}

// rawPayload keeps the body verbatim when it is JSON and quotes it otherwise.
func rawPayload(value []byte) json.RawMessage {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(string(value))
	return quoted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

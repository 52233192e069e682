package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boxoffice/internal/shared/config"
	"boxoffice/pkg/logger"

	"github.com/IBM/sarama"
)

// InboundMessage is a consumed record with the metadata needed for
// dead-letter bookkeeping.
type InboundMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one message. Returning nil acknowledges it; an error
// leaves the offset uncommitted so the message is delivered again.
type Handler interface {
	Handle(ctx context.Context, msg InboundMessage) error
}

type HandlerFunc func(ctx context.Context, msg InboundMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg InboundMessage) error {
	return f(ctx, msg)
}

type ConsumerConfig struct {
	Brokers        []string
	ClientID       string
	GroupID        string
	Topics         []string
	SessionTimeout time.Duration
	Heartbeat      time.Duration
	RetryBackoff   time.Duration
	OffsetOldest   bool
}

func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		ClientID:       "boxoffice",
		GroupID:        "tickets-payment-succeeded-v1",
		Topics:         []string{"payment.succeeded"},
		SessionTimeout: 30 * time.Second,
		Heartbeat:      3 * time.Second,
		RetryBackoff:   time.Second,
		OffsetOldest:   true,
	}
}

func ConsumerConfigFrom(cfg *config.Config) *ConsumerConfig {
	cc := DefaultConsumerConfig()
	cc.Brokers = cfg.Kafka.Brokers
	cc.ClientID = cfg.Kafka.ClientID
	cc.GroupID = cfg.Kafka.ConsumerGroup
	cc.Topics = []string{cfg.Kafka.PaymentTopic}
	return cc
}

// ConsumerStatus is the consumer's health snapshot.
type ConsumerStatus struct {
	Ready         bool       `json:"ready"`
	LastInitAt    *time.Time `json:"last_init_at"`
	LastInitError string     `json:"last_init_error,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// Consumer runs a consumer group session loop and feeds a Handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	config  *ConsumerConfig
	handler Handler
	log     *logger.Logger

	mu     sync.RWMutex
	status ConsumerStatus
}

// NewConsumer joins the consumer group. A failed join is recorded in the
// status so readiness reports it.
func NewConsumer(cfg *ConsumerConfig, handler Handler, log *logger.Logger) (*Consumer, error) {
	c := newConsumer(nil, cfg, handler, log)

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	saramaConfig.Consumer.Group.Heartbeat.Interval = cfg.Heartbeat
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Second
	if cfg.OffsetOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	now := time.Now().UTC()
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		c.recordInit(now, err)
		return c, fmt.Errorf("failed to create consumer group: %w", err)
	}
	c.group = group
	c.recordInit(now, nil)
	return c, nil
}

// NewConsumerFromGroup wraps an existing consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, cfg *ConsumerConfig, handler Handler, log *logger.Logger) *Consumer {
	c := newConsumer(group, cfg, handler, log)
	c.recordInit(time.Now().UTC(), nil)
	return c
}

func newConsumer(group sarama.ConsumerGroup, cfg *ConsumerConfig, handler Handler, log *logger.Logger) *Consumer {
	if cfg == nil {
		cfg = DefaultConsumerConfig()
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Consumer{
		group:   group,
		config:  cfg,
		handler: handler,
		log:     log.WithComponent("kafka.consumer"),
	}
}

// Run consumes until ctx is cancelled. Each rebalance ends a session; the
// loop rejoins after RetryBackoff when the session ended with an error.
func (c *Consumer) Run(ctx context.Context) error {
	if c.group == nil {
		return errors.New("consumer group is not initialised")
	}

	go c.handleErrors()
	c.log.Info("Consumer started", slog.String("group", c.config.GroupID), slog.Any("topics", c.config.Topics))

	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, c.config.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.setReady(false)
			c.log.ErrorContext(ctx, "Consumer session failed", slog.String("error", err.Error()))

			select {
			case <-time.After(c.config.RetryBackoff):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.setReady(false)
			return nil
		}
	}
}

func (c *Consumer) handleErrors() {
	for err := range c.group.Errors() {
		c.log.Error("Consumer group error", slog.String("error", err.Error()))
	}
}

func (c *Consumer) Close() error {
	c.setReady(false)
	if c.group == nil {
		return nil
	}
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.log.Info("Consumer stopped")
	return nil
}

// HealthStatus returns a copy of the consumer status.
func (c *Consumer) HealthStatus() ConsumerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Consumer) recordInit(at time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastInitAt = &at
	c.status.LastInitError = ""
	if err != nil {
		c.status.LastInitError = err.Error()
	}
}

func (c *Consumer) setReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Ready = ready
}

func (c *Consumer) touch(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastMessageAt = &at
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.setReady(true)
	h.consumer.log.Info("Consumer group session started", slog.String("member_id", session.MemberID()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.log.Info("Consumer group session ended")
	return nil
}

// ConsumeClaim hands messages to the handler in partition order. A handler
// error ends the claim without marking, so the message is redelivered from
// the last committed offset after the rebalance.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			h.consumer.touch(time.Now().UTC())

			if err := h.consumer.handler.Handle(session.Context(), toInbound(message)); err != nil {
				h.consumer.log.ErrorContext(session.Context(), "Message left unacknowledged",
					slog.String("topic", message.Topic),
					slog.Int("partition", int(message.Partition)),
					slog.Int64("offset", message.Offset),
					slog.String("error", err.Error()),
				)
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func toInbound(message *sarama.ConsumerMessage) InboundMessage {
	headers := make(map[string]string, len(message.Headers))
	for _, h := range message.Headers {
		if h == nil {
			continue
		}
		headers[string(h.Key)] = string(h.Value)
	}
	return InboundMessage{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       message.Key,
		Value:     message.Value,
		Headers:   headers,
		Timestamp: message.Timestamp,
	}
}

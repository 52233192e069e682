package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boxoffice/internal/shared/config"
	"boxoffice/pkg/logger"

	"github.com/IBM/sarama"
)

// ProducerConfig contains configuration for the Kafka producer
type ProducerConfig struct {
	Brokers          []string
	ClientID         string
	RetryMax         int
	Timeout          time.Duration
	RequiredAcks     sarama.RequiredAcks
	CompressionType  sarama.CompressionCodec
	IdempotentWrites bool
	MaxMessageBytes  int
}

// DefaultProducerConfig returns a default producer configuration
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Brokers:          []string{"localhost:9092"},
		ClientID:         "boxoffice",
		RetryMax:         3,
		Timeout:          10 * time.Second,
		RequiredAcks:     sarama.WaitForAll, // Wait for all in-sync replicas
		CompressionType:  sarama.CompressionSnappy,
		IdempotentWrites: true,
		MaxMessageBytes:  1000000, // 1MB
	}
}

// ProducerConfigFrom maps the application config onto a producer config.
func ProducerConfigFrom(cfg *config.Config) *ProducerConfig {
	pc := DefaultProducerConfig()
	pc.Brokers = cfg.Kafka.Brokers
	pc.ClientID = cfg.Kafka.ClientID
	pc.RetryMax = cfg.Kafka.RetryMax
	pc.Timeout = cfg.Kafka.Timeout
	if !cfg.Kafka.RequiredAcksAll {
		pc.RequiredAcks = sarama.WaitForLocal
		pc.IdempotentWrites = false
	}
	return pc
}

func (c *ProducerConfig) saramaConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = c.ClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = c.RequiredAcks
	saramaConfig.Producer.Compression = c.CompressionType
	saramaConfig.Producer.Retry.Max = c.RetryMax
	saramaConfig.Producer.Timeout = c.Timeout
	saramaConfig.Producer.Idempotent = c.IdempotentWrites
	saramaConfig.Producer.MaxMessageBytes = c.MaxMessageBytes
	if c.IdempotentWrites {
		saramaConfig.Net.MaxOpenRequests = 1
	}
	// Hash partitioning keeps one key on one partition, so per-key order holds.
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	return saramaConfig
}

// Producer publishes keyed messages synchronously. It satisfies the outbox
// relay's publisher and the consumer's dead-letter sink.
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewProducer dials the brokers and returns a ready producer.
func NewProducer(cfg *ProducerConfig, log *logger.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := NewProducerFromSarama(producer, log)
	p.log.Info("Kafka producer created", slog.Any("brokers", cfg.Brokers), slog.String("client_id", cfg.ClientID))
	return p, nil
}

// NewProducerFromSarama wraps an existing sarama producer.
func NewProducerFromSarama(producer sarama.SyncProducer, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Producer{producer: producer, log: log.WithComponent("kafka.producer")}
}

// Publish sends one message and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.Available() {
		return fmt.Errorf("kafka producer is closed")
	}

	message := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: time.Now().UTC(),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	p.log.DebugContext(ctx, "Message published",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
	)
	return nil
}

// Available reports whether the producer can accept messages.
func (p *Producer) Available() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.producer != nil && !p.closed
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.producer == nil {
		return nil
	}
	p.closed = true
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.log.Info("Kafka producer closed")
	return nil
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}

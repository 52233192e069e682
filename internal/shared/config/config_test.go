package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.Reservation.SweepInterval)
	assert.Equal(t, 100, cfg.Reservation.SweepBatch)
	assert.Equal(t, 5*time.Second, cfg.Outbox.Interval)
	assert.Equal(t, 30*time.Second, cfg.Outbox.Lease)
	assert.Equal(t, 10, cfg.Outbox.MaxAttempts)
	assert.Equal(t, 5, cfg.Outbox.MaxLoops)
	assert.Equal(t, 3, cfg.Consumer.MaxAttempts)
	assert.Equal(t, "manual", cfg.Payments.DefaultProvider)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, "payment.succeeded.dlq", cfg.DeadLetterTopic("payment.succeeded"))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("OUTBOX_PUBLISH_LEASE_SECONDS", "45")
	t.Setenv("ALERT_OUTBOX_FAILURE_RATIO_THRESHOLD", "0.25")
	t.Setenv("RESERVATION_TTL", "90s")

	cfg := Load()

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, 45*time.Second, cfg.Outbox.Lease)
	assert.InDelta(t, 0.25, cfg.Alerts.OutboxFailureRatioThreshold, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Reservation.TTL)
}

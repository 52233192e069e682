package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"boxoffice/internal/messaging"
	"boxoffice/internal/outbox"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finalizeStub struct {
	calls    []FinalizeCommand
	failures int
	err      error
}

func (s *finalizeStub) Finalize(_ context.Context, cmd FinalizeCommand) (*FinalizeResult, error) {
	s.calls = append(s.calls, cmd)
	if s.failures > 0 {
		s.failures--
		return nil, s.err
	}
	return &FinalizeResult{Processed: true, PaymentID: cmd.PaymentID}, nil
}

func (s *finalizeStub) ListMyTickets(context.Context, uuid.UUID) ([]Ticket, error) {
	return nil, nil
}

type publishedMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type deadLetterRecorder struct {
	published []publishedMessage
	err       error
}

func (r *deadLetterRecorder) Publish(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, publishedMessage{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func newHandler(svc Service, dlq DeadLetterPublisher, m *metrics.Metrics) (*PaymentSucceededHandler, *[]time.Duration) {
	h := NewPaymentSucceededHandler(svc, dlq, DefaultPaymentSucceededConfig(), logger.Discard(), m)
	var sleeps []time.Duration
	h.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	h.now = func() time.Time { return fixedNow }
	return h, &sleeps
}

func paymentSucceededMessage(t *testing.T, paymentID string, status string) messaging.InboundMessage {
	t.Helper()
	env := outbox.NewEnvelope(outbox.PaymentStatusChanged{PaymentID: paymentID, Status: status},
		outbox.Meta{CorrelationID: "corr-42", Actor: "system"})
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return messaging.InboundMessage{
		Topic:     outbox.TopicPaymentSucceeded,
		Partition: 2,
		Offset:    117,
		Key:       []byte(paymentID),
		Value:     body,
		Headers:   map[string]string{outbox.HeaderCorrelationID: "corr-42"},
	}
}

func TestHandlerFinalizesPayment(t *testing.T) {
	m := metrics.New()
	svc := &finalizeStub{}
	h, sleeps := newHandler(svc, &deadLetterRecorder{}, m)
	paymentID := uuid.New()

	err := h.Handle(context.Background(), paymentSucceededMessage(t, paymentID.String(), "SUCCEEDED"))
	require.NoError(t, err)

	require.Len(t, svc.calls, 1)
	assert.Equal(t, paymentID, svc.calls[0].PaymentID)
	assert.Equal(t, "corr-42", svc.calls[0].CorrelationID)
	assert.Equal(t, "system", svc.calls[0].Actor)
	assert.Empty(t, *sleeps)
	assert.Equal(t, 1.0, metrics.Total(m.ConsumerProcessed))
}

func TestHandlerRetriesThenSucceeds(t *testing.T) {
	m := metrics.New()
	svc := &finalizeStub{failures: 2, err: errStoreUnavailable}
	dlq := &deadLetterRecorder{}
	h, sleeps := newHandler(svc, dlq, m)

	err := h.Handle(context.Background(), paymentSucceededMessage(t, uuid.NewString(), ""))
	require.NoError(t, err)

	assert.Len(t, svc.calls, 3)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, *sleeps)
	assert.Empty(t, dlq.published)
	assert.Equal(t, 2.0, metrics.Total(m.ConsumerRetries))
}

func TestHandlerDeadLettersAfterMaxAttempts(t *testing.T) {
	m := metrics.New()
	svc := &finalizeStub{failures: 10, err: errors.New("amount mismatch")}
	dlq := &deadLetterRecorder{}
	h, _ := newHandler(svc, dlq, m)
	paymentID := uuid.NewString()
	msg := paymentSucceededMessage(t, paymentID, "SUCCEEDED")

	err := h.Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.Len(t, svc.calls, 3)
	require.Len(t, dlq.published, 1)
	published := dlq.published[0]
	assert.Equal(t, "payment.succeeded.dlq", published.topic)
	assert.Equal(t, paymentID, published.key)
	assert.Equal(t, "corr-42", published.headers[outbox.HeaderCorrelationID])

	var record DeadLetter
	require.NoError(t, json.Unmarshal(published.value, &record))
	assert.Equal(t, outbox.TopicPaymentSucceeded, record.OriginalTopic)
	assert.Equal(t, int32(2), record.Partition)
	assert.Equal(t, int64(117), record.Offset)
	assert.Equal(t, 3, record.Attempts)
	assert.Equal(t, "amount mismatch", record.Error)
	assert.True(t, fixedNow.Equal(record.FailedAt))
	require.NotNil(t, record.Key)
	assert.Equal(t, paymentID, *record.Key)
	assert.JSONEq(t, string(msg.Value), string(record.Payload))

	assert.Equal(t, 1.0, metrics.Total(m.ConsumerDeadLettered))
	assert.Equal(t, 0.0, metrics.Total(m.ConsumerProcessed))
}

func TestHandlerReturnsErrorWhenDeadLetterFails(t *testing.T) {
	svc := &finalizeStub{failures: 10, err: errStoreUnavailable}
	dlq := &deadLetterRecorder{err: errors.New("broker down")}
	h, _ := newHandler(svc, dlq, metrics.New())

	err := h.Handle(context.Background(), paymentSucceededMessage(t, uuid.NewString(), "SUCCEEDED"))
	assert.Error(t, err)
}

func TestHandlerDeadLettersThroughKafkaProducer(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var record DeadLetter
		if err := json.Unmarshal(val, &record); err != nil {
			return err
		}
		if record.Attempts != 3 {
			return errors.New("unexpected attempts")
		}
		return nil
	})
	producer := messaging.NewProducerFromSarama(mock, logger.Discard())
	svc := &finalizeStub{failures: 10, err: errStoreUnavailable}
	h, _ := newHandler(svc, producer, metrics.New())

	err := h.Handle(context.Background(), paymentSucceededMessage(t, uuid.NewString(), "SUCCEEDED"))
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestHandlerDropsUnprocessableMessages(t *testing.T) {
	cases := []struct {
		name   string
		msg    func(t *testing.T) messaging.InboundMessage
		reason string
	}{
		{
			name:   "empty payload",
			msg:    func(*testing.T) messaging.InboundMessage { return messaging.InboundMessage{Value: []byte("  ")} },
			reason: "empty_payload",
		},
		{
			name:   "invalid json",
			msg:    func(*testing.T) messaging.InboundMessage { return messaging.InboundMessage{Value: []byte("{not json")} },
			reason: "invalid_json",
		},
		{
			name:   "missing payment id",
			msg:    func(t *testing.T) messaging.InboundMessage { return paymentSucceededMessage(t, "", "SUCCEEDED") },
			reason: "missing_payment_id",
		},
		{
			name: "failed status",
			msg: func(t *testing.T) messaging.InboundMessage {
				return paymentSucceededMessage(t, uuid.NewString(), "FAILED")
			},
			reason: "invalid_status",
		},
		{
			name:   "malformed payment id",
			msg:    func(t *testing.T) messaging.InboundMessage { return paymentSucceededMessage(t, "pay-1", "SUCCEEDED") },
			reason: "invalid_payment_id",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := metrics.New()
			svc := &finalizeStub{}
			dlq := &deadLetterRecorder{}
			h, _ := newHandler(svc, dlq, m)

			require.NoError(t, h.Handle(context.Background(), tc.msg(t)))
			assert.Empty(t, svc.calls)
			assert.Empty(t, dlq.published)
			assert.Equal(t, 1.0, metrics.Total(m.ConsumerDropped.WithLabelValues(tc.reason)))
		})
	}
}

func TestRawPayloadQuotesNonJSON(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(rawPayload([]byte(`{"a":1}`))))
	assert.Equal(t, `"oops"`, string(rawPayload([]byte("oops"))))
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNoTransaction = errors.New("outbox: append requires an open transaction")

// Writer appends events inside the caller's transaction. There is no publish
// call on this path: the row commits or rolls back with the business change.
type Writer interface {
	Append(ctx context.Context, key string, payload Payload, meta Meta) error
}

// NewEvent builds the PENDING row for a payload, immediately claimable.
func NewEvent(key string, payload Payload, meta Meta, now time.Time) (*Event, error) {
	if payload == nil {
		return nil, errors.New("outbox: nil payload")
	}
	if meta.OccurredAt.IsZero() {
		meta.OccurredAt = now
	}
	body, err := json.Marshal(NewEnvelope(payload, meta))
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal %s payload: %w", payload.Topic(), err)
	}

	event := &Event{
		ID:          uuid.New(),
		Topic:       payload.Topic(),
		Key:         key,
		Payload:     body,
		Status:      StatusPending,
		AvailableAt: now,
		ActorUserID: meta.ActorUserID,
	}
	if meta.CorrelationID != "" {
		id := meta.CorrelationID
		event.CorrelationID = &id
	}
	if len(meta.Headers) > 0 {
		event.Headers = make(map[string]string, len(meta.Headers))
		for k, v := range meta.Headers {
			event.Headers[k] = v
		}
	}
	return event, nil
}

type gormWriter struct {
	tx  *gorm.DB
	now func() time.Time
}

// NewWriter binds a writer to an open gorm transaction.
func NewWriter(tx *gorm.DB) Writer {
	return &gormWriter{tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

func (w *gormWriter) Append(ctx context.Context, key string, payload Payload, meta Meta) error {
	if _, ok := w.tx.Statement.ConnPool.(gorm.TxCommitter); !ok {
		return ErrNoTransaction
	}

	event, err := NewEvent(key, payload, meta, w.now())
	if err != nil {
		return err
	}
	if err := w.tx.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("outbox: append %s: %w", event.Topic, err)
	}
	return nil
}

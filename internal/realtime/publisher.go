package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/cache"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Seat update types, named after the outbox topic that caused them.
const (
	UpdateReservationCreated = "reservation.created"
	UpdateReservationExpired = "reservation.expired"
	UpdateSeatSold           = "seat.sold"
)

// SeatUpdate is the message fanned out to live seat-map subscribers.
type SeatUpdate struct {
	Type          string      `json:"type"`
	EventID       uuid.UUID   `json:"eventId"`
	ReservationID *uuid.UUID  `json:"reservationId,omitempty"`
	PaymentID     *uuid.UUID  `json:"paymentId,omitempty"`
	SeatIDs       []uuid.UUID `json:"seatIds"`
	OccurredAt    time.Time   `json:"occurredAt"`
}

// Notifier is implemented by anything that can fan out seat updates. Engines
// call it after their transaction commits; failures never affect the caller.
type Notifier interface {
	PublishSeatUpdate(ctx context.Context, update SeatUpdate) error
}

// Publisher fans seat updates out over redis pub/sub and drops the cached
// seat map of the affected event.
type Publisher struct {
	client        *redis.Client
	cacheService  cache.Service
	channelPrefix string
	log           *logger.Logger
	metrics       *metrics.Metrics
}

func NewPublisher(client *redis.Client, cacheService cache.Service, channelPrefix string, log *logger.Logger, m *metrics.Metrics) *Publisher {
	if channelPrefix == "" {
		channelPrefix = "seats"
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Publisher{
		client:        client,
		cacheService:  cacheService,
		channelPrefix: channelPrefix,
		log:           log.WithComponent("realtime"),
		metrics:       m,
	}
}

// Channel returns the pub/sub channel of an event.
func (p *Publisher) Channel(eventID uuid.UUID) string {
	return ChannelName(p.channelPrefix, eventID)
}

func ChannelName(prefix string, eventID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", prefix, eventID)
}

func (p *Publisher) PublishSeatUpdate(ctx context.Context, update SeatUpdate) error {
	if len(update.SeatIDs) == 0 {
		return nil
	}
	if update.OccurredAt.IsZero() {
		update.OccurredAt = time.Now().UTC()
	}

	if p.cacheService != nil {
		if err := p.cacheService.Delete(ctx, cache.SeatMapKey(update.EventID.String())); err != nil {
			p.log.WarnContext(ctx, "Failed to invalidate seat map", slog.String("error", err.Error()))
		}
	}

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal seat update: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(update.EventID), body).Err(); err != nil {
		if p.metrics != nil {
			p.metrics.RealtimePublishErrors.Inc()
		}
		return fmt.Errorf("publish seat update: %w", err)
	}
	return nil
}

// SubscribeSeatUpdates streams the raw update messages of one event until ctx
// ends or the returned close func is called.
func (p *Publisher) SubscribeSeatUpdates(ctx context.Context, eventID uuid.UUID) (<-chan string, func() error, error) {
	pubsub := p.client.Subscribe(ctx, p.Channel(eventID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe seat updates: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, pubsub.Close, nil
}

// Notify publishes and logs failures. It is the fire-and-forget path used by
// the engines once their transaction has committed.
func Notify(ctx context.Context, n Notifier, log *logger.Logger, update SeatUpdate) {
	if n == nil || len(update.SeatIDs) == 0 {
		return
	}
	if err := n.PublishSeatUpdate(ctx, update); err != nil && log != nil {
		log.WarnContext(ctx, "Seat update fanout failed",
			slog.String("type", update.Type),
			slog.String("event_id", update.EventID.String()),
			slog.String("error", err.Error()),
		)
	}
}

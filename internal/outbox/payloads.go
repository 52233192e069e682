package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics emitted through the outbox.
const (
	TopicReservationCreated = "reservation.created"
	TopicReservationExpired = "reservation.expired"
	TopicPaymentSucceeded   = "payment.succeeded"
	TopicPaymentFailed      = "payment.failed"
	TopicTicketIssued       = "ticket.issued"
	TopicSeatSold           = "seat.sold"
)

// EnvelopeVersion is bumped when an envelope's shape changes incompatibly.
const EnvelopeVersion = 1

const (
	ActorSystem = "system"

	HeaderCorrelationID = "x-correlation-id"
)

// Payload is implemented by every typed event body. Each payload type is bound
// to exactly one topic.
type Payload interface {
	Topic() string
}

// Envelope is the wire format of every outbox event.
type Envelope[T any] struct {
	EventID       uuid.UUID `json:"eventId"`
	OccurredAt    time.Time `json:"occurredAt"`
	Version       int       `json:"version"`
	CorrelationID *string   `json:"correlationId"`
	Actor         string    `json:"actor"`
	Data          T         `json:"data"`
}

// Meta carries the envelope fields that are not part of the payload.
type Meta struct {
	CorrelationID string
	Actor         string
	ActorUserID   *uuid.UUID
	OccurredAt    time.Time
	// Headers are sent with the message alongside the correlation header.
	Headers map[string]string
}

func NewEnvelope[T Payload](data T, meta Meta) Envelope[T] {
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	actor := meta.Actor
	if actor == "" {
		actor = ActorSystem
	}
	var correlationID *string
	if meta.CorrelationID != "" {
		id := meta.CorrelationID
		correlationID = &id
	}
	return Envelope[T]{
		EventID:       uuid.New(),
		OccurredAt:    occurredAt.UTC(),
		Version:       EnvelopeVersion,
		CorrelationID: correlationID,
		Actor:         actor,
		Data:          data,
	}
}

// Decode parses a relayed message body into a typed envelope.
func Decode[T any](raw []byte) (Envelope[T], error) {
	var env Envelope[T]
	err := json.Unmarshal(raw, &env)
	return env, err
}

type ReservationCreated struct {
	ReservationID uuid.UUID `json:"reservationId"`
	EventID       uuid.UUID `json:"eventId"`
	SeatID        uuid.UUID `json:"eventSeatId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (ReservationCreated) Topic() string { return TopicReservationCreated }

type ReservationExpired struct {
	ReservationID   uuid.UUID   `json:"reservationId"`
	EventID         uuid.UUID   `json:"eventId"`
	ReleasedSeatIDs []uuid.UUID `json:"releasedSeatIds"`
}

func (ReservationExpired) Topic() string { return TopicReservationExpired }

// PaymentStatusChanged is published on both payment.succeeded and payment.failed;
// the topic follows Status.
type PaymentStatusChanged struct {
	PaymentID     string `json:"paymentId"`
	ReservationID string `json:"reservationId,omitempty"`
	Provider      string `json:"provider,omitempty"`
	ProviderRef   string `json:"providerRef,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (p PaymentStatusChanged) Topic() string {
	if p.Status == "FAILED" {
		return TopicPaymentFailed
	}
	return TopicPaymentSucceeded
}

type TicketIssued struct {
	PaymentID     uuid.UUID   `json:"paymentId"`
	ReservationID uuid.UUID   `json:"reservationId"`
	OrderID       uuid.UUID   `json:"orderId"`
	TicketIDs     []uuid.UUID `json:"ticketIds"`
}

func (TicketIssued) Topic() string { return TopicTicketIssued }

type SeatSold struct {
	PaymentID     uuid.UUID   `json:"paymentId"`
	ReservationID uuid.UUID   `json:"reservationId"`
	OrderID       uuid.UUID   `json:"orderId"`
	EventID       uuid.UUID   `json:"eventId"`
	SeatIDs       []uuid.UUID `json:"seatIds"`
}

func (SeatSold) Topic() string { return TopicSeatSold }

package reservations

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusConfirmed Status = "CONFIRMED"
	StatusExpired   Status = "EXPIRED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusConfirmed, StatusExpired:
		return true
	}
	return false
}

// IsFinal reports whether the reservation can no longer change.
func (s Status) IsFinal() bool {
	return s == StatusConfirmed || s == StatusExpired
}

// Reservation is a user's time-boxed hold on seats. The pair
// (user_id, idempotency_key) is unique.
type Reservation struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventID        uuid.UUID         `gorm:"type:uuid;not null;index" json:"event_id"`
	UserID         uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_reservations_user_idempotency,priority:1" json:"user_id"`
	Status         Status            `gorm:"type:varchar(20);not null;default:'ACTIVE';index:idx_reservations_status_expires,priority:1" json:"status"`
	ExpiresAt      time.Time         `gorm:"not null;index:idx_reservations_status_expires,priority:2" json:"expires_at"`
	IdempotencyKey string            `gorm:"size:128;not null;uniqueIndex:idx_reservations_user_idempotency,priority:2" json:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Items          []ReservationItem `gorm:"foreignKey:ReservationID;constraint:OnDelete:CASCADE;" json:"items"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// ReservationItem carries the price snapshot taken when the seat was claimed.
type ReservationItem struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReservationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"reservation_id"`
	SeatID        *uuid.UUID `gorm:"column:event_seat_id;type:uuid;index" json:"event_seat_id,omitempty"`
	TicketTypeID  *uuid.UUID `gorm:"type:uuid" json:"ticket_type_id,omitempty"`
	Quantity      int        `gorm:"not null;default:1;check:quantity > 0" json:"quantity"`
	PriceCents    int64      `gorm:"not null;check:price_cents >= 0" json:"price_cents"`
	FeesCents     int64      `gorm:"not null;default:0;check:fees_cents >= 0" json:"fees_cents"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (ReservationItem) TableName() string {
	return "reservation_items"
}

// TotalCents is the amount a payment must match: Σ quantity × (price + fees).
func (r *Reservation) TotalCents() int64 {
	var total int64
	for _, item := range r.Items {
		total += int64(item.Quantity) * (item.PriceCents + item.FeesCents)
	}
	return total
}

// SeatIDs lists the seats referenced by the reservation's items.
func (r *Reservation) SeatIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Items))
	for _, item := range r.Items {
		if item.SeatID != nil {
			ids = append(ids, *item.SeatID)
		}
	}
	return ids
}

// IsPayable reports whether the reservation can still be paid at now.
func (r *Reservation) IsPayable(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiresAt.After(now)
}

type ReservationResponse struct {
	ID             uuid.UUID      `json:"id"`
	EventID        uuid.UUID      `json:"event_id"`
	Status         Status         `json:"status"`
	ExpiresAt      time.Time      `json:"expires_at"`
	IdempotencyKey string         `json:"idempotency_key"`
	TotalCents     int64          `json:"total_cents"`
	Items          []ItemResponse `json:"items"`
	Replayed       bool           `json:"replayed"`
	CreatedAt      time.Time      `json:"created_at"`
}

type ItemResponse struct {
	SeatID     *uuid.UUID `json:"event_seat_id,omitempty"`
	Quantity   int        `json:"quantity"`
	PriceCents int64      `json:"price_cents"`
	FeesCents  int64      `json:"fees_cents"`
}

func (r *Reservation) ToResponse(replayed bool) ReservationResponse {
	resp := ReservationResponse{
		ID:             r.ID,
		EventID:        r.EventID,
		Status:         r.Status,
		ExpiresAt:      r.ExpiresAt,
		IdempotencyKey: r.IdempotencyKey,
		TotalCents:     r.TotalCents(),
		Items:          make([]ItemResponse, 0, len(r.Items)),
		Replayed:       replayed,
		CreatedAt:      r.CreatedAt,
	}
	for _, item := range r.Items {
		resp.Items = append(resp.Items, ItemResponse{
			SeatID:     item.SeatID,
			Quantity:   item.Quantity,
			PriceCents: item.PriceCents,
			FeesCents:  item.FeesCents,
		})
	}
	return resp
}

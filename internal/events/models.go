package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the sellable occasion. Its currency is the reference for every
// payment taken against its seats.
type Event struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Name      string    `json:"name" gorm:"not null;size:255"`
	Venue     string    `json:"venue" gorm:"size:255"`
	Currency  string    `json:"currency" gorm:"type:char(3);not null;default:'USD'"`
	Status    Status    `json:"status" gorm:"type:varchar(20);not null;default:'DRAFT'"`
	StartsAt  time.Time `json:"starts_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	TicketTypes []TicketType `json:"ticket_types,omitempty" gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE;"`
}

func (Event) TableName() string {
	return "events"
}

// TicketType is a price tier; seats without their own price fall back to it.
type TicketType struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	EventID    uuid.UUID `json:"event_id" gorm:"type:uuid;not null;index"`
	Name       string    `json:"name" gorm:"not null;size:100"`
	PriceCents int64     `json:"price_cents" gorm:"not null;check:price_cents >= 0"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (TicketType) TableName() string {
	return "ticket_types"
}

type EventResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Venue       string               `json:"venue"`
	Currency    string               `json:"currency"`
	Status      Status               `json:"status"`
	StartsAt    time.Time            `json:"starts_at"`
	TicketTypes []TicketTypeResponse `json:"ticket_types"`
}

type TicketTypeResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

func (e *Event) ToResponse() EventResponse {
	resp := EventResponse{
		ID:          e.ID.String(),
		Name:        e.Name,
		Venue:       e.Venue,
		Currency:    e.Currency,
		Status:      e.Status,
		StartsAt:    e.StartsAt,
		TicketTypes: make([]TicketTypeResponse, 0, len(e.TicketTypes)),
	}
	for _, tt := range e.TicketTypes {
		resp.TicketTypes = append(resp.TicketTypes, TicketTypeResponse{
			ID:         tt.ID.String(),
			Name:       tt.Name,
			PriceCents: tt.PriceCents,
		})
	}
	return resp
}

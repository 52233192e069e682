package tickets

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const OrderStatusPaid OrderStatus = "PAID"

// Order is created only by a successful finalization.
type Order struct {
	ID            uuid.UUID   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventID       uuid.UUID   `gorm:"type:uuid;not null;index" json:"event_id"`
	UserID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"user_id"`
	Status        OrderStatus `gorm:"type:varchar(20);not null" json:"status"`
	SubtotalCents int64       `gorm:"not null" json:"subtotal_cents"`
	FeesCents     int64       `gorm:"not null" json:"fees_cents"`
	TotalCents    int64       `gorm:"not null" json:"total_cents"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Items         []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE;" json:"items,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrderID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"order_id"`
	ReservationItemID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"reservation_item_id"`
	SeatID            *uuid.UUID `gorm:"column:event_seat_id;type:uuid" json:"event_seat_id,omitempty"`
	TicketTypeID      *uuid.UUID `gorm:"type:uuid" json:"ticket_type_id,omitempty"`
	Quantity          int        `gorm:"not null" json:"quantity"`
	PriceCents        int64      `gorm:"not null" json:"price_cents"`
	FeesCents         int64      `gorm:"not null" json:"fees_cents"`
	LineTotalCents    int64      `gorm:"not null" json:"line_total_cents"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

type TicketStatus string

const TicketStatusIssued TicketStatus = "ISSUED"

type Ticket struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"event_id"`
	OrderID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"order_id"`
	OrderItemID  uuid.UUID  `gorm:"type:uuid;not null" json:"order_item_id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	SeatID       *uuid.UUID `gorm:"column:event_seat_id;type:uuid" json:"event_seat_id,omitempty"`
	TicketTypeID *uuid.UUID `gorm:"type:uuid" json:"ticket_type_id,omitempty"`
	Code         string     `gorm:"type:varchar(160);not null;uniqueIndex" json:"code"`
	// Sequence is the 1-based issuance position within the order.
	Sequence int          `gorm:"not null;default:0" json:"sequence"`
	Status   TicketStatus `gorm:"type:varchar(20);not null" json:"status"`
	IssuedAt time.Time    `gorm:"not null" json:"issued_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// TicketCode is deterministic per (order, reservation item, unit index), so a
// replayed issuance collides on the unique code instead of duplicating.
func TicketCode(orderID, reservationItemID uuid.UUID, index int) string {
	return fmt.Sprintf("tkt_%s_%s_%d", orderID, reservationItemID, index+1)
}

type TicketResponse struct {
	ID       uuid.UUID    `json:"id"`
	Code     string       `json:"code"`
	Status   TicketStatus `json:"status"`
	EventID  uuid.UUID    `json:"event_id"`
	OrderID  uuid.UUID    `json:"order_id"`
	SeatID   *uuid.UUID   `json:"event_seat_id,omitempty"`
	IssuedAt time.Time    `json:"issued_at"`
}

func (t *Ticket) ToResponse() TicketResponse {
	return TicketResponse{
		ID:       t.ID,
		Code:     t.Code,
		Status:   t.Status,
		EventID:  t.EventID,
		OrderID:  t.OrderID,
		SeatID:   t.SeatID,
		IssuedAt: t.IssuedAt,
	}
}

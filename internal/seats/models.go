package seats

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusReserved  Status = "RESERVED"
	StatusSold      Status = "SOLD"
	StatusBlocked   Status = "BLOCKED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusSold, StatusBlocked:
		return true
	}
	return false
}

// Seat is one sellable unit of one event. Version is bumped by every
// mutation and checked by every conditional update.
type Seat struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_event_seats_event_status,priority:1;uniqueIndex:idx_event_seat_position,priority:1" json:"event_id"`
	TicketTypeID  *uuid.UUID `gorm:"type:uuid;index" json:"ticket_type_id,omitempty"`
	Section       string     `gorm:"size:50;not null;uniqueIndex:idx_event_seat_position,priority:2" json:"section"`
	Row           string     `gorm:"size:10;not null;uniqueIndex:idx_event_seat_position,priority:3" json:"row"`
	Number        int        `gorm:"not null;uniqueIndex:idx_event_seat_position,priority:4" json:"number"`
	Status        Status     `gorm:"type:varchar(20);not null;default:'AVAILABLE';index:idx_event_seats_event_status,priority:2" json:"status"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
	PriceCents    *int64     `gorm:"check:price_cents >= 0" json:"price_cents,omitempty"`
	FeesCents     int64      `gorm:"not null;default:0;check:fees_cents >= 0" json:"fees_cents"`
	Version       int        `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName sets the table name for Seat
func (Seat) TableName() string {
	return "event_seats"
}

func (s *Seat) Label() string {
	return s.Section + "-" + s.Row + "-" + strconv.Itoa(s.Number)
}

// IsClaimable reports whether a reservation may take the seat at now.
func (s *Seat) IsClaimable(now time.Time) bool {
	if s.Status == StatusAvailable {
		return true
	}
	return s.Status == StatusReserved && s.ReservedUntil != nil && s.ReservedUntil.Before(now)
}

// EffectiveStatus reports a lapsed hold as AVAILABLE even before the sweeper
// has released it.
func (s *Seat) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusReserved && s.ReservedUntil != nil && s.ReservedUntil.Before(now) {
		return StatusAvailable
	}
	return s.Status
}

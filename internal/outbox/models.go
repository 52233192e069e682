package outbox

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status of an outbox row
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Event is one durable message waiting to be relayed to the bus.
type Event struct {
	ID            uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Topic         string            `gorm:"type:varchar(120);not null;index" json:"topic"`
	Key           string            `gorm:"column:key;type:varchar(120);not null" json:"key"`
	Payload       datatypes.JSON    `gorm:"type:jsonb;not null" json:"payload"`
	Headers       map[string]string `gorm:"type:jsonb;serializer:json" json:"headers,omitempty"`
	Status        Status            `gorm:"type:varchar(20);not null;default:'PENDING';check:status IN ('PENDING','SENT','FAILED');index:idx_outbox_claim,priority:1" json:"status"`
	AvailableAt   time.Time         `gorm:"not null;index:idx_outbox_claim,priority:2" json:"available_at"`
	Attempts      int               `gorm:"not null;default:0" json:"attempts"`
	CorrelationID *string           `gorm:"type:varchar(64)" json:"correlation_id,omitempty"`
	ActorUserID   *uuid.UUID        `gorm:"type:uuid" json:"actor_user_id,omitempty"`
	LastError     *string           `gorm:"type:text" json:"last_error,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (Event) TableName() string {
	return "outbox_events"
}

package payments

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Payment records funds movement for exactly one reservation. OrderID is set
// once, by finalization.
type Payment struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReservationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"reservation_id"`
	Provider      string     `gorm:"type:varchar(40);not null;uniqueIndex:idx_payments_provider_ref,priority:1" json:"provider"`
	ProviderRef   string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_payments_provider_ref,priority:2" json:"provider_ref"`
	Status        Status     `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	AmountCents   int64      `gorm:"not null;check:amount_cents > 0" json:"amount_cents"`
	Currency      string     `gorm:"type:char(3);not null" json:"currency"`
	OrderID       *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"order_id,omitempty"`
	SucceededAt   *time.Time `json:"succeeded_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "RECEIVED"
	WebhookVerified  WebhookStatus = "VERIFIED"
	WebhookProcessed WebhookStatus = "PROCESSED"
	WebhookFailed    WebhookStatus = "FAILED"
)

// WebhookEvent is the dedup record of one provider notification, unique per
// (provider, provider_event_id).
type WebhookEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Provider        string         `gorm:"type:varchar(40);not null;uniqueIndex:idx_webhook_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_webhook_provider_event,priority:2" json:"provider_event_id"`
	PaymentID       *uuid.UUID     `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	Status          WebhookStatus  `gorm:"type:varchar(20);not null" json:"status"`
	SignatureValid  bool           `gorm:"not null;default:false" json:"signature_valid"`
	Payload         datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	ErrorMessage    *string        `gorm:"type:text" json:"error_message,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}

type PaymentResponse struct {
	ID            uuid.UUID  `json:"id"`
	ReservationID uuid.UUID  `json:"reservation_id"`
	Provider      string     `json:"provider"`
	ProviderRef   string     `json:"provider_ref"`
	Status        Status     `json:"status"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (p *Payment) ToResponse() PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		ReservationID: p.ReservationID,
		Provider:      p.Provider,
		ProviderRef:   p.ProviderRef,
		Status:        p.Status,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		OrderID:       p.OrderID,
		CreatedAt:     p.CreatedAt,
	}
}

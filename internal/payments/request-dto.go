package payments

import "encoding/json"

type CreatePaymentRequest struct {
	ReservationID string `json:"reservation_id" binding:"required,uuid"`
	Provider      string `json:"provider"`
	ProviderRef   string `json:"provider_ref"`
	AmountCents   int64  `json:"amount_cents" binding:"required,min=1"`
	Currency      string `json:"currency" binding:"required"`
}

type WebhookRequest struct {
	ProviderEventID string          `json:"provider_event_id" binding:"required"`
	ProviderRef     string          `json:"provider_ref" binding:"required"`
	Status          string          `json:"status" binding:"required"`
	Payload         json.RawMessage `json:"payload"`
}

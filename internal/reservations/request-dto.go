package reservations

type CreateReservationRequest struct {
	EventID     string `json:"event_id" binding:"required,uuid"`
	EventSeatID string `json:"event_seat_id" binding:"required,uuid"`
	// IdempotencyKey falls back to the Idempotency-Key header when empty.
	IdempotencyKey string `json:"idempotency_key" binding:"omitempty,max=256"`
}

package seats

import "time"

type SeatResponse struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	Section      string  `json:"section"`
	Row          string  `json:"row"`
	Number       int     `json:"number"`
	Status       Status  `json:"status"`
	TicketTypeID *string `json:"ticket_type_id,omitempty"`
	PriceCents   int64   `json:"price_cents"`
	FeesCents    int64   `json:"fees_cents"`
}

type SeatMapResponse struct {
	EventID     string         `json:"event_id"`
	Seats       []SeatResponse `json:"seats"`
	Counts      map[Status]int `json:"counts"`
	GeneratedAt time.Time      `json:"generated_at"`
}

func (p *PricedSeat) ToResponse(now time.Time) SeatResponse {
	resp := SeatResponse{
		ID:         p.ID.String(),
		Label:      p.Label(),
		Section:    p.Section,
		Row:        p.Row,
		Number:     p.Number,
		Status:     p.EffectiveStatus(now),
		PriceCents: p.EffectivePriceCents,
		FeesCents:  p.FeesCents,
	}
	if p.TicketTypeID != nil {
		id := p.TicketTypeID.String()
		resp.TicketTypeID = &id
	}
	return resp
}

package tickets

import (
	"context"
	"strings"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/payments"
	"boxoffice/internal/realtime"
	"boxoffice/internal/shared/apperr"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
)

// Reasons reported with an idempotent finalization.
const (
	ReasonPaymentNotSucceeded = "payment_not_succeeded"
	ReasonAlreadyFinalized    = "already_finalized"
)

type FinalizeCommand struct {
	PaymentID     uuid.UUID
	CorrelationID string
	// Actor defaults to the reservation owner.
	Actor string
}

type FinalizeResult struct {
	Processed     bool        `json:"processed"`
	Idempotent    bool        `json:"idempotent"`
	PaymentID     uuid.UUID   `json:"payment_id"`
	OrderID       *uuid.UUID  `json:"order_id,omitempty"`
	ReservationID *uuid.UUID  `json:"reservation_id,omitempty"`
	EventID       *uuid.UUID  `json:"event_id,omitempty"`
	TicketIDs     []uuid.UUID `json:"ticket_ids"`
	SoldSeatIDs   []uuid.UUID `json:"sold_seat_ids"`
	Reason        string      `json:"reason,omitempty"`
}

type Service interface {
	// Finalize turns a succeeded payment into an order with issued tickets.
	// It is safe to call any number of times for the same payment.
	Finalize(ctx context.Context, cmd FinalizeCommand) (*FinalizeResult, error)
	ListMyTickets(ctx context.Context, userID uuid.UUID) ([]Ticket, error)
}

type service struct {
	repo     Repository
	notifier realtime.Notifier
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo Repository, notifier realtime.Notifier, log *logger.Logger, m *metrics.Metrics) Service {
	if log == nil {
		log = logger.GetDefault()
	}
	return &service{
		repo:     repo,
		notifier: notifier,
		log:      log.WithComponent("tickets"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Finalize(ctx context.Context, cmd FinalizeCommand) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		var err error
		result, err = s.finalize(ctx, tx, cmd)
		return err
	})
	s.observe(result, err)
	if err != nil {
		return nil, err
	}

	orderID := ""
	if result.OrderID != nil {
		orderID = result.OrderID.String()
	}
	s.log.WithCorrelationID(cmd.CorrelationID).LogPaymentFinalized(ctx,
		cmd.PaymentID.String(), orderID, result.Processed, result.Idempotent, len(result.TicketIDs))

	if result.Processed && result.EventID != nil {
		paymentID := result.PaymentID
		realtime.Notify(ctx, s.notifier, s.log, realtime.SeatUpdate{
			Type:          realtime.UpdateSeatSold,
			EventID:       *result.EventID,
			ReservationID: result.ReservationID,
			PaymentID:     &paymentID,
			SeatIDs:       result.SoldSeatIDs,
			OccurredAt:    s.now(),
		})
	}
	return result, nil
}

func (s *service) finalize(ctx context.Context, tx TxRepository, cmd FinalizeCommand) (*FinalizeResult, error) {
	now := s.now()

	payment, err := tx.LockPayment(ctx, cmd.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperr.NotFound("payment_not_found", "Payment not found")
	}

	reservationID := payment.ReservationID
	result := &FinalizeResult{
		PaymentID:     payment.ID,
		ReservationID: &reservationID,
		TicketIDs:     []uuid.UUID{},
		SoldSeatIDs:   []uuid.UUID{},
	}
	if payment.Status != payments.StatusSucceeded {
		result.Idempotent = true
		result.Reason = ReasonPaymentNotSucceeded
		return result, nil
	}
	if payment.OrderID != nil {
		ticketIDs, err := tx.TicketIDsByOrder(ctx, *payment.OrderID)
		if err != nil {
			return nil, err
		}
		orderID := *payment.OrderID
		result.Idempotent = true
		result.Reason = ReasonAlreadyFinalized
		result.OrderID = &orderID
		result.TicketIDs = ticketIDs
		return result, nil
	}

	reservation, err := tx.GetReservation(ctx, payment.ReservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, apperr.Conflict("reservation_missing", "Payment reservation no longer exists")
	}
	if !reservation.IsPayable(now) {
		return nil, apperr.Conflict("reservation_not_finalizable", "Reservation is not active or has expired")
	}
	eventID := reservation.EventID
	result.EventID = &eventID

	var subtotal, fees int64
	for _, item := range reservation.Items {
		subtotal += item.PriceCents * int64(item.Quantity)
		fees += item.FeesCents * int64(item.Quantity)
	}
	if payment.AmountCents != subtotal+fees {
		return nil, apperr.Conflict("amount_mismatch", "Payment amount does not match reservation total")
	}
	currency, err := tx.EventCurrency(ctx, reservation.EventID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(payment.Currency, currency) {
		return nil, apperr.Conflict("currency_mismatch", "Payment currency does not match event currency")
	}

	paidAt := now
	if payment.SucceededAt != nil {
		paidAt = *payment.SucceededAt
	}
	order := &Order{
		ID:            uuid.New(),
		EventID:       reservation.EventID,
		UserID:        reservation.UserID,
		Status:        OrderStatusPaid,
		SubtotalCents: subtotal,
		FeesCents:     fees,
		TotalCents:    subtotal + fees,
		PaidAt:        &paidAt,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	sequence := 0
	for _, item := range reservation.Items {
		if item.SeatID != nil && item.Quantity != 1 {
			return nil, apperr.Conflict("invalid_seat_quantity", "Seat reservation item must have quantity 1")
		}
		orderItem := &OrderItem{
			ID:                uuid.New(),
			OrderID:           order.ID,
			ReservationItemID: item.ID,
			SeatID:            item.SeatID,
			TicketTypeID:      item.TicketTypeID,
			Quantity:          item.Quantity,
			PriceCents:        item.PriceCents,
			FeesCents:         item.FeesCents,
			LineTotalCents:    (item.PriceCents + item.FeesCents) * int64(item.Quantity),
		}
		if err := tx.CreateOrderItem(ctx, orderItem); err != nil {
			return nil, err
		}

		if item.SeatID != nil {
			sold, err := tx.MarkSeatSold(ctx, *item.SeatID, reservation.EventID, now)
			if err != nil {
				return nil, err
			}
			if !sold {
				return nil, apperr.Conflict("seat_not_reserved", "Seat is no longer reserved for this reservation")
			}
			result.SoldSeatIDs = append(result.SoldSeatIDs, *item.SeatID)
		}

		issued := make([]Ticket, 0, item.Quantity)
		for i := 0; i < item.Quantity; i++ {
			sequence++
			issued = append(issued, Ticket{
				ID:           uuid.New(),
				EventID:      reservation.EventID,
				OrderID:      order.ID,
				OrderItemID:  orderItem.ID,
				UserID:       reservation.UserID,
				SeatID:       item.SeatID,
				TicketTypeID: item.TicketTypeID,
				Code:         TicketCode(order.ID, item.ID, i),
				Sequence:     sequence,
				Status:       TicketStatusIssued,
				IssuedAt:     now,
			})
		}
		if err := tx.CreateTickets(ctx, issued); err != nil {
			return nil, err
		}
		for _, ticket := range issued {
			result.TicketIDs = append(result.TicketIDs, ticket.ID)
		}
	}

	confirmed, err := tx.ConfirmReservation(ctx, reservation.ID, now)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, apperr.Conflict("reservation_not_finalizable", "Reservation changed during finalization")
	}
	linked, err := tx.SetPaymentOrder(ctx, payment.ID, order.ID, now)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, apperr.Conflict("payment_already_linked", "Payment is already linked to an order")
	}

	actor := cmd.Actor
	if actor == "" {
		actor = reservation.UserID.String()
	}
	ownerID := reservation.UserID
	meta := outbox.Meta{CorrelationID: cmd.CorrelationID, Actor: actor, ActorUserID: &ownerID, OccurredAt: now}

	issuedEvent := outbox.TicketIssued{
		PaymentID:     payment.ID,
		ReservationID: reservation.ID,
		OrderID:       order.ID,
		TicketIDs:     result.TicketIDs,
	}
	if err := tx.Outbox().Append(ctx, order.ID.String(), issuedEvent, meta); err != nil {
		return nil, err
	}
	if len(result.SoldSeatIDs) > 0 {
		soldEvent := outbox.SeatSold{
			PaymentID:     payment.ID,
			ReservationID: reservation.ID,
			OrderID:       order.ID,
			EventID:       reservation.EventID,
			SeatIDs:       result.SoldSeatIDs,
		}
		if err := tx.Outbox().Append(ctx, reservation.EventID.String(), soldEvent, meta); err != nil {
			return nil, err
		}
	}

	orderID := order.ID
	result.Processed = true
	result.OrderID = &orderID
	return result, nil
}

func (s *service) observe(result *FinalizeResult, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "error"
	switch {
	case err != nil && apperr.IsKind(err, apperr.KindConflict):
		outcome = "conflict"
	case err != nil && apperr.IsKind(err, apperr.KindNotFound):
		outcome = "not_found"
	case err != nil:
	case result.Processed:
		outcome = "processed"
	default:
		outcome = result.Reason
	}
	s.metrics.FinalizeOutcomes.WithLabelValues(outcome).Inc()
}

func (s *service) ListMyTickets(ctx context.Context, userID uuid.UUID) ([]Ticket, error) {
	return s.repo.ListTicketsByUser(ctx, userID)
}

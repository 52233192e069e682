package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/shared/apperr"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type CreatePaymentCommand struct {
	UserID        uuid.UUID
	ReservationID uuid.UUID
	Provider      string `validate:"omitempty,min=2,max=40"`
	ProviderRef   string `validate:"omitempty,min=3,max=128"`
	AmountCents   int64  `validate:"min=1"`
	Currency      string `validate:"len=3"`
	CorrelationID string
}

type WebhookCommand struct {
	Provider        string `validate:"required,min=2,max=40"`
	ProviderEventID string `validate:"required,min=3,max=128"`
	ProviderRef     string `validate:"required,min=3,max=128"`
	Status          Status `validate:"oneof=SUCCEEDED FAILED"`
	Payload         json.RawMessage
	Signature       string
	CorrelationID   string
}

type WebhookResult struct {
	Duplicate bool       `json:"duplicate"`
	Processed bool       `json:"processed"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
	Status    string     `json:"status,omitempty"`
}

type Service interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (*Payment, error)
	ProcessWebhook(ctx context.Context, cmd WebhookCommand) (*WebhookResult, error)
}

type service struct {
	repo      Repository
	providers *Registry
	log       *logger.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(repo Repository, providers *Registry, log *logger.Logger, m *metrics.Metrics) Service {
	if log == nil {
		log = logger.GetDefault()
	}
	return &service{
		repo:      repo,
		providers: providers,
		log:       log.WithComponent("payments"),
		metrics:   m,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (*Payment, error) {
	payment, err := s.createPayment(ctx, cmd)
	if s.metrics != nil {
		if err != nil {
			s.metrics.PaymentCreateFailure.Inc()
		} else {
			s.metrics.PaymentCreateSuccess.Inc()
		}
	}
	return payment, err
}

func (s *service) createPayment(ctx context.Context, cmd CreatePaymentCommand) (*Payment, error) {
	cmd.Provider = normalizeProvider(cmd.Provider)
	cmd.ProviderRef = strings.TrimSpace(cmd.ProviderRef)
	cmd.Currency = strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if err := s.validate.Struct(cmd); err != nil {
		return nil, apperr.Validation("invalid_payment", err.Error())
	}

	reservation, err := s.repo.FindReservationForPayment(ctx, cmd.ReservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil || reservation.UserID != cmd.UserID {
		return nil, apperr.NotFound("reservation_not_found", "Reservation not found")
	}
	if !reservation.IsPayable(s.now()) {
		return nil, apperr.Validation("reservation_not_payable", "Payment cannot be created for expired or inactive reservation")
	}
	if expected := reservation.TotalCents(); cmd.AmountCents != expected {
		return nil, apperr.Validation("amount_mismatch", fmt.Sprintf("Invalid payment amount. Expected %d cents for this reservation", expected))
	}
	if currency := strings.ToUpper(reservation.Currency); currency != "" && currency != cmd.Currency {
		return nil, apperr.Validation("currency_mismatch", fmt.Sprintf("Invalid payment currency. Expected %s", currency))
	}

	provider, err := s.providers.Get(cmd.Provider)
	if err != nil {
		return nil, err
	}
	intent, err := provider.CreatePaymentIntent(ctx, IntentInput{
		ReservationID: reservation.ID,
		AmountCents:   cmd.AmountCents,
		Currency:      cmd.Currency,
		ProviderRef:   cmd.ProviderRef,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	payment, created, err := s.repo.CreatePending(ctx, &Payment{
		ID:            uuid.New(),
		ReservationID: reservation.ID,
		Provider:      intent.Provider,
		ProviderRef:   intent.ProviderRef,
		Status:        StatusPending,
		AmountCents:   cmd.AmountCents,
		Currency:      cmd.Currency,
	})
	if err != nil {
		return nil, err
	}
	if payment.ReservationID != reservation.ID {
		return nil, apperr.Conflict("provider_ref_in_use", "providerRef already belongs to another payment record")
	}

	s.log.WithCorrelationID(cmd.CorrelationID).InfoContext(ctx, "Payment intent created",
		slog.String("payment_id", payment.ID.String()),
		slog.String("reservation_id", reservation.ID.String()),
		slog.String("provider", payment.Provider),
		slog.Int64("amount_cents", payment.AmountCents),
		slog.String("currency", payment.Currency),
		slog.Bool("created", created),
	)
	return payment, nil
}

func (s *service) ProcessWebhook(ctx context.Context, cmd WebhookCommand) (*WebhookResult, error) {
	cmd.Provider = normalizeProvider(cmd.Provider)
	result, err := s.processWebhook(ctx, cmd)
	if s.metrics != nil {
		if err != nil {
			s.metrics.WebhookFailed.WithLabelValues(cmd.Provider).Inc()
		} else {
			s.metrics.WebhookProcessed.WithLabelValues(cmd.Provider, strings.ToLower(string(cmd.Status))).Inc()
		}
	}
	return result, err
}

func (s *service) processWebhook(ctx context.Context, cmd WebhookCommand) (*WebhookResult, error) {
	cmd.ProviderEventID = strings.TrimSpace(cmd.ProviderEventID)
	cmd.ProviderRef = strings.TrimSpace(cmd.ProviderRef)
	cmd.Status = Status(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if err := s.validate.Struct(cmd); err != nil {
		return nil, apperr.Validation("invalid_webhook", err.Error())
	}

	provider, err := s.providers.Get(cmd.Provider)
	if err != nil {
		return nil, err
	}
	signatureValid, err := provider.VerifyWebhookSignature(ctx, WebhookInput{
		ProviderEventID: cmd.ProviderEventID,
		ProviderRef:     cmd.ProviderRef,
		Status:          cmd.Status,
		Payload:         cmd.Payload,
		Signature:       cmd.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	if provider.SupportsSignatureVerification() && !signatureValid {
		return nil, apperr.Validation(CodeInvalidSignature, "Invalid webhook signature")
	}

	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	payload := datatypes.JSON(cmd.Payload)
	if len(payload) == 0 {
		payload = datatypes.JSON("{}")
	}

	var (
		result          *WebhookResult
		paymentNotFound bool
	)
	err = s.repo.WithinTx(ctx, func(tx TxRepository) error {
		now := s.now()
		paymentNotFound = false

		status := WebhookReceived
		if signatureValid {
			status = WebhookVerified
		}
		event := &WebhookEvent{
			ID:              uuid.New(),
			Provider:        cmd.Provider,
			ProviderEventID: cmd.ProviderEventID,
			Status:          status,
			SignatureValid:  signatureValid,
			Payload:         payload,
			CreatedAt:       now,
		}
		inserted, err := tx.InsertWebhookEvent(ctx, event)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := tx.FindWebhookEvent(ctx, cmd.Provider, cmd.ProviderEventID)
			if err != nil {
				return err
			}
			result = &WebhookResult{Duplicate: true}
			if existing != nil {
				result.Processed = existing.Status == WebhookProcessed
				result.PaymentID = existing.PaymentID
				result.Status = string(existing.Status)
			}
			return nil
		}

		payment, err := tx.FindPaymentByProviderRef(ctx, cmd.Provider, cmd.ProviderRef)
		if err != nil {
			return err
		}
		if payment == nil {
			paymentNotFound = true
			return tx.MarkWebhookFailed(ctx, event.ID, "Payment not found for provider reference", now)
		}

		next := nextStatus(payment.Status, cmd.Status)
		if next != "" {
			if err := tx.SetPaymentStatus(ctx, payment.ID, next, now); err != nil {
				return err
			}
			body := outbox.PaymentStatusChanged{
				PaymentID:     payment.ID.String(),
				ReservationID: payment.ReservationID.String(),
				Provider:      payment.Provider,
				ProviderRef:   payment.ProviderRef,
				Status:        string(next),
			}
			meta := outbox.Meta{CorrelationID: correlationID, Actor: outbox.ActorSystem, OccurredAt: now}
			if err := tx.Outbox().Append(ctx, payment.ID.String(), body, meta); err != nil {
				return err
			}
		}
		if err := tx.MarkWebhookProcessed(ctx, event.ID, payment.ID, now); err != nil {
			return err
		}

		paymentID := payment.ID
		result = &WebhookResult{Processed: true, PaymentID: &paymentID, Status: string(payment.Status)}
		if next != "" {
			result.Status = string(next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if paymentNotFound {
		return nil, apperr.NotFound("payment_not_found", "Payment not found for webhook event")
	}

	attrs := []any{
		slog.String("provider", cmd.Provider),
		slog.String("provider_event_id", cmd.ProviderEventID),
		slog.String("status", string(cmd.Status)),
		slog.Bool("signature_valid", signatureValid),
		slog.Bool("duplicate", result.Duplicate),
		slog.Bool("processed", result.Processed),
	}
	if result.PaymentID != nil {
		attrs = append(attrs, slog.String("payment_id", result.PaymentID.String()))
	}
	s.log.WithCorrelationID(correlationID).InfoContext(ctx, "Payment webhook processed", attrs...)
	return result, nil
}

// CodeInvalidSignature marks a rejected webhook signature.
const CodeInvalidSignature = "invalid_signature"

// nextStatus returns the payment transition a webhook causes, or "" when it
// changes nothing. A success is never downgraded.
func nextStatus(current, reported Status) Status {
	switch {
	case reported == StatusSucceeded && current != StatusSucceeded:
		return StatusSucceeded
	case reported == StatusFailed && current == StatusPending:
		return StatusFailed
	}
	return ""
}

package payments

import (
	"context"
	"errors"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/reservations"
	"boxoffice/internal/shared/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayableReservation is a reservation with the currency of its event.
type PayableReservation struct {
	reservations.Reservation
	Currency string
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(tx TxRepository) error) error

	FindReservationForPayment(ctx context.Context, reservationID uuid.UUID) (*PayableReservation, error)
	// CreatePending inserts a PENDING payment. When (provider, provider_ref)
	// already exists the stored row is returned with created=false.
	CreatePending(ctx context.Context, payment *Payment) (stored *Payment, created bool, err error)
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)
}

type TxRepository interface {
	// InsertWebhookEvent reports false when the (provider, event id) pair was
	// already recorded.
	InsertWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error)
	FindWebhookEvent(ctx context.Context, provider, providerEventID string) (*WebhookEvent, error)
	FindPaymentByProviderRef(ctx context.Context, provider, providerRef string) (*Payment, error)
	SetPaymentStatus(ctx context.Context, paymentID uuid.UUID, status Status, now time.Time) error
	MarkWebhookProcessed(ctx context.Context, id, paymentID uuid.UUID, now time.Time) error
	MarkWebhookFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error
	Outbox() outbox.Writer
}

type repository struct {
	db     *gorm.DB
	runner *database.TxRunner
}

func NewRepository(db *gorm.DB, runner *database.TxRunner) Repository {
	return &repository{db: db, runner: runner}
}

func (r *repository) WithinTx(ctx context.Context, fn func(tx TxRepository) error) error {
	return r.runner.Run(ctx, func(tx *gorm.DB) error {
		return fn(&txRepository{tx: tx})
	})
}

func (r *repository) FindReservationForPayment(ctx context.Context, reservationID uuid.UUID) (*PayableReservation, error) {
	var payable PayableReservation
	err := r.db.WithContext(ctx).Preload("Items").First(&payable.Reservation, "id = ?", reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Table("events").
		Select("currency").
		Where("id = ?", payable.EventID).
		Limit(1).
		Scan(&payable.Currency).Error
	if err != nil {
		return nil, err
	}
	return &payable, nil
}

func (r *repository) CreatePending(ctx context.Context, payment *Payment) (*Payment, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_ref"}},
			DoNothing: true,
		}).
		Create(payment)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return payment, true, nil
	}

	var existing Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", payment.Provider, payment.ProviderRef).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var payment Payment
	err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

type txRepository struct {
	tx *gorm.DB
}

func (t *txRepository) InsertWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error) {
	result := t.tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) FindWebhookEvent(ctx context.Context, provider, providerEventID string) (*WebhookEvent, error) {
	var event WebhookEvent
	err := t.tx.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (t *txRepository) FindPaymentByProviderRef(ctx context.Context, provider, providerRef string) (*Payment, error) {
	var payment Payment
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND provider_ref = ?", provider, providerRef).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (t *txRepository) SetPaymentStatus(ctx context.Context, paymentID uuid.UUID, status Status, now time.Time) error {
	updates := map[string]interface{}{"status": status, "updated_at": now}
	switch status {
	case StatusSucceeded:
		updates["succeeded_at"] = now
	case StatusFailed:
		updates["failed_at"] = now
	}
	return t.tx.WithContext(ctx).Model(&Payment{}).Where("id = ?", paymentID).Updates(updates).Error
}

func (t *txRepository) MarkWebhookProcessed(ctx context.Context, id, paymentID uuid.UUID, now time.Time) error {
	return t.tx.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_id":   paymentID,
			"status":       WebhookProcessed,
			"processed_at": now,
		}).Error
}

func (t *txRepository) MarkWebhookFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	return t.tx.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        WebhookFailed,
			"error_message": message,
			"processed_at":  now,
		}).Error
}

func (t *txRepository) Outbox() outbox.Writer {
	return outbox.NewWriter(t.tx)
}

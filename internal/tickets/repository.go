package tickets

import (
	"context"
	"errors"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/payments"
	"boxoffice/internal/reservations"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	WithinTx(ctx context.Context, fn func(tx TxRepository) error) error
	ListTicketsByUser(ctx context.Context, userID uuid.UUID) ([]Ticket, error)
}

// TxRepository is the transaction-scoped view of the finalization engine.
type TxRepository interface {
	// LockPayment loads the payment under a row lock, serializing concurrent
	// finalizations of the same payment.
	LockPayment(ctx context.Context, paymentID uuid.UUID) (*payments.Payment, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*reservations.Reservation, error)
	EventCurrency(ctx context.Context, eventID uuid.UUID) (string, error)
	TicketIDsByOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)

	CreateOrder(ctx context.Context, order *Order) error
	CreateOrderItem(ctx context.Context, item *OrderItem) error
	MarkSeatSold(ctx context.Context, seatID, eventID uuid.UUID, now time.Time) (bool, error)
	CreateTickets(ctx context.Context, tickets []Ticket) error
	ConfirmReservation(ctx context.Context, reservationID uuid.UUID, now time.Time) (bool, error)
	SetPaymentOrder(ctx context.Context, paymentID, orderID uuid.UUID, now time.Time) (bool, error)

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

func (r *repository) ListTicketsByUser(ctx context.Context, userID uuid.UUID) ([]Ticket, error) {
	var tickets []Ticket
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at DESC").
		Find(&tickets).Error
	return tickets, err
}

type txRepository struct {
	tx *gorm.DB
}

func (t *txRepository) LockPayment(ctx context.Context, paymentID uuid.UUID) (*payments.Payment, error) {
	var payment payments.Payment
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payment, "id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (t *txRepository) GetReservation(ctx context.Context, reservationID uuid.UUID) (*reservations.Reservation, error) {
	var reservation reservations.Reservation
	err := t.tx.WithContext(ctx).Preload("Items").First(&reservation, "id = ?", reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (t *txRepository) EventCurrency(ctx context.Context, eventID uuid.UUID) (string, error) {
	var currency string
	err := t.tx.WithContext(ctx).
		Table("events").
		Select("currency").
		Where("id = ?", eventID).
		Limit(1).
		Scan(&currency).Error
	return currency, err
}

func (t *txRepository) TicketIDsByOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := t.tx.WithContext(ctx).
		Model(&Ticket{}).
		Where("order_id = ?", orderID).
		Order("sequence ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (t *txRepository) CreateOrder(ctx context.Context, order *Order) error {
	return t.tx.WithContext(ctx).Omit("Items").Create(order).Error
}

func (t *txRepository) CreateOrderItem(ctx context.Context, item *OrderItem) error {
	return t.tx.WithContext(ctx).Create(item).Error
}

func (t *txRepository) MarkSeatSold(ctx context.Context, seatID, eventID uuid.UUID, now time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).
		Model(&seats.Seat{}).
		Where("id = ? AND event_id = ? AND status = ?", seatID, eventID, seats.StatusReserved).
		Updates(map[string]interface{}{
			"status":         seats.StatusSold,
			"reserved_until": nil,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) CreateTickets(ctx context.Context, tickets []Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return t.tx.WithContext(ctx).CreateInBatches(tickets, 200).Error
}

func (t *txRepository) ConfirmReservation(ctx context.Context, reservationID uuid.UUID, now time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).
		Model(&reservations.Reservation{}).
		Where("id = ? AND status = ? AND expires_at > ?", reservationID, reservations.StatusActive, now).
		Updates(map[string]interface{}{"status": reservations.StatusConfirmed, "updated_at": now})
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) SetPaymentOrder(ctx context.Context, paymentID, orderID uuid.UUID, now time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).
		Model(&payments.Payment{}).
		Where("id = ? AND order_id IS NULL", paymentID).
		Updates(map[string]interface{}{"order_id": orderID, "updated_at": now})
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) Outbox() outbox.Writer {
	return outbox.NewWriter(t.tx)
}

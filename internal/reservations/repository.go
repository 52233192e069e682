package reservations

import (
	"context"
	"errors"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SeatSnapshot is the seat state read at the start of a claim, together with
// the ticket-type price used for the price snapshot.
type SeatSnapshot struct {
	ID                   uuid.UUID    `gorm:"column:id"`
	EventID              uuid.UUID    `gorm:"column:event_id"`
	Status               seats.Status `gorm:"column:status"`
	ReservedUntil        *time.Time   `gorm:"column:reserved_until"`
	Version              int          `gorm:"column:version"`
	PriceCents           *int64       `gorm:"column:price_cents"`
	FeesCents            int64        `gorm:"column:fees_cents"`
	TicketTypeID         *uuid.UUID   `gorm:"column:ticket_type_id"`
	TicketTypePriceCents *int64       `gorm:"column:ticket_type_price_cents"`
}

// UnitPriceCents resolves the price snapshot: seat price, else ticket-type
// price, else zero.
func (s *SeatSnapshot) UnitPriceCents() int64 {
	if s.PriceCents != nil {
		return *s.PriceCents
	}
	if s.TicketTypePriceCents != nil {
		return *s.TicketTypePriceCents
	}
	return 0
}

type Repository interface {
	// WithinTx runs fn in one transaction, replaying it on retryable store errors.
	WithinTx(ctx context.Context, fn func(tx TxRepository) error) error

	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*Reservation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// TxRepository is the transaction-scoped view used by the engine. Every
// conditional update reports whether it matched a row.
type TxRepository interface {
	GetSeatSnapshot(ctx context.Context, seatID uuid.UUID) (*SeatSnapshot, error)
	ClaimSeatVersioned(ctx context.Context, snap *SeatSnapshot, now, until time.Time) (bool, error)
	ClaimSeatLocked(ctx context.Context, seatID, eventID uuid.UUID, now, until time.Time) (bool, error)
	CreateReservation(ctx context.Context, reservation *Reservation) error

	GetReservationForExpiry(ctx context.Context, id uuid.UUID) (*Reservation, error)
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ReleaseSeat(ctx context.Context, seatID, eventID uuid.UUID, now time.Time) (bool, error)

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

func (r *repository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*Reservation, error) {
	var reservation Reservation
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&reservation).Error
	return found(&reservation, err)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var reservation Reservation
	err := r.db.WithContext(ctx).Preload("Items").First(&reservation, "id = ?", id).Error
	return found(&reservation, err)
}

func (r *repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("status = ? AND expires_at <= ?", StatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

type txRepository struct {
	tx *gorm.DB
}

func (t *txRepository) GetSeatSnapshot(ctx context.Context, seatID uuid.UUID) (*SeatSnapshot, error) {
	var snap SeatSnapshot
	result := t.tx.WithContext(ctx).
		Table("event_seats AS s").
		Select("s.id, s.event_id, s.status, s.reserved_until, s.version, s.price_cents, s.fees_cents, s.ticket_type_id, tt.price_cents AS ticket_type_price_cents").
		Joins("LEFT JOIN ticket_types tt ON tt.id = s.ticket_type_id").
		Where("s.id = ?", seatID).
		Limit(1).
		Scan(&snap)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &snap, nil
}

// ClaimSeatVersioned is the optimistic path: a compare-and-swap on version.
func (t *txRepository) ClaimSeatVersioned(ctx context.Context, snap *SeatSnapshot, now, until time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).
		Model(&seats.Seat{}).
		Where("id = ? AND event_id = ? AND version = ?", snap.ID, snap.EventID, snap.Version).
		Where("status = ? OR (status = ? AND reserved_until < ?)", seats.StatusAvailable, seats.StatusReserved, now).
		Updates(map[string]interface{}{
			"status":         seats.StatusReserved,
			"reserved_until": until,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	return result.RowsAffected == 1, result.Error
}

const claimLockedSQL = `
WITH target AS (
	SELECT id, status, reserved_until
	FROM event_seats
	WHERE id = ? AND event_id = ?
	FOR UPDATE SKIP LOCKED
)
UPDATE event_seats es
SET status = 'RESERVED',
	reserved_until = ?,
	version = es.version + 1,
	updated_at = ?
FROM target t
WHERE es.id = t.id
	AND (t.status = 'AVAILABLE' OR (t.status = 'RESERVED' AND t.reserved_until < ?))`

// ClaimSeatLocked is the pessimistic fallback. A row locked by another
// transaction is skipped, so the call never waits on a lock.
func (t *txRepository) ClaimSeatLocked(ctx context.Context, seatID, eventID uuid.UUID, now, until time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).Exec(claimLockedSQL, seatID, eventID, until, now, now)
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) CreateReservation(ctx context.Context, reservation *Reservation) error {
	return t.tx.WithContext(ctx).Create(reservation).Error
}

func (t *txRepository) GetReservationForExpiry(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var reservation Reservation
	err := t.tx.WithContext(ctx).Preload("Items").First(&reservation, "id = ?", id).Error
	return found(&reservation, err)
}

func (t *txRepository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).
		Model(&Reservation{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, StatusActive, now).
		Updates(map[string]interface{}{"status": StatusExpired, "updated_at": now})
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) ReleaseSeat(ctx context.Context, seatID, eventID uuid.UUID, now time.Time) (bool, error) {
	result := t.tx.WithContext(ctx).
		Model(&seats.Seat{}).
		Where("id = ? AND event_id = ? AND status = ? AND reserved_until <= ?", seatID, eventID, seats.StatusReserved, now).
		Updates(map[string]interface{}{
			"status":         seats.StatusAvailable,
			"reserved_until": nil,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	return result.RowsAffected == 1, result.Error
}

func (t *txRepository) Outbox() outbox.Writer {
	return outbox.NewWriter(t.tx)
}

func found(reservation *Reservation, err error) (*Reservation, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

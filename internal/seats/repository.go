package seats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PricedSeat is a seat with its price resolved against its ticket type.
type PricedSeat struct {
	Seat                `gorm:"embedded"`
	EffectivePriceCents int64 `gorm:"column:effective_price_cents"`
}

type Repository interface {
	CreateSeats(ctx context.Context, seats []Seat) error
	GetSeatByID(ctx context.Context, id uuid.UUID) (*Seat, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]PricedSeat, error)

	// SetStatus moves a seat between from and to, guarded by the seat version.
	// It returns false when the seat changed underneath the caller.
	SetStatus(ctx context.Context, seat *Seat, from, to Status, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateSeats(ctx context.Context, seats []Seat) error {
	return r.db.WithContext(ctx).CreateInBatches(&seats, 500).Error
}

func (r *repository) GetSeatByID(ctx context.Context, id uuid.UUID) (*Seat, error) {
	var seat Seat
	if err := r.db.WithContext(ctx).First(&seat, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &seat, nil
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]PricedSeat, error) {
	var seats []PricedSeat
	err := r.db.WithContext(ctx).
		Table("event_seats AS s").
		Select("s.*, COALESCE(s.price_cents, tt.price_cents, 0) AS effective_price_cents").
		Joins("LEFT JOIN ticket_types tt ON tt.id = s.ticket_type_id").
		Where("s.event_id = ?", eventID).
		Order("s.section ASC, s.row ASC, s.number ASC").
		Scan(&seats).Error
	return seats, err
}

func (r *repository) SetStatus(ctx context.Context, seat *Seat, from, to Status, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Seat{}).
		Where("id = ? AND version = ? AND status = ?", seat.ID, seat.Version, from).
		Updates(map[string]interface{}{
			"status":         to,
			"reserved_until": nil,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the relay's view of the outbox table.
type Repository interface {
	// ClaimPending leases up to limit claimable rows: attempts is incremented and
	// available_at is pushed to now+lease so a crashed relay releases them.
	ClaimPending(ctx context.Context, limit int, lease time.Duration, now time.Time) ([]Event, error)
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

const claimPendingSQL = `
WITH claimable AS (
	SELECT id
	FROM outbox_events
	WHERE status = 'PENDING' AND available_at <= ?
	ORDER BY available_at, created_at
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events o
SET attempts = o.attempts + 1,
	available_at = ?,
	updated_at = ?
FROM claimable c
WHERE o.id = c.id
RETURNING o.*`

func (r *repository) ClaimPending(ctx context.Context, limit int, lease time.Duration, now time.Time) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Raw(claimPendingSQL, now, limit, now.Add(lease), now).
		Scan(&events).Error
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return events, nil
}

func (r *repository) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusSent,
			"sent_at":    now,
			"last_error": nil,
		}).Error
}

func (r *repository) Reschedule(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&Event{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"available_at": availableAt,
			"last_error":   lastError,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&Event{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"last_error": lastError,
		}).Error
}

func (r *repository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&Event{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

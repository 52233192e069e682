package seats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/internal/shared/apperr"
	"boxoffice/pkg/cache"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Service interface {
	GetSeatMap(ctx context.Context, eventID string) (*SeatMapResponse, error)
	InvalidateSeatMap(ctx context.Context, eventID uuid.UUID)
	UpdateSeatStatus(ctx context.Context, seatID string, status Status) (*Seat, error)
}

type service struct {
	repo         Repository
	cacheService cache.Service
	seatMapTTL   time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// NewService creates the seat map service. cacheService may be nil.
func NewService(repo Repository, cacheService cache.Service, seatMapTTL time.Duration, log *logger.Logger) Service {
	if seatMapTTL <= 0 {
		seatMapTTL = cache.TTLSeatMap
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &service{
		repo:         repo,
		cacheService: cacheService,
		seatMapTTL:   seatMapTTL,
		log:          log.WithComponent("seats"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) GetSeatMap(ctx context.Context, eventID string) (*SeatMapResponse, error) {
	id, err := uuid.Parse(eventID)
	if err != nil {
		return nil, apperr.Validation("invalid_event_id", "event id must be a UUID")
	}

	if s.cacheService == nil {
		return s.buildSeatMap(ctx, id)
	}

	var seatMap SeatMapResponse
	err = s.cacheService.GetOrSet(ctx, cache.SeatMapKey(id.String()), s.seatMapTTL, func() (interface{}, error) {
		return s.buildSeatMap(ctx, id)
	}, &seatMap)
	if err != nil {
		return nil, err
	}
	return &seatMap, nil
}

func (s *service) buildSeatMap(ctx context.Context, eventID uuid.UUID) (*SeatMapResponse, error) {
	rows, err := s.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("seat_map_not_found", "event has no seats")
	}

	now := s.now()
	seatMap := &SeatMapResponse{
		EventID:     eventID.String(),
		Seats:       make([]SeatResponse, 0, len(rows)),
		Counts:      map[Status]int{},
		GeneratedAt: now,
	}
	for i := range rows {
		seat := rows[i].ToResponse(now)
		seatMap.Seats = append(seatMap.Seats, seat)
		seatMap.Counts[seat.Status]++
	}
	return seatMap, nil
}

// InvalidateSeatMap drops the cached seat map of an event. Failures are logged
// only; the entry expires on its own shortly after.
func (s *service) InvalidateSeatMap(ctx context.Context, eventID uuid.UUID) {
	if s.cacheService == nil {
		return
	}
	if err := s.cacheService.Delete(ctx, cache.SeatMapKey(eventID.String())); err != nil {
		s.log.WarnContext(ctx, "Failed to invalidate seat map",
			slog.String("event_id", eventID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// UpdateSeatStatus blocks or unblocks a seat. Reserved and sold seats cannot be
// touched from here.
func (s *service) UpdateSeatStatus(ctx context.Context, seatID string, status Status) (*Seat, error) {
	id, err := uuid.Parse(seatID)
	if err != nil {
		return nil, apperr.Validation("invalid_seat_id", "seat id must be a UUID")
	}
	if status != StatusAvailable && status != StatusBlocked {
		return nil, apperr.Validation("invalid_seat_status", "seat status must be AVAILABLE or BLOCKED")
	}

	seat, err := s.repo.GetSeatByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("seat_not_found", "seat not found")
		}
		return nil, fmt.Errorf("failed to get seat: %w", err)
	}
	if seat.Status == status {
		return seat, nil
	}

	from := StatusAvailable
	if status == StatusAvailable {
		from = StatusBlocked
	}
	if seat.Status != from {
		return nil, apperr.Conflict("seat_not_modifiable", fmt.Sprintf("seat is %s", seat.Status))
	}

	ok, err := s.repo.SetStatus(ctx, seat, from, status, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update seat: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("seat_changed", "seat was modified concurrently")
	}

	seat.Status = status
	seat.Version++
	s.InvalidateSeatMap(ctx, seat.EventID)
	return seat, nil
}

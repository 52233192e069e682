package reservations

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/realtime"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/apperr"
	"boxoffice/internal/shared/database"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Claim paths, recorded on the reservation_created_total metric.
const (
	PathOptimistic = "optimistic"
	PathLocked     = "locked"
)

// ReserveCommand is the already-authenticated input of a seat claim.
type ReserveCommand struct {
	UserID         uuid.UUID
	EventID        uuid.UUID
	SeatID         uuid.UUID
	IdempotencyKey string `validate:"required,min=8,max=128"`
	// TTL overrides the configured hold duration when positive.
	TTL           time.Duration
	CorrelationID string
}

type ReserveResult struct {
	Reservation *Reservation
	Path        string
	Replayed    bool
}

// ExpiryOutcome describes one reservation handled by a sweep.
type ExpiryOutcome struct {
	ReservationID   uuid.UUID
	EventID         uuid.UUID
	Expired         bool
	ReleasedSeatIDs []uuid.UUID
}

type SweepSummary struct {
	Scanned  int
	Expired  int
	Released int
	Failed   int
	Results  []ExpiryOutcome
}

type Service interface {
	Reserve(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error)
	GetReservation(ctx context.Context, userID uuid.UUID, reservationID string) (*Reservation, error)
	SweepExpired(ctx context.Context, batchSize int) (*SweepSummary, error)
}

type ServiceConfig struct {
	TTL          time.Duration
	LockAttempts int
	LockBackoff  time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		TTL:          10 * time.Minute,
		LockAttempts: 2,
		LockBackoff:  20 * time.Millisecond,
	}
}

type service struct {
	repo     Repository
	config   ServiceConfig
	notifier realtime.Notifier
	log      *logger.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates the reservation engine. notifier and m may be nil.
func NewService(repo Repository, config ServiceConfig, notifier realtime.Notifier, log *logger.Logger, m *metrics.Metrics) Service {
	defaults := DefaultServiceConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.LockAttempts <= 0 {
		config.LockAttempts = defaults.LockAttempts
	}
	if config.LockBackoff < 0 {
		config.LockBackoff = defaults.LockBackoff
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &service{
		repo:     repo,
		config:   config,
		notifier: notifier,
		log:      log.WithComponent("reservations"),
		metrics:  m,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
	}
}

func (s *service) Reserve(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error) {
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if err := s.validateCommand(cmd); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &ReserveResult{Reservation: existing, Replayed: true}, nil
	}

	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = s.config.TTL
	}
	now := s.now()
	until := now.Add(ttl)

	var (
		created *Reservation
		path    string
	)
	err = s.repo.WithinTx(ctx, func(tx TxRepository) error {
		snap, err := tx.GetSeatSnapshot(ctx, cmd.SeatID)
		if err != nil {
			return err
		}
		if snap == nil || snap.EventID != cmd.EventID {
			return apperr.NotFound("seat_not_found", "Seat not found for the provided event")
		}
		if snap.Status == seats.StatusSold || snap.Status == seats.StatusBlocked {
			return apperr.Conflict("seat_unavailable", "Seat is not available for reservation")
		}

		path = PathOptimistic
		claimed, err := tx.ClaimSeatVersioned(ctx, snap, now, until)
		if err != nil {
			return err
		}
		if !claimed {
			path = PathLocked
			claimed, err = s.claimLocked(ctx, tx, snap, now, until)
			if err != nil {
				return err
			}
		}
		if !claimed {
			return apperr.Conflict("seat_already_reserved", "Seat is already reserved by another request")
		}

		seatID := snap.ID
		reservation := &Reservation{
			ID:             uuid.New(),
			EventID:        cmd.EventID,
			UserID:         cmd.UserID,
			Status:         StatusActive,
			ExpiresAt:      until,
			IdempotencyKey: cmd.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
			Items: []ReservationItem{{
				ID:           uuid.New(),
				SeatID:       &seatID,
				TicketTypeID: snap.TicketTypeID,
				Quantity:     1,
				PriceCents:   snap.UnitPriceCents(),
				FeesCents:    snap.FeesCents,
				CreatedAt:    now,
			}},
		}
		if err := tx.CreateReservation(ctx, reservation); err != nil {
			return err
		}

		userID := cmd.UserID
		payload := outbox.ReservationCreated{
			ReservationID: reservation.ID,
			EventID:       reservation.EventID,
			SeatID:        seatID,
			ExpiresAt:     until,
		}
		meta := outbox.Meta{
			CorrelationID: cmd.CorrelationID,
			Actor:         userID.String(),
			ActorUserID:   &userID,
			OccurredAt:    now,
		}
		if err := tx.Outbox().Append(ctx, reservation.ID.String(), payload, meta); err != nil {
			return err
		}

		created = reservation
		return nil
	})
	if err != nil {
		if replay := s.recoverRace(ctx, cmd, err); replay != nil {
			return replay, nil
		}
		if apperr.IsKind(err, apperr.KindConflict) && s.metrics != nil {
			s.metrics.ReservationConflicts.Inc()
		}
		if database.ClassifyError(err) == database.ErrorClassConstraint {
			return nil, apperr.Conflict("reservation_conflict", "Reservation conflicts with an existing one")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReservationsCreated.WithLabelValues(path).Inc()
	}
	s.log.WithCorrelationID(cmd.CorrelationID).LogReservationCreated(ctx,
		created.ID.String(), created.EventID.String(), cmd.SeatID.String(), cmd.UserID.String(), path)

	reservationID := created.ID
	realtime.Notify(ctx, s.notifier, s.log, realtime.SeatUpdate{
		Type:          realtime.UpdateReservationCreated,
		EventID:       created.EventID,
		ReservationID: &reservationID,
		SeatIDs:       created.SeatIDs(),
		OccurredAt:    now,
	})

	return &ReserveResult{Reservation: created, Path: path}, nil
}

func (s *service) validateCommand(cmd ReserveCommand) error {
	if cmd.UserID == uuid.Nil {
		return apperr.Validation("invalid_user_id", "user id is required")
	}
	if cmd.EventID == uuid.Nil || cmd.SeatID == uuid.Nil {
		return apperr.Validation("invalid_seat", "event id and seat id are required")
	}
	if err := s.validate.Struct(cmd); err != nil {
		return apperr.Validation("invalid_idempotency_key", "idempotency key must be 8 to 128 characters")
	}
	return nil
}

// claimLocked retries the skip-locked claim a bounded number of times.
func (s *service) claimLocked(ctx context.Context, tx TxRepository, snap *SeatSnapshot, now, until time.Time) (bool, error) {
	for attempt := 1; attempt <= s.config.LockAttempts; attempt++ {
		claimed, err := tx.ClaimSeatLocked(ctx, snap.ID, snap.EventID, now, until)
		if err != nil || claimed {
			return claimed, err
		}
		if attempt < s.config.LockAttempts {
			if err := s.sleep(ctx, time.Duration(attempt)*s.config.LockBackoff); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// recoverRace returns the reservation of a concurrent call that won with the
// same idempotency key, if there is one.
func (s *service) recoverRace(ctx context.Context, cmd ReserveCommand, err error) *ReserveResult {
	if !apperr.IsKind(err, apperr.KindConflict) && database.ClassifyError(err) != database.ErrorClassConstraint {
		return nil
	}
	existing, findErr := s.repo.FindByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey)
	if findErr != nil || existing == nil {
		return nil
	}
	s.log.InfoContext(ctx, "Recovered reservation from concurrent idempotent request",
		slog.String("reservation_id", existing.ID.String()),
		slog.String("user_id", cmd.UserID.String()),
	)
	return &ReserveResult{Reservation: existing, Replayed: true}
}

func (s *service) GetReservation(ctx context.Context, userID uuid.UUID, reservationID string) (*Reservation, error) {
	id, err := uuid.Parse(reservationID)
	if err != nil {
		return nil, apperr.Validation("invalid_reservation_id", "reservation id must be a UUID")
	}
	reservation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservation == nil || reservation.UserID != userID {
		return nil, apperr.NotFound("reservation_not_found", "Reservation not found")
	}
	return reservation, nil
}

// SweepExpired expires up to batchSize overdue ACTIVE reservations, oldest
// first. Each reservation is handled in its own transaction; a failure is
// logged and the sweep moves on.
func (s *service) SweepExpired(ctx context.Context, batchSize int) (*SweepSummary, error) {
	ids, err := s.repo.ListExpiredActive(ctx, s.now(), batchSize)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Scanned: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome, err := s.expireOne(ctx, id)
		if err != nil {
			summary.Failed++
			s.log.ErrorContext(ctx, "Failed to expire reservation",
				slog.String("reservation_id", id.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !outcome.Expired {
			continue
		}
		summary.Expired++
		summary.Released += len(outcome.ReleasedSeatIDs)
		summary.Results = append(summary.Results, *outcome)
	}

	if s.metrics != nil {
		s.metrics.ReservationsExpired.Add(float64(summary.Expired))
		s.metrics.SeatsReleased.Add(float64(summary.Released))
	}
	return summary, nil
}

func (s *service) expireOne(ctx context.Context, reservationID uuid.UUID) (*ExpiryOutcome, error) {
	correlationID := uuid.NewString()
	var outcome *ExpiryOutcome

	err := s.repo.WithinTx(ctx, func(tx TxRepository) error {
		outcome = &ExpiryOutcome{ReservationID: reservationID, ReleasedSeatIDs: []uuid.UUID{}}
		now := s.now()

		reservation, err := tx.GetReservationForExpiry(ctx, reservationID)
		if err != nil || reservation == nil {
			return err
		}
		outcome.EventID = reservation.EventID

		expired, err := tx.MarkExpired(ctx, reservation.ID, now)
		if err != nil || !expired {
			return err
		}
		outcome.Expired = true

		for _, seatID := range reservation.SeatIDs() {
			released, err := tx.ReleaseSeat(ctx, seatID, reservation.EventID, now)
			if err != nil {
				return err
			}
			if released {
				outcome.ReleasedSeatIDs = append(outcome.ReleasedSeatIDs, seatID)
			}
		}

		payload := outbox.ReservationExpired{
			ReservationID:   reservation.ID,
			EventID:         reservation.EventID,
			ReleasedSeatIDs: outcome.ReleasedSeatIDs,
		}
		meta := outbox.Meta{
			CorrelationID: correlationID,
			Actor:         outbox.ActorSystem,
			OccurredAt:    now,
		}
		return tx.Outbox().Append(ctx, reservation.ID.String(), payload, meta)
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Expired {
		return outcome, nil
	}

	s.log.WithCorrelationID(correlationID).LogReservationExpired(ctx,
		outcome.ReservationID.String(), outcome.EventID.String(), len(outcome.ReleasedSeatIDs))

	id := outcome.ReservationID
	realtime.Notify(ctx, s.notifier, s.log, realtime.SeatUpdate{
		Type:          realtime.UpdateReservationExpired,
		EventID:       outcome.EventID,
		ReservationID: &id,
		SeatIDs:       outcome.ReleasedSeatIDs,
		OccurredAt:    s.now(),
	})
	return outcome, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

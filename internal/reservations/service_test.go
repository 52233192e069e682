package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/realtime"
	"boxoffice/internal/realtime/realtimetest"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/apperr"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

type engineFixture struct {
	store    *memoryStore
	svc      *service
	notifier *realtimetest.Recorder
	metrics  *metrics.Metrics
	sleeps   []time.Duration
	eventID  uuid.UUID
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    newMemoryStore(),
		notifier: &realtimetest.Recorder{},
		metrics:  metrics.New(),
		eventID:  uuid.New(),
	}
	f.svc = NewService(f.store, ServiceConfig{TTL: 10 * time.Minute}, f.notifier, logger.Discard(), f.metrics).(*service)
	f.svc.now = func() time.Time { return testNow }
	f.svc.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func (f *engineFixture) command(seatID uuid.UUID) ReserveCommand {
	return ReserveCommand{
		UserID:         uuid.New(),
		EventID:        f.eventID,
		SeatID:         seatID,
		IdempotencyKey: "key-" + uuid.NewString()[:8],
		CorrelationID:  "corr-1",
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestReserveClaimsSeatAndAppendsOutboxRow(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, int64Ptr(4500), 250)

	cmd := f.command(seat.ID)
	result, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	assert.False(t, result.Replayed)
	assert.Equal(t, PathOptimistic, result.Path)
	reservation := result.Reservation
	assert.Equal(t, StatusActive, reservation.Status)
	assert.Equal(t, testNow.Add(10*time.Minute), reservation.ExpiresAt)
	require.Len(t, reservation.Items, 1)
	assert.Equal(t, int64(4500), reservation.Items[0].PriceCents)
	assert.Equal(t, int64(250), reservation.Items[0].FeesCents)
	assert.Equal(t, int64(4750), reservation.TotalCents())

	stored := f.store.seat(seat.ID)
	assert.Equal(t, seats.StatusReserved, stored.Status)
	assert.Equal(t, 1, stored.Version)
	require.NotNil(t, stored.ReservedUntil)
	assert.Equal(t, reservation.ExpiresAt, *stored.ReservedUntil)

	events := f.store.outbox.Events()
	require.Len(t, events, 1)
	assert.Equal(t, outbox.TopicReservationCreated, events[0].Topic)
	assert.Equal(t, reservation.ID.String(), events[0].Key)
	require.NotNil(t, events[0].ActorUserID)
	assert.Equal(t, cmd.UserID, *events[0].ActorUserID)

	env, err := outbox.Decode[outbox.ReservationCreated](events[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, cmd.UserID.String(), env.Actor)
	require.NotNil(t, env.CorrelationID)
	assert.Equal(t, "corr-1", *env.CorrelationID)
	assert.Equal(t, seat.ID, env.Data.SeatID)

	updates := f.notifier.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, realtime.UpdateReservationCreated, updates[0].Type)
	assert.Equal(t, []uuid.UUID{seat.ID}, updates[0].SeatIDs)
	assert.Equal(t, 1.0, metrics.Total(f.metrics.ReservationsCreated))
}

func TestReservePriceFallsBackToTicketType(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	seat.TicketTypePriceCents = int64Ptr(3000)
	free := f.store.addSeat(f.eventID, nil, 0)

	result, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.Reservation.Items[0].PriceCents)

	result, err = f.svc.Reserve(context.Background(), f.command(free.ID))
	require.NoError(t, err)
	assert.Zero(t, result.Reservation.TotalCents())
}

func TestReserveRejectsInvalidCommands(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)

	short := f.command(seat.ID)
	short.IdempotencyKey = "  abc  "
	_, err := f.svc.Reserve(context.Background(), short)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	missing := f.command(seat.ID)
	missing.SeatID = uuid.Nil
	_, err = f.svc.Reserve(context.Background(), missing)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	assert.Empty(t, f.store.outbox.Events())
}

func TestReserveSeatOfAnotherEventIsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(uuid.New(), nil, 0)

	_, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = f.svc.Reserve(context.Background(), f.command(uuid.New()))
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestReserveSoldOrBlockedSeatConflicts(t *testing.T) {
	for _, status := range []seats.Status{seats.StatusSold, seats.StatusBlocked} {
		t.Run(string(status), func(t *testing.T) {
			f := newEngineFixture(t)
			seat := f.store.addSeat(f.eventID, nil, 0)
			seat.Status = status

			_, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
			require.Error(t, err)
			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperr.KindConflict, appErr.Kind)
			assert.Equal(t, "seat_unavailable", appErr.Code)
			assert.Equal(t, 0, f.store.lockAttempts)
		})
	}
}

func TestReserveReclaimsLapsedHold(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	lapsed := testNow.Add(-time.Second)
	seat.Status = seats.StatusReserved
	seat.ReservedUntil = &lapsed

	result, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	require.NoError(t, err)
	assert.Equal(t, PathOptimistic, result.Path)
}

func TestReserveFallsBackToLockedClaim(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	f.store.bumpOnRead = true

	result, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	require.NoError(t, err)

	assert.Equal(t, PathLocked, result.Path)
	assert.Equal(t, 1, f.store.lockAttempts)
	assert.Empty(t, f.sleeps)
	assert.Equal(t, seats.StatusReserved, f.store.seat(seat.ID).Status)
}

func TestReserveLockedClaimIsBounded(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	f.store.bumpOnRead = true
	f.store.lockedSeats[seat.ID] = true

	_, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "seat_already_reserved", appErr.Code)
	assert.Equal(t, 2, f.store.lockAttempts)
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, f.sleeps)
	assert.Empty(t, f.store.outbox.Events())
	assert.Equal(t, 1.0, metrics.Total(f.metrics.ReservationConflicts))
}

func TestReserveIsIdempotentPerUserAndKey(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	other := f.store.addSeat(f.eventID, nil, 0)

	cmd := f.command(seat.ID)
	first, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	// The replay ignores the new seat: no second claim is attempted.
	cmd.SeatID = other.ID
	cmd.IdempotencyKey = "  " + cmd.IdempotencyKey + " "
	second, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)
	assert.Equal(t, seats.StatusAvailable, f.store.seat(other.ID).Status)
	assert.Len(t, f.store.outbox.Events(), 1)
}

func TestReserveRecoversFromConcurrentSameKey(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)

	cmd := f.command(seat.ID)
	first, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	// The second call misses the winner on its first lookup, then loses the
	// seat claim and finds the winner after the conflict.
	f.store.hideKeyLookups = 1
	second, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)
	assert.Len(t, f.store.outbox.Events(), 1)
	assert.Zero(t, metrics.Total(f.metrics.ReservationConflicts))
}

func TestReserveDuplicateKeyOnInsertIsRecovered(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	otherSeat := f.store.addSeat(f.eventID, nil, 0)

	cmd := f.command(seat.ID)
	first, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	cmd.SeatID = otherSeat.ID
	f.store.hideKeyLookups = 1
	second, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)
	assert.Equal(t, seats.StatusAvailable, f.store.seat(otherSeat.ID).Status)
}

func TestConcurrentReserveOfOneSeatHasSingleWinner(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)

	const callers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if apperr.IsKind(err, apperr.KindConflict) {
					conflicts++
				}
				return
			}
			winners = append(winners, result.Reservation.ID)
		}()
	}
	wg.Wait()

	assert.Len(t, winners, 1)
	assert.Equal(t, callers-1, conflicts)
	assert.Len(t, f.store.outbox.Events(), 1)
	assert.Equal(t, seats.StatusReserved, f.store.seat(seat.ID).Status)
}

func TestConcurrentReserveWithSameKeyReturnsOneReservation(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	cmd := f.command(seat.ID)

	const callers = 8
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.svc.Reserve(context.Background(), cmd)
			errs[i] = err
			if err == nil {
				ids[i] = result.Reservation.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Len(t, f.store.outbox.Events(), 1)
}

func TestReserveRollbackLeavesNoOutboxRow(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	f.store.commitErr = errors.New("connection reset during commit")

	_, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	require.Error(t, err)

	assert.Empty(t, f.store.outbox.Events())
	assert.Empty(t, f.store.reservations)
	assert.Equal(t, seats.StatusAvailable, f.store.seat(seat.ID).Status)
	assert.Empty(t, f.notifier.Updates())
}

func TestReserveSurvivesNotifierFailure(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	f.notifier.Err = errors.New("redis down")

	_, err := f.svc.Reserve(context.Background(), f.command(seat.ID))
	require.NoError(t, err)
	assert.Len(t, f.store.outbox.Events(), 1)
}

func TestGetReservationIsScopedToOwner(t *testing.T) {
	f := newEngineFixture(t)
	seat := f.store.addSeat(f.eventID, nil, 0)
	cmd := f.command(seat.ID)
	result, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)

	got, err := f.svc.GetReservation(context.Background(), cmd.UserID, result.Reservation.ID.String())
	require.NoError(t, err)
	assert.Equal(t, result.Reservation.ID, got.ID)

	_, err = f.svc.GetReservation(context.Background(), uuid.New(), result.Reservation.ID.String())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = f.svc.GetReservation(context.Background(), cmd.UserID, "not-a-uuid")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

package reservations

import (
	"context"
	"testing"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/realtime"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdSeat reserves a seat with a one second TTL and moves the clock past it.
func holdSeat(t *testing.T, f *engineFixture) (*Reservation, uuid.UUID) {
	t.Helper()
	seat := f.store.addSeat(f.eventID, int64Ptr(1000), 0)
	cmd := f.command(seat.ID)
	cmd.TTL = time.Second

	result, err := f.svc.Reserve(context.Background(), cmd)
	require.NoError(t, err)
	return result.Reservation, seat.ID
}

func TestSweepExpiresReservationAndReleasesSeat(t *testing.T) {
	f := newEngineFixture(t)
	reservation, seatID := holdSeat(t, f)
	f.svc.now = func() time.Time { return testNow.Add(2 * time.Second) }

	summary, err := f.svc.SweepExpired(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, 1, summary.Released)
	assert.Equal(t, StatusExpired, f.store.reservation(reservation.ID).Status)

	seat := f.store.seat(seatID)
	assert.Equal(t, seats.StatusAvailable, seat.Status)
	assert.Nil(t, seat.ReservedUntil)

	events := f.store.outbox.Events()
	require.Len(t, events, 2)
	expired := events[1]
	assert.Equal(t, outbox.TopicReservationExpired, expired.Topic)
	assert.Nil(t, expired.ActorUserID)
	require.NotNil(t, expired.CorrelationID)

	env, err := outbox.Decode[outbox.ReservationExpired](expired.Payload)
	require.NoError(t, err)
	assert.Equal(t, outbox.ActorSystem, env.Actor)
	assert.Equal(t, []uuid.UUID{seatID}, env.Data.ReleasedSeatIDs)

	updates := f.notifier.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, realtime.UpdateReservationExpired, updates[1].Type)
	assert.Equal(t, 1.0, metrics.Total(f.metrics.ReservationsExpired))
	assert.Equal(t, 1.0, metrics.Total(f.metrics.SeatsReleased))
}

func TestSweepIgnoresUnexpiredReservations(t *testing.T) {
	f := newEngineFixture(t)
	holdSeat(t, f)

	summary, err := f.svc.SweepExpired(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)
	assert.Len(t, f.store.outbox.Events(), 1)
}

func TestSweepKeepsSeatThatWasReclaimed(t *testing.T) {
	f := newEngineFixture(t)
	reservation, seatID := holdSeat(t, f)
	later := testNow.Add(2 * time.Second)
	f.svc.now = func() time.Time { return later }

	// Someone else holds the seat now.
	f.store.mu.Lock()
	until := later.Add(5 * time.Minute)
	f.store.seats[seatID].ReservedUntil = &until
	f.store.mu.Unlock()

	summary, err := f.svc.SweepExpired(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Expired)
	assert.Zero(t, summary.Released)
	assert.Equal(t, StatusExpired, f.store.reservation(reservation.ID).Status)
	assert.Equal(t, seats.StatusReserved, f.store.seat(seatID).Status)

	events := f.store.outbox.Events()
	require.Len(t, events, 2)
	env, err := outbox.Decode[outbox.ReservationExpired](events[1].Payload)
	require.NoError(t, err)
	assert.Empty(t, env.Data.ReleasedSeatIDs)
	assert.NotNil(t, env.Data.ReleasedSeatIDs)

	// No fanout without released seats.
	assert.Len(t, f.notifier.Updates(), 1)
}

func TestSweepSkipsReservationConfirmedConcurrently(t *testing.T) {
	f := newEngineFixture(t)
	reservation, seatID := holdSeat(t, f)
	f.svc.now = func() time.Time { return testNow.Add(2 * time.Second) }

	f.store.mu.Lock()
	confirmed := copyReservation(f.store.reservations[reservation.ID])
	confirmed.Status = StatusConfirmed
	f.store.reservations[reservation.ID] = &confirmed
	f.store.seats[seatID].Status = seats.StatusSold
	f.store.staleExpired = []uuid.UUID{reservation.ID, uuid.New()}
	f.store.mu.Unlock()

	summary, err := f.svc.SweepExpired(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Scanned)
	assert.Zero(t, summary.Expired)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, StatusConfirmed, f.store.reservation(reservation.ID).Status)
	assert.Equal(t, seats.StatusSold, f.store.seat(seatID).Status)
	assert.Len(t, f.store.outbox.Events(), 1)
}

func TestSweepContinuesAfterFailure(t *testing.T) {
	f := newEngineFixture(t)
	holdSeat(t, f)
	holdSeat(t, f)
	f.svc.now = func() time.Time { return testNow.Add(2 * time.Second) }
	f.store.commitErr = assert.AnError

	summary, err := f.svc.SweepExpired(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Expired)
	assert.Len(t, f.store.outbox.Events(), 2)
}

func TestSweeperRunOnceRecordsDuration(t *testing.T) {
	f := newEngineFixture(t)
	holdSeat(t, f)
	f.svc.now = func() time.Time { return testNow.Add(2 * time.Second) }

	sweeper := NewSweeper(f.svc, &SweeperConfig{Interval: time.Hour, BatchSize: 10}, logger.Discard(), f.metrics)
	summary, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)

	sweeper.runCycle(context.Background())
	status := sweeper.HealthStatus()
	assert.Equal(t, "worker.reservation_expiry", status.Name)
	assert.NotNil(t, status.LastSuccessAt)
	assert.Empty(t, status.LastError)
}

func TestSweeperStops(t *testing.T) {
	sweeper := NewSweeper(newEngineFixture(t).svc, &SweeperConfig{Interval: time.Millisecond, BatchSize: 10}, logger.Discard(), nil)

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(context.Background()) }()
	sweeper.Stop()
	sweeper.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.False(t, sweeper.HealthStatus().Running)
}

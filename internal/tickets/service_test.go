package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/payments"
	"boxoffice/internal/realtime"
	"boxoffice/internal/realtime/realtimetest"
	"boxoffice/internal/reservations"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/apperr"
	"boxoffice/internal/shared/metrics"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errStoreUnavailable = errors.New("store unavailable")
	errUniqueViolation  = errors.New("duplicate key value violates unique constraint")
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store       *memoryStore
	notifier    *realtimetest.Recorder
	metrics     *metrics.Metrics
	service     *service
	userID      uuid.UUID
	eventID     uuid.UUID
	seatID      uuid.UUID
	reservation reservations.Reservation
	payment     payments.Payment
}

// newFixture seeds one ACTIVE reservation on a single reserved seat priced
// 5000 + 250 fees, and a SUCCEEDED payment covering it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemoryStore(),
		notifier: &realtimetest.Recorder{},
		metrics:  metrics.New(),
		userID:   uuid.New(),
		eventID:  uuid.New(),
		seatID:   uuid.New(),
	}
	seatID := f.seatID
	f.reservation = reservations.Reservation{
		ID:        uuid.New(),
		EventID:   f.eventID,
		UserID:    f.userID,
		Status:    reservations.StatusActive,
		ExpiresAt: fixedNow.Add(5 * time.Minute),
		Items: []reservations.ReservationItem{
			{ID: uuid.New(), SeatID: &seatID, Quantity: 1, PriceCents: 5000, FeesCents: 250},
		},
	}
	f.payment = payments.Payment{
		ID:            uuid.New(),
		ReservationID: f.reservation.ID,
		Provider:      payments.ProviderManual,
		ProviderRef:   "ref-123",
		Status:        payments.StatusSucceeded,
		AmountCents:   5250,
		Currency:      "USD",
	}
	f.store.state.reservations[f.reservation.ID] = f.reservation
	f.store.state.payments[f.payment.ID] = f.payment
	f.store.state.seats[f.seatID] = memorySeat{eventID: f.eventID, status: seats.StatusReserved, version: 2}
	f.store.currencies[f.eventID] = "usd"

	svc := NewService(f.store, f.notifier, logger.Discard(), f.metrics).(*service)
	svc.now = func() time.Time { return fixedNow }
	f.service = svc
	return f
}

func (f *fixture) finalize(t *testing.T) (*FinalizeResult, error) {
	t.Helper()
	return f.service.Finalize(context.Background(), FinalizeCommand{PaymentID: f.payment.ID, CorrelationID: "corr-1"})
}

func TestFinalizeIssuesTicketsAndSellsSeats(t *testing.T) {
	f := newFixture(t)

	result, err := f.finalize(t)
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.False(t, result.Idempotent)
	require.NotNil(t, result.OrderID)
	assert.Equal(t, []uuid.UUID{f.seatID}, result.SoldSeatIDs)
	require.Len(t, result.TicketIDs, 1)

	state := f.store.state
	assert.Equal(t, seats.StatusSold, state.seats[f.seatID].status)
	assert.Equal(t, 3, state.seats[f.seatID].version)
	assert.Equal(t, reservations.StatusConfirmed, state.reservations[f.reservation.ID].Status)
	assert.Equal(t, result.OrderID, state.payments[f.payment.ID].OrderID)

	order := state.orders[*result.OrderID]
	assert.Equal(t, OrderStatusPaid, order.Status)
	assert.Equal(t, int64(5000), order.SubtotalCents)
	assert.Equal(t, int64(250), order.FeesCents)
	assert.Equal(t, int64(5250), order.TotalCents)

	require.Len(t, state.tickets, 1)
	ticket := state.tickets[0]
	assert.Equal(t, TicketStatusIssued, ticket.Status)
	assert.Equal(t, TicketCode(order.ID, f.reservation.Items[0].ID, 0), ticket.Code)
	assert.Equal(t, f.userID, ticket.UserID)

	assert.Equal(t, []string{outbox.TopicTicketIssued, outbox.TopicSeatSold}, f.store.outbox.Topics())
	events := f.store.outbox.Events()
	assert.Equal(t, order.ID.String(), events[0].Key)
	assert.Equal(t, f.eventID.String(), events[1].Key)
	require.NotNil(t, events[0].ActorUserID)
	assert.Equal(t, f.userID, *events[0].ActorUserID)

	env, err := outbox.Decode[outbox.TicketIssued](events[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, f.userID.String(), env.Actor)
	assert.Equal(t, result.TicketIDs, env.Data.TicketIDs)

	updates := f.notifier.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, realtime.UpdateSeatSold, updates[0].Type)
	assert.Equal(t, []uuid.UUID{f.seatID}, updates[0].SeatIDs)

	assert.Equal(t, 1.0, metrics.Total(f.metrics.FinalizeOutcomes))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.finalize(t)
	require.NoError(t, err)
	second, err := f.finalize(t)
	require.NoError(t, err)

	assert.False(t, second.Processed)
	assert.True(t, second.Idempotent)
	assert.Equal(t, ReasonAlreadyFinalized, second.Reason)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.TicketIDs, second.TicketIDs)

	assert.Len(t, f.store.state.orders, 1)
	assert.Len(t, f.store.state.tickets, 1)
	assert.Len(t, f.store.outbox.Events(), 2)
	assert.Len(t, f.notifier.Updates(), 1)
}

func TestFinalizeSkipsPaymentThatHasNotSucceeded(t *testing.T) {
	f := newFixture(t)
	f.payment.Status = payments.StatusPending
	f.store.state.payments[f.payment.ID] = f.payment

	result, err := f.finalize(t)
	require.NoError(t, err)

	assert.False(t, result.Processed)
	assert.True(t, result.Idempotent)
	assert.Equal(t, ReasonPaymentNotSucceeded, result.Reason)
	assert.Empty(t, f.store.state.orders)
	assert.Equal(t, seats.StatusReserved, f.store.state.seats[f.seatID].status)
	assert.Empty(t, f.store.outbox.Events())
}

func TestFinalizeUnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Finalize(context.Background(), FinalizeCommand{PaymentID: uuid.New()})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestFinalizeConflictsLeaveNoTrace(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *fixture)
		code   string
	}{
		{
			name: "reservation expired",
			mutate: func(f *fixture) {
				r := f.store.state.reservations[f.reservation.ID]
				r.ExpiresAt = fixedNow
				f.store.state.reservations[f.reservation.ID] = r
			},
			code: "reservation_not_finalizable",
		},
		{
			name: "reservation already expired by sweeper",
			mutate: func(f *fixture) {
				r := f.store.state.reservations[f.reservation.ID]
				r.Status = reservations.StatusExpired
				f.store.state.reservations[f.reservation.ID] = r
			},
			code: "reservation_not_finalizable",
		},
		{
			name:   "reservation missing",
			mutate: func(f *fixture) { delete(f.store.state.reservations, f.reservation.ID) },
			code:   "reservation_missing",
		},
		{
			name: "amount mismatch",
			mutate: func(f *fixture) {
				p := f.store.state.payments[f.payment.ID]
				p.AmountCents = 5000
				f.store.state.payments[f.payment.ID] = p
			},
			code: "amount_mismatch",
		},
		{
			name:   "currency mismatch",
			mutate: func(f *fixture) { f.store.currencies[f.eventID] = "EUR" },
			code:   "currency_mismatch",
		},
		{
			name: "seat released",
			mutate: func(f *fixture) {
				f.store.state.seats[f.seatID] = memorySeat{eventID: f.eventID, status: seats.StatusAvailable}
			},
			code: "seat_not_reserved",
		},
		{
			name: "seat item with quantity above one",
			mutate: func(f *fixture) {
				r := f.store.state.reservations[f.reservation.ID]
				r.Items = []reservations.ReservationItem{{ID: uuid.New(), SeatID: &f.seatID, Quantity: 2, PriceCents: 2500, FeesCents: 125}}
				f.store.state.reservations[f.reservation.ID] = r
			},
			code: "invalid_seat_quantity",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(f)

			_, err := f.finalize(t)
			require.Error(t, err)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperr.KindConflict, appErr.Kind)
			assert.Equal(t, tc.code, appErr.Code)

			assert.Empty(t, f.store.state.orders)
			assert.Empty(t, f.store.state.tickets)
			assert.Nil(t, f.store.state.payments[f.payment.ID].OrderID)
			assert.Empty(t, f.store.outbox.Events())
			assert.Empty(t, f.notifier.Updates())
		})
	}
}

func TestFinalizeTicketTypeItemIssuesOneTicketPerUnit(t *testing.T) {
	f := newFixture(t)
	ticketTypeID := uuid.New()
	r := f.store.state.reservations[f.reservation.ID]
	r.Items = []reservations.ReservationItem{{ID: uuid.New(), TicketTypeID: &ticketTypeID, Quantity: 3, PriceCents: 1000, FeesCents: 50}}
	f.store.state.reservations[f.reservation.ID] = r
	p := f.store.state.payments[f.payment.ID]
	p.AmountCents = 3150
	f.store.state.payments[f.payment.ID] = p

	result, err := f.finalize(t)
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.Len(t, result.TicketIDs, 3)
	assert.Empty(t, result.SoldSeatIDs)
	assert.Equal(t, []string{outbox.TopicTicketIssued}, f.store.outbox.Topics())
	assert.Empty(t, f.notifier.Updates())

	codes := map[string]bool{}
	for _, ticket := range f.store.state.tickets {
		codes[ticket.Code] = true
	}
	assert.Len(t, codes, 3)
}

func TestFinalizeReplayKeepsIssuanceOrder(t *testing.T) {
	f := newFixture(t)
	ticketTypeID := uuid.New()
	r := f.store.state.reservations[f.reservation.ID]
	r.Items = append(r.Items, reservations.ReservationItem{ID: uuid.New(), TicketTypeID: &ticketTypeID, Quantity: 12, PriceCents: 1000, FeesCents: 50})
	f.store.state.reservations[f.reservation.ID] = r
	p := f.store.state.payments[f.payment.ID]
	p.AmountCents = 5250 + 12*1050
	f.store.state.payments[f.payment.ID] = p

	first, err := f.finalize(t)
	require.NoError(t, err)
	require.Len(t, first.TicketIDs, 13)

	// Rows come back from storage in no particular order.
	stored := f.store.state.tickets
	for i, j := 0, len(stored)-1; i < j; i, j = i+1, j-1 {
		stored[i], stored[j] = stored[j], stored[i]
	}

	second, err := f.finalize(t)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.TicketIDs, second.TicketIDs)

	sequences := map[uuid.UUID]int{}
	for _, ticket := range f.store.state.tickets {
		sequences[ticket.ID] = ticket.Sequence
	}
	for i, id := range first.TicketIDs {
		assert.Equal(t, i+1, sequences[id])
	}
}

func TestFinalizeRealtimeFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errors.New("redis down")

	result, err := f.finalize(t)
	require.NoError(t, err)
	assert.True(t, result.Processed)
}

func TestListMyTickets(t *testing.T) {
	f := newFixture(t)
	_, err := f.finalize(t)
	require.NoError(t, err)

	mine, err := f.service.ListMyTickets(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	others, err := f.service.ListMyTickets(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, others)
}

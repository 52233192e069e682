package tickets

import (
	"context"
	"sort"
	"sync"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/outbox/outboxtest"
	"boxoffice/internal/payments"
	"boxoffice/internal/reservations"
	"boxoffice/internal/seats"

	"github.com/google/uuid"
)

type memorySeat struct {
	eventID uuid.UUID
	status  seats.Status
	version int
}

type memoryState struct {
	payments     map[uuid.UUID]payments.Payment
	reservations map[uuid.UUID]reservations.Reservation
	seats        map[uuid.UUID]memorySeat
	orders       map[uuid.UUID]Order
	orderItems   map[uuid.UUID]OrderItem
	tickets      []Ticket
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		payments:     make(map[uuid.UUID]payments.Payment, len(s.payments)),
		reservations: make(map[uuid.UUID]reservations.Reservation, len(s.reservations)),
		seats:        make(map[uuid.UUID]memorySeat, len(s.seats)),
		orders:       make(map[uuid.UUID]Order, len(s.orders)),
		orderItems:   make(map[uuid.UUID]OrderItem, len(s.orderItems)),
		tickets:      append([]Ticket(nil), s.tickets...),
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.seats {
		c.seats[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = v
	}
	return c
}

// memoryStore runs each transaction against a copy of the state and swaps it
// in only on success.
type memoryStore struct {
	mu         sync.Mutex
	state      memoryState
	currencies map[uuid.UUID]string
	outbox     *outboxtest.Recorder

	failures int
	txCalls  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		state: memoryState{
			payments:     map[uuid.UUID]payments.Payment{},
			reservations: map[uuid.UUID]reservations.Reservation{},
			seats:        map[uuid.UUID]memorySeat{},
			orders:       map[uuid.UUID]Order{},
			orderItems:   map[uuid.UUID]OrderItem{},
		},
		currencies: map[uuid.UUID]string{},
		outbox:     &outboxtest.Recorder{},
	}
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(tx TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCalls++
	if m.failures > 0 {
		m.failures--
		return errStoreUnavailable
	}

	working := m.state.clone()
	staged := m.outbox.Stage()
	if err := fn(&memoryTx{store: m, state: &working, outbox: staged}); err != nil {
		return err
	}
	m.state = working
	staged.Commit()
	return nil
}

func (m *memoryStore) ListTicketsByUser(_ context.Context, userID uuid.UUID) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Ticket
	for _, t := range m.state.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memoryTx struct {
	store  *memoryStore
	state  *memoryState
	outbox *outboxtest.Staged
}

func (t *memoryTx) LockPayment(_ context.Context, id uuid.UUID) (*payments.Payment, error) {
	p, ok := t.state.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) GetReservation(_ context.Context, id uuid.UUID) (*reservations.Reservation, error) {
	r, ok := t.state.reservations[id]
	if !ok {
		return nil, nil
	}
	r.Items = append([]reservations.ReservationItem(nil), r.Items...)
	return &r, nil
}

func (t *memoryTx) EventCurrency(_ context.Context, eventID uuid.UUID) (string, error) {
	return t.store.currencies[eventID], nil
}

func (t *memoryTx) TicketIDsByOrder(_ context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	var owned []Ticket
	for _, ticket := range t.state.tickets {
		if ticket.OrderID == orderID {
			owned = append(owned, ticket)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].Sequence < owned[j].Sequence })
	ids := make([]uuid.UUID, 0, len(owned))
	for _, ticket := range owned {
		ids = append(ids, ticket.ID)
	}
	return ids, nil
}

func (t *memoryTx) CreateOrder(_ context.Context, order *Order) error {
	t.state.orders[order.ID] = *order
	return nil
}

func (t *memoryTx) CreateOrderItem(_ context.Context, item *OrderItem) error {
	for _, existing := range t.state.orderItems {
		if existing.ReservationItemID == item.ReservationItemID {
			return errUniqueViolation
		}
	}
	t.state.orderItems[item.ID] = *item
	return nil
}

func (t *memoryTx) MarkSeatSold(_ context.Context, seatID, eventID uuid.UUID, _ time.Time) (bool, error) {
	seat, ok := t.state.seats[seatID]
	if !ok || seat.eventID != eventID || seat.status != seats.StatusReserved {
		return false, nil
	}
	seat.status = seats.StatusSold
	seat.version++
	t.state.seats[seatID] = seat
	return true, nil
}

func (t *memoryTx) CreateTickets(_ context.Context, tickets []Ticket) error {
	t.state.tickets = append(t.state.tickets, tickets...)
	return nil
}

func (t *memoryTx) ConfirmReservation(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r, ok := t.state.reservations[id]
	if !ok || !r.IsPayable(now) {
		return false, nil
	}
	r.Status = reservations.StatusConfirmed
	t.state.reservations[id] = r
	return true, nil
}

func (t *memoryTx) SetPaymentOrder(_ context.Context, paymentID, orderID uuid.UUID, _ time.Time) (bool, error) {
	p, ok := t.state.payments[paymentID]
	if !ok || p.OrderID != nil {
		return false, nil
	}
	p.OrderID = &orderID
	t.state.payments[paymentID] = p
	return true, nil
}

func (t *memoryTx) Outbox() outbox.Writer {
	return t.outbox
}

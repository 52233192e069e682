package reservations

import (
	"context"
	"sync"
	"time"

	"boxoffice/internal/outbox"
	"boxoffice/internal/outbox/outboxtest"
	"boxoffice/internal/seats"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// memoryStore serializes transactions and restores its state on rollback,
// which is enough to exercise the engine's guarded updates.
type memoryStore struct {
	mu           sync.Mutex
	seats        map[uuid.UUID]*SeatSnapshot
	reservations map[uuid.UUID]*Reservation
	outbox       *outboxtest.Recorder

	lockedSeats    map[uuid.UUID]bool
	bumpOnRead     bool
	hideKeyLookups int
	staleExpired   []uuid.UUID
	commitErr      error
	lockAttempts   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		seats:        map[uuid.UUID]*SeatSnapshot{},
		reservations: map[uuid.UUID]*Reservation{},
		outbox:       &outboxtest.Recorder{},
		lockedSeats:  map[uuid.UUID]bool{},
	}
}

func (m *memoryStore) addSeat(eventID uuid.UUID, price *int64, fees int64) *SeatSnapshot {
	seat := &SeatSnapshot{ID: uuid.New(), EventID: eventID, Status: seats.StatusAvailable, PriceCents: price, FeesCents: fees}
	m.seats[seat.ID] = seat
	return seat
}

func (m *memoryStore) seat(id uuid.UUID) SeatSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.seats[id]
}

func (m *memoryStore) reservation(id uuid.UUID) Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyReservation(m.reservations[id])
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(tx TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seatsBefore := make(map[uuid.UUID]SeatSnapshot, len(m.seats))
	for id, seat := range m.seats {
		seatsBefore[id] = *seat
	}
	reservationsBefore := make(map[uuid.UUID]*Reservation, len(m.reservations))
	for id, r := range m.reservations {
		reservationsBefore[id] = r
	}

	staged := m.outbox.Stage()
	err := fn(&memoryTx{store: m, outbox: staged})
	if err == nil {
		err = m.commitErr
	}
	if err != nil {
		for id, seat := range seatsBefore {
			restored := seat
			m.seats[id] = &restored
		}
		m.reservations = reservationsBefore
		return err
	}
	staged.Commit()
	return nil
}

func (m *memoryStore) FindByIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideKeyLookups > 0 {
		m.hideKeyLookups--
		return nil, nil
	}
	for _, r := range m.reservations {
		if r.UserID == userID && r.IdempotencyKey == key {
			copied := copyReservation(r)
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) FindByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	copied := copyReservation(r)
	return &copied, nil
}

func (m *memoryStore) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleExpired != nil {
		return m.staleExpired, nil
	}
	var ids []uuid.UUID
	for id, r := range m.reservations {
		if r.Status == StatusActive && !r.ExpiresAt.After(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memoryTx struct {
	store  *memoryStore
	outbox outbox.Writer
}

func (t *memoryTx) GetSeatSnapshot(_ context.Context, seatID uuid.UUID) (*SeatSnapshot, error) {
	seat, ok := t.store.seats[seatID]
	if !ok {
		return nil, nil
	}
	snap := *seat
	if t.store.bumpOnRead {
		seat.Version++
	}
	return &snap, nil
}

func claimable(seat *SeatSnapshot, now time.Time) bool {
	if seat.Status == seats.StatusAvailable {
		return true
	}
	return seat.Status == seats.StatusReserved && seat.ReservedUntil != nil && seat.ReservedUntil.Before(now)
}

func (t *memoryTx) ClaimSeatVersioned(_ context.Context, snap *SeatSnapshot, now, until time.Time) (bool, error) {
	seat, ok := t.store.seats[snap.ID]
	if !ok || seat.EventID != snap.EventID || seat.Version != snap.Version || !claimable(seat, now) {
		return false, nil
	}
	reserve(seat, until)
	return true, nil
}

func (t *memoryTx) ClaimSeatLocked(_ context.Context, seatID, eventID uuid.UUID, now, until time.Time) (bool, error) {
	t.store.lockAttempts++
	seat, ok := t.store.seats[seatID]
	if !ok || seat.EventID != eventID || t.store.lockedSeats[seatID] || !claimable(seat, now) {
		return false, nil
	}
	reserve(seat, until)
	return true, nil
}

func reserve(seat *SeatSnapshot, until time.Time) {
	seat.Status = seats.StatusReserved
	seat.ReservedUntil = &until
	seat.Version++
}

func (t *memoryTx) CreateReservation(_ context.Context, reservation *Reservation) error {
	for _, r := range t.store.reservations {
		if r.UserID == reservation.UserID && r.IdempotencyKey == reservation.IdempotencyKey {
			return gorm.ErrDuplicatedKey
		}
	}
	copied := copyReservation(reservation)
	t.store.reservations[reservation.ID] = &copied
	return nil
}

func (t *memoryTx) GetReservationForExpiry(_ context.Context, id uuid.UUID) (*Reservation, error) {
	r, ok := t.store.reservations[id]
	if !ok {
		return nil, nil
	}
	copied := copyReservation(r)
	return &copied, nil
}

func (t *memoryTx) MarkExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r, ok := t.store.reservations[id]
	if !ok || r.Status != StatusActive || r.ExpiresAt.After(now) {
		return false, nil
	}
	updated := copyReservation(r)
	updated.Status = StatusExpired
	t.store.reservations[id] = &updated
	return true, nil
}

func (t *memoryTx) ReleaseSeat(_ context.Context, seatID, eventID uuid.UUID, now time.Time) (bool, error) {
	seat, ok := t.store.seats[seatID]
	if !ok || seat.EventID != eventID || seat.Status != seats.StatusReserved || seat.ReservedUntil == nil || seat.ReservedUntil.After(now) {
		return false, nil
	}
	seat.Status = seats.StatusAvailable
	seat.ReservedUntil = nil
	seat.Version++
	return true, nil
}

func (t *memoryTx) Outbox() outbox.Writer {
	return t.outbox
}

func copyReservation(r *Reservation) Reservation {
	copied := *r
	copied.Items = append([]ReservationItem(nil), r.Items...)
	return copied
}

// Package realtimetest records seat updates for engine tests.
package realtimetest

import (
	"context"
	"sync"

	"boxoffice/internal/realtime"
)

type Recorder struct {
	mu      sync.Mutex
	updates []realtime.SeatUpdate
	Err     error
}

func (r *Recorder) PublishSeatUpdate(_ context.Context, update realtime.SeatUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.updates = append(r.updates, update)
	return nil
}

func (r *Recorder) Updates() []realtime.SeatUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.SeatUpdate, len(r.updates))
	copy(out, r.updates)
	return out
}

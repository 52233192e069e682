// Package outboxtest provides an in-memory outbox writer for engine tests.
package outboxtest

import (
	"context"
	"sync"
	"time"

	"boxoffice/internal/outbox"
)

// Recorder collects appended events. Rows staged inside a transaction are only
// kept when the owning fake commits them.
type Recorder struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (r *Recorder) Append(_ context.Context, key string, payload outbox.Payload, meta outbox.Meta) error {
	event, err := outbox.NewEvent(key, payload, meta, time.Now().UTC())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *Recorder) Events() []outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]outbox.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Topics() []string {
	events := r.Events()
	topics := make([]string, 0, len(events))
	for _, e := range events {
		topics = append(topics, e.Topic)
	}
	return topics
}

// Staged is a per-transaction buffer that flushes into a Recorder on commit.
type Staged struct {
	Recorder
	parent *Recorder
}

func (r *Recorder) Stage() *Staged {
	return &Staged{parent: r}
}

func (s *Staged) Commit() {
	staged := s.Events()
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.events = append(s.parent.events, staged...)
}

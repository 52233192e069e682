package worker

import (
	"sync"
	"time"
)

// Status is a point-in-time snapshot of a periodic worker.
type Status struct {
	Name          string     `json:"name"`
	Running       bool       `json:"running"`
	LastRunAt     *time.Time `json:"last_run_at"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastError     string     `json:"last_error,omitempty"`
}

// Tracker records run outcomes for one worker instance. It replaces
// process-wide flags so several workers can be observed independently.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

func NewTracker(name string) *Tracker {
	return &Tracker{status: Status{Name: name}}
}

func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = running
}

func (t *Tracker) Begin(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastRunAt = &now
}

func (t *Tracker) Succeed(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastSuccessAt = &now
	t.status.LastError = ""
}

func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status.LastError = err.Error()
	}
}

func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

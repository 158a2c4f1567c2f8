package relayer

import (
	"sync"
	"time"
)

// Status is a point-in-time snapshot of a worker's progress: the last
// error surfaced for callers to inspect, modeled as a small mutex-guarded
// struct copied out on read rather than exposed live.
type Status struct {
	ResumeCursor        string
	ConsecutiveFailures int
	LastError           error
	LastSuccessAt       time.Time
}

// statusBox is the mutable, mutex-guarded state a worker updates as it
// runs; Status() returns a copy.
type statusBox struct {
	mu     sync.Mutex
	status Status
}

func (b *statusBox) snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *statusBox) recordSuccess(cursor string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.ResumeCursor = cursor
	b.status.ConsecutiveFailures = 0
	b.status.LastError = nil
	b.status.LastSuccessAt = time.Now()
}

func (b *statusBox) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.ConsecutiveFailures++
	b.status.LastError = err
}

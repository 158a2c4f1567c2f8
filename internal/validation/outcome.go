package validation

import (
	"sync"
	"sync/atomic"

	"github.com/essential-labs/essential-node/internal/store"
)

// outcomeBufferSize bounds the recent-outcomes ring buffer.
const outcomeBufferSize = 100

// outcomeChanDepth is the per-subscriber channel buffer. A subscriber
// that falls behind sees dropped outcomes counted, not a blocked
// publisher.
const outcomeChanDepth = 32

// OutcomeBus broadcasts validated-block outcomes to subscribers and
// keeps a fixed-size ring buffer of the most recent ones so a caller can
// poll without having subscribed before the outcome was produced.
type OutcomeBus struct {
	mu   sync.Mutex
	subs map[*OutcomeSubscription]struct{}

	recentMu sync.RWMutex
	recent   []store.ValidationOutcome

	dropped atomic.Int64
}

// NewOutcomeBus constructs an empty bus.
func NewOutcomeBus() *OutcomeBus {
	return &OutcomeBus{
		subs:   make(map[*OutcomeSubscription]struct{}),
		recent: make([]store.ValidationOutcome, 0, outcomeBufferSize),
	}
}

// OutcomeSubscription is a single consumer's view of the bus.
type OutcomeSubscription struct {
	bus *OutcomeBus
	ch  chan store.ValidationOutcome
}

// Subscribe registers a new subscription. Callers MUST Close it when
// done.
func (b *OutcomeBus) Subscribe() *OutcomeSubscription {
	sub := &OutcomeSubscription{bus: b, ch: make(chan store.ValidationOutcome, outcomeChanDepth)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close unsubscribes. Safe to call more than once.
func (s *OutcomeSubscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}

// C returns the channel outcomes are delivered on.
func (s *OutcomeSubscription) C() <-chan store.ValidationOutcome { return s.ch }

// Publish broadcasts o to every subscriber (dropping it for any
// subscriber whose buffer is full) and appends it to the ring buffer.
func (b *OutcomeBus) Publish(o store.ValidationOutcome) {
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub.ch <- o:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.Unlock()

	b.recentMu.Lock()
	b.recent = append(b.recent, o)
	if len(b.recent) > outcomeBufferSize {
		b.recent = b.recent[1:]
	}
	b.recentMu.Unlock()
}

// Recent returns a copy of the most recently published outcomes, oldest
// first.
func (b *OutcomeBus) Recent() []store.ValidationOutcome {
	b.recentMu.RLock()
	defer b.recentMu.RUnlock()
	out := make([]store.ValidationOutcome, len(b.recent))
	copy(out, b.recent)
	return out
}

// DroppedCount reports how many outcomes were discarded because a
// subscriber's buffer was full.
func (b *OutcomeBus) DroppedCount() int64 {
	return b.dropped.Load()
}

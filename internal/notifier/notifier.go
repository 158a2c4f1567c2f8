// Package notifier implements the node's block-change notifier: a
// single-producer, many-consumer broadcast of "a new block committed".
// Notifications carry no payload — subscribers query the store for
// specifics — and delivery is lossy: a slow subscriber sees at least one
// notification after the last commit it observed, but not necessarily
// every individual commit.
//
// Each subscriber gets a non-blocking-send-or-drop channel buffered to
// depth 1, so the signal is latest-value rather than a queue of events:
// multiple commits that land before a subscriber next receives collapse
// into a single pending notification.
package notifier

import "sync"

// Notifier broadcasts "new block" signals to subscribers.
type Notifier struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[*Subscription]struct{})}
}

// Subscription is a single consumer's view of the notifier. The zero
// value is not usable; obtain one via Notifier.Subscribe.
type Subscription struct {
	n  *Notifier
	ch chan struct{}
}

// Subscribe registers a new subscription. The caller MUST call Close when
// done (e.g. via defer) to stop holding a slot in the notifier's fan-out
// set.
func (n *Notifier) Subscribe() *Subscription {
	sub := &Subscription{n: n, ch: make(chan struct{}, 1)}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()
	return sub
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.n.mu.Lock()
	delete(s.n.subs, s)
	s.n.mu.Unlock()
}

// C returns the channel that receives a value each time a notification
// is delivered. Because the channel is buffered to depth 1 and sends are
// non-blocking, multiple commits that land before the subscriber next
// receives collapse into a single pending notification — the lossy,
// latest-value semantics this type provides.
func (s *Subscription) C() <-chan struct{} { return s.ch }

// Notify broadcasts "a block was committed" to every current subscriber.
// Called by the store's write path after a block-insertion transaction
// commits.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		select {
		case sub.ch <- struct{}{}:
		default:
			// Subscriber already has a pending notification; dropping
			// this one is harmless since the subscriber re-queries the
			// store for current state rather than trusting event
			// payloads.
		}
	}
}

// SubscriberCount reports the current number of live subscriptions, for
// telemetry.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

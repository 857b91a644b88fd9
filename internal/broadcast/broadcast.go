// Package broadcast delivers a run's live events to at most one subscriber.
//
// Events published while nobody is subscribed are dropped. A new
// subscription for a run replaces and closes the previous one. A subscriber
// that stops reading is closed once its buffer stays full for the slow
// timeout, so a stalled client never holds up the run.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

// DefaultBuffer is the per-subscription event buffer
const DefaultBuffer = 256

// DefaultSlowTimeout is how long Publish waits on a full buffer before it
// gives up on the subscriber
const DefaultSlowTimeout = 2 * time.Second

// Subscription receives the events of one run
type Subscription struct {
	runID  string
	events chan domain.Event
	done   chan struct{}
	once   sync.Once
	b      *Broadcaster
}

// RunID returns the run this subscription is attached to
func (s *Subscription) RunID() string {
	return s.runID
}

// Events returns the event channel. It is never closed; watch Done.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

// Done is closed when the subscription is closed or replaced
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. Closing twice is harmless and closing an
// already replaced subscription leaves its replacement attached.
func (s *Subscription) Close() {
	s.b.remove(s)
	s.close()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Next returns the next event. Events already buffered when the
// subscription is closed are still returned; after that ok is false.
func (s *Subscription) Next(ctx context.Context) (ev domain.Event, ok bool) {
	select {
	case ev = <-s.events:
		return ev, true
	default:
	}

	select {
	case ev = <-s.events:
		return ev, true
	case <-s.done:
		select {
		case ev = <-s.events:
			return ev, true
		default:
			return domain.Event{}, false
		}
	case <-ctx.Done():
		return domain.Event{}, false
	}
}

// Broadcaster maps run ids to their single subscriber
type Broadcaster struct {
	subs      map[string]*Subscription
	buffer    int
	slowAfter time.Duration
	evicted   atomic.Int64
	mu        sync.Mutex
}

// New creates a Broadcaster
func New() *Broadcaster {
	return &Broadcaster{
		subs:      make(map[string]*Subscription),
		buffer:    DefaultBuffer,
		slowAfter: DefaultSlowTimeout,
	}
}

// SetSlowTimeout changes how long a full subscriber may stall Publish.
// Call it before publishing.
func (b *Broadcaster) SetSlowTimeout(d time.Duration) {
	if d > 0 {
		b.slowAfter = d
	}
}

// Evicted returns how many subscribers were closed for not reading
func (b *Broadcaster) Evicted() int64 {
	return b.evicted.Load()
}

// Subscribe attaches a subscriber to runID, closing any previous one
func (b *Broadcaster) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		runID:  runID,
		events: make(chan domain.Event, b.buffer),
		done:   make(chan struct{}),
		b:      b,
	}

	b.mu.Lock()
	prev := b.subs[runID]
	b.subs[runID] = sub
	b.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	return sub
}

// Publish delivers ev to the subscriber of runID, if any. It returns false
// when the event was dropped. A full buffer makes the publisher wait up to
// the slow timeout; a subscriber still not reading by then is closed.
func (b *Broadcaster) Publish(runID string, ev domain.Event) bool {
	b.mu.Lock()
	sub := b.subs[runID]
	b.mu.Unlock()

	if sub == nil {
		return false
	}
	select {
	case <-sub.done:
		return false
	default:
	}
	select {
	case sub.events <- ev:
		return true
	default:
	}

	timer := time.NewTimer(b.slowAfter)
	defer timer.Stop()
	select {
	case sub.events <- ev:
		return true
	case <-sub.done:
		return false
	case <-timer.C:
		b.remove(sub)
		sub.close()
		b.evicted.Add(1)
		return false
	}
}

// PublishLines splits text into lines and publishes each as a log event
func (b *Broadcaster) PublishLines(runID, stream, text string) {
	for _, line := range SplitLines(text) {
		b.Publish(runID, domain.LogEvent(stream, line))
	}
}

// Unsubscribe removes and closes the subscriber of runID
func (b *Broadcaster) Unsubscribe(runID string) {
	b.mu.Lock()
	sub := b.subs[runID]
	delete(b.subs, runID)
	b.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Subscribed reports whether runID currently has a subscriber
func (b *Broadcaster) Subscribed(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[runID]
	return ok
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub.runID] == sub {
		delete(b.subs, sub.runID)
	}
}

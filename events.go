package togglekit

import (
	"context"
	"sync"
)

// EventKind discriminates the lifecycle and observability signals emitted on
// the client's event surface.
type EventKind string

const (
	// EventReady fires once, the first time a toggle snapshot becomes
	// available for querying, whether restored from backup or fetched.
	EventReady EventKind = "ready"
	// EventChanged fires on every poll that altered the toggle snapshot.
	EventChanged EventKind = "changed"
	// EventUnchanged fires when a conditional poll confirmed no change.
	EventUnchanged EventKind = "unchanged"
	// EventError reports failures that leave the client degraded but
	// operating on stale or fallback data.
	EventError EventKind = "error"
	// EventWarn reports expected, recoverable degradations.
	EventWarn EventKind = "warn"
	// EventSent fires after a successful metrics report.
	EventSent EventKind = "sent"
	// EventRegistered fires once after successful client registration.
	EventRegistered EventKind = "registered"
	// EventCount fires for every recorded evaluation outcome.
	EventCount EventKind = "count"
)

// Event is a single signal on the client's observable surface. Err is set
// for error kinds, ToggleName and Enabled for evaluation-related kinds.
type Event struct {
	Kind       EventKind
	Err        error
	Message    string
	ToggleName string
	Enabled    bool
}

// emitFunc is the seam through which sub-components publish onto the
// client's single event surface. Forwarding happens by injection, so every
// source emission surfaces exactly once.
type emitFunc func(Event)

const eventBufferSize = 64

type eventSubscriber struct {
	ch     chan Event
	closed bool
	mu     sync.RWMutex
}

func (s *eventSubscriber) send(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *eventSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// eventBus fans events out to subscribers without ever blocking the
// emitting component: a subscriber whose buffer is full misses the event.
// All methods are safe for concurrent use.
type eventBus struct {
	subscribers map[*eventSubscriber]struct{}
	closed      bool
	mu          sync.RWMutex
	done        chan struct{}
	cleanupWg   sync.WaitGroup
}

func newEventBus() *eventBus {
	return &eventBus{
		subscribers: make(map[*eventSubscriber]struct{}),
		done:        make(chan struct{}),
	}
}

// subscribe registers a new listener. The subscription is cleaned up when
// the provided context is cancelled; subscribing to a closed bus returns an
// already-closed channel.
func (b *eventBus) subscribe(ctx context.Context) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &eventSubscriber{ch: make(chan Event, eventBufferSize)}
	if b.closed {
		sub.close()
		return sub.ch
	}

	b.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(sub)
			case <-b.done:
				// Bus closed; the channel was already closed for us.
			}
		}()
	}

	return sub.ch
}

// publish delivers the event to all active subscribers, dropping it for any
// subscriber whose buffer is full rather than blocking the emitter.
func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subscribers {
		sub.send(ev)
	}
}

// close shuts the bus down and closes all subscriber channels. Safe to call
// multiple times.
func (b *eventBus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	for sub := range b.subscribers {
		sub.close()
	}
	clear(b.subscribers)
	b.mu.Unlock()

	b.cleanupWg.Wait()
}

func (b *eventBus) unsubscribe(sub *eventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		sub.close()
	}
}

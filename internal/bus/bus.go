package bus

import (
	"strings"
	"sync"
)

// Bus is the in-process publish/subscribe bus that decouples the gateway
// from the chat engine, the presence tracker, and the status machine.
// Subscribers filter by namespace prefix ("gateway.", "chat.", ...).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix
// of event.Kind. Never blocks: a subscriber whose buffer is full misses
// the event, so gateway pushes can't be stalled by a slow consumer.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber full, drop.
			}
		}
	}
}

// Subscribe returns a channel receiving events whose Kind starts with
// namespace (e.g. "gateway." for everything the realtime channel emits).
// bufSize controls the channel buffer; see Publish for overflow behavior.
// Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

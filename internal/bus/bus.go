package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
//
// Lossy subscribers never slow a publisher down: events are dropped when their
// buffer is full. Ordered subscribers receive every event in publish order; the
// publisher blocks until the event is buffered or the subscriber goes away.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	ordered   bool
	done      chan struct{}
	once      sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of evt.Kind.
// The subscriber set is captured first so a subscriber may publish while it
// handles an event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.ordered {
			select {
			case sub.ch <- evt:
			case <-sub.done:
			}
			continue
		}
		select {
		case sub.ch <- evt:
		case <-sub.done:
		default:
		}
	}
}

// Subscribe returns a lossy channel for events matching the namespace prefix,
// and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, false)
}

// SubscribeOrdered returns a channel that receives every matching event in
// publish order. Consumers must keep draining it or unsubscribe.
func (b *Bus) SubscribeOrdered(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, true)
}

func (b *Bus) subscribe(namespace string, bufSize int, ordered bool) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
		ordered:   ordered,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		sub.close()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

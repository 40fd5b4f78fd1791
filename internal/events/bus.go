package events

import "sync"

const defaultBuffer = 64

// Bus fans events out to subscribers over buffered channels. Publish never
// blocks the producer: when a subscriber's buffer is full, droppable events
// are discarded and non-droppable events evict the oldest buffered event
// until they fit.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber's view of the bus. Events arrives on C.
// Close is idempotent and tolerates already-removed subscriptions.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C returns the channel events are delivered on. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber with the default buffer size.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffered(defaultBuffer)
}

// SubscribeBuffered registers a new subscriber with an explicit buffer size.
func (b *Bus) SubscribeBuffered(size int) *Subscription {
	if size < 1 {
		size = 1
	}
	sub := &Subscription{bus: b, ch: make(chan Event, size)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every current subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		deliver(sub.ch, ev)
	}
}

// Close shuts the bus down and closes all subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detached := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		delete(b.subs, sub)
		detached = append(detached, sub)
	}
	b.mu.Unlock()

	for _, sub := range detached {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// deliver inserts ev without blocking. Sends and evictions race only with
// the subscriber's own receives, so the loop terminates.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		if droppable(ev) {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}

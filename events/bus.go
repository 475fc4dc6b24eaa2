package events

import (
	"sync"
	"sync/atomic"
)

// Gate is a nestable suppression switch. Suppress closes it until every
// returned release func has been called.
type Gate struct {
	closed atomic.Int32
}

// Suppress closes the gate. The release func is safe to call more than once;
// use it with defer so error paths reopen the gate too.
func (g *Gate) Suppress() (release func()) {
	g.closed.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { g.closed.Add(-1) })
	}
}

// Open reports whether nothing is currently suppressing.
func (g *Gate) Open() bool { return g.closed.Load() == 0 }

type subscriber struct {
	id int
	fn func(Event)
}

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	Gate

	mu   sync.Mutex
	next int
	subs []subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every event and returns a func that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// On subscribes fn to events of type T only.
func On[T Event](b *Bus, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		if v, ok := e.(T); ok {
			fn(v)
		}
	})
}

// Publish delivers e to every subscriber unless the bus is suppressed.
// Subscribers may publish from inside their handler.
func (b *Bus) Publish(e Event) {
	if !b.Open() {
		return
	}
	b.mu.Lock()
	subs := append([]subscriber(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(e)
	}
}

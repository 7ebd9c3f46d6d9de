// Package events fans domain events out to in-process subscribers.
package events

import "sync"

// Broker delivers each published value to every current subscriber.
// Subscribers run on the publisher's goroutine and must not block.
type Broker[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

// NewBroker creates an empty broker
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a function that unregisters it
func (b *Broker[T]) Subscribe(fn func(T)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every subscriber with v
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of subscribers
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Package feed is a minimal typed event source. Subscribers are invoked on the
// publishing goroutine in subscription order.
package feed

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Source is anything a consumer can attach a handler to.
type Source[T any] interface {
	Subscribe(handler func(T)) (unsubscribe func())
}

type Feed[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]func(T)
	nextID      atomic.Uint64
}

func New[T any]() *Feed[T] {
	return &Feed[T]{subscribers: make(map[uint64]func(T))}
}

func (f *Feed[T]) Subscribe(handler func(T)) func() {
	if handler == nil {
		return func() {}
	}
	id := f.nextID.Add(1)
	f.mu.Lock()
	f.subscribers[id] = handler
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers v to a snapshot of the current subscribers.
func (f *Feed[T]) Publish(v T) {
	f.mu.RLock()
	ids := make([]uint64, 0, len(f.subscribers))
	for id := range f.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, f.subscribers[id])
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
}

func (f *Feed[T]) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.subscribers {
		delete(f.subscribers, id)
	}
}

// Package events provides a typed, synchronous, in-memory event bus.
//
// Publish calls every handler in registration order on the publisher's
// goroutine and returns once all of them have. A slow handler therefore
// slows the publisher; that is the bus's only form of backpressure.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Handler receives every event published on a Bus.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id      int
	handler Handler
}

// Bus dispatches events to subscribed handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for every event. The returned func unsubscribes.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to the handlers subscribed when it was called and
// joins their errors. Handlers may subscribe or unsubscribe while running.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// On registers h for events of type E.
func On[E Event](b *Bus, h func(ctx context.Context, ev E) error) (unsubscribe func()) {
	return b.Subscribe(func(ctx context.Context, ev Event) error {
		typed, ok := ev.(E)
		if !ok {
			return nil
		}
		return h(ctx, typed)
	})
}

// Once registers h for the next event of type E only.
func Once[E Event](b *Bus, h func(ctx context.Context, ev E) error) (unsubscribe func()) {
	var fired atomic.Bool
	var unsub func()
	var ready sync.WaitGroup
	ready.Add(1)
	unsub = On(b, func(ctx context.Context, ev E) error {
		if !fired.CompareAndSwap(false, true) {
			return nil
		}
		ready.Wait()
		unsub()
		return h(ctx, ev)
	})
	ready.Done()
	return unsub
}

// Waiter resolves on the first event of type E that matches its predicate.
type Waiter[E Event] struct {
	ch    chan E
	unsub func()
}

// Expect starts listening for an event of type E matching pred. A nil pred
// matches anything. Events published before Expect returns are not seen.
func Expect[E Event](b *Bus, pred func(E) bool) *Waiter[E] {
	w := &Waiter[E]{ch: make(chan E, 1)}
	var fired atomic.Bool
	var ready sync.WaitGroup
	ready.Add(1)
	w.unsub = On(b, func(_ context.Context, ev E) error {
		if pred != nil && !pred(ev) {
			return nil
		}
		if !fired.CompareAndSwap(false, true) {
			return nil
		}
		w.ch <- ev
		ready.Wait()
		w.unsub()
		return nil
	})
	ready.Done()
	return w
}

// Wait blocks until the event arrives or ctx is done.
func (w *Waiter[E]) Wait(ctx context.Context) (E, error) {
	select {
	case ev := <-w.ch:
		return ev, nil
	case <-ctx.Done():
		w.unsub()
		var zero E
		return zero, ctx.Err()
	}
}

// Cancel stops listening.
func (w *Waiter[E]) Cancel() { w.unsub() }

// WaitFor blocks until an event of type E matching pred is published.
func WaitFor[E Event](ctx context.Context, b *Bus, pred func(E) bool) (E, error) {
	return Expect(b, pred).Wait(ctx)
}

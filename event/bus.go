package event

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Listener reacts to a published event. A returned error is reported back to
// the publisher but does not stop delivery to other listeners.
type Listener func(Event) error

type subscription struct {
	name     Name // empty for wildcard subscriptions
	listener Listener
}

// Bus is a synchronous publish/subscribe dispatcher. Listeners run in
// subscription order on the publishing goroutine, so emission order equals
// delivery order.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	now  func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers l for events named name.
func (b *Bus) Subscribe(name Name, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, listener: l})
}

// SubscribeAll registers l for every event.
func (b *Bus) SubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{listener: l})
}

// Reset drops every listener.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every matching listener. A zero Time is filled in
// before delivery. Listener errors, and recovered listener panics, are joined.
func (b *Bus) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if s.name != "" && s.name != ev.Name {
			continue
		}
		if err := deliver(s.listener, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("listener for %s panicked: %v", ev.Name, r)
		}
	}()
	return l(ev)
}

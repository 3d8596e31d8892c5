package signaling

import (
	"context"
	"sync"
)

// Transport delivers Signals between the two participants.
type Transport interface {
	Send(ctx context.Context, sig Signal) error
	Subscribe(fn func(Signal)) *Subscription
	Close() error
}

// Registry fans inbound signals out to subscribers in registration order.
// Transports call Dispatch from a single goroutine, so every subscriber sees
// signals in delivery order.
type Registry struct {
	mu   sync.RWMutex
	subs []*Subscription
}

// Subscription is a handler registration scoped to its owner's lifetime.
// Close deregisters it; no signal reaches fn after Close returns.
type Subscription struct {
	registry *Registry
	fn       func(Signal)
	mu       sync.Mutex
	closed   bool
}

// Subscribe registers fn and returns its subscription.
func (r *Registry) Subscribe(fn func(Signal)) *Subscription {
	sub := &Subscription{registry: r, fn: fn}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return sub
}

// Dispatch delivers sig to every live subscriber.
func (r *Registry) Dispatch(sig Signal) {
	r.mu.RLock()
	subs := make([]*Subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(sig)
	}
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

func (s *Subscription) deliver(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(sig)
}

// Close deregisters the subscription. It is safe to call more than once, but
// not from inside the subscription's own handler.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.registry.remove(s)
}

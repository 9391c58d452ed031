// Package events is the typed subscription registry behind every
// notification the game exposes to scripts.
package events

import (
	"sync"

	"github.com/luciancaetano/hillnet"
)

// Subscription deregisters exactly one handler.
type Subscription = hillnet.Subscription

// Emitter fans values of one event type out to its subscribers, in
// subscription order.
type Emitter[T any] struct {
	mu      sync.RWMutex
	next    uint64
	entries []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

type subscription[T any] struct {
	e    *Emitter[T]
	id   uint64
	once sync.Once
}

func (s *subscription[T]) Disconnect() bool {
	removed := false
	s.once.Do(func() {
		removed = s.e.remove(s.id)
	})
	return removed
}

// Subscribe registers fn and returns the token that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.entries = append(e.entries, entry[T]{id: e.next, fn: fn})
	return &subscription[T]{e: e, id: e.next}
}

// SubscribeChan delivers events on a buffered channel. Events are dropped
// when the buffer is full so a slow reader never stalls the emitter. The
// channel is not closed on Disconnect.
func (e *Emitter[T]) SubscribeChan(buffer int) (<-chan T, Subscription) {
	ch := make(chan T, buffer)
	sub := e.Subscribe(func(v T) {
		select {
		case ch <- v:
		default:
		}
	})
	return ch, sub
}

func (e *Emitter[T]) remove(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, en := range e.entries {
		if en.id == id {
			e.entries = append(e.entries[:i:i], e.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every handler with v. Handlers run on the caller's goroutine.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	fns := make([]func(T), len(e.entries))
	for i, en := range e.entries {
		fns[i] = en.fn
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of live subscriptions.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Clear drops every subscription.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.entries = nil
	e.mu.Unlock()
}

// Group collects subscriptions owned by one entity so they can be released
// together when it is destroyed.
type Group struct {
	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

// Add records sub and returns it. Once DisconnectAll has run, sub is
// disconnected immediately.
func (g *Group) Add(sub Subscription) Subscription {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		sub.Disconnect()
		return sub
	}
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
	return sub
}

// DisconnectAll releases every recorded subscription.
func (g *Group) DisconnectAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.closed = true
	g.mu.Unlock()

	for _, s := range subs {
		s.Disconnect()
	}
}

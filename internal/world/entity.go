// Package world is the shared, mutable registry of everything a client can
// see: players, bricks, teams, tools, sound emitters and the environment.
//
// Entities never hold references to sessions or connections. A local brick
// records only the net id of the player it belongs to; callers resolve that id
// through the session registry.
package world

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
)

var (
	ErrDestroyed = errors.New(hillnet.ErrEntityDestroyed)
	ErrNotFound  = errors.New(hillnet.ErrEntityNotFound)
	ErrDuplicate = errors.New(hillnet.ErrEntityDuplicate)
)

var lastID atomic.Uint32

// NextID hands out process-unique, increasing identifiers. Every entity and
// every player net id comes from here, so no two live things share an id.
func NextID() uint32 {
	return lastID.Add(1)
}

// lifecycle tracks whether an entity has been destroyed.
type lifecycle struct {
	destroyed atomic.Bool
}

func (l *lifecycle) Destroyed() bool {
	return l.destroyed.Load()
}

func (l *lifecycle) markDestroyed() error {
	if !l.destroyed.CompareAndSwap(false, true) {
		return ErrDestroyed
	}
	return nil
}

// Timers is the set of scheduled tasks an entity owns. Cancelling it stops
// every task and any task added afterwards.
type Timers struct {
	mu        sync.Mutex
	next      int
	timers    map[int]clock.Timer
	cancelled bool
}

// Track registers t so that CancelAll stops it. The returned function stops t
// and forgets it.
func (ts *Timers) Track(t clock.Timer) (stop func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.cancelled {
		t.Stop()
		return func() {}
	}
	if ts.timers == nil {
		ts.timers = make(map[int]clock.Timer)
	}
	ts.next++
	key := ts.next
	ts.timers[key] = t
	return func() {
		ts.mu.Lock()
		delete(ts.timers, key)
		ts.mu.Unlock()
		t.Stop()
	}
}

// Pending reports how many tracked timers are live.
func (ts *Timers) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}

// CancelAll stops every tracked timer.
func (ts *Timers) CancelAll() {
	ts.mu.Lock()
	timers := ts.timers
	ts.timers = nil
	ts.cancelled = true
	ts.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

package session

import (
	"sync"

	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Registry indexes joined sessions by net id. Broadcasts go to its Active
// members only.
type Registry struct {
	mu    sync.RWMutex
	order []*Session
	byNet map[uint32]*Session
}

func NewRegistry() *Registry {
	return &Registry{byNet: make(map[uint32]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
	r.byNet[s.NetID()] = s
}

func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byNet[s.NetID()]; !ok {
		return false
	}
	delete(r.byNet, s.NetID())
	for i, it := range r.order {
		if it == s {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the session with the given net id.
func (r *Registry) Get(netID uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byNet[netID]
	return s, ok
}

// ByUserID returns the joined session of a user, if any.
func (r *Registry) ByUserID(userID uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.order {
		if s.player.Identity().UserID == userID {
			return s, true
		}
	}
	return nil, false
}

// Sessions returns every joined session in join order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// Active returns the sessions in the Active state, in join order.
func (r *Registry) Active() []*Session {
	var out []*Session
	for _, s := range r.Sessions() {
		if s.State() == Active {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Recipients implements protocol.Audience over the Active sessions. It is
// evaluated when a broadcast runs.
func (r *Registry) Recipients() []protocol.Recipient {
	active := r.Active()
	out := make([]protocol.Recipient, len(active))
	for i, s := range active {
		out[i] = s
	}
	return out
}

// Recipient resolves any joined session, Active or not.
func (r *Registry) Recipient(netID uint32) (protocol.Recipient, bool) {
	s, ok := r.Get(netID)
	if !ok {
		return nil, false
	}
	return s, true
}

// ActivePlayers returns the players of the Active sessions.
func (r *Registry) ActivePlayers() []*world.Player {
	active := r.Active()
	out := make([]*world.Player, len(active))
	for i, s := range active {
		out[i] = s.player
	}
	return out
}

// ActivePlayer returns the player of an Active session.
func (r *Registry) ActivePlayer(netID uint32) (*world.Player, bool) {
	s, ok := r.Get(netID)
	if !ok || s.State() != Active {
		return nil, false
	}
	return s.player, true
}

// Rostered is the audience of sessions that have swapped rosters, whether
// Active or still joining. Arrivals and departures go to it so that a player
// part way through its join does not miss either.
func (r *Registry) Rostered() protocol.Audience {
	return audienceFunc(func() []protocol.Recipient {
		var out []protocol.Recipient
		for _, s := range r.Sessions() {
			if s.rostered.Load() && s.State() < Disconnecting {
				out = append(out, s)
			}
		}
		return out
	})
}

type audienceFunc func() []protocol.Recipient

func (f audienceFunc) Recipients() []protocol.Recipient { return f() }

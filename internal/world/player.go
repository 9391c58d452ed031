package world

import (
	"slices"
	"sync"

	"github.com/luciancaetano/hillnet/internal/geom"
)

// Identity is who a player authenticated as.
type Identity struct {
	UserID     uint32
	Username   string
	Membership uint8
	Admin      bool
	Token      string
}

// Camera is the client camera a script can drive.
type Camera struct {
	Mode     string
	FOV      float64
	Distance float64
	Pitch    float64
}

// PlayerState is the mutable gameplay state of a player.
type PlayerState struct {
	Position geom.Vector3
	Rotation geom.Vector3
	Scale    geom.Vector3
	Camera   Camera

	Health    float64
	MaxHealth float64
	Speed     float64
	JumpPower float64
	Score     int32

	TeamID uint32
	Speech string
	Muted  bool
	Alive  bool

	Inventory []uint32
	Equipped  uint32
}

func defaultPlayerState() PlayerState {
	return PlayerState{
		Scale:     geom.V(1, 1, 1),
		Camera:    Camera{Mode: "orbit", FOV: 60, Distance: 5},
		Health:    100,
		MaxHealth: 100,
		Speed:     4,
		JumpPower: 5,
	}
}

// Player is the world-side half of a session: everything other players can
// observe about it.
type Player struct {
	netID    uint32
	identity Identity

	mu      sync.RWMutex
	state   PlayerState
	blocked map[uint32]struct{}

	lifecycle
}

// NewPlayer creates a player that is not yet alive; it becomes alive when it
// spawns.
func NewPlayer(netID uint32, id Identity) *Player {
	return &Player{
		netID:    netID,
		identity: id,
		state:    defaultPlayerState(),
		blocked:  make(map[uint32]struct{}),
	}
}

func (p *Player) NetID() uint32 { return p.netID }

// ID is the net id; players are keyed by it in the store.
func (p *Player) ID() uint32 { return p.netID }

func (p *Player) Identity() Identity { return p.identity }

func (p *Player) Username() string { return p.identity.Username }

// State returns a copy of the player's state.
func (p *Player) State() PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	s.Inventory = slices.Clone(p.state.Inventory)
	return s
}

// Update applies fn to the player's state under its lock.
func (p *Player) Update(fn func(*PlayerState)) error {
	if p.Destroyed() {
		return ErrDestroyed
	}
	p.mu.Lock()
	fn(&p.state)
	p.mu.Unlock()
	return nil
}

// Bounds returns what the proximity scan needs in one lock.
func (p *Player) Bounds() (pos, scale geom.Vector3, alive bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Position, p.state.Scale, p.state.Alive && !p.Destroyed()
}

func (p *Player) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Alive
}

// Block hides the chat and speech of the user from this player.
func (p *Player) Block(userID uint32) {
	p.mu.Lock()
	p.blocked[userID] = struct{}{}
	p.mu.Unlock()
}

func (p *Player) Unblock(userID uint32) {
	p.mu.Lock()
	delete(p.blocked, userID)
	p.mu.Unlock()
}

// HasBlocked reports whether this player blocked the user.
func (p *Player) HasBlocked(userID uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.blocked[userID]
	return ok
}

// HasTool reports whether the tool is in the player's inventory.
func (p *Player) HasTool(toolID uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.state.Inventory, toolID)
}

// Destroy marks the player gone. A second call fails.
func (p *Player) Destroy() error {
	if err := p.markDestroyed(); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.Alive = false
	p.mu.Unlock()
	return nil
}

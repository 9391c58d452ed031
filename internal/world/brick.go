package world

import (
	"sync"

	"github.com/luciancaetano/hillnet/internal/events"
	"github.com/luciancaetano/hillnet/internal/geom"
)

// ShapeSpawnpoint marks a brick as a spawn candidate.
const ShapeSpawnpoint = "spawnpoint"

// BrickState is the plain data of a brick.
type BrickState struct {
	Name     string
	Position geom.Vector3
	Scale    geom.Vector3
	Rotation geom.Vector3

	Color      geom.Color
	Visibility float64

	LightEnabled bool
	LightColor   geom.Color
	LightRange   float64

	Collision     bool
	Clickable     bool
	ClickDistance float64

	Shape string
	Model uint32
}

// DefaultBrickState is a 1x1x1 opaque grey brick with collision.
func DefaultBrickState() BrickState {
	return BrickState{
		Scale:         geom.V(1, 1, 1),
		Color:         geom.RGB(0xC0, 0xC0, 0xC0),
		Visibility:    1,
		LightColor:    geom.Black,
		LightRange:    5,
		Collision:     true,
		ClickDistance: 50,
	}
}

// TouchEvent is emitted on a brick when a player starts or stops touching it.
type TouchEvent struct {
	Brick  *Brick
	Player *Player
}

// Brick is a world block. Its state is guarded by its own lock so the
// proximity scan can read positions while scripts mutate other bricks.
type Brick struct {
	id    uint32
	owner uint32

	mu    sync.RWMutex
	state BrickState

	lifecycle
	Timers

	Touching      events.Emitter[TouchEvent]
	TouchingEnded events.Emitter[TouchEvent]
	Clicked       events.Emitter[TouchEvent]
}

// NewBrick creates a global brick visible to every player.
func NewBrick(s BrickState) *Brick {
	return &Brick{id: NextID(), state: s}
}

// NewLocalBrick creates a brick only the player with net id owner can see.
func NewLocalBrick(owner uint32, s BrickState) *Brick {
	return &Brick{id: NextID(), owner: owner, state: s}
}

func (b *Brick) ID() uint32 { return b.id }

// Owner returns the net id of the player this brick is local to, or 0 for a
// global brick.
func (b *Brick) Owner() uint32 { return b.owner }

func (b *Brick) Local() bool { return b.owner != 0 }

// State returns a copy of the brick's data.
func (b *Brick) State() BrickState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Update applies fn to the brick's data under its lock.
func (b *Brick) Update(fn func(*BrickState)) error {
	if b.Destroyed() {
		return ErrDestroyed
	}
	b.mu.Lock()
	fn(&b.state)
	b.mu.Unlock()
	return nil
}

// CloneFor copies the brick's data into a new brick. A zero owner yields a
// global copy.
func (b *Brick) CloneFor(owner uint32) *Brick {
	return &Brick{id: NextID(), owner: owner, state: b.State()}
}

// TouchSensitive reports whether anything listens for touches on this brick.
func (b *Brick) TouchSensitive() bool {
	return b.Touching.Len() > 0 || b.TouchingEnded.Len() > 0
}

func (b *Brick) destroy() error {
	if err := b.markDestroyed(); err != nil {
		return err
	}
	b.CancelAll()
	b.Touching.Clear()
	b.TouchingEnded.Clear()
	b.Clicked.Clear()
	return nil
}

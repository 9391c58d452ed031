package world

import (
	"fmt"
	"sync"
)

type identified interface {
	comparable
	ID() uint32
}

// collection keeps insertion order for deterministic initial sync and an
// index for lookups. It is not safe for concurrent use; Store locks around it.
type collection[T identified] struct {
	items []T
	index map[uint32]T
}

func newCollection[T identified]() collection[T] {
	return collection[T]{index: make(map[uint32]T)}
}

func (c *collection[T]) add(v T) error {
	if _, ok := c.index[v.ID()]; ok {
		return fmt.Errorf("id %d: %w", v.ID(), ErrDuplicate)
	}
	c.items = append(c.items, v)
	c.index[v.ID()] = v
	return nil
}

func (c *collection[T]) remove(id uint32) (T, bool) {
	v, ok := c.index[id]
	if !ok {
		return v, false
	}
	delete(c.index, id)
	for i, it := range c.items {
		if it == v {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			break
		}
	}
	return v, true
}

func (c *collection[T]) get(id uint32) (T, bool) {
	v, ok := c.index[id]
	return v, ok
}

func (c *collection[T]) list() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *collection[T]) clear() []T {
	out := c.items
	c.items = nil
	c.index = make(map[uint32]T)
	return out
}

// Store is the world registry. Every collection is guarded by one lock; list
// methods return snapshots so broadcasts never observe a half-mutated slice.
type Store struct {
	mu sync.RWMutex

	env     Environment
	bricks  collection[*Brick]
	spawns  []uint32
	teams   collection[*Team]
	tools   collection[*Tool]
	sounds  collection[*SoundEmitter]
	players collection[*Player]
}

func NewStore() *Store {
	return &Store{
		env:     DefaultEnvironment(),
		bricks:  newCollection[*Brick](),
		teams:   newCollection[*Team](),
		tools:   newCollection[*Tool](),
		sounds:  newCollection[*SoundEmitter](),
		players: newCollection[*Player](),
	}
}

// Environment

func (s *Store) Environment() Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

func (s *Store) SetEnvironment(env Environment) {
	s.mu.Lock()
	s.env = env
	s.mu.Unlock()
}

// UpdateEnvironment applies fn to the environment and returns the result.
func (s *Store) UpdateEnvironment(fn func(*Environment)) Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.env)
	return s.env
}

// Bricks

// AddBrick registers a brick. Spawnpoint-shaped bricks become spawn candidates.
func (s *Store) AddBrick(b *Brick) error {
	if b.Destroyed() {
		return ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bricks.add(b); err != nil {
		return err
	}
	if b.State().Shape == ShapeSpawnpoint {
		s.spawns = append(s.spawns, b.ID())
	}
	return nil
}

// DestroyBrick destroys the brick and removes it from the store. Destroying a
// brick twice fails with ErrDestroyed.
func (s *Store) DestroyBrick(b *Brick) error {
	if err := b.destroy(); err != nil {
		return fmt.Errorf("brick %d: %w", b.ID(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bricks.remove(b.ID())
	s.removeSpawnLocked(b.ID())
	return nil
}

func (s *Store) removeSpawnLocked(id uint32) {
	for i, sp := range s.spawns {
		if sp == id {
			s.spawns = append(s.spawns[:i:i], s.spawns[i+1:]...)
			return
		}
	}
}

func (s *Store) Brick(id uint32) (*Brick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bricks.get(id)
}

// Bricks returns every brick, global and local, in insertion order.
func (s *Store) Bricks() []*Brick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bricks.list()
}

// GlobalBricks returns the bricks every player sees.
func (s *Store) GlobalBricks() []*Brick {
	return s.filterBricks(func(b *Brick) bool { return !b.Local() })
}

// LocalBricks returns the bricks local to one player.
func (s *Store) LocalBricks(owner uint32) []*Brick {
	return s.filterBricks(func(b *Brick) bool { return b.Owner() == owner })
}

// TouchSensitiveBricks returns the bricks with touch listeners.
func (s *Store) TouchSensitiveBricks() []*Brick {
	return s.filterBricks((*Brick).TouchSensitive)
}

func (s *Store) filterBricks(keep func(*Brick) bool) []*Brick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Brick
	for _, b := range s.bricks.items {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// Spawns returns the spawnpoint bricks still in the world.
func (s *Store) Spawns() []*Brick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Brick, 0, len(s.spawns))
	for _, id := range s.spawns {
		if b, ok := s.bricks.get(id); ok {
			out = append(out, b)
		}
	}
	return out
}

// ClearBricks destroys every global brick and returns them. Local bricks stay
// with their owners.
func (s *Store) ClearBricks() []*Brick {
	s.mu.Lock()
	all := s.bricks.clear()
	s.spawns = nil
	var cleared []*Brick
	for _, b := range all {
		if b.Local() {
			_ = s.bricks.add(b)
			continue
		}
		cleared = append(cleared, b)
	}
	s.mu.Unlock()

	for _, b := range cleared {
		_ = b.destroy()
	}
	return cleared
}

// Teams

func (s *Store) AddTeam(t *Team) error {
	if t.Destroyed() {
		return ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teams.add(t)
}

func (s *Store) DestroyTeam(t *Team) error {
	if err := t.destroy(); err != nil {
		return fmt.Errorf("team %d: %w", t.ID(), err)
	}
	s.mu.Lock()
	s.teams.remove(t.ID())
	s.mu.Unlock()
	return nil
}

func (s *Store) Team(id uint32) (*Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teams.get(id)
}

func (s *Store) Teams() []*Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teams.list()
}

// Tools

func (s *Store) AddTool(t *Tool) error {
	if t.Destroyed() {
		return ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools.add(t)
}

func (s *Store) DestroyTool(t *Tool) error {
	if err := t.destroy(); err != nil {
		return fmt.Errorf("tool %d: %w", t.ID(), err)
	}
	s.mu.Lock()
	s.tools.remove(t.ID())
	s.mu.Unlock()
	return nil
}

func (s *Store) Tool(id uint32) (*Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools.get(id)
}

func (s *Store) Tools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools.list()
}

// Sounds

func (s *Store) AddSound(e *SoundEmitter) error {
	if e.Destroyed() {
		return ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sounds.add(e)
}

func (s *Store) DestroySound(e *SoundEmitter) error {
	if err := e.destroy(); err != nil {
		return fmt.Errorf("sound %d: %w", e.ID(), err)
	}
	s.mu.Lock()
	s.sounds.remove(e.ID())
	s.mu.Unlock()
	return nil
}

func (s *Store) Sound(id uint32) (*SoundEmitter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sounds.get(id)
}

func (s *Store) Sounds() []*SoundEmitter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sounds.list()
}

// Players

func (s *Store) AddPlayer(p *Player) error {
	if p.Destroyed() {
		return ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players.add(p)
}

// RemovePlayer drops the player from the store. It fails with ErrNotFound if
// the player was never added or is already gone.
func (s *Store) RemovePlayer(netID uint32) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players.remove(netID)
	if !ok {
		return nil, fmt.Errorf("player %d: %w", netID, ErrNotFound)
	}
	return p, nil
}

func (s *Store) Player(netID uint32) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.get(netID)
}

func (s *Store) Players() []*Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.list()
}

func (s *Store) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players.items)
}

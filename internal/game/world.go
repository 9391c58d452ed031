package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/maploader"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/session"
	"github.com/luciancaetano/hillnet/internal/world"
)

// AddBrick creates a global brick and shows it to every player.
func (g *Game) AddBrick(ctx context.Context, s world.BrickState) (*world.Brick, error) {
	b := world.NewBrick(s)
	if err := g.store.AddBrick(b); err != nil {
		return nil, err
	}
	return b, g.sync.BrickAdded(ctx, b)
}

// NewBrickFor creates a brick only the owning player sees. It is destroyed
// when that player leaves.
func (g *Game) NewBrickFor(ctx context.Context, owner *session.Session, s world.BrickState) (*world.Brick, error) {
	if owner.Player() == nil {
		return nil, session.ErrNotJoined
	}
	b := world.NewLocalBrick(owner.NetID(), s)
	if err := g.store.AddBrick(b); err != nil {
		return nil, err
	}
	return b, g.sync.BrickAdded(ctx, b)
}

// DestroyBrick removes b from the world. Destroying it twice fails.
func (g *Game) DestroyBrick(ctx context.Context, b *world.Brick) error {
	if err := g.store.DestroyBrick(b); err != nil {
		return err
	}
	return g.sync.BrickRemoved(ctx, b)
}

// SetBrick applies fn to b and sends the attribute it changed.
func (g *Game) SetBrick(ctx context.Context, b *world.Brick, attr replicate.BrickAttr, fn func(*world.BrickState)) error {
	if err := b.Update(fn); err != nil {
		return fmt.Errorf("brick %d: %w", b.ID(), err)
	}
	return g.sync.BrickChanged(ctx, b, attr)
}

func (g *Game) SetBrickPosition(ctx context.Context, b *world.Brick, pos geom.Vector3) error {
	return g.SetBrick(ctx, b, replicate.BrickPosition, func(s *world.BrickState) { s.Position = pos })
}

func (g *Game) SetBrickScale(ctx context.Context, b *world.Brick, scale geom.Vector3) error {
	return g.SetBrick(ctx, b, replicate.BrickScale, func(s *world.BrickState) { s.Scale = scale })
}

func (g *Game) SetBrickRotation(ctx context.Context, b *world.Brick, rot geom.Vector3) error {
	return g.SetBrick(ctx, b, replicate.BrickRotation, func(s *world.BrickState) { s.Rotation = rot })
}

func (g *Game) SetBrickColor(ctx context.Context, b *world.Brick, c geom.Color) error {
	return g.SetBrick(ctx, b, replicate.BrickColor, func(s *world.BrickState) { s.Color = c })
}

// SetBrickVisibility sets the opacity, clamped to 0..1.
func (g *Game) SetBrickVisibility(ctx context.Context, b *world.Brick, v float64) error {
	v = min(max(v, 0), 1)
	return g.SetBrick(ctx, b, replicate.BrickVisibility, func(s *world.BrickState) { s.Visibility = v })
}

func (g *Game) SetBrickCollision(ctx context.Context, b *world.Brick, on bool) error {
	return g.SetBrick(ctx, b, replicate.BrickCollision, func(s *world.BrickState) { s.Collision = on })
}

func (g *Game) SetBrickLight(ctx context.Context, b *world.Brick, on bool, c geom.Color, lightRange float64) error {
	return g.SetBrick(ctx, b, replicate.BrickLight, func(s *world.BrickState) {
		s.LightEnabled = on
		s.LightColor = c
		s.LightRange = lightRange
	})
}

func (g *Game) SetBrickClickable(ctx context.Context, b *world.Brick, on bool, distance float64) error {
	return g.SetBrick(ctx, b, replicate.BrickClickable, func(s *world.BrickState) {
		s.Clickable = on
		s.ClickDistance = distance
	})
}

// AddTeam registers a team and announces it.
func (g *Game) AddTeam(ctx context.Context, name string, color geom.Color) (*world.Team, error) {
	t := world.NewTeam(name, color)
	if err := g.store.AddTeam(t); err != nil {
		return nil, err
	}
	return t, g.sync.TeamAdded(ctx, t)
}

// DestroyTeam moves its members to no team, removes it and tells every
// player. Destroying it twice fails.
func (g *Game) DestroyTeam(ctx context.Context, t *world.Team) error {
	if err := g.store.DestroyTeam(t); err != nil {
		return err
	}
	var errs []error
	for _, s := range g.registry.Sessions() {
		if s.Player().State().TeamID != t.ID() {
			continue
		}
		if err := s.SetTeam(ctx, nil); err != nil && !errors.Is(err, session.ErrTerminated) {
			errs = append(errs, err)
		}
	}
	if err := g.sync.TeamRemoved(ctx, t); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewTool registers a tool. Every player, present and future, receives it.
func (g *Game) NewTool(ctx context.Context, name string, model uint32) (*world.Tool, error) {
	return g.addTool(ctx, world.NewTool(name, model))
}

// DestroyTool takes t out of every inventory, unequipping it from its holder,
// then removes it from the world. Destroying it twice fails.
func (g *Game) DestroyTool(ctx context.Context, t *world.Tool) error {
	if t.Destroyed() {
		return fmt.Errorf("tool %d: %w", t.ID(), world.ErrDestroyed)
	}
	var errs []error
	for _, s := range g.registry.Sessions() {
		if !s.Player().HasTool(t.ID()) {
			continue
		}
		if err := s.RemoveTool(ctx, t); err != nil && !errors.Is(err, session.ErrTerminated) {
			errs = append(errs, err)
		}
	}
	if err := g.store.DestroyTool(t); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// PlaySound starts an emitter. If the audio asset cannot be resolved the
// emitter is removed again and the error returned.
func (g *Game) PlaySound(ctx context.Context, s world.SoundState) (*world.SoundEmitter, error) {
	s.Playing = true
	e := world.NewSoundEmitter(s)
	if err := g.store.AddSound(e); err != nil {
		return nil, err
	}
	if err := g.sync.SoundChanged(ctx, e); err != nil {
		_ = g.store.DestroySound(e)
		return nil, err
	}
	return e, nil
}

// StopSound removes the emitter from every client.
func (g *Game) StopSound(ctx context.Context, e *world.SoundEmitter) error {
	if err := g.store.DestroySound(e); err != nil {
		return err
	}
	return g.sync.SoundRemoved(ctx, e)
}

// SetEnvironment applies fn to the environment and sends the result.
func (g *Game) SetEnvironment(ctx context.Context, fn func(*world.Environment)) error {
	env := g.store.UpdateEnvironment(fn)
	return g.sync.EnvironmentChanged(ctx, env)
}

// ClearMap destroys every global brick.
func (g *Game) ClearMap(ctx context.Context) error {
	cleared := g.store.ClearBricks()
	g.logger.Debug("map cleared", zap.Int("bricks", len(cleared)))
	return g.sync.ClearMap(ctx)
}

// LoadMap replaces the world with the map at path. A *maploader.MalformedError
// is returned alongside a map that was still applied; any other error leaves
// the world untouched.
func (g *Game) LoadMap(ctx context.Context, path string) (*maploader.Map, error) {
	m, err := maploader.LoadFile(path, g.logger)
	var malformed *maploader.MalformedError
	if err != nil && !errors.As(err, &malformed) {
		return nil, err
	}
	if aerr := g.ApplyMap(ctx, m); aerr != nil {
		return m, errors.Join(err, aerr)
	}
	g.logger.Info("map loaded",
		zap.String("path", path),
		zap.Int("bricks", len(m.Bricks)),
		zap.Int("teams", len(m.Teams)),
		zap.Int("tools", len(m.Tools)),
	)
	return m, err
}

// ApplyMap clears the global bricks and the teams and tools of the previous
// map, then installs m. Teams and tools added by scripts stay. Players already
// in the game receive the new environment, bricks, teams and tools.
func (g *Game) ApplyMap(ctx context.Context, m *maploader.Map) error {
	g.mapMu.Lock()
	defer g.mapMu.Unlock()

	var errs []error
	if err := g.ClearMap(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, t := range g.mapTeams {
		if err := g.DestroyTeam(ctx, t); err != nil && !errors.Is(err, world.ErrDestroyed) {
			errs = append(errs, err)
		}
	}
	for _, t := range g.mapTools {
		if err := g.DestroyTool(ctx, t); err != nil && !errors.Is(err, world.ErrDestroyed) {
			errs = append(errs, err)
		}
	}
	g.mapTeams, g.mapTools = nil, nil
	g.store.SetEnvironment(m.Environment)
	if err := g.sync.EnvironmentChanged(ctx, m.Environment); err != nil {
		errs = append(errs, err)
	}

	for _, b := range m.Bricks {
		if err := g.store.AddBrick(b); err != nil {
			errs = append(errs, err)
		}
	}
	if !g.cfg.DisableBricks && len(m.Bricks) > 0 {
		pkt, err := replicate.Bricks(m.Bricks)
		if err == nil {
			err = pkt.Broadcast(ctx, g.registry)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, t := range m.Teams {
		if err := g.store.AddTeam(t); err != nil {
			errs = append(errs, err)
			continue
		}
		g.mapTeams = append(g.mapTeams, t)
		if err := g.sync.TeamAdded(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range m.Tools {
		added, err := g.addTool(ctx, t)
		if added != nil {
			g.mapTools = append(g.mapTools, added)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Game) addTool(ctx context.Context, t *world.Tool) (*world.Tool, error) {
	if err := g.store.AddTool(t); err != nil {
		return nil, err
	}
	var errs []error
	for _, s := range g.registry.Active() {
		if err := s.AddTool(ctx, t); err != nil && !errors.Is(err, session.ErrTerminated) {
			errs = append(errs, err)
		}
	}
	return t, errors.Join(errs...)
}

package session

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/world"
)

// join runs the ordered join sequence. Any failed send means the connection
// is gone; teardown follows from the transport, so join just stops.
func (s *Session) join(ctx context.Context) {
	if err := s.joinSteps(ctx); err != nil {
		s.log.Info("join aborted", zap.Error(err))
		return
	}

	if s.m.avatars != nil {
		go s.loadAvatar()
	}
	s.conn.SetIdleTimeout(s.m.opts.IdleTimeout)

	if err := s.transition(Active); err != nil {
		s.log.Info("join aborted", zap.Error(err))
		return
	}
	s.log.Info("joined")
	s.m.Events.InitialSpawn.Emit(s)
}

func (s *Session) joinSteps(ctx context.Context) error {
	m, p := s.m, s.player
	opts := m.opts

	global := m.store.GlobalBricks()
	brickCount := len(global)
	if opts.DisableBricks {
		brickCount = 0
	}
	pkt, err := replicate.Authentication(p, brickCount)
	if err := s.send(ctx, pkt, err); err != nil {
		return fmt.Errorf("authentication: %w", err)
	}

	if err := s.exchangeRoster(ctx); err != nil {
		return err
	}

	if opts.MOTD != "" {
		if err := s.Message(ctx, opts.MOTD); err != nil {
			return fmt.Errorf("motd: %w", err)
		}
	}
	if err := m.sync.Announce(ctx, fmt.Sprintf("%s has joined the server!", p.Username())); err != nil {
		s.log.Warn("join announcement", zap.Error(err))
	}
	m.Events.Joined.Emit(s)

	pkt, err = replicate.Environment(m.store.Environment())
	if err := s.send(ctx, pkt, err); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if !opts.DisableBricks {
		bricks := append(global, m.store.LocalBricks(p.NetID())...)
		if len(bricks) > 0 {
			pkt, err := replicate.Bricks(bricks)
			if err := s.send(ctx, pkt, err); err != nil {
				return fmt.Errorf("bricks: %w", err)
			}
		}
	}
	for _, e := range m.store.Sounds() {
		pkt, err := replicate.Sound(ctx, m.sync.Assets(), e)
		if err := s.send(ctx, pkt, err); err != nil {
			// An unresolvable sound asset only costs the newcomer that sound.
			s.log.Warn("initial sound", zap.Uint32("sound_id", e.ID()), zap.Error(err))
		}
	}

	teams := m.store.Teams()
	for _, t := range teams {
		pkt, err := replicate.Team(t)
		if err := s.send(ctx, pkt, err); err != nil {
			return fmt.Errorf("team: %w", err)
		}
	}
	for _, t := range m.store.Tools() {
		if err := s.AddTool(ctx, t); err != nil {
			return fmt.Errorf("tool: %w", err)
		}
	}

	if opts.AssignRandomTeam && len(teams) > 0 {
		if err := s.SetTeam(ctx, teams[rand.Intn(len(teams))]); err != nil {
			return fmt.Errorf("team assignment: %w", err)
		}
	}

	if opts.PlayerSpawning {
		s.spawn()
		pkt, err := replicate.Modification(p, replicate.PlayerPosition)
		if err := s.send(ctx, pkt, err); err != nil {
			return fmt.Errorf("spawn: %w", err)
		}
	}

	for _, other := range m.store.Players() {
		if other.NetID() == p.NetID() {
			continue
		}
		pkt, err := replicate.Figure(other, replicate.FullFigure)
		if err := s.send(ctx, pkt, err); err != nil {
			return fmt.Errorf("figure: %w", err)
		}
	}
	if err := m.sync.PlayerFigure(ctx, p, replicate.FullFigure); err != nil {
		s.log.Warn("figure broadcast", zap.Error(err))
	}
	return nil
}

// exchangeRoster adds the player to the world and swaps rosters with everyone
// already there. It holds the roster lock throughout, so two players joining
// at once always learn about each other: whoever goes second finds the first
// in the store, and the first is in the second one's audience.
func (s *Session) exchangeRoster(ctx context.Context) error {
	m, p := s.m, s.player
	m.rosterMu.Lock()
	defer m.rosterMu.Unlock()

	others := m.store.Players()
	if err := m.store.AddPlayer(p); err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	s.rostered.Store(true)

	pkt, err := replicate.Roster([]*world.Player{p})
	if err != nil {
		return err
	}
	if err := pkt.BroadcastExcept(ctx, m.registry.Rostered(), p.NetID()); err != nil {
		return fmt.Errorf("roster broadcast: %w", err)
	}
	if len(others) > 0 {
		pkt, err := replicate.Roster(others)
		if err := s.send(ctx, pkt, err); err != nil {
			return fmt.Errorf("roster: %w", err)
		}
	}
	return nil
}

// spawn revives the player at a random spawnpoint, or above a random point of
// the baseplate when the map has none.
func (s *Session) spawn() {
	pos := s.spawnPoint()
	s.player.Update(func(ps *world.PlayerState) {
		ps.Position = pos
		ps.Health = ps.MaxHealth
		ps.Alive = true
	})
	s.throttle.reset(replicate.PoseOf(s.player.State()))
}

func (s *Session) spawnPoint() geom.Vector3 {
	if spawns := s.m.store.Spawns(); len(spawns) > 0 {
		b := spawns[rand.Intn(len(spawns))].State()
		return geom.V(
			b.Position.X+b.Scale.X/2,
			b.Position.Y+b.Scale.Y/2,
			b.Position.Z+b.Scale.Z,
		)
	}
	half := s.m.store.Environment().BaseSize / 2
	return geom.V(
		(rand.Float64()*2-1)*half,
		(rand.Float64()*2-1)*half,
		30,
	)
}

func (s *Session) loadAvatar() {
	err := s.m.avatars.LoadAvatar(s.ctx, s.player.Identity().UserID)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn("avatar load failed", zap.Error(err))
		pkt, perr := replicate.AvatarFailed(err.Error())
		if sendErr := s.send(s.ctx, pkt, perr); sendErr != nil {
			s.log.Debug("avatar error notice", zap.Error(sendErr))
		}
	}
	s.m.Events.AvatarLoaded.Emit(AvatarEvent{Session: s, Err: err})
}

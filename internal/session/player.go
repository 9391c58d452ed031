package session

import (
	"context"
	"slices"

	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/world"
)

// update applies fn to the player once the session is known to be live.
func (s *Session) update(fn func(*world.PlayerState)) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNotJoined
	}
	if err := s.player.Update(fn); err != nil {
		return ErrTerminated
	}
	return nil
}

// SetPosition teleports the player.
func (s *Session) SetPosition(ctx context.Context, pos geom.Vector3) error {
	if err := s.update(func(ps *world.PlayerState) { ps.Position = pos }); err != nil {
		return err
	}
	s.throttle.reset(replicate.PoseOf(s.player.State()))
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerPosition); err != nil {
		return err
	}
	return s.m.sync.PlayerFigure(ctx, s.player, string([]rune{replicate.TagX, replicate.TagY, replicate.TagZ}))
}

// SetSpeech shows a speech bubble over the player to everyone who has not
// blocked it.
func (s *Session) SetSpeech(ctx context.Context, text string) error {
	if err := s.update(func(ps *world.PlayerState) { ps.Speech = text }); err != nil {
		return err
	}
	return s.m.sync.Speech(ctx, s.player)
}

// SetHealth sets health within [0, max]. Reaching zero kills the player.
func (s *Session) SetHealth(ctx context.Context, health float64) error {
	var dead bool
	err := s.update(func(ps *world.PlayerState) {
		ps.Health = min(max(health, 0), ps.MaxHealth)
		dead = ps.Health == 0 && ps.Alive
	})
	if err != nil {
		return err
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerHealth); err != nil {
		return err
	}
	if dead {
		return s.Kill(ctx)
	}
	return nil
}

// Kill kills a living player. Killing a dead player does nothing.
func (s *Session) Kill(ctx context.Context) error {
	var wasAlive bool
	err := s.update(func(ps *world.PlayerState) {
		wasAlive = ps.Alive
		ps.Alive = false
		ps.Health = 0
	})
	if err != nil || !wasAlive {
		return err
	}
	if err := s.m.sync.Kill(ctx, s.player, true); err != nil {
		return err
	}
	s.m.Events.Died.Emit(s)
	return nil
}

// Respawn revives the player at a spawn point.
func (s *Session) Respawn(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNotJoined
	}
	s.spawn()
	if err := s.m.sync.Kill(ctx, s.player, false); err != nil {
		return err
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerPosition); err != nil {
		return err
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerHealth); err != nil {
		return err
	}
	return s.m.sync.PlayerFigure(ctx, s.player, string([]rune{
		replicate.TagX, replicate.TagY, replicate.TagZ, replicate.TagHealth, replicate.TagAlive,
	}))
}

// SetTeam moves the player to t. A nil team clears it.
func (s *Session) SetTeam(ctx context.Context, t *world.Team) error {
	var id uint32
	if t != nil {
		id = t.ID()
	}
	if err := s.update(func(ps *world.PlayerState) { ps.TeamID = id }); err != nil {
		return err
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerTeam); err != nil {
		return err
	}
	return s.m.sync.PlayerFigure(ctx, s.player, string(rune(replicate.TagTeam)))
}

func (s *Session) SetScore(ctx context.Context, score int32) error {
	if err := s.update(func(ps *world.PlayerState) { ps.Score = score }); err != nil {
		return err
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerScore); err != nil {
		return err
	}
	return s.m.sync.PlayerFigure(ctx, s.player, string(rune(replicate.TagScore)))
}

func (s *Session) SetSpeed(ctx context.Context, speed float64) error {
	if err := s.update(func(ps *world.PlayerState) { ps.Speed = speed }); err != nil {
		return err
	}
	return s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerSpeed)
}

func (s *Session) SetJumpPower(ctx context.Context, power float64) error {
	if err := s.update(func(ps *world.PlayerState) { ps.JumpPower = power }); err != nil {
		return err
	}
	return s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerJumpPower)
}

func (s *Session) SetCamera(ctx context.Context, cam world.Camera) error {
	if err := s.update(func(ps *world.PlayerState) { ps.Camera = cam }); err != nil {
		return err
	}
	return s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerCamera)
}

// AddTool puts t in the player's inventory. Adding a tool twice does nothing.
func (s *Session) AddTool(ctx context.Context, t *world.Tool) error {
	var added bool
	err := s.update(func(ps *world.PlayerState) {
		if !slices.Contains(ps.Inventory, t.ID()) {
			ps.Inventory = append(ps.Inventory, t.ID())
			added = true
		}
	})
	if err != nil || !added {
		return err
	}
	return s.m.sync.ToolGiven(ctx, s.player, t)
}

// RemoveTool takes t out of the inventory, unequipping it first.
func (s *Session) RemoveTool(ctx context.Context, t *world.Tool) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNotJoined
	}
	if !s.player.HasTool(t.ID()) {
		return ErrToolNotOwned
	}
	if s.player.State().Equipped == t.ID() {
		if err := s.UnequipTool(ctx); err != nil {
			return err
		}
	}
	if err := s.update(func(ps *world.PlayerState) {
		ps.Inventory = slices.DeleteFunc(ps.Inventory, func(id uint32) bool { return id == t.ID() })
	}); err != nil {
		return err
	}
	return s.m.sync.ToolRemoved(ctx, s.player, t)
}

// EquipTool equips a tool from the inventory, unequipping the current one.
func (s *Session) EquipTool(ctx context.Context, t *world.Tool) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNotJoined
	}
	if !s.player.HasTool(t.ID()) {
		return ErrToolNotOwned
	}
	current := s.player.State().Equipped
	if current == t.ID() {
		return nil
	}
	if current != 0 {
		if err := s.UnequipTool(ctx); err != nil {
			return err
		}
	}
	if !t.Claim(s.NetID()) {
		return ErrToolHeld
	}
	if err := s.update(func(ps *world.PlayerState) { ps.Equipped = t.ID() }); err != nil {
		t.Release(s.NetID())
		return err
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerEquipped); err != nil {
		return err
	}
	if err := s.m.sync.PlayerFigure(ctx, s.player, string(rune(replicate.TagEquipped))); err != nil {
		return err
	}
	t.Equipped.Emit(world.ToolEvent{Tool: t, Player: s.player})
	return nil
}

// UnequipTool puts the equipped tool away. It does nothing if none is held.
func (s *Session) UnequipTool(ctx context.Context) error {
	var id uint32
	err := s.update(func(ps *world.PlayerState) {
		id = ps.Equipped
		ps.Equipped = 0
	})
	if err != nil || id == 0 {
		return err
	}
	t, ok := s.m.store.Tool(id)
	if ok {
		t.Release(s.NetID())
	}
	if err := s.m.sync.PlayerModified(ctx, s.player, replicate.PlayerEquipped); err != nil {
		return err
	}
	if err := s.m.sync.PlayerFigure(ctx, s.player, string(rune(replicate.TagEquipped))); err != nil {
		return err
	}
	if ok {
		t.Unequipped.Emit(world.ToolEvent{Tool: t, Player: s.player})
	}
	return nil
}

// Mute stops the player's chat from reaching anyone.
func (s *Session) Mute(muted bool) error {
	return s.update(func(ps *world.PlayerState) { ps.Muted = muted })
}

// Block hides chat and speech of the user from this player.
func (s *Session) Block(userID uint32) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNotJoined
	}
	s.player.Block(userID)
	return nil
}

func (s *Session) Unblock(userID uint32) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNotJoined
	}
	s.player.Unblock(userID)
	return nil
}

// Message sends a chat line to this player only.
func (s *Session) Message(ctx context.Context, text string) error {
	if err := s.live(); err != nil {
		return err
	}
	pkt, err := replicate.Chat(text)
	return s.send(ctx, pkt, err)
}

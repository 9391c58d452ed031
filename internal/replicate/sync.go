// Package replicate turns world mutations into addressed frames.
//
// Every mutation maps to exactly one frame. Entities local to one player are
// unicast to that player; shared entities are broadcast to every active
// session. Methods return once the frame has been queued on every addressed
// connection, so the returned error is the mutation's result.
package replicate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Directory is the set of connected players. Recipients lists the active
// ones; Recipient resolves any connected player by net id.
type Directory interface {
	protocol.Audience
	Recipient(netID uint32) (protocol.Recipient, bool)
}

// Sync addresses world mutations.
type Sync struct {
	store  *world.Store
	dir    Directory
	assets protocol.AssetResolver
	logger *zap.Logger
}

func New(store *world.Store, dir Directory, assets protocol.AssetResolver, logger *zap.Logger) *Sync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sync{store: store, dir: dir, assets: assets, logger: logger}
}

// Assets returns the resolver used for asset fields.
func (s *Sync) Assets() protocol.AssetResolver { return s.assets }

// send delivers pkt to the owner if non-zero, otherwise to everyone.
func (s *Sync) send(ctx context.Context, owner uint32, pkt *protocol.Packet, err error) error {
	if err != nil {
		return err
	}
	if owner == 0 {
		return pkt.Broadcast(ctx, s.dir)
	}
	r, ok := s.dir.Recipient(owner)
	if !ok {
		s.logger.Debug("local entity owner gone", zap.Uint32("net_id", owner), zap.Uint8("kind", pkt.Kind()))
		return nil
	}
	if err := pkt.Send(ctx, r); err != nil && !errors.Is(err, protocol.ErrRecipientGone) {
		return err
	}
	return nil
}

func (s *Sync) broadcast(ctx context.Context, pkt *protocol.Packet, err error) error {
	return s.send(ctx, 0, pkt, err)
}

func (s *Sync) except(ctx context.Context, except []uint32, pkt *protocol.Packet, err error) error {
	if err != nil {
		return err
	}
	return pkt.BroadcastExcept(ctx, s.dir, except...)
}

// BrickAdded sends the full record of a new brick.
func (s *Sync) BrickAdded(ctx context.Context, b *world.Brick) error {
	pkt, err := Bricks([]*world.Brick{b})
	return s.send(ctx, b.Owner(), pkt, err)
}

// BrickChanged sends one attribute of b.
func (s *Sync) BrickChanged(ctx context.Context, b *world.Brick, attr BrickAttr) error {
	pkt, err := BrickUpdate(b, attr)
	return s.send(ctx, b.Owner(), pkt, err)
}

func (s *Sync) BrickRemoved(ctx context.Context, b *world.Brick) error {
	pkt, err := DeleteBrick(b.ID())
	return s.send(ctx, b.Owner(), pkt, err)
}

func (s *Sync) TeamAdded(ctx context.Context, t *world.Team) error {
	pkt, err := Team(t)
	return s.broadcast(ctx, pkt, err)
}

func (s *Sync) TeamRemoved(ctx context.Context, t *world.Team) error {
	pkt, err := DeleteTeam(t.ID())
	return s.broadcast(ctx, pkt, err)
}

// ToolGiven tells p that t entered its inventory.
func (s *Sync) ToolGiven(ctx context.Context, p *world.Player, t *world.Tool) error {
	pkt, err := Tool(t, true)
	return s.send(ctx, p.NetID(), pkt, err)
}

func (s *Sync) ToolRemoved(ctx context.Context, p *world.Player, t *world.Tool) error {
	pkt, err := Tool(t, false)
	return s.send(ctx, p.NetID(), pkt, err)
}

func (s *Sync) SoundChanged(ctx context.Context, e *world.SoundEmitter) error {
	pkt, err := Sound(ctx, s.assets, e)
	return s.broadcast(ctx, pkt, err)
}

func (s *Sync) SoundRemoved(ctx context.Context, e *world.SoundEmitter) error {
	pkt, err := SoundRemoved(e.ID())
	return s.broadcast(ctx, pkt, err)
}

func (s *Sync) EnvironmentChanged(ctx context.Context, env world.Environment) error {
	pkt, err := Environment(env)
	return s.broadcast(ctx, pkt, err)
}

// PlayerModified tells p about a change to its own attribute.
func (s *Sync) PlayerModified(ctx context.Context, p *world.Player, attr PlayerAttr) error {
	pkt, err := Modification(p, attr)
	return s.send(ctx, p.NetID(), pkt, err)
}

// PlayerFigure shows the listed attributes of p to every other player.
func (s *Sync) PlayerFigure(ctx context.Context, p *world.Player, tags string) error {
	pkt, err := Figure(p, tags)
	return s.except(ctx, []uint32{p.NetID()}, pkt, err)
}

// PlayerRemoved tells everyone in a but the departed player that it left.
// The caller picks the audience, since players still joining have to hear
// about departures too.
func (s *Sync) PlayerRemoved(ctx context.Context, a protocol.Audience, netID uint32) error {
	pkt, err := RemovePlayer(netID)
	if err != nil {
		return err
	}
	return pkt.BroadcastExcept(ctx, a, netID)
}

// Speech shows p's speech bubble to everyone who has not blocked p.
func (s *Sync) Speech(ctx context.Context, p *world.Player) error {
	pkt, err := Figure(p, string(rune(TagSpeech)))
	return s.except(ctx, append(s.blockers(p), p.NetID()), pkt, err)
}

// Chat sends a chat line written by from to everyone who has not blocked
// from, the author included.
func (s *Sync) Chat(ctx context.Context, from *world.Player, message string) error {
	pkt, err := Chat(message)
	return s.except(ctx, s.blockers(from), pkt, err)
}

// Announce sends a server chat line to everyone.
func (s *Sync) Announce(ctx context.Context, message string) error {
	pkt, err := Chat(message)
	return s.broadcast(ctx, pkt, err)
}

func (s *Sync) Kill(ctx context.Context, p *world.Player, dead bool) error {
	pkt, err := Kill(p.NetID(), dead)
	return s.broadcast(ctx, pkt, err)
}

func (s *Sync) ClearMap(ctx context.Context) error {
	pkt, err := ClearMap()
	return s.broadcast(ctx, pkt, err)
}

// blockers returns the net ids of the players that have blocked p. It is
// computed on every call.
func (s *Sync) blockers(p *world.Player) []uint32 {
	userID := p.Identity().UserID
	var out []uint32
	for _, other := range s.store.Players() {
		if other.HasBlocked(userID) {
			out = append(out, other.NetID())
		}
	}
	return out
}

// PlayerPose shows the changed pose fields of a player to everyone else.
func (s *Sync) PlayerPose(ctx context.Context, netID uint32, pose Pose, tags string) error {
	pkt, err := PoseFigure(netID, pose, tags)
	return s.except(ctx, []uint32{netID}, pkt, err)
}

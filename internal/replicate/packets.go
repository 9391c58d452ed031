package replicate

import (
	"context"
	"fmt"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Authentication is the first frame a joining player receives.
func Authentication(p *world.Player, brickCount int) (*protocol.Packet, error) {
	id := p.Identity()
	return protocol.NewBuilder(hillnet.KindAuthentication).
		U32(p.NetID()).
		U32(uint32(brickCount)).
		U32(id.UserID).
		String(id.Username).
		Bool(id.Admin).
		U8(id.Membership).
		Build()
}

// Roster lists players by net id, user id and name in one frame.
func Roster(players []*world.Player) (*protocol.Packet, error) {
	b := protocol.NewBuilder(hillnet.KindSendPlayers).U32(uint32(len(players)))
	for _, p := range players {
		id := p.Identity()
		b.U32(p.NetID()).
			String(id.Username).
			U32(id.UserID).
			Bool(id.Admin).
			U8(id.Membership)
	}
	return b.Build()
}

func RemovePlayer(netID uint32) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindRemovePlayer).U32(netID).Build()
}

func Chat(message string) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindChat).String(message).Build()
}

// Kick carries the last message a player sees before the socket closes.
func Kick(message string) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindKick).String(message).Build()
}

func Kill(netID uint32, dead bool) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindKill).U32(netID).Bool(dead).Build()
}

func ClearMap() (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindClearMap).Build()
}

func DeleteBrick(id uint32) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindDeleteBrick).U32(id).Build()
}

// Bricks sends full brick records in the compact encoding. The frame is
// deflated on the wire.
func Bricks(bricks []*world.Brick) (*protocol.Packet, error) {
	b := protocol.NewBuilder(hillnet.KindSendBricks)
	EncodeBricks(b, bricks)
	return b.Build()
}

// BrickAttr names a single brick attribute in a Brick update frame.
type BrickAttr string

const (
	BrickPosition   BrickAttr = "pos"
	BrickScale      BrickAttr = "scale"
	BrickRotation   BrickAttr = "rot"
	BrickColor      BrickAttr = "col"
	BrickVisibility BrickAttr = "alpha"
	BrickLight      BrickAttr = "light"
	BrickCollision  BrickAttr = "collide"
	BrickClickable  BrickAttr = "clickable"
	BrickName       BrickAttr = "name"
	BrickShape      BrickAttr = "shape"
	BrickModel      BrickAttr = "model"
)

// BrickUpdate encodes the current value of one attribute of b.
func BrickUpdate(b *world.Brick, attr BrickAttr) (*protocol.Packet, error) {
	s := b.State()
	pb := protocol.NewBuilder(hillnet.KindBrick).U32(b.ID()).String(string(attr))
	switch attr {
	case BrickPosition:
		pb.Vector(s.Position)
	case BrickScale:
		pb.Vector(s.Scale)
	case BrickRotation:
		pb.Vector(s.Rotation)
	case BrickColor:
		pb.Color(s.Color)
	case BrickVisibility:
		pb.F32(s.Visibility)
	case BrickLight:
		pb.Bool(s.LightEnabled).Color(s.LightColor).F32(s.LightRange)
	case BrickCollision:
		pb.Bool(s.Collision)
	case BrickClickable:
		pb.Bool(s.Clickable).F32(s.ClickDistance)
	case BrickName:
		pb.String(s.Name)
	case BrickShape:
		pb.String(s.Shape)
	case BrickModel:
		pb.U32(s.Model)
	default:
		return nil, fmt.Errorf("%s: brick attribute %q", hillnet.ErrFailedToEncode, attr)
	}
	return pb.Build()
}

func Team(t *world.Team) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindTeam).
		U32(t.ID()).
		String(t.Name()).
		Color(t.Color()).
		Build()
}

func DeleteTeam(id uint32) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindDeleteTeam).U32(id).Build()
}

// Tool adds (given) or removes a tool from the receiving player's inventory.
func Tool(t *world.Tool, given bool) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindTool).
		U32(t.ID()).
		Bool(given).
		String(t.Name()).
		U32(t.Model()).
		Build()
}

// Sound actions.
const (
	SoundUpdate = "update"
	SoundRemove = "remove"
)

// Sound describes an emitter. The audio asset is resolved and embedded, so a
// failed resolution fails the frame.
func Sound(ctx context.Context, assets protocol.AssetResolver, e *world.SoundEmitter) (*protocol.Packet, error) {
	s := e.State()
	return protocol.NewBuilder(hillnet.KindSound).
		U32(e.ID()).
		String(SoundUpdate).
		Asset(ctx, assets, uint64(s.Asset)).
		F32(s.Volume).
		F32(s.Pitch).
		Bool(s.Loop).
		F32(s.Range).
		Bool(s.Global).
		Vector(s.Position).
		Bool(s.Playing).
		Build()
}

func SoundRemoved(id uint32) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindSound).U32(id).String(SoundRemove).Build()
}

func Environment(env world.Environment) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindEnvironment).
		Color(env.Ambient).
		Color(env.BaseColor).
		Color(env.SkyColor).
		F32(env.BaseSize).
		F32(env.SunIntensity).
		String(env.Weather.String()).
		Build()
}

// PlayerAttr names an attribute a player is told about on itself.
type PlayerAttr string

const (
	PlayerHealth      PlayerAttr = "health"
	PlayerSpeed       PlayerAttr = "speed"
	PlayerJumpPower   PlayerAttr = "jump"
	PlayerCamera      PlayerAttr = "camera"
	PlayerScore       PlayerAttr = "score"
	PlayerTeam        PlayerAttr = "team"
	PlayerPosition    PlayerAttr = "pos"
	PlayerEquipped    PlayerAttr = "equip"
	PlayerAvatarError PlayerAttr = "avatar_error"
)

// Modification encodes the current value of one of p's attributes for p
// itself.
func Modification(p *world.Player, attr PlayerAttr) (*protocol.Packet, error) {
	s := p.State()
	b := protocol.NewBuilder(hillnet.KindPlayerModification).String(string(attr))
	switch attr {
	case PlayerHealth:
		b.F32(s.Health).F32(s.MaxHealth)
	case PlayerSpeed:
		b.F32(s.Speed)
	case PlayerJumpPower:
		b.F32(s.JumpPower)
	case PlayerCamera:
		b.String(s.Camera.Mode).F32(s.Camera.FOV).F32(s.Camera.Distance).F32(s.Camera.Pitch)
	case PlayerScore:
		b.I32(s.Score)
	case PlayerTeam:
		b.U32(s.TeamID)
	case PlayerPosition:
		b.Vector(s.Position).F32(s.Rotation.Z)
	case PlayerEquipped:
		b.U32(s.Equipped)
	default:
		return nil, fmt.Errorf("%s: player attribute %q", hillnet.ErrFailedToEncode, attr)
	}
	return b.Build()
}

// AvatarFailed tells a player its avatar could not be loaded.
func AvatarFailed(reason string) (*protocol.Packet, error) {
	return protocol.NewBuilder(hillnet.KindPlayerModification).
		String(string(PlayerAvatarError)).
		String(reason).
		Build()
}

package replicate

import (
	"fmt"
	"strings"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Figure tags. A Figure frame carries a tag string followed by one value per
// tag, in tag order, so unchanged attributes are omitted instead of zeroed.
const (
	TagX           = 'A'
	TagY           = 'B'
	TagZ           = 'C'
	TagRotX        = 'D'
	TagRotY        = 'E'
	TagYaw         = 'F'
	TagScaleX      = 'G'
	TagScaleY      = 'H'
	TagScaleZ      = 'I'
	TagCameraPitch = 'J'
	TagSpeech      = 'K'
	TagTeam        = 'L'
	TagHealth      = 'M'
	TagScore       = 'N'
	TagEquipped    = 'O'
	TagAlive       = 'P'
)

// FullFigure is every tag, used when one player first sees another.
const FullFigure = "ABCDEFGHIJKLMNOP"

// Figure encodes the listed attributes of p for other players.
func Figure(p *world.Player, tags string) (*protocol.Packet, error) {
	if tags == "" {
		return nil, fmt.Errorf("%s: empty figure", hillnet.ErrFailedToEncode)
	}
	s := p.State()
	b := protocol.NewBuilder(hillnet.KindFigure).U32(p.NetID()).String(tags)
	for i := 0; i < len(tags); i++ {
		switch tags[i] {
		case TagX:
			b.F32(s.Position.X)
		case TagY:
			b.F32(s.Position.Y)
		case TagZ:
			b.F32(s.Position.Z)
		case TagRotX:
			b.F32(s.Rotation.X)
		case TagRotY:
			b.F32(s.Rotation.Y)
		case TagYaw:
			b.F32(s.Rotation.Z)
		case TagScaleX:
			b.F32(s.Scale.X)
		case TagScaleY:
			b.F32(s.Scale.Y)
		case TagScaleZ:
			b.F32(s.Scale.Z)
		case TagCameraPitch:
			b.F32(s.Camera.Pitch)
		case TagSpeech:
			b.String(s.Speech)
		case TagTeam:
			b.U32(s.TeamID)
		case TagHealth:
			b.F32(s.Health)
		case TagScore:
			b.I32(s.Score)
		case TagEquipped:
			b.U32(s.Equipped)
		case TagAlive:
			b.Bool(s.Alive)
		default:
			return nil, fmt.Errorf("%s: figure tag %q", hillnet.ErrFailedToEncode, tags[i])
		}
	}
	return b.Build()
}

// Pose is the part of a player's state that the position stream carries.
type Pose struct {
	X, Y, Z     float64
	Yaw         float64
	CameraPitch float64
}

// PoseOf reads the pose out of a player state.
func PoseOf(s world.PlayerState) Pose {
	return Pose{
		X:           s.Position.X,
		Y:           s.Position.Y,
		Z:           s.Position.Z,
		Yaw:         s.Rotation.Z,
		CameraPitch: s.Camera.Pitch,
	}
}

// PoseDelta returns the figure tags of the fields that differ between prev
// and next, in tag order. An empty result means nothing changed.
func PoseDelta(prev, next Pose) string {
	var sb strings.Builder
	if prev.X != next.X {
		sb.WriteByte(TagX)
	}
	if prev.Y != next.Y {
		sb.WriteByte(TagY)
	}
	if prev.Z != next.Z {
		sb.WriteByte(TagZ)
	}
	if prev.Yaw != next.Yaw {
		sb.WriteByte(TagYaw)
	}
	if prev.CameraPitch != next.CameraPitch {
		sb.WriteByte(TagCameraPitch)
	}
	return sb.String()
}

// PoseFigure encodes the tagged pose fields of a player. It is the frame
// behind the throttled position stream; tags come from PoseDelta.
func PoseFigure(netID uint32, pose Pose, tags string) (*protocol.Packet, error) {
	b := protocol.NewBuilder(hillnet.KindFigure).U32(netID).String(tags)
	for i := 0; i < len(tags); i++ {
		switch tags[i] {
		case TagX:
			b.F32(pose.X)
		case TagY:
			b.F32(pose.Y)
		case TagZ:
			b.F32(pose.Z)
		case TagYaw:
			b.F32(pose.Yaw)
		case TagCameraPitch:
			b.F32(pose.CameraPitch)
		default:
			return nil, fmt.Errorf("%s: pose tag %q", hillnet.ErrFailedToEncode, tags[i])
		}
	}
	return b.Build()
}

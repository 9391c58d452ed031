package replicate

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/world"
)

// BrickSchemaVersion is written before every compact brick list. Decoding
// rejects any other version.
const BrickSchemaVersion uint8 = 1

// Attribute tags of the compact brick encoding. A tag is present only when
// the attribute differs from world.DefaultBrickState.
const (
	tagPosition      = 'P'
	tagScale         = 'S'
	tagColor         = 'K'
	tagVisibility    = 'V'
	tagRotation      = 'A'
	tagShape         = 'B'
	tagLight         = 'C'
	tagModel         = 'D'
	tagNoCollision   = 'E'
	tagClickable     = 'F'
	tagName          = 'G'
	tagClickDistance = 'H'
)

// id and an empty tag string.
const minBrickRecord = 4 + 1

var ErrBrickSchema = errors.New("unsupported brick schema")

// CompactBrick is one decoded brick record.
type CompactBrick struct {
	ID    uint32
	State world.BrickState
}

// EncodeBricks appends the compact form of bricks to b: a schema version, a
// count, then per brick its id and a tag string naming the non-default
// attributes, followed by their values in tag order. A default brick is just
// its id and an empty tag string.
func EncodeBricks(b *protocol.Builder, bricks []*world.Brick) {
	b.U8(BrickSchemaVersion)
	b.U32(uint32(len(bricks)))
	for _, br := range bricks {
		encodeBrick(b, br.ID(), br.State())
	}
}

func encodeBrick(b *protocol.Builder, id uint32, s world.BrickState) {
	def := world.DefaultBrickState()

	var tags []byte
	if s.Position != def.Position {
		tags = append(tags, tagPosition)
	}
	if s.Scale != def.Scale {
		tags = append(tags, tagScale)
	}
	if s.Color != def.Color {
		tags = append(tags, tagColor)
	}
	if s.Visibility != def.Visibility {
		tags = append(tags, tagVisibility)
	}
	if s.Rotation != def.Rotation {
		tags = append(tags, tagRotation)
	}
	if s.Shape != def.Shape {
		tags = append(tags, tagShape)
	}
	if s.LightEnabled != def.LightEnabled || s.LightColor != def.LightColor || s.LightRange != def.LightRange {
		tags = append(tags, tagLight)
	}
	if s.Model != def.Model {
		tags = append(tags, tagModel)
	}
	if s.Collision != def.Collision {
		tags = append(tags, tagNoCollision)
	}
	if s.Clickable {
		tags = append(tags, tagClickable)
	}
	if s.Name != def.Name {
		tags = append(tags, tagName)
	}
	if s.ClickDistance != def.ClickDistance {
		tags = append(tags, tagClickDistance)
	}
	b.U32(id).String(string(tags))

	for _, t := range tags {
		switch t {
		case tagPosition:
			b.Vector(s.Position)
		case tagScale:
			b.Vector(s.Scale)
		case tagColor:
			b.Color(s.Color)
		case tagVisibility:
			b.F32(s.Visibility)
		case tagRotation:
			b.Vector(s.Rotation)
		case tagShape:
			b.String(s.Shape)
		case tagLight:
			b.Bool(s.LightEnabled).Color(s.LightColor).F32(s.LightRange)
		case tagModel:
			b.U32(s.Model)
		case tagNoCollision:
			// presence is the value
		case tagClickable:
			// presence is the value
		case tagName:
			b.String(s.Name)
		case tagClickDistance:
			b.F32(s.ClickDistance)
		}
	}
}

// DecodeBricks reads a compact brick list written by EncodeBricks. Fields
// are read one by one against the schema; unknown tags and versions fail.
func DecodeBricks(r *protocol.Reader) ([]CompactBrick, error) {
	if v := r.U8(); v != BrickSchemaVersion {
		if r.Err() != nil {
			return nil, r.Err()
		}
		return nil, fmt.Errorf("%w: version %d", ErrBrickSchema, v)
	}
	n := r.U32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	// Every record carries at least minBrickRecord bytes.
	if int(n) > r.Remaining()/minBrickRecord {
		return nil, fmt.Errorf("%w: count %d exceeds payload", protocol.ErrMalformedFrame, n)
	}

	out := make([]CompactBrick, 0, n)
	for i := uint32(0); i < n; i++ {
		cb, err := decodeBrick(r)
		if err != nil {
			return nil, fmt.Errorf("brick %d: %w", i, err)
		}
		out = append(out, cb)
	}
	return out, nil
}

func decodeBrick(r *protocol.Reader) (CompactBrick, error) {
	s := world.DefaultBrickState()
	id := r.U32()
	tags := r.String()
	if r.Err() != nil {
		return CompactBrick{}, r.Err()
	}

	seen := make(map[byte]bool, len(tags))
	for i := 0; i < len(tags); i++ {
		t := tags[i]
		if seen[t] {
			return CompactBrick{}, fmt.Errorf("%w: repeated tag %q", ErrBrickSchema, t)
		}
		seen[t] = true

		switch t {
		case tagPosition:
			s.Position = r.Vector()
		case tagScale:
			s.Scale = r.Vector()
		case tagColor:
			s.Color = r.Color()
		case tagVisibility:
			s.Visibility = r.F32()
		case tagRotation:
			s.Rotation = r.Vector()
		case tagShape:
			s.Shape = r.String()
		case tagLight:
			s.LightEnabled = r.Bool()
			s.LightColor = r.Color()
			s.LightRange = r.F32()
		case tagModel:
			s.Model = r.U32()
		case tagNoCollision:
			s.Collision = false
		case tagClickable:
			s.Clickable = true
		case tagName:
			s.Name = r.String()
		case tagClickDistance:
			s.ClickDistance = r.F32()
		default:
			return CompactBrick{}, fmt.Errorf("%w: unknown tag %q", ErrBrickSchema, t)
		}
	}
	if r.Err() != nil {
		return CompactBrick{}, r.Err()
	}
	return CompactBrick{ID: id, State: s}, nil
}

package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/geom"
)

// AssetResolver turns an asset id into the bytes embedded in an asset field.
type AssetResolver interface {
	ResolveAsset(ctx context.Context, assetID uint64) ([]byte, error)
}

// Builder writes typed fields after a message kind. Calls chain; the first
// failure sticks and is reported by Build.
//
//	pkt, err := protocol.NewBuilder(hillnet.KindChat).
//	    String("hello").
//	    Build()
type Builder struct {
	kind uint8
	buf  []byte
	err  error
}

// NewBuilder starts a payload whose first byte is kind.
func NewBuilder(kind uint8) *Builder {
	b := &Builder{kind: kind, buf: make([]byte, 1, 64)}
	b.buf[0] = kind
	return b
}

func (b *Builder) Kind() uint8 { return b.kind }

// Err returns the first error recorded by a field write.
func (b *Builder) Err() error { return b.err }

func (b *Builder) U8(v uint8) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) U16(v uint16) *Builder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *Builder) U32(v uint32) *Builder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) I8(v int8) *Builder   { return b.U8(uint8(v)) }
func (b *Builder) I16(v int16) *Builder { return b.U16(uint16(v)) }
func (b *Builder) I32(v int32) *Builder { return b.U32(uint32(v)) }

func (b *Builder) F32(v float64) *Builder {
	return b.U32(math.Float32bits(float32(v)))
}

func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.U8(1)
	}
	return b.U8(0)
}

// String writes a uintv length followed by the UTF-8 bytes.
func (b *Builder) String(s string) *Builder {
	b.buf = AppendUintV(b.buf, len(s))
	b.buf = append(b.buf, s...)
	return b
}

// Bytes writes a uintv length followed by raw bytes.
func (b *Builder) Bytes(p []byte) *Builder {
	b.buf = AppendUintV(b.buf, len(p))
	b.buf = append(b.buf, p...)
	return b
}

func (b *Builder) Vector(v geom.Vector3) *Builder {
	return b.F32(v.X).F32(v.Y).F32(v.Z)
}

func (b *Builder) Color(c geom.Color) *Builder {
	return b.U32(uint32(c))
}

// Asset resolves assetID and embeds the result. A failed resolution fails the
// whole frame; nothing is zero-filled in its place.
func (b *Builder) Asset(ctx context.Context, r AssetResolver, assetID uint64) *Builder {
	if b.err != nil {
		return b
	}
	if r == nil {
		b.err = fmt.Errorf("asset %d: no resolver", assetID)
		return b
	}
	data, err := r.ResolveAsset(ctx, assetID)
	if err != nil {
		b.err = fmt.Errorf("asset %d: %w", assetID, err)
		return b
	}
	return b.Bytes(data)
}

// Payload returns the unframed payload, kind byte included.
func (b *Builder) Payload() []byte {
	return b.buf
}

// Build frames the payload and returns a packet ready to be addressed.
func (b *Builder) Build() (*Packet, error) {
	if b.err != nil {
		return nil, fmt.Errorf("%s: %w", hillnet.ErrFailedToEncode, b.err)
	}
	frame, err := EncodeFrame(b.buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hillnet.ErrFailedToEncode, err)
	}
	return &Packet{kind: b.kind, frame: frame}, nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/luciancaetano/hillnet"
)

const (
	// MaxFrameSize bounds a frame payload, compressed or not.
	MaxFrameSize = 10 * 1024 * 1024 // 10MB

	// zlibMagic is the first byte of every zlib stream we produce.
	zlibMagic = 0x78
)

var (
	ErrMalformedFrame = errors.New(hillnet.ErrMalformedFrame)
	ErrFrameTooLarge  = errors.New(hillnet.ErrFrameTooLarge)
	ErrShortFrame     = errors.New(hillnet.ErrShortFrame)

	// ErrIncomplete reports that more bytes are needed before a length prefix
	// or frame can be read. It is not a protocol error.
	ErrIncomplete = errors.New("incomplete frame")
)

var compressedKinds = map[uint8]bool{
	hillnet.KindSendBricks: true,
}

// Compressed reports whether frames of the given kind are deflated on the wire.
func Compressed(kind uint8) bool {
	return compressedKinds[kind]
}

// AppendUintV appends n using the variable width length encoding. The low bits
// of the first byte select the width: xxxxxxx1 is one byte, xxxxxx10 two,
// xxxxx100 three and xxxx1000 four.
func AppendUintV(dst []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(dst, byte(n<<1|1))
	case n < 0x4000:
		return binary.LittleEndian.AppendUint16(dst, uint16(n<<2|2))
	case n < 0x200000:
		v := uint32(n<<3 | 4)
		return append(dst, byte(v), byte(v>>8), byte(v>>16))
	default:
		return binary.LittleEndian.AppendUint32(dst, uint32(n<<4|8))
	}
}

// ReadUintV reads a variable width length from the front of b and reports how
// many bytes it occupied. ErrIncomplete means b is too short to hold it.
func ReadUintV(b []byte) (n int, width int, err error) {
	if len(b) == 0 {
		return 0, 0, ErrIncomplete
	}
	switch b0 := b[0]; {
	case b0&1 != 0:
		return int(b0 >> 1), 1, nil
	case b0&2 != 0:
		width = 2
	case b0&4 != 0:
		width = 3
	case b0&8 != 0:
		width = 4
	default:
		return 0, 0, fmt.Errorf("%w: bad length prefix 0x%02x", ErrMalformedFrame, b0)
	}
	if len(b) < width {
		return 0, width, ErrIncomplete
	}
	switch width {
	case 2:
		n = int(binary.LittleEndian.Uint16(b) >> 2)
	case 3:
		n = int((uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16) >> 3)
	default:
		n = int(binary.LittleEndian.Uint32(b) >> 4)
	}
	return n, width, nil
}

// Frame is one decoded message.
// The payload references the buffer it was decoded from - do not modify it.
type Frame struct {
	Kind    uint8
	Payload []byte
}

// Reader returns a field reader positioned after the kind byte.
func (f Frame) Reader() *Reader {
	return NewReader(f.Payload)
}

// EncodeFrame prefixes a payload (kind byte included) with its length,
// deflating it first when the kind is declared compressed.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if Compressed(payload[0]) {
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	out := make([]byte, 0, len(payload)+4)
	out = AppendUintV(out, len(payload))
	return append(out, payload...), nil
}

// DecodePayload turns one frame payload (length prefix already stripped) into
// a Frame, inflating it if it is a zlib stream.
func DecodePayload(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if data[0] == zlibMagic {
		inflated, err := inflate(data)
		if err != nil {
			return Frame{}, err
		}
		data = inflated
		if len(data) == 0 {
			return Frame{}, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
		}
	}
	kind := data[0]
	if kind == 0 || kind > hillnet.MaxKind {
		return Frame{}, fmt.Errorf("%w: kind %d", ErrMalformedFrame, kind)
	}
	return Frame{Kind: kind, Payload: data[1:]}, nil
}

// Decode reads exactly one length-prefixed frame from data and reports the
// number of bytes consumed. ErrIncomplete means data does not yet hold a
// whole frame.
func Decode(data []byte) (Frame, int, error) {
	n, width, err := ReadUintV(data)
	if err != nil {
		return Frame{}, 0, err
	}
	if n > MaxFrameSize {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if len(data) < width+n {
		return Frame{}, 0, ErrIncomplete
	}
	f, err := DecodePayload(data[width : width+n])
	if err != nil {
		return Frame{}, 0, err
	}
	return f, width + n, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(out) > MaxFrameSize {
		return nil, fmt.Errorf("%w: inflated past %d bytes", ErrFrameTooLarge, MaxFrameSize)
	}
	return out, nil
}

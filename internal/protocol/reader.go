package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/luciancaetano/hillnet/internal/geom"
)

// Reader consumes typed fields in the order a Builder wrote them. Once a read
// runs past the end every later read returns the zero value and Err reports
// the first failure.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Err() error { return r.err }

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: %s at offset %d", ErrShortFrame, field, r.off)
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) U8() uint8 {
	p := r.take(1, "u8")
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) U16() uint16 {
	p := r.take(2, "u16")
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) U32() uint32 {
	p := r.take(4, "u32")
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) I8() int8   { return int8(r.U8()) }
func (r *Reader) I16() int16 { return int16(r.U16()) }
func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) F32() float64 {
	return float64(math.Float32frombits(r.U32()))
}

func (r *Reader) Bool() bool {
	return r.U8() != 0
}

func (r *Reader) length(field string) int {
	if r.err != nil {
		return 0
	}
	n, width, err := ReadUintV(r.data[r.off:])
	if err != nil {
		r.err = fmt.Errorf("%w: %s length at offset %d", ErrShortFrame, field, r.off)
		return 0
	}
	r.off += width
	return n
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() string {
	n := r.length("string")
	p := r.take(n, "string")
	if p == nil {
		return ""
	}
	if !utf8.Valid(p) {
		r.err = fmt.Errorf("%w: invalid utf-8 string", ErrMalformedFrame)
		return ""
	}
	return string(p)
}

// Bytes reads a length-prefixed byte slice. The result references the frame.
func (r *Reader) Bytes() []byte {
	n := r.length("bytes")
	return r.take(n, "bytes")
}

func (r *Reader) Vector() geom.Vector3 {
	return geom.Vector3{X: r.F32(), Y: r.F32(), Z: r.F32()}
}

func (r *Reader) Color() geom.Color {
	return geom.Color(r.U32() & 0xFFFFFF)
}

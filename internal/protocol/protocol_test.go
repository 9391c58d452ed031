package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/geom"
)

// TestUintV tests the variable width length prefix at every width boundary
func TestUintV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		n         int
		wantWidth int
	}{
		{"zero", 0, 1},
		{"one byte max", 0x7F, 1},
		{"two byte min", 0x80, 2},
		{"two byte max", 0x3FFF, 2},
		{"three byte min", 0x4000, 3},
		{"three byte max", 0x1FFFFF, 3},
		{"four byte min", 0x200000, 4},
		{"max frame size", MaxFrameSize, 4},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded := AppendUintV(nil, tt.n)
			if len(encoded) != tt.wantWidth {
				t.Fatalf("encoded width = %d, want %d", len(encoded), tt.wantWidth)
			}

			got, width, err := ReadUintV(encoded)
			if err != nil {
				t.Fatalf("ReadUintV() error = %v", err)
			}
			if width != tt.wantWidth {
				t.Errorf("ReadUintV() width = %d, want %d", width, tt.wantWidth)
			}
			if got != tt.n {
				t.Errorf("ReadUintV() = %d, want %d", got, tt.n)
			}
		})
	}
}

// TestReadUintVErrors tests truncated and malformed prefixes
func TestReadUintVErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrIncomplete},
		{"two byte prefix with one byte", []byte{0x02}, ErrIncomplete},
		{"four byte prefix with three bytes", []byte{0x08, 0x00, 0x00}, ErrIncomplete},
		{"no width bit", []byte{0x00}, ErrMalformedFrame},
		{"high bits only", []byte{0xF0, 0x01}, ErrMalformedFrame},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := ReadUintV(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadUintV() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestBuildDecodeRoundTrip writes every field type and reads it back
func TestBuildDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	pkt, err := NewBuilder(hillnet.KindFigure).
		U8(200).
		U16(65000).
		U32(0xDEADBEEF).
		I8(-5).
		I16(-30000).
		I32(-2000000000).
		F32(1.5).
		Bool(true).
		Bool(false).
		String("héllo").
		Vector(geom.V(-2.25, 0, 10)).
		Color(geom.RGB(1, 2, 3)).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	f, consumed, err := Decode(pkt.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if consumed != len(pkt.Bytes()) {
		t.Errorf("consumed = %d, want %d", consumed, len(pkt.Bytes()))
	}
	if f.Kind != hillnet.KindFigure {
		t.Errorf("kind = %d, want %d", f.Kind, hillnet.KindFigure)
	}

	r := f.Reader()
	if v := r.U8(); v != 200 {
		t.Errorf("U8 = %d", v)
	}
	if v := r.U16(); v != 65000 {
		t.Errorf("U16 = %d", v)
	}
	if v := r.U32(); v != 0xDEADBEEF {
		t.Errorf("U32 = %x", v)
	}
	if v := r.I8(); v != -5 {
		t.Errorf("I8 = %d", v)
	}
	if v := r.I16(); v != -30000 {
		t.Errorf("I16 = %d", v)
	}
	if v := r.I32(); v != -2000000000 {
		t.Errorf("I32 = %d", v)
	}
	if v := r.F32(); v != 1.5 {
		t.Errorf("F32 = %v", v)
	}
	if !r.Bool() || r.Bool() {
		t.Error("Bool values mismatch")
	}
	if v := r.String(); v != "héllo" {
		t.Errorf("String = %q", v)
	}
	if v := r.Vector(); v != geom.V(-2.25, 0, 10) {
		t.Errorf("Vector = %v", v)
	}
	if v := r.Color(); v != geom.RGB(1, 2, 3) {
		t.Errorf("Color = %v", v)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Reader error = %v", err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", r.Remaining())
	}
}

// TestDecodeIncomplete verifies that every strict prefix of a frame asks for more bytes
func TestDecodeIncomplete(t *testing.T) {
	t.Parallel()

	pkt, err := NewBuilder(hillnet.KindChat).String(strings.Repeat("x", 300)).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	frame := pkt.Bytes()

	for i := 0; i < len(frame); i++ {
		if _, _, err := Decode(frame[:i]); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("Decode(prefix %d) error = %v, want ErrIncomplete", i, err)
		}
	}
}

// TestDecodeRejectsBadKind tests kinds outside the usable range
func TestDecodeRejectsBadKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"zero kind", []byte{0x00, 0x01}},
		{"reserved kind", []byte{0x7F}},
		{"bad zlib stream", []byte{0x78, 0x00, 0x00}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := AppendUintV(nil, len(tt.payload))
			data = append(data, tt.payload...)
			if _, _, err := Decode(data); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Decode() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

// TestDecodeFrameTooLarge tests that an oversized length prefix is fatal before any payload arrives
func TestDecodeFrameTooLarge(t *testing.T) {
	t.Parallel()

	data := AppendUintV(nil, MaxFrameSize+1)
	if _, _, err := Decode(data); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Decode() error = %v, want ErrFrameTooLarge", err)
	}
}

// TestCompressedKind verifies that declared kinds are deflated on the wire and inflated on decode
func TestCompressedKind(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("brick ", 500)
	pkt, err := NewBuilder(hillnet.KindSendBricks).U32(7).String(body).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	_, width, err := ReadUintV(pkt.Bytes())
	if err != nil {
		t.Fatalf("ReadUintV() error = %v", err)
	}
	if pkt.Bytes()[width] != zlibMagic {
		t.Fatalf("payload starts with 0x%02x, want zlib header", pkt.Bytes()[width])
	}
	if len(pkt.Bytes()) >= len(body) {
		t.Errorf("compressed frame is %d bytes, body alone is %d", len(pkt.Bytes()), len(body))
	}

	f, _, err := Decode(pkt.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Kind != hillnet.KindSendBricks {
		t.Errorf("kind = %d, want %d", f.Kind, hillnet.KindSendBricks)
	}
	r := f.Reader()
	if r.U32() != 7 || r.String() != body || r.Err() != nil {
		t.Errorf("inflated fields mismatch: %v", r.Err())
	}
}

// TestReaderShortFrame tests that reading past the end is sticky
func TestReaderShortFrame(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0x01, 0x02})
	_ = r.U32()
	if !errors.Is(r.Err(), ErrShortFrame) {
		t.Fatalf("Err() = %v, want ErrShortFrame", r.Err())
	}
	if v := r.U8(); v != 0 {
		t.Errorf("read after failure = %d, want 0", v)
	}
}

type stubResolver struct {
	assets map[uint64][]byte
}

func (s stubResolver) ResolveAsset(_ context.Context, id uint64) ([]byte, error) {
	data, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %d missing", id)
	}
	return data, nil
}

// TestAssetField tests asset resolution success and whole-frame failure
func TestAssetField(t *testing.T) {
	t.Parallel()

	resolver := stubResolver{assets: map[uint64][]byte{42: []byte("mesh-ref")}}
	ctx := context.Background()

	pkt, err := NewBuilder(hillnet.KindTool).String("sword").Asset(ctx, resolver, 42).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	f, _, err := Decode(pkt.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	r := f.Reader()
	_ = r.String()
	if got := r.Bytes(); !bytes.Equal(got, []byte("mesh-ref")) {
		t.Errorf("asset bytes = %q", got)
	}

	_, err = NewBuilder(hillnet.KindTool).String("sword").Asset(ctx, resolver, 7).U8(1).Build()
	if err == nil {
		t.Fatal("Build() with unresolvable asset should fail")
	}
}

type fakeRecipient struct {
	id     uint32
	gone   bool
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeRecipient) NetID() uint32 { return f.id }

func (f *fakeRecipient) SendFrame(_ context.Context, frame []byte) error {
	if f.gone {
		return fmt.Errorf("net id %d: %w", f.id, ErrRecipientGone)
	}
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeRecipient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type sliceAudience struct {
	mu sync.Mutex
	rs []Recipient
}

func (a *sliceAudience) add(r Recipient) {
	a.mu.Lock()
	a.rs = append(a.rs, r)
	a.mu.Unlock()
}

func (a *sliceAudience) Recipients() []Recipient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Recipient(nil), a.rs...)
}

// TestAddressing tests unicast, broadcast and broadcast-except
func TestAddressing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pkt, err := NewBuilder(hillnet.KindChat).String("hi").Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	a, b, c := &fakeRecipient{id: 1}, &fakeRecipient{id: 2}, &fakeRecipient{id: 3}
	gone := &fakeRecipient{id: 4, gone: true}
	aud := &sliceAudience{}
	aud.add(a)
	aud.add(b)
	aud.add(gone)

	if err := pkt.Send(ctx, c); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if c.count() != 1 || a.count() != 0 {
		t.Fatal("Send() reached the wrong recipients")
	}

	if err := pkt.Broadcast(ctx, aud); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatal("Broadcast() missed a recipient")
	}

	// c joins after the exclusion list is computed but before the call runs.
	except := []uint32{a.id}
	aud.add(c)
	if err := pkt.BroadcastExcept(ctx, aud, except...); err != nil {
		t.Fatalf("BroadcastExcept() error = %v", err)
	}
	if a.count() != 1 {
		t.Errorf("excluded recipient got %d frames, want 1", a.count())
	}
	if b.count() != 2 || c.count() != 2 {
		t.Errorf("included recipients got %d and %d frames, want 2", b.count(), c.count())
	}
}

// BenchmarkBuild benchmarks building a typical position frame
func BenchmarkBuild(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = NewBuilder(hillnet.KindFigure).U32(1).String("ABCF").F32(1).F32(2).F32(3).F32(90).Build()
	}
}

// BenchmarkDecode benchmarks decoding a typical position frame
func BenchmarkDecode(b *testing.B) {
	pkt, _ := NewBuilder(hillnet.KindFigure).U32(1).String("ABCF").F32(1).F32(2).F32(3).F32(90).Build()
	data := pkt.Bytes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = Decode(data)
	}
}

package transport

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/protocol"
)

// stream encodes frames with payload sizes that cross every length-prefix width
// we are likely to see, including one compressed kind.
func stream(t *testing.T) ([]byte, []protocol.Frame) {
	t.Helper()

	var want []protocol.Frame
	var out []byte
	add := func(kind uint8, body string) {
		payload := protocol.NewBuilder(kind).String(body).Payload()
		frame, err := protocol.EncodeFrame(payload)
		if err != nil {
			t.Fatalf("EncodeFrame() error = %v", err)
		}
		out = append(out, frame...)
		want = append(want, protocol.Frame{Kind: kind, Payload: payload[1:]})
	}

	add(hillnet.KindClientAuthentication, "token")
	add(hillnet.KindClientHeartbeat, "")
	add(hillnet.KindClientCommand, strings.Repeat("a", 200))
	add(hillnet.KindClientPosition, strings.Repeat("b", 20000))
	add(hillnet.KindSendBricks, strings.Repeat("c", 3000))
	add(hillnet.KindClientClick, "tail")
	return out, want
}

func equalFrames(t *testing.T, got, want []protocol.Frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i].Kind {
			t.Errorf("frame %d kind = %d, want %d", i, got[i].Kind, want[i].Kind)
		}
		if !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Errorf("frame %d payload differs (len %d, want %d)", i, len(got[i].Payload), len(want[i].Payload))
		}
	}
}

func TestReassemblerFixedChunks(t *testing.T) {
	t.Parallel()

	data, want := stream(t)
	for _, size := range []int{1, 2, 3, 7, 64, 1000, 4096, len(data)} {
		var ra Reassembler
		var got []protocol.Frame
		for off := 0; off < len(data); off += size {
			end := min(off+size, len(data))
			frames, err := ra.Feed(data[off:end])
			if err != nil {
				t.Fatalf("size %d: Feed() error = %v", size, err)
			}
			got = append(got, frames...)
		}
		equalFrames(t, got, want)
		if ra.Buffered() != 0 {
			t.Errorf("size %d: %d bytes left buffered", size, ra.Buffered())
		}
	}
}

func TestReassemblerRandomChunks(t *testing.T) {
	t.Parallel()

	data, want := stream(t)
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var ra Reassembler
		var got []protocol.Frame
		for off := 0; off < len(data); {
			end := min(off+1+rng.Intn(300), len(data))
			frames, err := ra.Feed(data[off:end])
			if err != nil {
				t.Fatalf("round %d: Feed() error = %v", round, err)
			}
			got = append(got, frames...)
			off = end
		}
		equalFrames(t, got, want)
	}
}

func TestReassemblerPartialFrame(t *testing.T) {
	t.Parallel()

	frame, err := protocol.EncodeFrame(protocol.NewBuilder(hillnet.KindClientCommand).String("hello").Payload())
	if err != nil {
		t.Fatal(err)
	}

	var ra Reassembler
	frames, err := ra.Feed(frame[:3])
	if err != nil || len(frames) != 0 {
		t.Fatalf("Feed(partial) = %d frames, %v", len(frames), err)
	}
	if ra.Buffered() != 3 {
		t.Errorf("Buffered() = %d, want 3", ra.Buffered())
	}

	frames, err = ra.Feed(frame[3:])
	if err != nil || len(frames) != 1 {
		t.Fatalf("Feed(rest) = %d frames, %v", len(frames), err)
	}
	if got := frames[0].Reader().String(); got != "hello" {
		t.Errorf("payload = %q, want %q", got, "hello")
	}
}

func TestReassemblerMalformed(t *testing.T) {
	t.Parallel()

	good, _ := protocol.EncodeFrame(protocol.NewBuilder(hillnet.KindClientHeartbeat).Payload())

	tests := []struct {
		name      string
		data      []byte
		wantCount int
	}{
		{"bad prefix", []byte{0x00, 0x01}, 0},
		{"good then bad prefix", append(append([]byte{}, good...), 0x10), 1},
		{"zero kind", []byte{0x03, 0x00}, 0},
		{"reserved kind", []byte{0x03, 0x7F}, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ra Reassembler
			frames, err := ra.Feed(tt.data)
			if !errors.Is(err, protocol.ErrMalformedFrame) {
				t.Errorf("Feed() error = %v, want ErrMalformedFrame", err)
			}
			if len(frames) != tt.wantCount {
				t.Errorf("Feed() returned %d frames, want %d", len(frames), tt.wantCount)
			}
		})
	}
}

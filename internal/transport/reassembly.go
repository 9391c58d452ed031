package transport

import (
	"bytes"
	"errors"

	"github.com/luciancaetano/hillnet/internal/protocol"
)

// Reassembler turns an arbitrarily chunked byte stream back into frames. A
// chunk may hold part of a frame, several frames, or both; bytes past the last
// whole frame are kept for the next Feed.
type Reassembler struct {
	buf []byte
}

// Feed appends chunk and returns every frame now complete, in stream order.
// A protocol error is fatal for the stream; the frames decoded before it are
// still returned.
func (r *Reassembler) Feed(chunk []byte) ([]protocol.Frame, error) {
	r.buf = append(r.buf, chunk...)

	var frames []protocol.Frame
	off := 0
	for off < len(r.buf) {
		f, n, err := protocol.Decode(r.buf[off:])
		if errors.Is(err, protocol.ErrIncomplete) {
			break
		}
		if err != nil {
			r.buf = nil
			return frames, err
		}
		// The buffer is compacted below, so frames must not alias it.
		f.Payload = bytes.Clone(f.Payload)
		frames = append(frames, f)
		off += n
	}

	r.buf = append(r.buf[:0], r.buf[off:]...)
	return frames, nil
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (r *Reassembler) Buffered() int { return len(r.buf) }

package protocol

import (
	"context"
	"errors"
)

// ErrRecipientGone is returned (wrapped) by a Recipient whose connection has
// already closed. Broadcasts skip such recipients.
var ErrRecipientGone = errors.New("recipient gone")

// Recipient is one addressable connection.
type Recipient interface {
	NetID() uint32
	SendFrame(ctx context.Context, frame []byte) error
}

// Audience lists the recipients of a broadcast. Recipients is called when the
// broadcast executes, so a recipient that joins before that moment receives
// the packet.
type Audience interface {
	Recipients() []Recipient
}

// Packet is an encoded frame that has not been addressed yet.
type Packet struct {
	kind  uint8
	frame []byte
}

func (p *Packet) Kind() uint8 { return p.kind }

// Bytes returns the framed bytes exactly as they go on the wire.
func (p *Packet) Bytes() []byte { return p.frame }

// Send delivers the packet to a single connection.
func (p *Packet) Send(ctx context.Context, r Recipient) error {
	return r.SendFrame(ctx, p.frame)
}

// Broadcast delivers the packet to every recipient of the audience.
func (p *Packet) Broadcast(ctx context.Context, a Audience) error {
	return p.deliver(ctx, a.Recipients(), nil)
}

// BroadcastExcept delivers the packet to every recipient of the audience
// whose net id is not listed in except.
func (p *Packet) BroadcastExcept(ctx context.Context, a Audience, except ...uint32) error {
	skip := make(map[uint32]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}
	return p.deliver(ctx, a.Recipients(), skip)
}

func (p *Packet) deliver(ctx context.Context, rs []Recipient, skip map[uint32]struct{}) error {
	var errs []error
	for _, r := range rs {
		if _, ok := skip[r.NetID()]; ok {
			continue
		}
		if err := r.SendFrame(ctx, p.frame); err != nil && !errors.Is(err, ErrRecipientGone) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

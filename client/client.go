// Package client is a minimal game client for bots, load tools and tests. It
// speaks the same framed protocol as the game client over TCP or WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/transport"
)

type Frame = protocol.Frame

var ErrClosed = errors.New(hillnet.ErrConnectionClosed)

const (
	sendBuffer   = 64
	frameBuffer  = 256
	writeTimeout = 10 * time.Second
)

// link is the byte pipe under a client.
type link interface {
	write(b []byte) error
	read() ([]byte, error)
	close() error
}

type tcpLink struct {
	conn net.Conn
	buf  []byte
}

func (l *tcpLink) write(b []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := l.conn.Write(b)
	return err
}

func (l *tcpLink) read() ([]byte, error) {
	n, err := l.conn.Read(l.buf)
	if err != nil {
		return nil, err
	}
	return l.buf[:n], nil
}

func (l *tcpLink) close() error { return l.conn.Close() }

type wsLink struct {
	conn *websocket.Conn
}

func (l *wsLink) write(b []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (l *wsLink) read() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	return data, err
}

func (l *wsLink) close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return l.conn.Close()
}

// Client is one connection to a server. Inbound frames arrive on Frames in
// order; the channel closes when the connection does.
type Client struct {
	id     string
	link   link
	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	frames chan Frame

	mu     sync.RWMutex
	closed bool
	err    error
}

// Dial connects over TCP.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(&tcpLink{conn: conn, buf: make([]byte, 4096)}), nil
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, url string) (*Client, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newClient(&wsLink{conn: conn}), nil
}

func newClient(l link) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:     uuid.New().String(),
		link:   l,
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, sendBuffer),
		frames: make(chan Frame, frameBuffer),
	}
	go c.writePump()
	go c.readLoop()
	return c
}

func (c *Client) ID() string { return c.id }

// Context is cancelled once the connection is gone.
func (c *Client) Context() context.Context { return c.ctx }

func (c *Client) Frames() <-chan Frame { return c.frames }

// Err reports why the connection ended, nil while it is open or after Close.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Send frames and queues the packet built by b.
func (c *Client) Send(ctx context.Context, b *protocol.Builder) error {
	pkt, err := b.Build()
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.sendCh <- pkt.Bytes():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errors.New(hillnet.ErrContextCancelled)
	}
}

// Authenticate sends the handshake. An empty token joins a local server as
// a guest.
func (c *Client) Authenticate(ctx context.Context, token, version string) error {
	return c.Send(ctx, protocol.NewBuilder(hillnet.KindClientAuthentication).String(token).String(version))
}

// Move reports the player's position, yaw and camera pitch.
func (c *Client) Move(ctx context.Context, x, y, z, yaw, pitch float64) error {
	return c.Send(ctx, protocol.NewBuilder(hillnet.KindClientPosition).F32(x).F32(y).F32(z).F32(yaw).F32(pitch))
}

func (c *Client) Command(ctx context.Context, name, args string) error {
	return c.Send(ctx, protocol.NewBuilder(hillnet.KindClientCommand).String(name).String(args))
}

func (c *Client) Chat(ctx context.Context, message string) error {
	return c.Command(ctx, "chat", message)
}

func (c *Client) Click(ctx context.Context, brickID uint32) error {
	return c.Send(ctx, protocol.NewBuilder(hillnet.KindClientClick).U32(brickID))
}

func (c *Client) Input(ctx context.Context, mouseDown bool, key string) error {
	return c.Send(ctx, protocol.NewBuilder(hillnet.KindClientInput).Bool(mouseDown).String(key))
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.Send(ctx, protocol.NewBuilder(hillnet.KindClientHeartbeat))
}

// Await returns the next frame of kind, dropping frames of other kinds.
func (c *Client) Await(ctx context.Context, kind uint8) (Frame, error) {
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				if err := c.Err(); err != nil {
					return Frame{}, err
				}
				return Frame{}, ErrClosed
			}
			if f.Kind == kind {
				return f, nil
			}
		case <-ctx.Done():
			return Frame{}, fmt.Errorf("waiting for kind %d: %w", kind, ctx.Err())
		}
	}
}

// Close shuts the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	close(c.sendCh)
	return c.link.close()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if !c.closed && c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Client) writePump() {
	for {
		select {
		case b, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := c.link.write(b); err != nil {
				c.fail(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.frames)
	var ra transport.Reassembler
	for {
		chunk, err := c.link.read()
		if err != nil {
			c.fail(err)
			return
		}
		frames, ferr := ra.Feed(chunk)
		for _, f := range frames {
			select {
			case c.frames <- f:
			case <-c.ctx.Done():
				return
			}
		}
		if ferr != nil {
			c.fail(ferr)
			return
		}
	}
}

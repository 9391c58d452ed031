package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/protocol"
)

// link is the socket under a Conn. Only the write pump writes to it.
type link interface {
	WriteFrame(frame []byte) error
	Ping() error
	Close(graceful bool) error
}

type tcpLink struct {
	conn net.Conn
}

func (l tcpLink) WriteFrame(frame []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := l.conn.Write(frame)
	return err
}

func (l tcpLink) Ping() error { return nil }

func (l tcpLink) Close(bool) error { return l.conn.Close() }

type wsLink struct {
	conn *websocket.Conn
}

func (l wsLink) WriteFrame(frame []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l wsLink) Ping() error {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(websocket.PingMessage, nil)
}

func (l wsLink) Close(graceful bool) error {
	if graceful {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		l.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	}
	return l.conn.Close()
}

// Conn is one accepted connection, TCP or WebSocket.
type Conn struct {
	id         string
	remoteAddr string
	link       link
	ctx        context.Context
	cancel     context.CancelFunc
	sendCh     chan []byte
	done       chan struct{}

	mu     sync.RWMutex
	closed bool

	reasonSet atomic.Bool
	reason    atomic.Uint32

	rateLimiter *rate.Limiter // Rate limiter for incoming frames
	clk         clock.Clock
	metrics     *metrics.Metrics

	idleMu      sync.Mutex
	idleTimeout time.Duration
	idleGen     uint64
	idle        clock.Timer
}

func newConn(l link, remoteAddr string, cfg *RateLimitConfig, clk clock.Clock, m *metrics.Metrics) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if cfg != nil && cfg.Enabled {
		limiter = rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
	}

	c := &Conn{
		id:          uuid.New().String(),
		remoteAddr:  remoteAddr,
		link:        l,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		rateLimiter: limiter,
		clk:         clk,
		metrics:     m,
	}

	go c.writePump()

	return c
}

// ID returns a unique identifier for the connection
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer's network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context is cancelled once the connection stops accepting frames.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Reason reports why the connection closed. It is ReasonRemote until a close
// has been requested.
func (c *Conn) Reason() Reason {
	return Reason(c.reason.Load())
}

func (c *Conn) setReason(r Reason) {
	if c.reasonSet.CompareAndSwap(false, true) {
		c.reason.Store(uint32(r))
	}
}

// Send queues an encoded frame. Once the connection is closed it fails with an
// error wrapping protocol.ErrRecipientGone.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("%s: %w", hillnet.ErrConnectionClosed, protocol.ErrRecipientGone)
	}

	// Keep the lock while sending to prevent race with Close()
	select {
	case c.sendCh <- frame:
		c.mu.RUnlock()
		c.metrics.FramesOut.Add(1)
		return nil
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	case <-c.ctx.Done():
		c.mu.RUnlock()
		return fmt.Errorf("%s: %w", hillnet.ErrContextCancelled, protocol.ErrRecipientGone)
	}
}

// Close stops accepting frames, flushes the ones already queued and then
// closes the socket. If ctx expires first the connection is aborted.
func (c *Conn) Close(ctx context.Context, reason Reason) error {
	c.setReason(reason)
	c.stopIdle()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.Abort(reason)
		return ctx.Err()
	}
}

// Abort closes the socket at once, dropping queued frames.
func (c *Conn) Abort(reason Reason) {
	c.setReason(reason)
	c.stopIdle()
	c.cancel()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.link.Close(false)
}

// IsAlive returns true if the connection still accepts frames
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// CheckRateLimit checks if the connection has exceeded the rate limit
// Returns true if the frame is allowed, false if rate limited
func (c *Conn) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return c.rateLimiter.Allow()
}

// SetIdleTimeout replaces the idle limit and restarts the idle timer. A
// non-positive d disables it.
func (c *Conn) SetIdleTimeout(d time.Duration) {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	c.idleTimeout = d
	c.armLocked()
}

// ResetIdle restarts the idle timer with the current limit.
func (c *Conn) ResetIdle() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimeout > 0 {
		c.armLocked()
	}
}

func (c *Conn) armLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.idleGen++
	if c.idleTimeout <= 0 {
		return
	}
	gen := c.idleGen
	c.idle = c.clk.AfterFunc(c.idleTimeout, func() {
		c.idleMu.Lock()
		stale := gen != c.idleGen
		c.idleMu.Unlock()
		if stale {
			return
		}
		c.metrics.IdleEvictions.Add(1)
		c.Abort(ReasonIdle)
	})
}

func (c *Conn) stopIdle() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	c.idleTimeout = 0
	c.armLocked()
}

// writePump pumps frames from the send channel to the socket
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	graceful := false
	defer func() {
		ticker.Stop()
		c.cancel()
		c.link.Close(graceful)
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.sendCh:
			if !ok {
				// Channel closed: everything queued has been written
				graceful = true
				return
			}
			if err := c.link.WriteFrame(frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.link.Ping(); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Package transport is the connection manager: it accepts TCP (and optionally
// WebSocket) connections, reassembles their byte streams into frames and hands
// the frames, strictly in order, to a Handler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/protocol"
)

// Handler receives connection events. For one connection, OnOpen runs first,
// OnFrame calls never overlap and OnClose runs last, exactly once.
type Handler interface {
	OnOpen(c *Conn)
	OnFrame(c *Conn, f protocol.Frame)
	OnClose(c *Conn, reason Reason)
}

var (
	ErrAlreadyRunning = errors.New(hillnet.ErrServerAlreadyRunning)
	ErrBadSignature   = errors.New(hillnet.ErrBadSignature)
	ErrRateLimited    = errors.New(hillnet.ErrRateLimited)
)

// Server accepts connections and drives one read loop per connection.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Metrics
	clk     clock.Clock

	conns sync.Map // map[string]*Conn
	wg    sync.WaitGroup

	mu         sync.RWMutex
	running    bool
	listener   net.Listener
	wsListener net.Listener
	httpServer *http.Server
	httpRoutes map[string]http.Handler
	upgrader   websocket.Upgrader
}

// New creates a server. Nil fields of cfg fall back to defaults: the default
// rate limit, the real clock, a no-op logger and fresh metrics.
func New(cfg *ServerConfig, h Handler) *Server {
	c := *cfg
	if c.RateLimitConfig == nil {
		c.RateLimitConfig = DefaultRateLimitConfig()
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	return &Server{
		cfg:        c,
		handler:    h,
		logger:     c.Logger.Named("transport"),
		metrics:    c.Metrics,
		clk:        c.Clock,
		httpRoutes: make(map[string]http.Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: readBuffer,
			CheckOrigin:     c.WebSocket.CheckOrigin,
		},
	}
}

// Handle adds a route to the WebSocket listener's HTTP mux. It must be called
// before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	s.httpRoutes[pattern] = h
	s.mu.Unlock()
}

// Start binds the listeners and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	if s.cfg.WebSocket.Enabled {
		wsln, err := net.Listen("tcp", s.cfg.WebSocket.Addr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.WebSocket.Addr, err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc(s.cfg.WebSocket.Path, s.handleWebSocket)
		for pattern, h := range s.httpRoutes {
			mux.Handle(pattern, h)
		}
		s.wsListener = wsln
		s.httpServer = &http.Server{Handler: mux}
		go func() {
			if err := s.httpServer.Serve(wsln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("websocket listener stopped", zap.Error(err))
			}
		}()
		s.logger.Info("websocket listening", zap.Stringer("addr", wsln.Addr()), zap.String("path", s.cfg.WebSocket.Path))
	}

	s.listener = ln
	s.running = true
	go s.acceptLoop(ln)
	s.logger.Info("listening", zap.Stringer("addr", ln.Addr()))
	return nil
}

// Stop closes the listeners, gracefully closes every connection and waits for
// their read loops to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln, httpServer := s.listener, s.httpServer
	s.mu.Unlock()

	ln.Close()
	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	var closing sync.WaitGroup
	for _, c := range s.Conns() {
		closing.Add(1)
		go func(c *Conn) {
			defer closing.Done()
			c.Close(ctx, ReasonShutdown)
		}(c)
	}
	closing.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// Addr returns the TCP listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WebSocketAddr returns the WebSocket listener address, or nil if disabled.
func (s *Server) WebSocketAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// Conns returns a snapshot of the open connections.
func (s *Server) Conns() []*Conn {
	var out []*Conn
	s.conns.Range(func(_, value any) bool {
		out = append(out, value.(*Conn))
		return true
	})
	return out
}

// Lookup returns a connection by ID
func (s *Server) Lookup(id string) (*Conn, bool) {
	if c, ok := s.conns.Load(id); ok {
		return c.(*Conn), true
	}
	return nil, false
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		c := newConn(tcpLink{conn: nc}, nc.RemoteAddr().String(), s.cfg.RateLimitConfig, s.clk, s.metrics)
		buf := make([]byte, readBuffer)
		s.wg.Add(1)
		go s.serve(c, func() ([]byte, error) {
			n, err := nc.Read(buf)
			if n > 0 {
				return buf[:n], nil
			}
			return nil, err
		})
	}
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(protocol.MaxFrameSize + 8)

	c := newConn(wsLink{conn: ws}, r.RemoteAddr, s.cfg.RateLimitConfig, s.clk, s.metrics)
	s.wg.Add(1)
	go s.serve(c, func() ([]byte, error) {
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			if mt == websocket.BinaryMessage {
				return data, nil
			}
		}
	})
}

// serve is the read loop of one connection. Every chunk is fed to the
// reassembler and the resulting frames are dispatched in order.
func (s *Server) serve(c *Conn, read func() ([]byte, error)) {
	log := s.logger.With(zap.String("conn_id", c.ID()), zap.String("remote", c.RemoteAddr()))

	s.conns.Store(c.ID(), c)
	s.metrics.Connections.Add(1)
	defer func() {
		c.Abort(ReasonRemote)
		s.conns.Delete(c.ID())
		s.metrics.Connections.Add(-1)
		reason := c.Reason()
		log.Debug("connection closed", zap.Stringer("reason", reason))
		s.handler.OnClose(c, reason)
		s.wg.Done()
	}()

	c.SetIdleTimeout(s.cfg.AuthTimeout)
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		c.Abort(ReasonShutdown)
	}

	s.handler.OnOpen(c)
	log.Debug("connection opened")

	var ra Reassembler
	first := true
	for {
		chunk, err := read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("unexpected websocket close", zap.Error(err))
			}
			return
		}
		s.metrics.BytesIn.Add(uint64(len(chunk)))

		frames, ferr := ra.Feed(chunk)
		for _, f := range frames {
			if !c.IsAlive() {
				return
			}
			if !c.CheckRateLimit() {
				s.metrics.RateLimited.Add(1)
				log.Warn("kicking flooding connection", zap.Error(ErrRateLimited))
				c.Abort(ReasonRateLimited)
				return
			}
			if first && s.cfg.ClientsOnly && !s.signatureOK(f) {
				log.Warn("rejected connection", zap.Error(ErrBadSignature), zap.Uint8("kind", f.Kind))
				c.Abort(ReasonRejected)
				return
			}
			first = false

			s.metrics.FramesIn.Add(1)
			c.ResetIdle()
			s.handler.OnFrame(c, f)
		}
		if ferr != nil {
			s.metrics.ProtocolErrors.Add(1)
			log.Warn("protocol error", zap.Error(ferr))
			c.Abort(ReasonProtocol)
			return
		}
	}
}

func (s *Server) signatureOK(f protocol.Frame) bool {
	if f.Kind != hillnet.KindClientAuthentication {
		return false
	}
	if s.cfg.Signature != nil {
		return s.cfg.Signature(f)
	}
	return true
}

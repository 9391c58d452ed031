package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/protocol"
)

// TestDefaultRateLimitConfig tests the default rate limit configuration
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimitConfig()

	if !config.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}
	if config.MessagesPerSecond != 100 {
		t.Errorf("MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}
	if config.Burst != 200 {
		t.Errorf("Burst = %v, want 200", config.Burst)
	}
	if NoRateLimit().Enabled {
		t.Error("Expected rate limiting to be disabled")
	}
}

func TestReasonString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason Reason
		want   string
	}{
		{ReasonRemote, "remote"},
		{ReasonIdle, "idle"},
		{ReasonKicked, "kicked"},
		{ReasonProtocol, "protocol"},
		{ReasonRateLimited, "rate_limited"},
		{ReasonRejected, "rejected"},
		{ReasonShutdown, "shutdown"},
		{Reason(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("Reason(%d).String() = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

type closeEvent struct {
	conn   *Conn
	reason Reason
}

// recorder is a Handler that forwards every event to channels.
type recorder struct {
	opened chan *Conn
	frames chan protocol.Frame
	closed chan closeEvent
	echo   bool
}

func newRecorder() *recorder {
	return &recorder{
		opened: make(chan *Conn, 16),
		frames: make(chan protocol.Frame, 256),
		closed: make(chan closeEvent, 16),
	}
}

func (r *recorder) OnOpen(c *Conn) { r.opened <- c }

func (r *recorder) OnFrame(c *Conn, f protocol.Frame) {
	r.frames <- f
	if r.echo {
		frame, _ := protocol.EncodeFrame(append([]byte{f.Kind}, f.Payload...))
		c.Send(context.Background(), frame)
	}
}

func (r *recorder) OnClose(c *Conn, reason Reason) { r.closed <- closeEvent{c, reason} }

func startServer(t *testing.T, cfg ServerConfig, h Handler) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s := New(&cfg, h)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func frameBytes(t *testing.T, kind uint8, body string) []byte {
	t.Helper()
	frame, err := protocol.EncodeFrame(protocol.NewBuilder(kind).String(body).Payload())
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	return frame
}

func waitOpen(t *testing.T, r *recorder) *Conn {
	t.Helper()
	select {
	case c := <-r.opened:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
		return nil
	}
}

func waitFrame(t *testing.T, r *recorder) protocol.Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnFrame")
		return protocol.Frame{}
	}
}

func waitClose(t *testing.T, r *recorder) closeEvent {
	t.Helper()
	select {
	case ev := <-r.closed:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
		return closeEvent{}
	}
}

func TestServerAlreadyRunning(t *testing.T) {
	t.Parallel()

	s := startServer(t, ServerConfig{}, newRecorder())
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestServerReassemblesTCPStream(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	rec.echo = true
	s := startServer(t, ServerConfig{RateLimitConfig: NoRateLimit()}, rec)

	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	waitOpen(t, rec)

	var data []byte
	bodies := []string{"one", "two", string(make([]byte, 500)), "four"}
	for _, b := range bodies {
		data = append(data, frameBytes(t, hillnet.KindClientCommand, b)...)
	}
	// Dribble the stream out in uneven writes.
	for off := 0; off < len(data); off += 5 {
		end := min(off+5, len(data))
		if _, err := nc.Write(data[off:end]); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range bodies {
		f := waitFrame(t, rec)
		if got := f.Reader().String(); got != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}

	// The echoes come back as one stream of frames.
	var ra Reassembler
	buf := make([]byte, 1024)
	var echoed []protocol.Frame
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(echoed) < len(bodies) {
		n, err := nc.Read(buf)
		if err != nil {
			t.Fatalf("read echo: %v", err)
		}
		frames, err := ra.Feed(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		echoed = append(echoed, frames...)
	}
	if got := echoed[3].Reader().String(); got != "four" {
		t.Errorf("last echo = %q, want %q", got, "four")
	}
}

func TestServerIdleTimeout(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	m := metrics.New()
	rec := newRecorder()
	s := startServer(t, ServerConfig{AuthTimeout: 5 * time.Second, Clock: clk, Metrics: m}, rec)

	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	waitOpen(t, rec)

	clk.Advance(4 * time.Second)
	nc.Write(frameBytes(t, hillnet.KindClientHeartbeat, ""))
	waitFrame(t, rec)

	// The frame reset the timer, so the original deadline passes harmlessly.
	clk.Advance(2 * time.Second)
	select {
	case ev := <-rec.closed:
		t.Fatalf("closed early with %v", ev.reason)
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(5 * time.Second)
	if ev := waitClose(t, rec); ev.reason != ReasonIdle {
		t.Errorf("reason = %v, want idle", ev.reason)
	}
	if got := m.IdleEvictions.Load(); got != 1 {
		t.Errorf("IdleEvictions = %d, want 1", got)
	}
}

func TestServerClientsOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		kind       uint8
		body       string
		wantReason Reason
	}{
		{"authentication accepted", hillnet.KindClientAuthentication, "client-1", ReasonRemote},
		{"wrong signature", hillnet.KindClientAuthentication, "bot", ReasonRejected},
		{"not authentication", hillnet.KindClientCommand, "hello", ReasonRejected},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := newRecorder()
			s := startServer(t, ServerConfig{
				ClientsOnly: true,
				Signature: func(f protocol.Frame) bool {
					return f.Reader().String() != "bot"
				},
			}, rec)

			nc, err := net.Dial("tcp", s.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			waitOpen(t, rec)
			nc.Write(frameBytes(t, tt.kind, tt.body))

			if tt.wantReason == ReasonRemote {
				waitFrame(t, rec)
				nc.Close()
			}
			if ev := waitClose(t, rec); ev.reason != tt.wantReason {
				t.Errorf("reason = %v, want %v", ev.reason, tt.wantReason)
			}
			nc.Close()
		})
	}
}

func TestServerRateLimit(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := startServer(t, ServerConfig{
		RateLimitConfig: &RateLimitConfig{MessagesPerSecond: rate.Limit(1), Burst: 2, Enabled: true},
	}, rec)

	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	waitOpen(t, rec)

	var data []byte
	for i := 0; i < 5; i++ {
		data = append(data, frameBytes(t, hillnet.KindClientHeartbeat, "")...)
	}
	nc.Write(data)

	if ev := waitClose(t, rec); ev.reason != ReasonRateLimited {
		t.Errorf("reason = %v, want rate_limited", ev.reason)
	}
	if n := len(rec.frames); n != 2 {
		t.Errorf("dispatched %d frames before the limit, want 2", n)
	}
}

func TestServerProtocolError(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := startServer(t, ServerConfig{}, rec)

	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	waitOpen(t, rec)
	nc.Write([]byte{0x00, 0x00})

	if ev := waitClose(t, rec); ev.reason != ReasonProtocol {
		t.Errorf("reason = %v, want protocol", ev.reason)
	}
	// The server closed the socket.
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := nc.Read(make([]byte, 1)); err == nil {
		t.Error("read after close succeeded")
	}
}

func TestServerWebSocket(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	rec.echo = true
	s := startServer(t, ServerConfig{
		WebSocket: WebSocketConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:0",
			Path:        "/ws",
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, rec)

	url := "ws://" + s.WebSocketAddr().String() + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
	waitOpen(t, rec)

	// One frame split across two messages, followed by a whole one in the second.
	a := frameBytes(t, hillnet.KindClientCommand, "split")
	b := frameBytes(t, hillnet.KindClientCommand, "whole")
	ws.WriteMessage(websocket.BinaryMessage, a[:4])
	ws.WriteMessage(websocket.BinaryMessage, append(append([]byte{}, a[4:]...), b...))

	for _, want := range []string{"split", "whole"} {
		if got := waitFrame(t, rec).Reader().String(); got != want {
			t.Errorf("frame = %q, want %q", got, want)
		}
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", mt)
	}
	f, _, err := protocol.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Reader().String(); got != "split" {
		t.Errorf("echo = %q, want %q", got, "split")
	}
}

func TestServerExtraRoutes(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	cfg := ServerConfig{
		Addr:      "127.0.0.1:0",
		WebSocket: WebSocketConfig{Enabled: true, Addr: "127.0.0.1:0"},
		Metrics:   m,
	}
	s := New(&cfg, newRecorder())
	s.Handle("/metrics", m.Handler())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.WebSocketAddr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	cfg := ServerConfig{Addr: "127.0.0.1:0"}
	s := New(&cfg, rec)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	c := waitOpen(t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ev := waitClose(t, rec); ev.reason != ReasonShutdown || ev.conn != c {
		t.Errorf("close event = %v on %s, want shutdown on %s", ev.reason, ev.conn.ID(), c.ID())
	}
	if len(s.Conns()) != 0 {
		t.Errorf("Conns() = %d after Stop, want 0", len(s.Conns()))
	}
	if err := c.Send(context.Background(), frameBytes(t, hillnet.KindChat, "late")); !errors.Is(err, protocol.ErrRecipientGone) {
		t.Errorf("Send() after Stop error = %v, want ErrRecipientGone", err)
	}
}

func TestConnGracefulCloseFlushes(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()
	c := newConn(tcpLink{conn: server}, "pipe", NoRateLimit(), clock.Real(), metrics.New())

	kick := frameBytes(t, hillnet.KindKick, "bye")
	if err := c.Send(context.Background(), kick); err != nil {
		t.Fatal(err)
	}

	got := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(client)
		got <- data
	}()

	if err := c.Close(context.Background(), ReasonKicked); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if data := <-got; string(data) != string(kick) {
		t.Errorf("peer read %q, want the queued kick frame", data)
	}
	if c.Reason() != ReasonKicked {
		t.Errorf("Reason() = %v, want kicked", c.Reason())
	}
	if c.IsAlive() {
		t.Error("IsAlive() = true after Close")
	}
	if err := c.Close(context.Background(), ReasonIdle); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.Reason() != ReasonKicked {
		t.Errorf("Reason() changed to %v", c.Reason())
	}
}

func TestConnIDsAreUUIDs(t *testing.T) {
	t.Parallel()

	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		server, client := net.Pipe()
		c := newConn(tcpLink{conn: server}, "pipe", nil, clock.Real(), metrics.New())
		if len(c.ID()) != 36 {
			t.Errorf("ID length = %d, want 36", len(c.ID()))
		}
		if ids[c.ID()] {
			t.Errorf("duplicate ID %s", c.ID())
		}
		ids[c.ID()] = true
		c.Abort(ReasonRemote)
		client.Close()
	}
}

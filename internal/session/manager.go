// Package session runs the per-connection state machine: authentication, the
// ordered join sequence, inbound frame dispatch, the position throttle and
// teardown.
//
// Frames from one connection are handled strictly in arrival order on that
// connection's read loop. Sessions of different connections run in parallel
// and meet only in the world store and the registry.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/events"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/transport"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Conn is the connection a session speaks through. *transport.Conn
// satisfies it.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, frame []byte) error
	Close(ctx context.Context, reason transport.Reason) error
	Abort(reason transport.Reason)
	SetIdleTimeout(d time.Duration)
}

// AvatarLoader fetches a player's avatar. It runs off the join path.
type AvatarLoader interface {
	LoadAvatar(ctx context.Context, userID uint32) error
}

// Options are the gameplay switches that shape the join sequence.
type Options struct {
	MOTD             string
	ClientVersion    string // empty accepts any version
	MaxPlayers       int    // zero means unlimited
	DisableBricks    bool
	AssignRandomTeam bool
	PlayerSpawning   bool
	// AllowDuplicates lets one user id join more than once, as local
	// servers do.
	AllowDuplicates  bool
	IdleTimeout      time.Duration
	PositionThrottle time.Duration
}

// DefaultOptions mirror the defaults of a public server.
func DefaultOptions() Options {
	return Options{
		PlayerSpawning:   true,
		IdleTimeout:      30 * time.Second,
		PositionThrottle: 50 * time.Millisecond,
	}
}

// ChatEvent is a chat line a player sent.
type ChatEvent struct {
	Session *Session
	Message string
}

// CommandEvent is a slash command a player sent.
type CommandEvent struct {
	Session *Session
	Name    string
	Args    string
}

// AvatarEvent reports the end of an avatar load. Err is nil on success.
type AvatarEvent struct {
	Session *Session
	Err     error
}

// FrameEvent is a raw inbound frame of an Active session.
type FrameEvent struct {
	Session *Session
	Frame   protocol.Frame
}

// Events are the notifications the manager exposes to the scripting surface.
type Events struct {
	Joined       events.Emitter[*Session]
	InitialSpawn events.Emitter[*Session]
	Left         events.Emitter[*Session]
	Chat         events.Emitter[ChatEvent]
	Command      events.Emitter[CommandEvent]
	AvatarLoaded events.Emitter[AvatarEvent]
	Died         events.Emitter[*Session]
	Frame        events.Emitter[FrameEvent]
}

// Config wires a Manager to the rest of the server.
type Config struct {
	Store    *world.Store
	Registry *Registry
	Sync     *replicate.Sync
	Auth     Authenticator
	Avatars  AvatarLoader
	Options  Options
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Manager owns every session and is the transport's frame handler.
type Manager struct {
	store    *world.Store
	registry *Registry
	sync     *replicate.Sync
	auth     Authenticator
	avatars  AvatarLoader
	opts     Options
	clk      clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	Events Events

	conns sync.Map // conn id -> *Session

	// rosterMu orders roster exchanges against each other and against
	// departures.
	rosterMu sync.Mutex
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Auth == nil {
		cfg.Auth = &LocalAuthenticator{}
	}
	if cfg.Options.PositionThrottle <= 0 {
		cfg.Options.PositionThrottle = 50 * time.Millisecond
	}
	return &Manager{
		store:    cfg.Store,
		registry: cfg.Registry,
		sync:     cfg.Sync,
		auth:     cfg.Auth,
		avatars:  cfg.Avatars,
		opts:     cfg.Options,
		clk:      cfg.Clock,
		logger:   cfg.Logger.Named("session"),
		metrics:  cfg.Metrics,
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// Open starts a session for a new connection.
func (m *Manager) Open(c Conn) *Session {
	s := newSession(m, c)
	m.conns.Store(c.ID(), s)
	return s
}

// Frame routes one inbound frame to the connection's session.
func (m *Manager) Frame(c Conn, f protocol.Frame) {
	if s, ok := m.lookup(c); ok {
		s.handleFrame(f)
	}
}

// Closed runs the teardown of the connection's session.
func (m *Manager) Closed(c Conn, reason transport.Reason) {
	if s, ok := m.lookup(c); ok {
		m.conns.Delete(c.ID())
		s.teardown(reason)
	}
}

func (m *Manager) lookup(c Conn) (*Session, bool) {
	v, ok := m.conns.Load(c.ID())
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// OnOpen implements transport.Handler.
func (m *Manager) OnOpen(c *transport.Conn) { m.Open(c) }

// OnFrame implements transport.Handler.
func (m *Manager) OnFrame(c *transport.Conn, f protocol.Frame) { m.Frame(c, f) }

// OnClose implements transport.Handler.
func (m *Manager) OnClose(c *transport.Conn, reason transport.Reason) { m.Closed(c, reason) }

// KickAll kicks every joined session with the same message.
func (m *Manager) KickAll(ctx context.Context, message string) {
	for _, s := range m.registry.Sessions() {
		s.Kick(ctx, message)
	}
}

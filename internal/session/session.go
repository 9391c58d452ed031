package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/events"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/transport"
	"github.com/luciancaetano/hillnet/internal/world"
)

const kickTimeout = time.Second

// InputEvent is a key or mouse action from the client.
type InputEvent struct {
	Session   *Session
	MouseDown bool
	Key       string
}

// Session is the server side of one connected player.
type Session struct {
	m    *Manager
	conn Conn
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	netID  atomic.Uint32
	player *world.Player

	counted  bool        // counted in metrics.Sessions, guarded by mu
	rostered atomic.Bool // the player has swapped rosters with the others

	throttle throttle
	timers   world.Timers
	subs     events.Group

	frameMu   sync.Mutex
	frameSubs map[uint8]*events.Emitter[protocol.Frame]

	// Input fires for key and mouse input frames.
	Input events.Emitter[InputEvent]
}

func newSession(m *Manager, c Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		m:         m,
		conn:      c,
		log:       m.logger.With(zap.String("conn_id", c.ID())),
		ctx:       ctx,
		cancel:    cancel,
		frameSubs: make(map[uint8]*events.Emitter[protocol.Frame]),
	}
}

// NetID is the id other players know this session by. It is zero until the
// session authenticates.
func (s *Session) NetID() uint32 { return s.netID.Load() }

// Player returns the world-side player, or nil before authentication.
func (s *Session) Player() *world.Player { return s.player }

func (s *Session) ConnID() string { return s.conn.ID() }

func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// Context is cancelled when the session tears down.
func (s *Session) Context() context.Context { return s.ctx }

// SendFrame implements protocol.Recipient.
func (s *Session) SendFrame(ctx context.Context, frame []byte) error {
	if st := s.State(); st >= Disconnecting {
		return fmt.Errorf("session %d %s: %w", s.NetID(), st, protocol.ErrRecipientGone)
	}
	return s.conn.Send(ctx, frame)
}

func (s *Session) send(ctx context.Context, pkt *protocol.Packet, err error) error {
	if err != nil {
		return err
	}
	return pkt.Send(ctx, s)
}

// Track ties a timer to the session; it is stopped at teardown.
func (s *Session) Track(t clock.Timer) (stop func()) {
	return s.timers.Track(t)
}

// Own ties a subscription to the session; it is disconnected at teardown.
func (s *Session) Own(sub hillnet.Subscription) hillnet.Subscription {
	return s.subs.Add(sub)
}

// OnFrame subscribes to raw inbound frames of one kind. Handlers run on the
// session's read loop, after built-in handling.
func (s *Session) OnFrame(kind uint8, fn func(protocol.Frame)) hillnet.Subscription {
	s.frameMu.Lock()
	e, ok := s.frameSubs[kind]
	if !ok {
		e = &events.Emitter[protocol.Frame]{}
		s.frameSubs[kind] = e
	}
	s.frameMu.Unlock()
	return s.subs.Add(e.Subscribe(fn))
}

func (s *Session) handleFrame(f protocol.Frame) {
	switch s.State() {
	case Connecting:
		if f.Kind != hillnet.KindClientAuthentication {
			s.Kick(s.ctx, "Expected authentication.")
			return
		}
		s.authenticate(f)
		return
	case Active:
	default:
		// Authenticating and Joining finish inside the authentication frame;
		// anything else is a closing session.
		return
	}

	var err error
	switch f.Kind {
	case hillnet.KindClientPosition:
		err = s.handlePosition(f)
	case hillnet.KindClientCommand:
		err = s.handleCommand(f)
	case hillnet.KindClientClick:
		err = s.handleClick(f)
	case hillnet.KindClientInput:
		err = s.handleInput(f)
	case hillnet.KindClientHeartbeat:
	case hillnet.KindClientAuthentication:
		err = errors.New("repeated authentication")
	default:
		s.log.Debug("unhandled kind", zap.Uint8("kind", f.Kind))
	}
	if err != nil {
		s.log.Warn("bad frame", zap.Uint8("kind", f.Kind), zap.Error(err))
		return
	}

	s.frameMu.Lock()
	e := s.frameSubs[f.Kind]
	s.frameMu.Unlock()
	if e != nil {
		e.Emit(f)
	}
	s.m.Events.Frame.Emit(FrameEvent{Session: s, Frame: f})
}

func (s *Session) authenticate(f protocol.Frame) {
	if err := s.transition(Authenticating); err != nil {
		return
	}
	creds, err := ReadCredentials(f)
	if err != nil {
		s.Kick(s.ctx, "Invalid authentication packet.")
		return
	}
	creds.RemoteAddr = s.conn.RemoteAddr()

	opts := s.m.opts
	if opts.ClientVersion != "" && creds.Version != opts.ClientVersion {
		s.Kick(s.ctx, "Your client is out of date.")
		return
	}
	if opts.MaxPlayers > 0 && s.m.registry.Len() >= opts.MaxPlayers {
		s.Kick(s.ctx, "Server is full.")
		return
	}

	id, err := s.m.auth.Authenticate(s.ctx, creds)
	if err != nil {
		s.log.Info("authentication failed", zap.Error(err))
		s.Kick(s.ctx, "Authentication failed.")
		return
	}
	if !opts.AllowDuplicates {
		if _, dup := s.m.registry.ByUserID(id.UserID); dup {
			s.Kick(s.ctx, "You are already in this game.")
			return
		}
	}

	netID := world.NextID()
	s.netID.Store(netID)
	s.player = world.NewPlayer(netID, id)
	s.log = s.log.With(zap.Uint32("net_id", netID), zap.Uint32("user_id", id.UserID))
	if err := s.transition(Joining); err != nil {
		return
	}
	s.m.registry.add(s)
	s.log.Info("authenticated", zap.String("username", id.Username))

	s.join(s.ctx)
}

func (s *Session) handleCommand(f protocol.Frame) error {
	r := f.Reader()
	name, args := r.String(), r.String()
	if err := r.Err(); err != nil {
		return err
	}

	if name != "chat" {
		s.m.Events.Command.Emit(CommandEvent{Session: s, Name: name, Args: args})
		return nil
	}

	message := strings.TrimSpace(args)
	if message == "" {
		return nil
	}
	if s.player.State().Muted {
		return s.Message(s.ctx, "You are muted.")
	}
	// Scripts that listen for chat take over formatting and delivery.
	if s.m.Events.Chat.Len() > 0 {
		s.m.Events.Chat.Emit(ChatEvent{Session: s, Message: message})
		return nil
	}
	return s.m.sync.Chat(s.ctx, s.player, fmt.Sprintf("%s: %s", s.player.Username(), message))
}

func (s *Session) handleClick(f protocol.Frame) error {
	r := f.Reader()
	brickID := r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	b, ok := s.m.store.Brick(brickID)
	if !ok {
		return nil
	}
	if b.Local() && b.Owner() != s.NetID() {
		return nil
	}
	bs := b.State()
	if !bs.Clickable {
		return nil
	}
	if s.player.State().Position.Distance(bs.Position) > bs.ClickDistance {
		return nil
	}
	b.Clicked.Emit(world.TouchEvent{Brick: b, Player: s.player})
	return nil
}

func (s *Session) handleInput(f protocol.Frame) error {
	r := f.Reader()
	ev := InputEvent{Session: s, MouseDown: r.Bool(), Key: r.String()}
	if err := r.Err(); err != nil {
		return err
	}
	s.Input.Emit(ev)

	if ev.MouseDown {
		if equipped := s.player.State().Equipped; equipped != 0 {
			if t, ok := s.m.store.Tool(equipped); ok {
				t.Activated.Emit(world.ToolEvent{Tool: t, Player: s.player})
			}
		}
	}
	return nil
}

// Kick sends a final message and closes the connection once it is flushed.
func (s *Session) Kick(ctx context.Context, message string) error {
	if err := s.transition(Disconnecting); err != nil {
		return err
	}
	s.m.metrics.Kicks.Add(1)
	s.log.Info("kicked", zap.String("message", message))

	ctx, cancel := context.WithTimeout(ctx, kickTimeout)
	defer cancel()
	if pkt, err := replicate.Kick(message); err == nil {
		s.conn.Send(ctx, pkt.Bytes())
	}
	return s.conn.Close(ctx, transport.ReasonKicked)
}

// teardown runs once, when the connection is gone. It removes the player from
// the world, cancels timers, releases subscriptions, tells the others and
// finally reports the departure.
func (s *Session) teardown(reason transport.Reason) {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return
	}
	s.state = Disconnecting
	counted := s.counted
	s.counted = false
	s.mu.Unlock()

	s.cancel()
	ctx := context.Background()
	p := s.player

	if p != nil {
		s.leaveRoster(ctx)
		for _, b := range s.m.store.LocalBricks(p.NetID()) {
			s.m.store.DestroyBrick(b)
		}
		if equipped := p.State().Equipped; equipped != 0 {
			if t, ok := s.m.store.Tool(equipped); ok {
				t.Release(p.NetID())
			}
		}
	}

	s.timers.CancelAll()
	s.subs.DisconnectAll()
	s.Input.Clear()

	if p != nil {
		p.Destroy()
	}

	s.mu.Lock()
	s.state = Terminated
	s.mu.Unlock()

	if counted {
		s.m.metrics.Sessions.Add(-1)
	}
	s.log.Info("disconnected", zap.Stringer("reason", reason))
	if p != nil {
		s.m.Events.Left.Emit(s)
	}
}

// leaveRoster removes the player from the registry and the store and tells
// every session that has seen the roster, joining ones included, that it left.
func (s *Session) leaveRoster(ctx context.Context) {
	m, id := s.m, s.NetID()
	m.rosterMu.Lock()
	defer m.rosterMu.Unlock()

	m.registry.remove(s)
	if _, err := m.store.RemovePlayer(id); err != nil && !errors.Is(err, world.ErrNotFound) {
		s.log.Warn("remove player", zap.Error(err))
	}
	if !s.rostered.Load() {
		return
	}
	if err := m.sync.PlayerRemoved(ctx, m.registry.Rostered(), id); err != nil {
		s.log.Warn("broadcast removal", zap.Error(err))
	}
}

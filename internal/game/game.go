// Package game assembles a running server from its components and exposes the
// surface scripts program against. A Game is constructed explicitly and
// passed around; nothing in the server reaches for a global.
package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/config"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/profile"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/proximity"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/session"
	"github.com/luciancaetano/hillnet/internal/transport"
	"github.com/luciancaetano/hillnet/internal/world"
)

var _ hillnet.Server = (*Game)(nil)

// ShutdownFn is the hook run once when the game shuts down.
type ShutdownFn func(ctx context.Context) error

// Options are the collaborators a Game is built with. Nil fields get
// defaults.
type Options struct {
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Profile overrides the client built from the profile settings.
	Profile *profile.Client
}

// Game owns the world and every component that serves it.
type Game struct {
	cfg     config.Config
	clk     clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	store    *world.Store
	registry *session.Registry
	sync     *replicate.Sync
	sessions *session.Manager
	detector *proximity.Detector
	server   *transport.Server
	profile  *profile.Client

	// Timers owned by the game itself rather than an entity.
	timers world.Timers

	// Teams and tools the current map brought in, replaced by the next map.
	mapMu    sync.Mutex
	mapTeams []*world.Team
	mapTools []*world.Tool

	hookMu   sync.Mutex
	hook     ShutdownFn
	shutOnce sync.Once
	shutErr  error
}

// New wires a game from cfg. It does not bind any listener.
func New(cfg config.Config, opts Options) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	g := &Game{
		cfg:      cfg,
		clk:      opts.Clock,
		logger:   opts.Logger.Named("game"),
		metrics:  opts.Metrics,
		store:    world.NewStore(),
		registry: session.NewRegistry(),
		profile:  opts.Profile,
	}

	if g.profile == nil && cfg.Profile.BaseURL != "" {
		pcfg := cfg.Profile
		if pcfg.HostKey == "" {
			pcfg.HostKey = cfg.HostKey
		}
		client, err := profile.New(pcfg, opts.Logger)
		if err != nil {
			return nil, err
		}
		g.profile = client
	}

	var assets protocol.AssetResolver
	var avatars session.AvatarLoader
	if g.profile != nil {
		assets = g.profile
		avatars = g.profile
	}
	g.sync = replicate.New(g.store, g.registry, assets, opts.Logger)

	var auth session.Authenticator = &session.LocalAuthenticator{}
	if !cfg.Local {
		if g.profile == nil {
			return nil, errors.New("game: a public server needs a profile service")
		}
		auth = session.ServiceAuthenticator{Verify: g.profile.VerifyToken}
	}

	g.sessions = session.NewManager(session.Config{
		Store:    g.store,
		Registry: g.registry,
		Sync:     g.sync,
		Auth:     auth,
		Avatars:  avatars,
		Options: session.Options{
			MOTD:             cfg.MOTD,
			ClientVersion:    cfg.ClientVersion,
			MaxPlayers:       cfg.MaxPlayers,
			DisableBricks:    cfg.DisableBricks,
			AssignRandomTeam: cfg.AssignRandomTeam,
			PlayerSpawning:   cfg.PlayerSpawning,
			AllowDuplicates:  cfg.Local,
			IdleTimeout:      cfg.IdleTimeout,
			PositionThrottle: cfg.PositionThrottle,
		},
		Clock:   g.clk,
		Logger:  opts.Logger,
		Metrics: g.metrics,
	})

	g.detector = proximity.New(g.store, g.registry, proximity.Config{
		Period:  cfg.TouchScanInterval,
		Clock:   g.clk,
		Logger:  opts.Logger,
		Metrics: g.metrics,
	})

	rl := transport.NoRateLimit()
	if cfg.RateLimit.Enabled {
		rl = &transport.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Enabled:           true,
		}
	}
	g.server = transport.New(&transport.ServerConfig{
		Addr: cfg.Addr(),
		WebSocket: transport.WebSocketConfig{
			Enabled: cfg.WebSocket.Enabled,
			Addr:    cfg.WebSocket.Addr,
			Path:    cfg.WebSocket.Path,
		},
		RateLimitConfig: rl,
		AuthTimeout:     cfg.AuthTimeout,
		ClientsOnly:     cfg.ClientsOnly,
		Signature: func(f protocol.Frame) bool {
			_, err := session.ReadCredentials(f)
			return err == nil
		},
		Clock:   g.clk,
		Logger:  opts.Logger,
		Metrics: g.metrics,
	}, g.sessions)
	if cfg.WebSocket.Metrics {
		g.server.Handle("/metrics", g.metrics.Handler())
	}
	return g, nil
}

// Start binds the listeners and begins accepting players.
func (g *Game) Start(ctx context.Context) error {
	if err := g.server.Start(ctx); err != nil {
		return err
	}
	g.logger.Info("game started",
		zap.Stringer("addr", g.server.Addr()),
		zap.Bool("local", g.cfg.Local),
		zap.Int("bricks", len(g.store.Bricks())),
	)
	return nil
}

// Stop closes the listeners and tears down every session.
func (g *Game) Stop(ctx context.Context) error {
	err := g.server.Stop(ctx)
	g.detector.Stop()
	g.timers.CancelAll()
	return err
}

// OnShutdown sets the hook Shutdown runs. A later call replaces the hook.
func (g *Game) OnShutdown(fn ShutdownFn) {
	g.hookMu.Lock()
	g.hook = fn
	g.hookMu.Unlock()
}

// Shutdown runs the shutdown hook, waits for it until ctx expires and stops
// the game. Only the first call does any work; later calls return its result.
func (g *Game) Shutdown(ctx context.Context) error {
	g.shutOnce.Do(func() {
		g.hookMu.Lock()
		hook := g.hook
		g.hookMu.Unlock()

		var errs []error
		if hook != nil {
			done := make(chan error, 1)
			go func() { done <- hook(ctx) }()
			select {
			case err := <-done:
				if err != nil {
					errs = append(errs, fmt.Errorf("shutdown hook: %w", err))
				}
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("shutdown hook: %w", ctx.Err()))
			}
		}
		if err := g.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		g.shutErr = errors.Join(errs...)
		g.logger.Info("game shut down", zap.Error(g.shutErr))
	})
	return g.shutErr
}

// Addr is the bound TCP address, nil before Start.
func (g *Game) Addr() net.Addr { return g.server.Addr() }

// WebSocketAddr is the bound WebSocket address, nil when disabled.
func (g *Game) WebSocketAddr() net.Addr { return g.server.WebSocketAddr() }

func (g *Game) Config() config.Config { return g.cfg }

func (g *Game) Store() *world.Store { return g.store }

func (g *Game) Metrics() *metrics.Metrics { return g.metrics }

func (g *Game) Clock() clock.Clock { return g.clk }

func (g *Game) Logger() *zap.Logger { return g.logger }

// Profile is the profile service client, nil when none is configured.
func (g *Game) Profile() *profile.Client { return g.profile }

// Players returns the Active sessions in join order.
func (g *Game) Players() []*session.Session { return g.registry.Active() }

// Player returns the joined session with the given net id.
func (g *Game) Player(netID uint32) (*session.Session, bool) { return g.registry.Get(netID) }

// PlayerByUserID returns the joined session of a user.
func (g *Game) PlayerByUserID(userID uint32) (*session.Session, bool) {
	return g.registry.ByUserID(userID)
}

// Announce sends a server chat line to every player.
func (g *Game) Announce(ctx context.Context, message string) error {
	return g.sync.Announce(ctx, message)
}

// KickAll kicks every joined player.
func (g *Game) KickAll(ctx context.Context, message string) {
	g.sessions.KickAll(ctx, message)
}

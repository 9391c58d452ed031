package game

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/config"
	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/maploader"
	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/session"
	"github.com/luciancaetano/hillnet/internal/transport"
	"github.com/luciancaetano/hillnet/internal/world"
)

const testMap = maploader.Header + `

0 0 0
0 0 0
0 0 0
100
400

1 2 3 4 4 1 1 1 1 1
	+NAME floor
10 10 0 2 2 1 0 0 1 1
	+SHAPE spawnpoint
>TEAM Red
	+COLOR 1 0 0
`

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Port = 0
	cfg.RateLimit.Enabled = false
	return cfg
}

func startGame(t *testing.T, cfg config.Config) *Game {
	t.Helper()
	g, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.Shutdown(ctx)
	})
	return g
}

// client is a raw protocol client over loopback TCP.
type client struct {
	t    *testing.T
	conn net.Conn
	ra   transport.Reassembler
	buf  []protocol.Frame
}

func dial(t *testing.T, g *Game) *client {
	t.Helper()
	port := g.Addr().(*net.TCPAddr).Port
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(b *protocol.Builder) {
	c.t.Helper()
	pkt, err := b.Build()
	require.NoError(c.t, err)
	_, err = c.conn.Write(pkt.Bytes())
	require.NoError(c.t, err)
}

func (c *client) auth() {
	c.send(protocol.NewBuilder(hillnet.KindClientAuthentication).String("").String(""))
}

// next returns the next frame, reading from the socket as needed.
func (c *client) next() (protocol.Frame, error) {
	for len(c.buf) == 0 {
		c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		chunk := make([]byte, 4096)
		n, err := c.conn.Read(chunk)
		if err != nil {
			return protocol.Frame{}, err
		}
		frames, err := c.ra.Feed(chunk[:n])
		if err != nil {
			return protocol.Frame{}, err
		}
		c.buf = append(c.buf, frames...)
	}
	f := c.buf[0]
	c.buf = c.buf[1:]
	return f, nil
}

// await skips frames until one of kind arrives.
func (c *client) await(kind uint8) protocol.Frame {
	c.t.Helper()
	for {
		f, err := c.next()
		require.NoError(c.t, err, "waiting for kind %d", kind)
		if f.Kind == kind {
			return f
		}
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestNewPublicServerNeedsProfile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Local = false
	cfg.HostKey = "key"
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestJoinOverLoopback(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MOTD = "Welcome"
	g := startGame(t, cfg)

	path := filepath.Join(t.TempDir(), "base.brk")
	require.NoError(t, os.WriteFile(path, []byte(testMap), 0o644))
	m, err := g.LoadMap(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, m.Bricks, 2)
	require.Len(t, g.Store().Teams(), 1)

	spawned := make(chan *session.Session, 1)
	g.OnInitialSpawn(func(s *session.Session) { spawned <- s })

	c := dial(t, g)
	c.auth()
	f := c.await(hillnet.KindAuthentication)
	r := f.Reader()
	netID, bricks := r.U32(), r.U32()
	require.NoError(t, r.Err())
	assert.EqualValues(t, 2, bricks)

	s := waitFor(t, spawned)
	assert.Equal(t, netID, s.NetID())
	assert.Equal(t, session.Active, s.State())
	assert.Equal(t, geom.V(11, 11, 1), s.Player().State().Position)

	c.await(hillnet.KindSendBricks)
	c.await(hillnet.KindTeam)
	assert.Len(t, g.Players(), 1)
}

func TestCommandsAndChat(t *testing.T) {
	t.Parallel()

	g := startGame(t, testConfig())
	spawned := make(chan *session.Session, 1)
	g.OnInitialSpawn(func(s *session.Session) { spawned <- s })

	g.Command("ping", func(s *session.Session, args string) {
		s.Message(s.Context(), "pong "+args)
	})
	chats := make(chan session.ChatEvent, 1)

	c := dial(t, g)
	c.auth()
	waitFor(t, spawned)

	c.send(protocol.NewBuilder(hillnet.KindClientCommand).String("ping").String("42"))
	for {
		f := c.await(hillnet.KindChat)
		if f.Reader().String() == "pong 42" {
			break
		}
	}

	sub := g.OnChat(func(ev session.ChatEvent) { chats <- ev })
	c.send(protocol.NewBuilder(hillnet.KindClientCommand).String("chat").String("  hi there "))
	ev := waitFor(t, chats)
	assert.Equal(t, "hi there", ev.Message)
	assert.True(t, sub.Disconnect())
}

func TestWorldMutationsReachPlayers(t *testing.T) {
	t.Parallel()

	g := startGame(t, testConfig())
	spawned := make(chan *session.Session, 1)
	g.OnInitialSpawn(func(s *session.Session) { spawned <- s })

	c := dial(t, g)
	c.auth()
	s := waitFor(t, spawned)
	ctx := context.Background()

	b, err := g.AddBrick(ctx, world.DefaultBrickState())
	require.NoError(t, err)
	f := c.await(hillnet.KindSendBricks)
	assert.NotEmpty(t, f.Payload)

	require.NoError(t, g.SetBrickColor(ctx, b, geom.RGB(1, 2, 3)))
	f = c.await(hillnet.KindBrick)
	r := f.Reader()
	assert.Equal(t, b.ID(), r.U32())
	assert.Equal(t, "col", r.String())

	local, err := g.NewBrickFor(ctx, s, world.DefaultBrickState())
	require.NoError(t, err)
	assert.True(t, local.Local())
	c.await(hillnet.KindSendBricks)

	require.NoError(t, g.DestroyBrick(ctx, b))
	f = c.await(hillnet.KindDeleteBrick)
	assert.Equal(t, b.ID(), f.Reader().U32())
	assert.ErrorIs(t, g.DestroyBrick(ctx, b), world.ErrDestroyed)

	_, err = g.AddTeam(ctx, "Blue", geom.RGB(0, 0, 255))
	require.NoError(t, err)
	c.await(hillnet.KindTeam)

	tool, err := g.NewTool(ctx, "Sword", 7)
	require.NoError(t, err)
	c.await(hillnet.KindTool)
	assert.True(t, s.Player().HasTool(tool.ID()))

	require.NoError(t, g.SetEnvironment(ctx, func(e *world.Environment) { e.Weather = world.WeatherRain }))
	c.await(hillnet.KindEnvironment)
	assert.Equal(t, world.WeatherRain, g.Store().Environment().Weather)

	_, err = g.PlaySound(ctx, world.SoundState{Asset: 9})
	assert.Error(t, err, "no asset resolver on a local server")
	assert.Empty(t, g.Store().Sounds())

	require.NoError(t, g.ClearMap(ctx))
	c.await(hillnet.KindClearMap)
	assert.Len(t, g.Store().Bricks(), 1, "local bricks survive a clear")
}

func TestDestroyToolAndTeam(t *testing.T) {
	t.Parallel()

	g := startGame(t, testConfig())
	spawned := make(chan *session.Session, 1)
	g.OnInitialSpawn(func(s *session.Session) { spawned <- s })

	c := dial(t, g)
	c.auth()
	s := waitFor(t, spawned)
	ctx := context.Background()

	tool, err := g.NewTool(ctx, "Sword", 7)
	require.NoError(t, err)
	c.await(hillnet.KindTool)
	require.NoError(t, s.EquipTool(ctx, tool))
	require.Equal(t, s.NetID(), tool.Holder())

	require.NoError(t, g.DestroyTool(ctx, tool))
	r := c.await(hillnet.KindTool).Reader()
	assert.Equal(t, tool.ID(), r.U32())
	assert.False(t, r.Bool(), "removed from the inventory")
	assert.False(t, s.Player().HasTool(tool.ID()))
	assert.Zero(t, s.Player().State().Equipped)
	assert.Zero(t, tool.Holder())
	assert.Empty(t, g.Store().Tools())
	assert.ErrorIs(t, g.DestroyTool(ctx, tool), world.ErrDestroyed)

	team, err := g.AddTeam(ctx, "Blue", geom.RGB(0, 0, 255))
	require.NoError(t, err)
	c.await(hillnet.KindTeam)
	require.NoError(t, s.SetTeam(ctx, team))
	require.Equal(t, team.ID(), s.Player().State().TeamID)

	require.NoError(t, g.DestroyTeam(ctx, team))
	assert.Equal(t, team.ID(), c.await(hillnet.KindDeleteTeam).Reader().U32())
	assert.Zero(t, s.Player().State().TeamID)
	assert.Empty(t, g.Store().Teams())
	assert.ErrorIs(t, g.DestroyTeam(ctx, team), world.ErrDestroyed)
}

func TestLoadMapReplacesMapTeamsAndTools(t *testing.T) {
	t.Parallel()

	g := startGame(t, testConfig())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "base.brk")
	require.NoError(t, os.WriteFile(path, []byte(testMap+">SLOT Hammer\n"), 0o644))

	scripted, err := g.AddTeam(ctx, "Scripted", geom.RGB(0, 255, 0))
	require.NoError(t, err)

	first, err := g.LoadMap(ctx, path)
	require.NoError(t, err)
	require.Len(t, first.Tools, 1)

	second, err := g.LoadMap(ctx, path)
	require.NoError(t, err)

	teams := g.Store().Teams()
	require.Len(t, teams, 2)
	assert.Equal(t, scripted.ID(), teams[0].ID())
	assert.Equal(t, second.Teams[0].ID(), teams[1].ID())
	assert.True(t, first.Teams[0].Destroyed())

	tools := g.Store().Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, second.Tools[0].ID(), tools[0].ID())
	assert.True(t, first.Tools[0].Destroyed())
	assert.Len(t, g.Store().Bricks(), 2)
}

func TestTimersFollowOwner(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	g, err := New(testConfig(), Options{Clock: clk})
	require.NoError(t, err)

	b := world.NewBrick(world.DefaultBrickState())
	require.NoError(t, g.Store().AddBrick(b))

	var ticks, gameTicks, fired int
	g.SetInterval(b, time.Second, func() { ticks++ })
	stopGame := g.SetInterval(nil, time.Second, func() { gameTicks++ })
	g.SetTimeout(nil, 1500*time.Millisecond, func() { fired++ })

	clk.Advance(2 * time.Second)
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 2, gameTicks)
	assert.Equal(t, 1, fired)

	require.NoError(t, g.DestroyBrick(context.Background(), b))
	stopGame()
	clk.Advance(3 * time.Second)
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 2, gameTicks)
}

func TestShutdownRunsHookOnce(t *testing.T) {
	t.Parallel()

	g := startGame(t, testConfig())
	var calls int
	g.OnShutdown(func(ctx context.Context) error {
		calls++
		return errors.New("flush failed")
	})

	spawned := make(chan *session.Session, 1)
	g.OnInitialSpawn(func(s *session.Session) { spawned <- s })
	c := dial(t, g)
	c.auth()
	waitFor(t, spawned)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := g.Shutdown(ctx)
	assert.ErrorContains(t, err, "flush failed")
	assert.Equal(t, err, g.Shutdown(ctx))
	assert.Equal(t, 1, calls)

	for {
		if _, err := c.next(); err != nil {
			break
		}
	}
	assert.Empty(t, g.Players())
}

func TestShutdownHookTimesOut(t *testing.T) {
	t.Parallel()

	g, err := New(testConfig(), Options{})
	require.NoError(t, err)
	release := make(chan struct{})
	defer close(release)
	g.OnShutdown(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Shutdown(ctx), context.DeadlineExceeded)
}

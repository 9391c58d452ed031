package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/config"
	"github.com/luciancaetano/hillnet/internal/game"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/session"
)

func startGame(t *testing.T, mutate func(*config.Config)) *game.Game {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0
	cfg.RateLimit.Enabled = false
	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Addr = "127.0.0.1:0"
	cfg.WebSocket.Metrics = true
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := game.New(cfg, game.Options{})
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.Shutdown(ctx)
	})
	return g
}

func tcpAddr(g *game.Game) string {
	return fmt.Sprintf("127.0.0.1:%d", g.Addr().(*net.TCPAddr).Port)
}

type dialFn func(ctx context.Context, g *game.Game) (*Client, error)

var transports = []struct {
	name string
	dial dialFn
}{
	{"tcp", func(ctx context.Context, g *game.Game) (*Client, error) {
		return Dial(ctx, tcpAddr(g))
	}},
	{"websocket", func(ctx context.Context, g *game.Game) (*Client, error) {
		return DialWebSocket(ctx, "ws://"+g.WebSocketAddr().String()+"/ws")
	}},
}

func join(t *testing.T, ctx context.Context, g *game.Game, dial dialFn) (*Client, uint32) {
	t.Helper()
	c, err := dial(ctx, g)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Authenticate(ctx, "", ""))
	f, err := c.Await(ctx, hillnet.KindAuthentication)
	require.NoError(t, err)
	netID := f.Reader().U32()
	require.Eventually(t, func() bool {
		s, ok := g.Player(netID)
		return ok && s.State() == session.Active
	}, 2*time.Second, 10*time.Millisecond)
	return c, netID
}

func TestChatBetweenClients(t *testing.T) {
	t.Parallel()

	for _, tr := range transports {
		tr := tr
		t.Run(tr.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			g := startGame(t, nil)
			a, aID := join(t, ctx, g, tr.dial)
			b, _ := join(t, ctx, g, tr.dial)

			require.NoError(t, a.Chat(ctx, "hello"))
			sa, _ := g.Player(aID)
			want := sa.Player().Username() + ": hello"
			for {
				f, err := b.Await(ctx, hillnet.KindChat)
				require.NoError(t, err)
				if f.Reader().String() == want {
					break
				}
			}
		})
	}
}

func TestMovementIsRelayed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g := startGame(t, nil)
	a, aID := join(t, ctx, g, transports[0].dial)
	b, _ := join(t, ctx, g, transports[1].dial)

	require.NoError(t, a.Move(ctx, 5, 6, 7, 90, 0))
	for {
		f, err := b.Await(ctx, hillnet.KindFigure)
		require.NoError(t, err)
		r := f.Reader()
		if r.U32() != aID {
			continue
		}
		if tags := r.String(); strings.HasPrefix(tags, "A") && r.F32() == 5 {
			break
		}
	}
	s, _ := g.Player(aID)
	assert.EqualValues(t, 5, s.Player().State().Position.X)
}

func TestServerFullKicks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g := startGame(t, func(c *config.Config) { c.MaxPlayers = 1 })
	join(t, ctx, g, transports[0].dial)

	c, err := Dial(ctx, tcpAddr(g))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Authenticate(ctx, "", ""))
	f, err := c.Await(ctx, hillnet.KindKick)
	require.NoError(t, err)
	assert.Equal(t, "Server is full.", f.Reader().String())

	_, err = c.Await(ctx, hillnet.KindKick)
	assert.Error(t, err, "connection closes after the kick")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g := startGame(t, nil)
	join(t, ctx, g, transports[0].dial)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+g.WebSocketAddr().String()+"/metrics", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.EqualValues(t, 1, snap.Sessions)
	assert.GreaterOrEqual(t, snap.FramesIn, uint64(1))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	g := startGame(t, nil)
	c, err := Dial(context.Background(), tcpAddr(g))
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Heartbeat(context.Background()), ErrClosed)
}

// Package proximity detects players touching bricks. It is an axis-aligned
// overlap test run on a fixed period while any brick listens for touches.
package proximity

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/world"
)

const (
	DefaultPeriod = 100 * time.Millisecond
	// Slop is added to the combined extents on every axis.
	Slop = 0.4
	// HeightScale turns a player's z scale into its approximate height.
	HeightScale = 5
)

// Actors resolves the players a scan tests against.
type Actors interface {
	ActivePlayers() []*world.Player
	ActivePlayer(netID uint32) (*world.Player, bool)
}

// Detector owns the touching sets. Only Scan reads or writes them.
type Detector struct {
	store   *world.Store
	actors  Actors
	clk     clock.Clock
	period  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	stopped bool
	timer   clock.Timer

	scanMu   sync.Mutex
	touching map[uint32]map[uint32]*world.Player // brick id -> net id -> player
}

// Config wires a Detector. Zero values take the defaults.
type Config struct {
	Period  time.Duration
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func New(store *world.Store, actors Actors, cfg Config) *Detector {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Detector{
		store:    store,
		actors:   actors,
		clk:      cfg.Clock,
		period:   cfg.Period,
		logger:   cfg.Logger.Named("proximity"),
		metrics:  cfg.Metrics,
		touching: make(map[uint32]map[uint32]*world.Player),
	}
}

// Wake starts the periodic scan if it is not running. Call it whenever a
// brick gains a touch listener.
func (d *Detector) Wake() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}
	d.running = true
	d.timer = d.clk.AfterFunc(d.period, d.tick)
	d.logger.Debug("scan started")
}

// Running reports whether a scan is scheduled.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stop cancels the scan for good.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.running = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) tick() {
	more := d.Scan()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	if !more {
		d.running = false
		d.timer = nil
		d.logger.Debug("scan idle")
		return
	}
	d.timer = d.clk.AfterFunc(d.period, d.tick)
}

type edge struct {
	brick  *world.Brick
	player *world.Player
	start  bool
}

// Scan runs one detection cycle and reports whether any touch-sensitive
// brick remains. Events fire after the cycle, in brick order.
func (d *Detector) Scan() bool {
	d.scanMu.Lock()
	bricks := d.store.TouchSensitiveBricks()
	live := make(map[uint32]struct{}, len(bricks))
	var edges []edge

	for _, b := range bricks {
		live[b.ID()] = struct{}{}
		set := d.touching[b.ID()]
		if set == nil {
			set = make(map[uint32]*world.Player)
			d.touching[b.ID()] = set
		}
		bs := b.State()
		candidates := d.candidates(b)

		seen := make(map[uint32]struct{}, len(candidates))
		for _, p := range candidates {
			seen[p.NetID()] = struct{}{}
			pos, scale, alive := p.Bounds()
			now := alive && Touches(bs.Position, bs.Scale, pos, scale)
			_, was := set[p.NetID()]
			switch {
			case now && !was:
				set[p.NetID()] = p
				edges = append(edges, edge{brick: b, player: p, start: true})
			case !now && was:
				delete(set, p.NetID())
				edges = append(edges, edge{brick: b, player: p})
			}
		}
		// Players that left or were destroyed end their touch too.
		for id, p := range set {
			if _, ok := seen[id]; !ok {
				delete(set, id)
				edges = append(edges, edge{brick: b, player: p})
			}
		}
	}
	for id := range d.touching {
		if _, ok := live[id]; !ok {
			delete(d.touching, id)
		}
	}
	d.scanMu.Unlock()

	for _, e := range edges {
		ev := world.TouchEvent{Brick: e.brick, Player: e.player}
		if e.start {
			d.metrics.TouchEvents.Add(1)
			e.brick.Touching.Emit(ev)
		} else {
			e.brick.TouchingEnded.Emit(ev)
		}
	}
	return len(bricks) > 0
}

func (d *Detector) candidates(b *world.Brick) []*world.Player {
	if b.Local() {
		if p, ok := d.actors.ActivePlayer(b.Owner()); ok {
			return []*world.Player{p}
		}
		return nil
	}
	return d.actors.ActivePlayers()
}

// Touching reports the net ids currently touching a brick.
func (d *Detector) Touching(brickID uint32) []uint32 {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()
	var out []uint32
	for id := range d.touching[brickID] {
		out = append(out, id)
	}
	return out
}

// Touches is the overlap test between a brick centred on brickPos and a
// player standing at actorPos.
func Touches(brickPos, brickScale, actorPos, actorScale geom.Vector3) bool {
	height := actorScale.Z * HeightScale
	actorCentre := geom.V(actorPos.X, actorPos.Y, actorPos.Z+height/2)
	actorHalf := geom.V(actorScale.X, actorScale.Y, height/2)
	brickHalf := brickScale.Scale(0.5)

	return math.Abs(brickPos.X-actorCentre.X) <= brickHalf.X+actorHalf.X+Slop &&
		math.Abs(brickPos.Y-actorCentre.Y) <= brickHalf.Y+actorHalf.Y+Slop &&
		math.Abs(brickPos.Z-actorCentre.Z) <= brickHalf.Z+actorHalf.Z+Slop
}

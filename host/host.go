// Package host is the public entry point for running a game server and
// scripting it.
package host

import (
	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/config"
	"github.com/luciancaetano/hillnet/internal/game"
	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/logging"
	"github.com/luciancaetano/hillnet/internal/maploader"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/session"
	"github.com/luciancaetano/hillnet/internal/world"
)

type Config = config.Config
type LogConfig = logging.Config
type Game = game.Game
type ShutdownFn = game.ShutdownFn
type Map = maploader.Map

// MalformedMapError lists the map lines that were skipped during a load.
type MalformedMapError = maploader.MalformedError

type Subscription = hillnet.Subscription

type Player = session.Session
type ChatEvent = session.ChatEvent
type AvatarEvent = session.AvatarEvent
type FrameEvent = session.FrameEvent
type InputEvent = session.InputEvent

type Brick = world.Brick
type BrickState = world.BrickState
type BrickAttr = replicate.BrickAttr
type TouchEvent = world.TouchEvent
type Team = world.Team
type Tool = world.Tool
type ToolEvent = world.ToolEvent
type SoundEmitter = world.SoundEmitter
type SoundState = world.SoundState
type Environment = world.Environment
type Camera = world.Camera

type Vector3 = geom.Vector3
type Color = geom.Color

// DefaultConfig returns the settings of a local server on the standard port.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// NewLogger builds the server logger. With File set it writes a rolling log
// file instead of stderr.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	return logging.New(cfg)
}

// New builds a game from cfg. The map named by cfg.Map is not loaded; call
// LoadMap before or after Start.
//
// Example:
//
//	game, err := host.New(host.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	game.OnJoin(func(p *host.Player) {
//	    p.Message(ctx, "welcome!")
//	})
//	game.Start(ctx)
func New(cfg Config, logger *zap.Logger) (*Game, error) {
	return game.New(cfg, game.Options{Logger: logger})
}

// BrickDefaults is a 1x1x1 opaque grey brick with collision.
func BrickDefaults() BrickState {
	return world.DefaultBrickState()
}

// V is shorthand for a Vector3.
func V(x, y, z float64) Vector3 { return geom.V(x, y, z) }

// RGB packs a color.
func RGB(r, g, b uint8) Color { return geom.RGB(r, g, b) }

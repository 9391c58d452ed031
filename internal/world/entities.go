package world

import (
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/hillnet/internal/events"
	"github.com/luciancaetano/hillnet/internal/geom"
)

// Team groups players under a name and color.
type Team struct {
	id    uint32
	name  string
	color geom.Color

	lifecycle
}

func NewTeam(name string, color geom.Color) *Team {
	return &Team{id: NextID(), name: name, color: color}
}

func (t *Team) ID() uint32        { return t.id }
func (t *Team) Name() string      { return t.name }
func (t *Team) Color() geom.Color { return t.color }

func (t *Team) destroy() error { return t.markDestroyed() }

// ToolEvent is emitted on a tool when a holder equips, unequips or activates it.
type ToolEvent struct {
	Tool   *Tool
	Player *Player
}

// Tool is an inventory item. At most one player has it equipped at a time.
type Tool struct {
	id    uint32
	name  string
	model uint32

	holder atomic.Uint32

	lifecycle

	Equipped   events.Emitter[ToolEvent]
	Unequipped events.Emitter[ToolEvent]
	Activated  events.Emitter[ToolEvent]
}

func NewTool(name string, model uint32) *Tool {
	return &Tool{id: NextID(), name: name, model: model}
}

func (t *Tool) ID() uint32    { return t.id }
func (t *Tool) Name() string  { return t.name }
func (t *Tool) Model() uint32 { return t.model }

// Holder returns the net id of the player that has the tool equipped, or 0.
func (t *Tool) Holder() uint32 { return t.holder.Load() }

// Claim marks the tool as equipped by netID. It fails if another player
// holds it.
func (t *Tool) Claim(netID uint32) bool {
	if t.holder.CompareAndSwap(0, netID) {
		return true
	}
	return t.holder.Load() == netID
}

// Release clears the holder if it is netID.
func (t *Tool) Release(netID uint32) bool {
	return t.holder.CompareAndSwap(netID, 0)
}

func (t *Tool) destroy() error {
	if err := t.markDestroyed(); err != nil {
		return err
	}
	t.Equipped.Clear()
	t.Unequipped.Clear()
	t.Activated.Clear()
	return nil
}

// SoundState is the playback description of a sound emitter.
type SoundState struct {
	Asset    uint32
	Volume   float64
	Pitch    float64
	Loop     bool
	Range    float64
	Global   bool
	Position geom.Vector3
	Playing  bool
}

// SoundEmitter plays an audio asset at a position, or everywhere when global.
type SoundEmitter struct {
	id uint32

	mu    sync.RWMutex
	state SoundState

	lifecycle
	Timers
}

func NewSoundEmitter(s SoundState) *SoundEmitter {
	if s.Volume == 0 {
		s.Volume = 1
	}
	if s.Pitch == 0 {
		s.Pitch = 1
	}
	if s.Range == 0 {
		s.Range = 30
	}
	return &SoundEmitter{id: NextID(), state: s}
}

func (s *SoundEmitter) ID() uint32 { return s.id }

func (s *SoundEmitter) State() SoundState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SoundEmitter) Update(fn func(*SoundState)) error {
	if s.Destroyed() {
		return ErrDestroyed
	}
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
	return nil
}

func (s *SoundEmitter) destroy() error {
	if err := s.markDestroyed(); err != nil {
		return err
	}
	s.CancelAll()
	return nil
}

// Weather is the environment's weather effect.
type Weather uint8

const (
	WeatherSun Weather = iota
	WeatherRain
	WeatherSnow
)

func (w Weather) String() string {
	switch w {
	case WeatherRain:
		return "rain"
	case WeatherSnow:
		return "snow"
	default:
		return "sun"
	}
}

// Environment is the single world-wide record of sky and lighting.
type Environment struct {
	Ambient      geom.Color
	BaseColor    geom.Color
	SkyColor     geom.Color
	BaseSize     float64
	SunIntensity float64
	Weather      Weather
}

func DefaultEnvironment() Environment {
	return Environment{
		Ambient:      geom.Black,
		BaseColor:    geom.RGB(0x24, 0x80, 0x33),
		SkyColor:     geom.RGB(0x71, 0xB1, 0xE6),
		BaseSize:     100,
		SunIntensity: 400,
		Weather:      WeatherSun,
	}
}

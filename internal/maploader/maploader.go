// Package maploader reads the line-oriented workshop map format.
//
// The first line is a fixed signature. Lines 3 to 7 hold the environment by
// position. Every later line is a brick, an attribute of the last brick, or a
// team or tool directive. Embedded scripts are never run.
package maploader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/geom"
	"github.com/luciancaetano/hillnet/internal/world"
)

// Header is the only format version understood.
const Header = "B R I C K  W O R K S H O P  V0.2.0.0"

const maxLine = 1 << 20

var ErrBadHeader = errors.New("maploader: unsupported map header")

// LineError is one line the loader could not use.
type LineError struct {
	Line   int
	Text   string
	Reason string
}

// MalformedError collects the non-fatal problems of a load. It is returned
// alongside the entities that did load.
type MalformedError struct {
	Lines []LineError
}

func (e *MalformedError) Error() string {
	if len(e.Lines) == 1 {
		l := e.Lines[0]
		return fmt.Sprintf("maploader: line %d: %s", l.Line, l.Reason)
	}
	return fmt.Sprintf("maploader: %d malformed lines, first at line %d: %s",
		len(e.Lines), e.Lines[0].Line, e.Lines[0].Reason)
}

// Map is everything a map file declares, in file order.
type Map struct {
	Environment world.Environment
	Bricks      []*world.Brick
	Teams       []*world.Team
	Tools       []*world.Tool
	Spawns      []*world.Brick
}

// LoadFile opens and loads a map file.
func LoadFile(path string, logger *zap.Logger) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, logger)
}

type loader struct {
	m        *Map
	log      *zap.Logger
	brick    *world.BrickState
	team     string
	warned   bool
	problems []LineError
}

// Load reads a map in one forward pass. A wrong header fails with
// ErrBadHeader before anything is built. Any other problem is reported as a
// *MalformedError next to the partial map.
func Load(r io.Reader, logger *zap.Logger) (*Map, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, ErrBadHeader
	}
	if strings.TrimRight(sc.Text(), "\r") != Header {
		return nil, ErrBadHeader
	}

	l := &loader{
		m:   &Map{Environment: world.DefaultEnvironment()},
		log: logger.Named("maploader"),
	}
	for n := 2; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if n >= 3 && n <= 7 && l.environment(n, line) {
			continue
		}
		if reason := l.line(line); reason != "" {
			l.problems = append(l.problems, LineError{Line: n, Text: line, Reason: reason})
		}
	}
	if err := sc.Err(); err != nil {
		return l.finish(), err
	}
	m := l.finish()
	if len(l.problems) > 0 {
		return m, &MalformedError{Lines: l.problems}
	}
	return m, nil
}

// environment applies a positional environment line. It reports false if the
// line does not parse as the field expected there.
func (l *loader) environment(n int, line string) bool {
	env := &l.m.Environment
	switch n {
	case 3, 4, 5:
		c, ok := unitColor(strings.Fields(line))
		if !ok {
			return false
		}
		switch n {
		case 3:
			env.Ambient = c
		case 4:
			env.BaseColor = c
		case 5:
			env.SkyColor = c
		}
	case 6, 7:
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return false
		}
		if n == 6 {
			env.BaseSize = v
		} else {
			env.SunIntensity = v
		}
	}
	return true
}

// line handles one non-environment line and returns why it was rejected, or
// "" if it was used or skipped.
func (l *loader) line(line string) string {
	if strings.HasPrefix(line, ">") {
		return l.directive(line[1:])
	}
	if strings.HasPrefix(line, "+") {
		return l.attribute(line[1:])
	}
	fields := strings.Fields(line)
	if len(fields) == 10 {
		return l.newBrick(fields)
	}
	if keyword, _ := split(line); isAttribute(keyword) {
		return l.attribute(line)
	}
	return ""
}

func (l *loader) newBrick(fields []string) string {
	l.flushBrick()
	var v [10]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Sprintf("brick field %d: %q is not a number", i+1, f)
		}
		v[i] = x
	}
	if v[9] < 0 || v[9] > 1 {
		return fmt.Sprintf("brick transparency %v out of range", v[9])
	}
	s := world.DefaultBrickState()
	s.Position = geom.V(v[0], v[1], v[2])
	s.Scale = geom.V(v[3], v[4], v[5])
	s.Color = geom.FromUnitRGB(v[6], v[7], v[8])
	s.Visibility = v[9]
	l.brick = &s
	return ""
}

func (l *loader) flushBrick() {
	if l.brick == nil {
		return
	}
	b := world.NewBrick(*l.brick)
	l.m.Bricks = append(l.m.Bricks, b)
	if l.brick.Shape == world.ShapeSpawnpoint {
		l.m.Spawns = append(l.m.Spawns, b)
	}
	l.brick = nil
}

func (l *loader) finish() *Map {
	l.flushBrick()
	return l.m
}

var attributes = map[string]bool{
	"NAME": true, "ROT": true, "SHAPE": true, "MODEL": true,
	"NOCOLLISION": true, "COLOR": true, "LIGHT": true, "SCRIPT": true,
}

func isAttribute(keyword string) bool { return attributes[keyword] }

func split(line string) (keyword, value string) {
	keyword, value, _ = strings.Cut(strings.TrimSpace(line), " ")
	return keyword, strings.TrimSpace(value)
}

func (l *loader) attribute(line string) string {
	keyword, value := split(line)
	switch keyword {
	case "SCRIPT":
		if !l.warned {
			l.warned = true
			l.log.Warn("map contains scripts; they are not executed")
		}
		return ""
	case "COLOR":
		return l.teamColor(value)
	}
	if !isAttribute(keyword) {
		return ""
	}
	if l.brick == nil {
		return fmt.Sprintf("%s outside a brick", keyword)
	}

	b := l.brick
	switch keyword {
	case "NAME":
		b.Name = value
	case "SHAPE":
		b.Shape = value
	case "NOCOLLISION":
		b.Collision = false
	case "MODEL":
		id, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Sprintf("model %q is not an asset id", value)
		}
		b.Model = uint32(id)
	case "ROT":
		rot, ok := floats(strings.Fields(value))
		switch {
		case !ok || (len(rot) != 1 && len(rot) != 3):
			return fmt.Sprintf("rotation %q", value)
		case len(rot) == 3:
			b.Rotation = geom.V(rot[0], rot[1], rot[2])
		default:
			b.Rotation = geom.V(0, 0, legacyRotation(rot[0]))
		}
	case "LIGHT":
		v, ok := floats(strings.Fields(value))
		if !ok || len(v) != 4 {
			return fmt.Sprintf("light %q", value)
		}
		b.LightEnabled = true
		b.LightColor = geom.FromUnitRGB(v[0], v[1], v[2])
		b.LightRange = v[3]
	}
	return ""
}

// legacyRotation converts the single-value rotation of old maps. Values on
// a 90 degree step become 0; any other value is offset by 90.
func legacyRotation(v float64) float64 {
	if math.Mod(v, 90) != 0 {
		return v + 90
	}
	return 0
}

func (l *loader) directive(line string) string {
	keyword, value := split(line)
	switch keyword {
	case "TEAM":
		l.team = value
	case "SLOT":
		l.m.Tools = append(l.m.Tools, world.NewTool(value, 0))
	}
	return ""
}

// teamColor turns the pending team name into a team.
func (l *loader) teamColor(value string) string {
	if l.team == "" {
		return "COLOR without a team"
	}
	c, ok := unitColor(strings.Fields(value))
	if !ok {
		return fmt.Sprintf("team color %q", value)
	}
	l.m.Teams = append(l.m.Teams, world.NewTeam(l.team, c))
	l.team = ""
	return ""
}

func unitColor(fields []string) (geom.Color, bool) {
	v, ok := floats(fields)
	if !ok || len(v) != 3 {
		return 0, false
	}
	return geom.FromUnitRGB(v[0], v[1], v[2]), true
}

func floats(fields []string) ([]float64, bool) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

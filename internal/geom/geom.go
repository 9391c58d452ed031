// Package geom holds the vector and color value types shared by the codec,
// the world store and the map loader.
package geom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Vector3 is a point or extent in world units.
type Vector3 struct {
	X, Y, Z float64
}

// V is shorthand for Vector3{x, y, z}.
func V(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3) Scale(f float64) Vector3 {
	return Vector3{v.X * f, v.Y * f, v.Z * f}
}

// Distance returns the euclidean distance between two points.
func (v Vector3) Distance(o Vector3) float64 {
	d := v.Sub(o)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Color is a 24-bit RGB color stored as 0xRRGGBB.
type Color uint32

const (
	White Color = 0xFFFFFF
	Black Color = 0x000000
)

// RGB builds a color from 0-255 channels.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// FromUnitRGB converts channels expressed as fractions of one (the map file
// color space) into a Color. Each channel is scaled by 255, rounded up and
// clamped to the 0-255 range.
func FromUnitRGB(r, g, b float64) Color {
	return RGB(unitChannel(r), unitChannel(g), unitChannel(b))
}

func unitChannel(v float64) uint8 {
	c := math.Ceil(v * 255)
	switch {
	case math.IsNaN(c) || c <= 0:
		return 0
	case c >= 255:
		return 255
	}
	return uint8(c)
}

func (c Color) R() uint8 { return uint8(c >> 16) }
func (c Color) G() uint8 { return uint8(c >> 8) }
func (c Color) B() uint8 { return uint8(c) }

// Hex formats the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", uint32(c)&0xFFFFFF)
}

func (c Color) String() string {
	return c.Hex()
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("color %q: %w", s, err)
	}
	return Color(v), nil
}

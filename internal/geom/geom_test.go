package geom

import "testing"

func TestFromUnitRGB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		r, g, b float64
		want    Color
	}{
		{name: "white from fractions", r: 1, g: 1, b: 1, want: White},
		{name: "white from byte values is clamped", r: 255, g: 255, b: 255, want: White},
		{name: "black", r: 0, g: 0, b: 0, want: Black},
		{name: "negative clamps to zero", r: -1, g: 0.5, b: 0, want: RGB(0, 128, 0)},
		{name: "rounds up", r: 0.25, g: 0.5, b: 0.75, want: RGB(64, 128, 192)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FromUnitRGB(tt.r, tt.g, tt.b); got != tt.want {
				t.Errorf("FromUnitRGB() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	t.Parallel()

	c, err := ParseHex("#0a0B0c")
	if err != nil {
		t.Fatalf("ParseHex() error = %v", err)
	}
	if c != RGB(10, 11, 12) {
		t.Errorf("ParseHex() = %s", c)
	}
	if c.Hex() != "#0a0b0c" {
		t.Errorf("Hex() = %s", c.Hex())
	}

	if _, err := ParseHex("#fff"); err == nil {
		t.Error("expected error for short color")
	}
}

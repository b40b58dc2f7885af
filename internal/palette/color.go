package palette

import (
	"fmt"
	"strconv"
	"strings"
)

// Header text colors. These are the only values HeaderTextColor returns.
const (
	TextBlack = "#000000"
	TextWhite = "#FFFFFF"
)

type rgbColor struct {
	R uint8
	G uint8
	B uint8
}

func (c rgbColor) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func parseHex(s string) (rgbColor, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(raw) == 3 {
		raw = string([]byte{raw[0], raw[0], raw[1], raw[1], raw[2], raw[2]})
	}
	if len(raw) != 6 {
		return rgbColor{}, fmt.Errorf("palette: bad hex color %q", s)
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return rgbColor{}, fmt.Errorf("palette: bad hex color %q: %w", s, err)
	}
	return rgbColor{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// HeaderTextColor picks black or white text for a header colored hex.
// The color value is inverted; an inverse at or below 0x7FFFFF means a light
// background and yields black. Unparseable input yields black.
func HeaderTextColor(hex string) string {
	c, err := parseHex(hex)
	if err != nil {
		return TextBlack
	}
	v := uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
	if 0xFFFFFF-v <= 0x7FFFFF {
		return TextBlack
	}
	return TextWhite
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

package models

import "fmt"

// Color packs red, green and blue into the low 24 bits of an integer. The
// packed value is canonical and the components are derived from it.
type Color uint32

const colorMask = 0xffffff

const (
	ColorDefault Color = 0
	ColorRed     Color = 0xf40404
	ColorTeal    Color = 0x1abc9c
)

func NewColor(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// ColorFromValue keeps only the low 24 bits of value.
func ColorFromValue(value int) Color {
	return Color(uint32(value) & colorMask)
}

func (c Color) Value() int { return int(uint32(c) & colorMask) }

func (c Color) R() uint8 { return uint8(c >> 16) }

func (c Color) G() uint8 { return uint8(c >> 8) }

func (c Color) B() uint8 { return uint8(c) }

func (c Color) RGB() (r, g, b uint8) {
	return c.R(), c.G(), c.B()
}

func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", c.Value())
}

func (c Color) String() string { return c.Hex() }

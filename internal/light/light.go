// Package light speaks the write-only protocol of the Bluetooth LED bulb.
//
// The bulb exposes one writable characteristic. Three frames are used:
// a steady color frame and two fixed power frames. The GATT transport is an
// io.Writer supplied by the caller.
package light

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/lei/lighthouse-kiosk/internal/models"
)

var (
	powerOnFrame  = []byte{0xcc, 0x23, 0x33}
	powerOffFrame = []byte{0xcc, 0x24, 0x33}
)

// RGB is a color without the white channel
type RGB struct {
	R, G, B byte
}

// Rating colors
var (
	ColorPoor    = RGB{0xff, 0x00, 0x00}
	ColorAverage = RGB{0xef, 0x6c, 0x00}
	ColorGood    = RGB{0x00, 0x93, 0x05}
	ColorWhite   = RGB{0xff, 0xff, 0xff}
)

// ColorFor returns the steady color for a rating
func ColorFor(r models.Rating) RGB {
	switch r {
	case models.RatingGood:
		return ColorGood
	case models.RatingAverage:
		return ColorAverage
	default:
		return ColorPoor
	}
}

// ParseHex parses "#rrggbb" or "rrggbb"
func ParseHex(hex string) (RGB, error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: want 6 hex digits", hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	return RGB{R: byte(v >> 16), G: byte(v >> 8), B: byte(v)}, nil
}

// ColorFrame encodes a steady color command
func ColorFrame(c RGB, white byte) []byte {
	return []byte{0x56, c.R, c.G, c.B, white, 0xf0, 0xaa}
}

// PowerOnFrame returns the power-on command
func PowerOnFrame() []byte {
	return append([]byte(nil), powerOnFrame...)
}

// PowerOffFrame returns the power-off command
func PowerOffFrame() []byte {
	return append([]byte(nil), powerOffFrame...)
}

// Bulb drives one device over a characteristic writer
type Bulb struct {
	mu        sync.Mutex
	w         io.Writer
	poweredOn bool
}

// NewBulb wraps a characteristic writer
func NewBulb(w io.Writer) *Bulb {
	return &Bulb{w: w}
}

// PowerOn switches the bulb on
func (b *Bulb) PowerOn() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(powerOnFrame); err != nil {
		return fmt.Errorf("power on: %w", err)
	}
	b.poweredOn = true
	return nil
}

// PowerOff switches the bulb off
func (b *Bulb) PowerOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(powerOffFrame); err != nil {
		return fmt.Errorf("power off: %w", err)
	}
	b.poweredOn = false
	return nil
}

// SetColor sets a steady color
func (b *Bulb) SetColor(c RGB, white byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(ColorFrame(c, white)); err != nil {
		return fmt.Errorf("set color: %w", err)
	}
	return nil
}

// PoweredOn reports the last power state successfully written
func (b *Bulb) PoweredOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poweredOn
}

func (b *Bulb) write(frame []byte) error {
	n, err := b.w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

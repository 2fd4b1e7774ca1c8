// Package channel implements the per-channel pixel storage of a frame buffer.
package channel

import (
	"fmt"
	"strings"
)

// A single output plane of a frame buffer.
type Channel uint8

const (
	Color Channel = iota
	Depth
	Accum
	Variance
	Normal
	Albedo
	//
	numChannels
)

// Implements Stringer.
func (ch Channel) String() string {
	switch ch {
	case Color:
		return "color"
	case Depth:
		return "depth"
	case Accum:
		return "accum"
	case Variance:
		return "variance"
	case Normal:
		return "normal"
	case Albedo:
		return "albedo"
	default:
		return fmt.Sprintf("channel(%d)", uint8(ch))
	}
}

// Mask selects the channels that are enabled when a buffer is constructed.
type Mask uint32

// Mask bits for each channel.
const (
	ColorBit    Mask = 1 << Color
	DepthBit    Mask = 1 << Depth
	AccumBit    Mask = 1 << Accum
	VarianceBit Mask = 1 << Variance
	NormalBit   Mask = 1 << Normal
	AlbedoBit   Mask = 1 << Albedo

	AllChannels = ColorBit | DepthBit | AccumBit | VarianceBit | NormalBit | AlbedoBit
)

// Check whether the mask enables the given channel.
func (m Mask) Has(ch Channel) bool {
	return ch < numChannels && m&(1<<ch) != 0
}

// Implements Stringer.
func (m Mask) String() string {
	names := make([]string, 0, numChannels)
	for ch := Color; ch < numChannels; ch++ {
		if m.Has(ch) {
			names = append(names, ch.String())
		}
	}
	return strings.Join(names, ",")
}

// Parse a comma separated channel list (e.g. "color,accum,variance").
func ParseMask(list string) (Mask, error) {
	var mask Mask
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}

		found := false
		for ch := Color; ch < numChannels; ch++ {
			if ch.String() == name {
				mask |= 1 << ch
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
		}
	}
	return mask, nil
}

// The representation used by the displayable color channel.
type ColorFormat uint8

const (
	// No color channel is allocated.
	None ColorFormat = iota
	// Packed 8-bit RGBA, linear.
	RGBA8
	// Packed 8-bit RGBA with sRGB encoded color and linear alpha.
	SRGBA
	// Full precision float RGBA.
	RGBA32F
)

// Implements Stringer.
func (f ColorFormat) String() string {
	switch f {
	case None:
		return "none"
	case RGBA8:
		return "rgba8"
	case SRGBA:
		return "srgba"
	case RGBA32F:
		return "rgba32f"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// Parse a color format name.
func ParseColorFormat(name string) (ColorFormat, error) {
	for f := None; f <= RGBA32F; f++ {
		if f.String() == strings.ToLower(strings.TrimSpace(name)) {
			return f, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

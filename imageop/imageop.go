// Package imageop implements the post-processing pipeline that runs over
// ingested tiles and completed frames.
package imageop

import (
	"fmt"
	"strings"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
)

// Kind selects when an operation runs. It is fixed when the operation is
// added to a pipeline.
type Kind uint8

const (
	// Runs once for every ingested tile, before the tile is committed.
	TileKind Kind = iota
	// Runs once per completed frame over the whole buffer.
	FrameKind
)

// Implements Stringer.
func (k Kind) String() string {
	switch k {
	case TileKind:
		return "tile"
	case FrameKind:
		return "frame"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Parse a kind name ("tile" or "frame").
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tile":
		return TileKind, nil
	case "frame":
		return FrameKind, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// The lifecycle shared by all operations. Operations may keep state across
// frames but must not assume any spatial or temporal tile ordering.
type Operation interface {
	// Get operation name.
	Name() string

	// Invoked by the frame buffer when a new frame begins.
	BeginFrame()

	// Invoked by the frame buffer after all frame operations completed.
	EndFrame()
}

// An operation that processes each ingested tile. ProcessTile may be called
// concurrently for different tiles and may modify the tile's accumulated
// contribution before it is written to the frame buffer.
type TileOp interface {
	Operation
	ProcessTile(t *tile.Tile) error
}

// An operation that processes the whole frame once all tiles are merged.
type FrameOp interface {
	Operation
	ProcessFrame(v *channel.View) error
}

// A no-op lifecycle that operations can embed.
type lifecycle struct{}

func (lifecycle) BeginFrame() {}
func (lifecycle) EndFrame()   {}

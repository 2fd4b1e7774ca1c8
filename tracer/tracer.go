package tracer

import (
	"image"
	"time"

	"github.com/achilleasa/polaris-accum/framebuffer/tile"
)

// A TileSink receives traced tiles. It is implemented by the frame buffer.
type TileSink interface {
	// Get the frame dimensions.
	Size() image.Point

	// Get the number of passes the tile at pos has received.
	AccumID(pos image.Point) int32

	// Ingest a traced tile.
	SetTile(t *tile.Tile) error
}

// A unit of work that is processed by a tracer.
type BlockRequest struct {
	// The frame this block belongs to.
	FrameID int32

	// Tile grid positions to trace.
	Tiles []image.Point

	// The number of emitted rays per traced pixel.
	SamplesPerPixel uint32

	// A random seed value for the tracer's random number generator.
	Seed uint32

	// Traced tiles are submitted to this sink.
	Sink TileSink

	// A channel to signal on block completion with the number of completed tiles.
	DoneChan chan<- uint32

	// A channel to signal if an error occurs.
	ErrChan chan<- error
}

// Tracer statistics.
type Stats struct {
	// The number of tiles in the last rendered block.
	Tiles uint32

	// The time for rendering the last block.
	RenderTime time.Duration
}

type Tracer interface {
	// Get tracer id.
	Id() string

	// Shutdown and cleanup tracer.
	Close()

	// Get the tracer's computation speed estimate.
	Speed() uint32

	// Enqueue block request.
	Enqueue(BlockRequest)

	// Retrieve last frame statistics.
	Stats() *Stats
}

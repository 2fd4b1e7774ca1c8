// Package framebuffer implements the progressive accumulation frame buffer.
//
// A render drives the buffer through BeginFrame, any number of concurrent
// SetTile calls (one per tile position) and EndFrame. EndFrame is a barrier:
// the caller must ensure that every SetTile call of the frame has returned
// before invoking it.
package framebuffer

import (
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/errregion"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
	"github.com/achilleasa/polaris-accum/imageop"
	"github.com/achilleasa/polaris-accum/log"
	"github.com/google/uuid"
)

// Frame lifecycle state.
type State uint32

const (
	Idle State = iota
	FrameActive
	FrameEnding
)

// Implements Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FrameActive:
		return "frame-active"
	case FrameEnding:
		return "frame-ending"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// FrameBuffer accumulates tiles produced by rendering workers into a set of
// channel planes and runs the attached image operation pipeline.
type FrameBuffer struct {
	logger log.Logger
	id     string

	size     image.Point
	numTiles image.Point

	storage  *channel.Storage
	pipeline *imageop.Pipeline

	// One accumulation counter per tile position.
	accumID []atomic.Int32

	errRegion *errregion.Region

	frameID       atomic.Int32
	frameVariance atomic.Uint32
	state         atomic.Uint32

	// Tiles ingested since the last BeginFrame.
	tilesIngested atomic.Int64

	// Outstanding external mappings.
	mapped atomic.Int32
	closed atomic.Bool

	scratch sync.Pool
}

// Option configures a frame buffer at construction time.
type Option func(fb *FrameBuffer)

// Attach an image operation pipeline.
func WithPipeline(p *imageop.Pipeline) Option {
	return func(fb *FrameBuffer) {
		fb.pipeline = p
	}
}

// Use the given logger instead of the default per-instance logger.
func WithLogger(logger log.Logger) Option {
	return func(fb *FrameBuffer) {
		fb.logger = logger
	}
}

// Create a new frame buffer with the given dimensions, color representation
// and enabled channels. Dimensions are validated before any allocation.
func New(width, height int, format channel.ColorFormat, mask channel.Mask, opts ...Option) (*FrameBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInvalidDimensions, width, height)
	}

	storage, err := channel.NewStorage(width, height, format, mask)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	fb := &FrameBuffer{
		logger:   log.New(fmt.Sprintf("framebuffer (%s)", id[:8])),
		id:       id,
		size:     image.Pt(width, height),
		numTiles: tile.GridSize(image.Pt(width, height)),
		storage:  storage,
	}
	for _, opt := range opts {
		opt(fb)
	}
	fb.accumID = make([]atomic.Int32, fb.numTiles.X*fb.numTiles.Y)
	fb.scratch.New = func() interface{} { return new(stagedTile) }

	// The error region is inert unless an accumulation channel exists.
	if storage.HasAccum() {
		fb.errRegion = errregion.New(fb.numTiles)
	} else {
		fb.errRegion = errregion.New(image.Point{})
	}

	storage.OnFree(func() {
		fb.logger.Debugf("released channel storage (%s)", storage.Mask())
	})

	fb.Clear()
	fb.logger.Debugf("allocated %dx%d frame buffer; format: %s, channels: %s, tiles: %dx%d",
		width, height, format, storage.Mask(), fb.numTiles.X, fb.numTiles.Y)

	return fb, nil
}

// Get frame buffer instance id.
func (fb *FrameBuffer) ID() string {
	return fb.id
}

// Get frame buffer dimensions.
func (fb *FrameBuffer) Size() image.Point {
	return fb.size
}

// Get the tile grid dimensions.
func (fb *FrameBuffer) NumTiles() image.Point {
	return fb.numTiles
}

// Get the color representation.
func (fb *FrameBuffer) Format() channel.ColorFormat {
	return fb.storage.Format()
}

// Get the enabled channels.
func (fb *FrameBuffer) Mask() channel.Mask {
	return fb.storage.Mask()
}

// Get the current lifecycle state.
func (fb *FrameBuffer) State() State {
	return State(fb.state.Load())
}

// Get the id of the current frame; -1 before the first BeginFrame after a Clear.
func (fb *FrameBuffer) FrameID() int32 {
	return fb.frameID.Load()
}

// Get the frame level error computed by the last EndFrame.
func (fb *FrameBuffer) FrameVariance() float32 {
	return math.Float32frombits(fb.frameVariance.Load())
}

// Get the number of tiles ingested since the last BeginFrame.
func (fb *FrameBuffer) TilesIngested() int64 {
	return fb.tilesIngested.Load()
}

// Attach a validated pipeline. Passing nil detaches the current pipeline.
// Pipelines can only be swapped between frames.
func (fb *FrameBuffer) SetPipeline(p *imageop.Pipeline) error {
	if fb.State() != Idle {
		return ErrFrameActive
	}
	fb.pipeline = p
	fb.logger.Debugf("attached pipeline with %d tile and %d frame operations", len(p.TileOps()), len(p.FrameOps()))
	return nil
}

// Get the attached pipeline.
func (fb *FrameBuffer) Pipeline() *imageop.Pipeline {
	return fb.pipeline
}

// Reset per-frame state without reallocating storage. The accumulation
// planes are not touched; the next ingestion of each tile overwrites them.
func (fb *FrameBuffer) Clear() {
	// BeginFrame increments the id before the first frame.
	fb.frameID.Store(-1)
	for i := range fb.accumID {
		fb.accumID[i].Store(0)
	}
	fb.errRegion.Clear()
	fb.frameVariance.Store(math.Float32bits(errregion.Unmeasured))
}

// Start a new frame and invoke the BeginFrame hook of every operation.
func (fb *FrameBuffer) BeginFrame() {
	fb.frameID.Add(1)
	fb.tilesIngested.Store(0)
	fb.state.Store(uint32(FrameActive))
	fb.pipeline.BeginFrame()
}

// Complete the current frame. All SetTile calls for the frame must have
// returned before EndFrame is called.
//
// The color plane is rebuilt from the resolved linear colors and the frame
// operations run over the whole buffer. Then the EndFrame hook of every
// operation is invoked and finally the per-tile error estimates are refined
// into the frame variance, which is returned. A failing frame
// operation skips the remaining frame operations but the hooks and the
// refinement still run.
func (fb *FrameBuffer) EndFrame(errorThreshold float32) (float32, error) {
	fb.state.Store(uint32(FrameEnding))
	defer fb.state.Store(uint32(Idle))

	var err error
	if len(fb.pipeline.FrameOps()) != 0 && fb.storage.Retain() {
		// Frame operations never see their own output from a previous frame.
		fb.storage.ResolveColor()
		err = fb.pipeline.ProcessFrame(fb.storage.View())
		if err != nil {
			fb.logger.Errorf("frame %d: %s", fb.FrameID(), err)
		}
		fb.storage.Release()
	}

	fb.pipeline.EndFrame()

	variance := fb.errRegion.Refine(errorThreshold)
	fb.frameVariance.Store(math.Float32bits(variance))
	fb.logger.Infof("frame %d complete; tiles: %d, variance: %f", fb.FrameID(), fb.TilesIngested(), variance)

	return variance, err
}

// Get the number of times the tile at pos has been ingested since the last Clear.
func (fb *FrameBuffer) AccumID(pos image.Point) int32 {
	idx, ok := fb.tileIndex(pos)
	if !ok {
		return 0
	}
	return fb.accumID[idx].Load()
}

// Get the current error estimate for the tile at pos.
func (fb *FrameBuffer) TileError(pos image.Point) float32 {
	return fb.errRegion.At(pos)
}

// Get the tile regions (in tile coordinates) that are still being refined.
func (fb *FrameBuffer) ActiveErrorRegions() []image.Rectangle {
	return fb.errRegion.ActiveRegions()
}

// Release the owner's reference to the channel storage. The storage is
// freed once every outstanding mapping has been unmapped.
func (fb *FrameBuffer) Close() {
	if !fb.closed.CompareAndSwap(false, true) {
		return
	}

	if outstanding := fb.mapped.Load(); outstanding != 0 {
		fb.logger.Noticef("closing with %d outstanding mapping(s); deferring storage release", outstanding)
	}
	fb.storage.Release()
}

func (fb *FrameBuffer) tileIndex(pos image.Point) (int, bool) {
	if pos.X < 0 || pos.Y < 0 || pos.X >= fb.numTiles.X || pos.Y >= fb.numTiles.Y {
		return 0, false
	}
	return pos.Y*fb.numTiles.X + pos.X, true
}

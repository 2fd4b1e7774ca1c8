package imageop

import (
	"math"
	"sync"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
	"github.com/achilleasa/polaris-accum/types"
)

// Invert the color of each tile (rgb -> 1 - rgb). Alpha is preserved.
type Invert struct{ lifecycle }

func (Invert) Name() string { return "invert" }

func (Invert) ProcessTile(t *tile.Tile) error {
	mapTile(t, func(c types.Vec4) types.Vec4 {
		return types.Vec4{1 - c[0], 1 - c[1], 1 - c[2], c[3]}
	})
	return nil
}

// Scale the color of each tile by a constant exposure factor.
type Exposure struct {
	lifecycle
	Scale float32
}

func (Exposure) Name() string { return "exposure" }

func (op Exposure) ProcessTile(t *tile.Tile) error {
	mapTile(t, func(c types.Vec4) types.Vec4 {
		return types.Vec4{c[0] * op.Scale, c[1] * op.Scale, c[2] * op.Scale, c[3]}
	})
	return nil
}

// Clamp every color component of the frame to [Min, Max].
type Clamp struct {
	lifecycle
	Min, Max float32
}

func (Clamp) Name() string { return "clamp" }

func (op Clamp) ProcessFrame(v *channel.View) error {
	mapColor(v, func(_ int, c types.Vec4) types.Vec4 {
		return c.Clamp(op.Min, op.Max)
	})
	return nil
}

// Apply simple Reinhard tone-mapping (c' = c*e / (1 + c*e)) to the frame color.
type TonemapReinhard struct {
	lifecycle
	Exposure float32
}

func (TonemapReinhard) Name() string { return "tonemap-reinhard" }

func (op TonemapReinhard) ProcessFrame(v *channel.View) error {
	mapColor(v, func(_ int, c types.Vec4) types.Vec4 {
		for i := 0; i < 3; i++ {
			e := c[i] * op.Exposure
			c[i] = e / (1 + e)
		}
		return c
	})
	return nil
}

// Apply gamma correction (c' = c^(1/Gamma)) to the frame color.
type Gamma struct {
	lifecycle
	Gamma float32
}

func (Gamma) Name() string { return "gamma" }

func (op Gamma) ProcessFrame(v *channel.View) error {
	invGamma := 1.0 / float64(op.Gamma)
	mapColor(v, func(_ int, c types.Vec4) types.Vec4 {
		for i := 0; i < 3; i++ {
			if c[i] > 0 {
				c[i] = float32(math.Pow(float64(c[i]), invGamma))
			}
		}
		return c
	})
	return nil
}

// Blend each frame with the output of the previous frame to suppress
// flicker between successive passes. The history is dropped whenever the
// frame dimensions change.
type TemporalBlend struct {
	// Weight of the current frame in [0, 1].
	Alpha float32

	mu      sync.Mutex
	history []types.Vec4
	frames  int
}

func (*TemporalBlend) Name() string { return "temporal-blend" }

func (op *TemporalBlend) BeginFrame() {}

func (op *TemporalBlend) EndFrame() {
	op.mu.Lock()
	op.frames++
	op.mu.Unlock()
}

// Get the number of completed frames seen by this operation.
func (op *TemporalBlend) Frames() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.frames
}

func (op *TemporalBlend) ProcessFrame(v *channel.View) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if len(op.history) != v.Len() {
		op.history = make([]types.Vec4, v.Len())
		mapColor(v, func(i int, c types.Vec4) types.Vec4 {
			op.history[i] = c
			return c
		})
		return nil
	}

	mapColor(v, func(i int, c types.Vec4) types.Vec4 {
		blended := op.history[i].Lerp(c, op.Alpha)
		op.history[i] = blended
		return blended
	})
	return nil
}

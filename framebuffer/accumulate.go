package framebuffer

import (
	"fmt"
	"image"
	"math"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
	"github.com/achilleasa/polaris-accum/types"
)

// A tile's contribution staged for commit. Nothing is written to the
// channel planes until every stage of the ingestion has succeeded.
type stagedTile struct {
	// Working copy of the ingested tile; holds the accumulated color that
	// tile operations see and that is written to the color plane.
	tile tile.Tile

	accum          [tile.Pixels]types.Vec4
	weight         [tile.Pixels]float32
	variance       [tile.Pixels]types.Vec4
	varianceWeight [tile.Pixels]float32
	depth          [tile.Pixels]float32
	normal         [tile.Pixels]types.Vec3
	albedo         [tile.Pixels]types.Vec3
}

// Ingest a tile. Calls for distinct tile positions may run concurrently.
//
// For each enabled channel the tile overwrites the stored value when its
// AccumID is zero and is otherwise blended into the running weighted
// average. For odd AccumIDs an error estimate is forwarded to the tile error
// region. Tile operations then run on a copy of the accumulated tile and
// finally all channels, including the color plane in its configured
// representation, are committed. If any step fails nothing is written.
// Closing the buffer while a call is in flight defers the storage release
// until the call returns.
//
// The caller's tile is never modified.
func (fb *FrameBuffer) SetTile(t *tile.Tile) error {
	if fb.closed.Load() || !fb.storage.Retain() {
		return ErrClosed
	}
	defer fb.storage.Release()

	pos, err := fb.validateTile(t)
	if err != nil {
		return err
	}

	st := fb.scratch.Get().(*stagedTile)
	defer fb.scratch.Put(st)
	st.tile = *t

	first := t.AccumID == 0
	odd := t.AccumID&1 == 1

	fb.stageWeights(st, first)
	tileErr := fb.stageAccumulation(st, first, odd)
	fb.stageAux(st, first)

	if err = fb.pipeline.ProcessTile(&st.tile); err != nil {
		return fmt.Errorf("framebuffer: tile %v: %w", pos, err)
	}

	fb.commit(st)

	if fb.storage.HasAccum() && odd {
		fb.errRegion.Update(pos, tileErr)
	}

	idx, _ := fb.tileIndex(pos)
	fb.accumID[idx].Add(1)
	fb.tilesIngested.Add(1)
	return nil
}

// Ensure that the tile covers exactly one clipped cell of the tile grid.
func (fb *FrameBuffer) validateTile(t *tile.Tile) (image.Point, error) {
	if t.AccumID < 0 {
		return image.Point{}, fmt.Errorf("%w: %d", ErrInvalidAccumID, t.AccumID)
	}

	region := t.Region
	if region.Empty() || !region.In(image.Rectangle{Max: fb.size}) {
		return image.Point{}, fmt.Errorf("%w: region %v, frame %v", ErrTileOutOfBounds, region, fb.size)
	}

	pos := region.Min.Div(tile.Size)
	if region != tile.RegionAt(pos, fb.size) {
		return image.Point{}, fmt.Errorf("%w: region %v", ErrMisalignedTile, region)
	}
	return pos, nil
}

// Visit every pixel of the tile region passing its tile slot and frame index.
func (fb *FrameBuffer) forEachPixel(region image.Rectangle, fn func(slot, pixel int)) {
	w, h := region.Dx(), region.Dy()
	for y := 0; y < h; y++ {
		row := (region.Min.Y+y)*fb.size.X + region.Min.X
		for x := 0; x < w; x++ {
			fn(tile.Index(x, y), row+x)
		}
	}
}

// Compute the accumulated per-pixel weight after folding in this tile.
func (fb *FrameBuffer) stageWeights(st *stagedTile, first bool) {
	if !fb.storage.HasWeight() {
		return
	}

	weights := fb.storage.Weight()
	fb.forEachPixel(st.tile.Region, func(slot, pixel int) {
		st.weight[slot] = st.tile.Weight(slot)
		if !first {
			st.weight[slot] += weights[pixel]
		}
	})
}

// Fold the tile color into the accumulation and variance planes and
// replace the working tile color with the accumulated average. Returns the
// tile error estimate for odd passes.
//
// The accumulation plane stores the weighted sum of all contributions so the
// result does not depend on the order in which passes arrive. The variance
// plane does the same for odd passes only; the difference between the two
// averages estimates the remaining noise.
func (fb *FrameBuffer) stageAccumulation(st *stagedTile, first, odd bool) float32 {
	if !fb.storage.HasAccum() {
		return 0
	}

	var (
		accum          = fb.storage.AccumSum()
		weights        = fb.storage.Weight()
		variance       = fb.storage.VarianceSum()
		varianceWeight = fb.storage.VarianceWeight()
		hasVariance    = fb.storage.HasVariance()
		errSum         float32
		pixels         int
	)

	fb.forEachPixel(st.tile.Region, func(slot, pixel int) {
		c := st.tile.Color(slot)
		w := st.tile.Weight(slot)

		sum := c.Mul(w)
		var prevMean types.Vec4
		if !first {
			sum = sum.Add(accum[pixel])
			if weights[pixel] > 0 {
				prevMean = accum[pixel].Mul(1 / weights[pixel])
			}
		}
		st.accum[slot] = sum
		mean := sum.Mul(1 / st.weight[slot])
		st.tile.SetColor(slot, mean)

		if hasVariance {
			switch {
			case first:
				st.variance[slot], st.varianceWeight[slot] = types.Vec4{}, 0
			case odd:
				st.variance[slot] = variance[pixel].Add(c.Mul(w))
				st.varianceWeight[slot] = varianceWeight[pixel] + w
			default:
				st.variance[slot], st.varianceWeight[slot] = variance[pixel], varianceWeight[pixel]
			}
		}

		if !odd {
			return
		}

		// Compare against the odd-pass average when available, otherwise
		// against the average accumulated before this pass.
		ref := prevMean
		if hasVariance && st.varianceWeight[slot] > 0 {
			ref = st.variance[slot].Mul(1 / st.varianceWeight[slot])
		}
		errSum += pixelError(mean, ref)
		pixels++
	})

	if pixels == 0 {
		return 0
	}
	return errSum / float32(pixels)
}

// Relative L1 difference between two colors, normalized by the square root
// of the accumulated intensity.
func pixelError(mean, ref types.Vec4) float32 {
	diff := float32(math.Abs(float64(mean[0]-ref[0]))) +
		float32(math.Abs(float64(mean[1]-ref[1]))) +
		float32(math.Abs(float64(mean[2]-ref[2])))

	den := mean[0] + mean[1] + mean[2]
	if den <= 0 {
		return diff
	}
	return diff / float32(math.Sqrt(float64(den)))
}

// Blend the depth, normal and albedo contributions into running averages.
func (fb *FrameBuffer) stageAux(st *stagedTile, first bool) {
	hasDepth, hasNormal, hasAlbedo := fb.storage.HasDepth(), fb.storage.HasNormal(), fb.storage.HasAlbedo()
	if !hasDepth && !hasNormal && !hasAlbedo {
		return
	}

	depth, normal, albedo := fb.storage.Depth(), fb.storage.Normal(), fb.storage.Albedo()
	fb.forEachPixel(st.tile.Region, func(slot, pixel int) {
		// Fraction of the total weight contributed by this pass.
		f := st.tile.Weight(slot) / st.weight[slot]
		if first {
			f = 1
		}

		if hasDepth {
			prev := depth[pixel]
			if first {
				prev = 0
			}
			st.depth[slot] = prev + (st.tile.Z[slot]-prev)*f
		}
		if hasNormal {
			var prev types.Vec3
			if !first {
				prev = normal[pixel]
			}
			st.normal[slot] = prev.Add(st.tile.Normal(slot).Sub(prev).Mul(f))
		}
		if hasAlbedo {
			var prev types.Vec3
			if !first {
				prev = albedo[pixel]
			}
			st.albedo[slot] = prev.Add(st.tile.Albedo(slot).Sub(prev).Mul(f))
		}
	})
}

// Write the staged contribution to every enabled channel plane.
func (fb *FrameBuffer) commit(st *stagedTile) {
	s := fb.storage
	region := st.tile.Region

	if s.HasWeight() {
		weights := s.Weight()
		fb.forEachPixel(region, func(slot, pixel int) { weights[pixel] = st.weight[slot] })
	}
	if s.HasAccum() {
		accum := s.AccumSum()
		fb.forEachPixel(region, func(slot, pixel int) { accum[pixel] = st.accum[slot] })
		if s.HasVariance() {
			variance, varianceWeight := s.VarianceSum(), s.VarianceWeight()
			fb.forEachPixel(region, func(slot, pixel int) {
				variance[pixel] = st.variance[slot]
				varianceWeight[pixel] = st.varianceWeight[slot]
			})
		}
	}
	if s.HasDepth() {
		depth := s.Depth()
		fb.forEachPixel(region, func(slot, pixel int) { depth[pixel] = st.depth[slot] })
	}
	if s.HasNormal() {
		normal := s.Normal()
		fb.forEachPixel(region, func(slot, pixel int) { normal[pixel] = st.normal[slot] })
	}
	if s.HasAlbedo() {
		albedo := s.Albedo()
		fb.forEachPixel(region, func(slot, pixel int) { albedo[pixel] = st.albedo[slot] })
	}

	if resolved := s.Resolved(); resolved != nil {
		fb.forEachPixel(region, func(slot, pixel int) { resolved[pixel] = st.tile.Color(slot) })
	}

	switch s.Format() {
	case channel.RGBA8, channel.SRGBA:
		color, format := s.Color8(), s.Format()
		fb.forEachPixel(region, func(slot, pixel int) {
			color[pixel] = channel.EncodeColor(format, st.tile.Color(slot))
		})
	case channel.RGBA32F:
		color := s.Color32F()
		fb.forEachPixel(region, func(slot, pixel int) { color[pixel] = st.tile.Color(slot) })
	}
}

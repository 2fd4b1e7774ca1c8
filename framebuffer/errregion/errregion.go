// Package errregion maintains a coarse per-tile noise estimate that drives
// adaptive sampling and reduces it into a frame level variance.
package errregion

import (
	"image"
	"math"
	"sync/atomic"
)

// Unmeasured is the error reported for tiles that have not received an
// estimate since the last Clear and for an empty error region.
var Unmeasured = float32(math.Inf(1))

const (
	// Weight of a new error sample when folded into the previous estimate.
	decay float32 = 0.5

	// Regions whose mean error drops below splitFactor * threshold are
	// subdivided so refinement concentrates on the noisy parts of the frame.
	splitFactor float32 = 4
)

// Region stores one error slot per tile position in a dense row-major grid.
//
// Update may be called concurrently for distinct tile positions. Clear and
// Refine are barrier operations and must not overlap with Update.
type Region struct {
	numTiles image.Point
	slots    []atomic.Uint32

	// Active refinement regions in tile coordinates.
	active []image.Rectangle
}

// Create an error region for a grid of numTiles tiles. A zero sized grid
// yields an inert region.
func New(numTiles image.Point) *Region {
	if numTiles.X <= 0 || numTiles.Y <= 0 {
		return &Region{}
	}

	r := &Region{
		numTiles: numTiles,
		slots:    make([]atomic.Uint32, numTiles.X*numTiles.Y),
	}
	r.Clear()
	return r
}

// Get the number of tile slots.
func (r *Region) Len() int {
	return len(r.slots)
}

// Get the grid dimensions.
func (r *Region) NumTiles() image.Point {
	return r.numTiles
}

// Mark every tile as unmeasured and restart refinement from a single region
// covering the whole grid.
func (r *Region) Clear() {
	if len(r.slots) == 0 {
		return
	}

	bits := math.Float32bits(Unmeasured)
	for i := range r.slots {
		r.slots[i].Store(bits)
	}
	r.active = append(r.active[:0], image.Rectangle{Max: r.numTiles})
}

// Fold a new error sample for the tile at pos into its running estimate.
func (r *Region) Update(pos image.Point, err float32) {
	idx, ok := r.index(pos)
	if !ok {
		return
	}

	slot := &r.slots[idx]
	for {
		oldBits := slot.Load()
		prev := math.Float32frombits(oldBits)
		next := err
		if !math.IsInf(float64(prev), 1) {
			next = (1-decay)*prev + decay*err
		}
		if slot.CompareAndSwap(oldBits, math.Float32bits(next)) {
			return
		}
	}
}

// Get the current error estimate for the tile at pos.
func (r *Region) At(pos image.Point) float32 {
	idx, ok := r.index(pos)
	if !ok {
		return Unmeasured
	}
	return math.Float32frombits(r.slots[idx].Load())
}

// Get the regions (in tile coordinates) that are still being refined.
func (r *Region) ActiveRegions() []image.Rectangle {
	out := make([]image.Rectangle, len(r.active))
	copy(out, r.active)
	return out
}

// Reduce the per-tile estimates into a frame level error and return it.
//
// Each active region is raised to its maximum tile error so its tiles are
// refined as a group. Regions whose mean error falls below a multiple of
// threshold are split along their longer axis; regions that would split
// into single tiles are retired. The returned value is the maximum error
// over all tiles, or Unmeasured if the region is empty.
func (r *Region) Refine(threshold float32) float32 {
	if len(r.slots) == 0 {
		return Unmeasured
	}

	// Newly split regions are appended and not revisited in this pass.
	regions := len(r.active)
	for i := 0; i < regions; i++ {
		region := r.active[i]

		var sum, maxErr float32
		for y := region.Min.Y; y < region.Max.Y; y++ {
			for x := region.Min.X; x < region.Max.X; x++ {
				e := r.load(y*r.numTiles.X + x)
				sum += e
				if e > maxErr {
					maxErr = e
				}
			}
		}

		maxBits := math.Float32bits(maxErr)
		for y := region.Min.Y; y < region.Max.Y; y++ {
			for x := region.Min.X; x < region.Max.X; x++ {
				r.slots[y*r.numTiles.X+x].Store(maxBits)
			}
		}

		size := region.Size()
		area := size.X * size.Y
		if sum/float32(area) >= splitFactor*threshold {
			continue
		}

		if area <= 2 {
			// Swap-remove; the last unvisited region takes this slot.
			regions--
			r.active[i] = r.active[regions]
			r.active[regions] = r.active[len(r.active)-1]
			r.active = r.active[:len(r.active)-1]
			i--
			continue
		}

		split := region.Min.Add(size.Div(2))
		other := region
		if size.X > size.Y {
			r.active[i].Max.X = split.X
			other.Min.X = split.X
		} else {
			r.active[i].Max.Y = split.Y
			other.Min.Y = split.Y
		}
		r.active = append(r.active, other)
	}

	var maxErr float32
	for i := range r.slots {
		if e := r.load(i); e > maxErr {
			maxErr = e
		}
	}
	return maxErr
}

func (r *Region) load(idx int) float32 {
	return math.Float32frombits(r.slots[idx].Load())
}

func (r *Region) index(pos image.Point) (int, bool) {
	if pos.X < 0 || pos.Y < 0 || pos.X >= r.numTiles.X || pos.Y >= r.numTiles.Y {
		return 0, false
	}
	return pos.Y*r.numTiles.X + pos.X, true
}

package tracer

import (
	"image"
	"math"
)

// The TileScheduler interface is implemented by all tile scheduling algorithms.
type TileScheduler interface {
	// Split the pending tiles into blocks and assign them to the pool of
	// tracers.
	//
	// This function returns the tile assignment for each tracer in the
	// input list.
	Schedule(tracers []Tracer, pending []image.Point) [][]image.Point
}

// The naive scheduler splits the pending tiles based on the speed
// estimate of each tracer.
type naiveScheduler struct{}

// Create a new naive scheduler instance.
func NaiveScheduler() TileScheduler {
	return naiveScheduler{}
}

func (sch naiveScheduler) Schedule(tracers []Tracer, pending []image.Point) [][]image.Point {
	return assign(pending, splitBySpeed(tracers, len(pending)))
}

// The perfect scheduler assumes that the volume of tracing work between two
// subsequent frames is approximately the same.
type perfectScheduler struct {
	numTracers int
}

// Create a new perfect scheduler instance.
func PerfectScheduler() TileScheduler {
	return &perfectScheduler{}
}

// Split the pending tiles into blocks using feedback collected from the
// previous frame.
//
// When previous frame information is available the scheduler uses the
// following formula for estimating the workload for tracer w and frame i+1:
// w_i, f_i+1 = (tiles,w_i / time,w_i) / Σ(tiles_i-1 / time,i-1)
func (sch *perfectScheduler) Schedule(tracers []Tracer, pending []image.Point) [][]image.Point {
	// If this is the first time we try to schedule or the number of tracers
	// has changed we fall back to the speed estimates.
	if sch.numTracers != len(tracers) {
		sch.numTracers = len(tracers)
		return assign(pending, splitBySpeed(tracers, len(pending)))
	}

	rates := make([]float64, len(tracers))
	for idx, tr := range tracers {
		stats := tr.Stats()
		if stats.Tiles == 0 || stats.RenderTime <= 0 {
			// A tracer without feedback invalidates the estimate.
			return assign(pending, splitBySpeed(tracers, len(pending)))
		}
		rates[idx] = float64(stats.Tiles) / float64(stats.RenderTime)
	}

	return assign(pending, split(rates, len(pending)))
}

func splitBySpeed(tracers []Tracer, n int) []int {
	speeds := make([]float64, len(tracers))
	for idx, tr := range tracers {
		speeds[idx] = float64(tr.Speed())
	}
	return split(speeds, n)
}

// Distribute n items proportionally to the given weights. Every tracer gets at
// least one item if there are enough items to go around; rounding leftovers
// are appended to the first tracer.
func split(weights []float64, n int) []int {
	counts := make([]int, len(weights))
	if len(weights) == 0 || n <= 0 {
		return counts
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		for idx := range weights {
			weights[idx] = 1
		}
		total = float64(len(weights))
	}

	scaler := float64(n) / total
	minCount := 0.0
	if n >= len(weights) {
		minCount = 1.0
	}

	scheduled := 0
	for idx, w := range weights {
		counts[idx] = int(math.Max(minCount, math.Floor(w*scaler)))
		scheduled += counts[idx]
	}

	// Take back over-assigned items from the busiest tracers.
	for scheduled > n {
		busiest := 0
		for idx := range counts {
			if counts[idx] > counts[busiest] {
				busiest = idx
			}
		}
		counts[busiest]--
		scheduled--
	}

	counts[0] += n - scheduled
	return counts
}

func assign(pending []image.Point, counts []int) [][]image.Point {
	blocks := make([][]image.Point, len(counts))
	offset := 0
	for idx, count := range counts {
		blocks[idx] = pending[offset : offset+count]
		offset += count
	}
	return blocks
}

// TileErrors exposes the per-tile error estimates of a frame buffer.
type TileErrors interface {
	NumTiles() image.Point
	TileError(pos image.Point) float32
}

// Get the tile positions that still need work: tiles whose error has not
// been measured yet or is at or above threshold. Tiles are returned in row
// major order.
func PendingTiles(fb TileErrors, threshold float32) []image.Point {
	grid := fb.NumTiles()
	pending := make([]image.Point, 0, grid.X*grid.Y)
	for y := 0; y < grid.Y; y++ {
		for x := 0; x < grid.X; x++ {
			pos := image.Pt(x, y)
			if err := fb.TileError(pos); err >= threshold || math.IsNaN(float64(err)) {
				pending = append(pending, pos)
			}
		}
	}
	return pending
}

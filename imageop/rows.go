package imageop

import (
	"runtime"
	"sync"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
	"github.com/achilleasa/polaris-accum/types"
)

// Run fn over [0, height) scanlines split into contiguous bands that are
// processed in parallel.
func forEachRow(height int, fn func(y int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > height {
		workers = height
	}
	if workers <= 1 {
		for y := 0; y < height; y++ {
			fn(y)
		}
		return
	}

	band := (height + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < height; start += band {
		end := start + band
		if end > height {
			end = height
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				fn(y)
			}
		}(start, end)
	}
	wg.Wait()
}

// Apply fn to every color pixel of the view in parallel.
func mapColor(v *channel.View, fn func(i int, c types.Vec4) types.Vec4) {
	if !v.HasColor() {
		return
	}
	forEachRow(v.Height, func(y int) {
		for i := y * v.Width; i < (y+1)*v.Width; i++ {
			v.SetColor(i, fn(i, v.Color(i)))
		}
	})
}

// Apply fn to every color slot covered by the tile region.
func mapTile(t *tile.Tile, fn func(c types.Vec4) types.Vec4) {
	w, h := t.Region.Dx(), t.Region.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := tile.Index(x, y)
			t.SetColor(i, fn(t.Color(i)))
		}
	}
}

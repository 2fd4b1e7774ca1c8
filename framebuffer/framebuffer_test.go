package framebuffer

import (
	"errors"
	"image"
	"math"
	"sync"
	"testing"
	"unsafe"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/errregion"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
	"github.com/achilleasa/polaris-accum/imageop"
	"github.com/achilleasa/polaris-accum/log"
	"github.com/achilleasa/polaris-accum/types"
)

func TestNewRejectsInvalidDimensions(t *testing.T) {
	type spec struct {
		w, h int
	}
	specs := []spec{{0, 1}, {1, 0}, {-5, 5}, {5, -5}, {0, 0}}

	for index, s := range specs {
		fb, err := New(s.w, s.h, channel.RGBA8, channel.AllChannels)
		if !errors.Is(err, ErrInvalidDimensions) {
			t.Fatalf("[spec %d] expected ErrInvalidDimensions; got %v", index, err)
		}
		if fb != nil {
			t.Fatalf("[spec %d] expected no frame buffer to be returned", index)
		}
	}
}

func TestAccumulationIsOrderIndependent(t *testing.T) {
	samples := []types.Vec4{
		{0.1, 0.2, 0.3, 1},
		{0.9, 0.4, 0.0, 1},
		{0.5, 0.5, 0.5, 1},
		{0.3, 0.8, 0.6, 1},
	}
	weights := []float32{1, 2, 1, 4}

	var expSum types.Vec4
	var expW float32
	for i, s := range samples {
		expSum = expSum.Add(s.Mul(weights[i]))
		expW += weights[i]
	}
	exp := expSum.Mul(1 / expW)

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	// Use a clipped edge tile to also cover partial regions.
	pos := image.Pt(1, 1)
	for index, order := range orders {
		fb := newTestFrameBuffer(t, 40, 40, channel.RGBA32F, channel.AccumBit)

		for accumID, sampleIdx := range order {
			tl := makeTile(fb, pos, int32(accumID), samples[sampleIdx])
			for i := range tl.W {
				tl.W[i] = weights[sampleIdx]
			}
			if err := fb.SetTile(tl); err != nil {
				t.Fatal(err)
			}
		}

		color := fb.storage.Color32F()
		for _, px := range []image.Point{{32, 32}, {39, 39}, {35, 33}} {
			got := color[px.Y*40+px.X]
			if !types.ApproxEqual(got, exp, 1e-5) {
				t.Fatalf("[spec %d] pixel %v: expected %v; got %v", index, px, exp, got)
			}
		}

		if got := fb.AccumID(pos); got != int32(len(order)) {
			t.Fatalf("[spec %d] expected accum id %d; got %d", index, len(order), got)
		}
	}
}

func TestBlendDiffersFromSingleIngestion(t *testing.T) {
	once := newTestFrameBuffer(t, 32, 32, channel.RGBA32F, channel.AccumBit)
	twice := newTestFrameBuffer(t, 32, 32, channel.RGBA32F, channel.AccumBit)

	pos := image.Pt(0, 0)
	c0 := types.Vec4{1, 0, 0, 1}
	c1 := types.Vec4{0, 0, 1, 1}

	mustSetTile(t, once, makeTile(once, pos, 0, c0))
	mustSetTile(t, twice, makeTile(twice, pos, 0, c0))
	mustSetTile(t, twice, makeTile(twice, pos, 1, c1))

	got1 := once.storage.Color32F()[0]
	got2 := twice.storage.Color32F()[0]
	if got1 == got2 {
		t.Fatalf("expected blended result to differ from single ingestion; both %v", got1)
	}
	if exp := (types.Vec4{0.5, 0, 0.5, 1}); !types.ApproxEqual(got2, exp, 1e-6) {
		t.Fatalf("expected blended color %v; got %v", exp, got2)
	}
}

func TestClearIsIdempotentReset(t *testing.T) {
	mask := channel.AccumBit | channel.VarianceBit | channel.DepthBit | channel.NormalBit | channel.AlbedoBit
	fresh := newTestFrameBuffer(t, 48, 40, channel.SRGBA, mask)
	reused := newTestFrameBuffer(t, 48, 40, channel.SRGBA, mask)

	pos := image.Pt(1, 0)
	c := types.Vec4{0.2, 0.4, 0.6, 1}

	mustSetTile(t, fresh, makeTile(fresh, pos, 0, c))

	// Pollute the reused buffer, clear it and ingest the same tile.
	for i := int32(0); i < 5; i++ {
		mustSetTile(t, reused, makeTile(reused, pos, i, types.Vec4{float32(i), 1, 0, 1}))
	}
	reused.Clear()
	if reused.AccumID(pos) != 0 || reused.FrameID() != -1 {
		t.Fatalf("expected Clear to reset counters; got accum id %d, frame id %d", reused.AccumID(pos), reused.FrameID())
	}
	if got := reused.TileError(pos); got != errregion.Unmeasured {
		t.Fatalf("expected Clear to reset tile error; got %f", got)
	}
	mustSetTile(t, reused, makeTile(reused, pos, 0, c))

	region := tile.RegionAt(pos, fresh.Size())
	fresh.forEachPixel(region, func(_, pixel int) {
		if fresh.storage.Color8()[pixel] != reused.storage.Color8()[pixel] {
			t.Fatalf("pixel %d: color mismatch after reset", pixel)
		}
		if fresh.storage.AccumSum()[pixel] != reused.storage.AccumSum()[pixel] {
			t.Fatalf("pixel %d: accum mismatch after reset", pixel)
		}
		if fresh.storage.VarianceSum()[pixel] != reused.storage.VarianceSum()[pixel] {
			t.Fatalf("pixel %d: variance mismatch after reset", pixel)
		}
		if fresh.storage.Depth()[pixel] != reused.storage.Depth()[pixel] ||
			fresh.storage.Normal()[pixel] != reused.storage.Normal()[pixel] ||
			fresh.storage.Albedo()[pixel] != reused.storage.Albedo()[pixel] {
			t.Fatalf("pixel %d: aux channel mismatch after reset", pixel)
		}
	})
}

func TestMapAndUnmap(t *testing.T) {
	fb := newTestFrameBuffer(t, 16, 8, channel.RGBA8, channel.DepthBit)

	if ptr := fb.MapBuffer(channel.Normal); ptr != nil {
		t.Fatal("expected mapping a disabled channel to return nil")
	}
	if fb.RefCount() != 1 {
		t.Fatalf("expected refcount 1; got %d", fb.RefCount())
	}

	ptr := fb.MapBuffer(channel.Color)
	if ptr == nil {
		t.Fatal("expected color channel to be mapped")
	}
	if fb.RefCount() != 2 {
		t.Fatalf("expected refcount 2 after mapping; got %d", fb.RefCount())
	}
	if got := channel.AsUint32(ptr, 16*8); len(got) != 128 {
		t.Fatalf("expected 128 mapped pixels; got %d", len(got))
	}

	if err := fb.Unmap(ptr); err != nil {
		t.Fatal(err)
	}
	if fb.RefCount() != 1 {
		t.Fatalf("expected refcount 1 after unmap; got %d", fb.RefCount())
	}

	foreign := make([]uint32, 4)
	if err := fb.Unmap(unsafe.Pointer(&foreign[0])); !errors.Is(err, ErrForeignPointer) {
		t.Fatalf("expected ErrForeignPointer; got %v", err)
	}

	depth := fb.MapBuffer(channel.Depth)
	interior := unsafe.Add(depth, 4)
	if err := fb.Unmap(interior); !errors.Is(err, ErrForeignPointer) {
		t.Fatalf("expected interior pointer to be rejected; got %v", err)
	}
	if err := fb.Unmap(depth); err != nil {
		t.Fatal(err)
	}

	// A second unmap of the same pointer has no matching map.
	if err := fb.Unmap(depth); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped; got %v", err)
	}
	if fb.RefCount() != 1 {
		t.Fatalf("expected owner reference to survive; got refcount %d", fb.RefCount())
	}

	if err := fb.Unmap(nil); err != nil {
		t.Fatalf("expected unmapping nil to be a no-op; got %v", err)
	}
}

func TestCloseDefersReleaseUntilUnmapped(t *testing.T) {
	fb, err := New(8, 8, channel.RGBA32F, channel.DepthBit)
	if err != nil {
		t.Fatal(err)
	}

	mustSetTile(t, fb, makeTile(fb, image.Pt(0, 0), 0, types.Vec4{0.25, 0.5, 0.75, 1}))

	ptr := fb.MapBuffer(channel.Color)
	fb.Close()

	if fb.Released() {
		t.Fatal("expected storage to outlive the owner while mapped")
	}
	if got := channel.AsVec4(ptr, 64)[63]; got != (types.Vec4{0.25, 0.5, 0.75, 1}) {
		t.Fatalf("expected mapped data to remain readable; got %v", got)
	}
	if fb.MapBuffer(channel.Depth) != nil {
		t.Fatal("expected new mappings to be refused after Close")
	}
	if err = fb.SetTile(makeTile(fb, image.Pt(0, 0), 1, types.Vec4{})); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed; got %v", err)
	}

	if err = fb.Unmap(ptr); err != nil {
		t.Fatal(err)
	}
	if !fb.Released() {
		t.Fatal("expected storage to be released after the last unmap")
	}

	// Closing twice must not drop an extra reference.
	fb.Close()
}

func TestInvertTileOpThenClampFrameOp(t *testing.T) {
	for _, format := range []channel.ColorFormat{channel.RGBA32F, channel.RGBA8, channel.SRGBA} {
		fb := newTestFrameBuffer(t, 32, 32, format, channel.AccumBit)

		p, err := imageop.NewBuilder().
			Tile(imageop.Invert{}).
			Frame(imageop.Clamp{Min: 0, Max: 1}).
			Build()
		if err != nil {
			t.Fatal(err)
		}
		if err = fb.SetPipeline(p); err != nil {
			t.Fatal(err)
		}

		fb.BeginFrame()
		mustSetTile(t, fb, makeTile(fb, image.Pt(0, 0), 0, types.Vec4{1.5, 1.5, 1.5, 1}))
		if _, err = fb.EndFrame(0.01); err != nil {
			t.Fatal(err)
		}

		got := fb.storage.View().Color(5)
		if got[0] != 0 || got[1] != 0 || got[2] != 0 {
			t.Fatalf("[%s] expected clamp(1-1.5, 0, 1) = 0; got %v", format, got)
		}
	}
}

func TestTileOpFailureLeavesBufferUntouched(t *testing.T) {
	fb := newTestFrameBuffer(t, 32, 32, channel.RGBA32F, channel.AccumBit|channel.DepthBit)
	pos := image.Pt(0, 0)
	mustSetTile(t, fb, makeTile(fb, pos, 0, types.Vec4{0.5, 0.5, 0.5, 1}))

	failure := errors.New("tile op failed")
	p, err := imageop.NewBuilder().Tile(&failingTileOp{err: failure}).Build()
	if err != nil {
		t.Fatal(err)
	}
	if err = fb.SetPipeline(p); err != nil {
		t.Fatal(err)
	}

	before := append([]types.Vec4(nil), fb.storage.AccumSum()...)
	colorBefore := append([]types.Vec4(nil), fb.storage.Color32F()...)

	tl := makeTile(fb, pos, 1, types.Vec4{1, 1, 1, 1})
	if err = fb.SetTile(tl); !errors.Is(err, failure) {
		t.Fatalf("expected tile op error; got %v", err)
	}

	for i := range before {
		if fb.storage.AccumSum()[i] != before[i] || fb.storage.Color32F()[i] != colorBefore[i] {
			t.Fatalf("pixel %d: expected no partial accumulation", i)
		}
	}
	if fb.AccumID(pos) != 1 {
		t.Fatalf("expected accum id to stay at 1; got %d", fb.AccumID(pos))
	}
	if fb.TileError(pos) != errregion.Unmeasured {
		t.Fatalf("expected tile error to remain unmeasured; got %f", fb.TileError(pos))
	}
}

func TestSetTileDoesNotModifyInput(t *testing.T) {
	fb := newTestFrameBuffer(t, 32, 32, channel.RGBA32F, channel.AccumBit)
	p, _ := imageop.NewBuilder().Tile(imageop.Invert{}).Build()
	if err := fb.SetPipeline(p); err != nil {
		t.Fatal(err)
	}

	tl := makeTile(fb, image.Pt(0, 0), 0, types.Vec4{0.25, 0.25, 0.25, 1})
	mustSetTile(t, fb, tl)
	if tl.R[0] != 0.25 {
		t.Fatalf("expected input tile to be left untouched; got %f", tl.R[0])
	}
}

func TestSetTileValidation(t *testing.T) {
	fb := newTestFrameBuffer(t, 40, 40, channel.RGBA8, channel.AccumBit)

	type spec struct {
		region  image.Rectangle
		accumID int32
		expErr  error
	}
	specs := []spec{
		{image.Rect(0, 0, 32, 32), 0, nil},
		{image.Rect(32, 32, 40, 40), 0, nil},
		{image.Rect(0, 0, 0, 0), 0, ErrTileOutOfBounds},
		{image.Rect(32, 32, 64, 64), 0, ErrTileOutOfBounds},
		{image.Rect(4, 0, 36, 32), 0, ErrMisalignedTile},
		{image.Rect(0, 0, 16, 16), 0, ErrMisalignedTile},
		{image.Rect(0, 0, 32, 32), -1, ErrInvalidAccumID},
	}

	for index, s := range specs {
		tl := &tile.Tile{Region: s.region, FbSize: fb.Size(), AccumID: s.accumID}
		if err := fb.SetTile(tl); !errors.Is(err, s.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
	}
}

func TestColorRepresentations(t *testing.T) {
	c := types.Vec4{0.5, 0.25, 1.0, 1.0}

	type spec struct {
		format channel.ColorFormat
		check  func(fb *FrameBuffer) bool
	}
	specs := []spec{
		{channel.RGBA8, func(fb *FrameBuffer) bool {
			return fb.storage.Color8()[0] == types.PackRGBA8(c)
		}},
		{channel.SRGBA, func(fb *FrameBuffer) bool {
			return fb.storage.Color8()[0] == channel.EncodeColor(channel.SRGBA, c)
		}},
		{channel.RGBA32F, func(fb *FrameBuffer) bool {
			return fb.storage.Color32F()[0] == c
		}},
	}

	for index, s := range specs {
		// The conversion is the same with and without accumulation.
		for _, mask := range []channel.Mask{0, channel.AccumBit} {
			fb := newTestFrameBuffer(t, 32, 32, s.format, mask)
			mustSetTile(t, fb, makeTile(fb, image.Pt(0, 0), 0, c))
			if !s.check(fb) {
				t.Fatalf("[spec %d] unexpected color encoding for %s (mask %s)", index, s.format, mask)
			}
		}
	}
}

func TestAuxChannelsAccumulate(t *testing.T) {
	fb := newTestFrameBuffer(t, 32, 32, channel.None, channel.DepthBit|channel.NormalBit|channel.AlbedoBit)
	pos := image.Pt(0, 0)

	for i, z := range []float32{2, 4, 6} {
		tl := makeTile(fb, pos, int32(i), types.Vec4{})
		for s := range tl.Z {
			tl.Z[s] = z
			tl.Nx[s], tl.Ny[s], tl.Nz[s] = 0, 0, z
			tl.Ar[s] = 1
		}
		mustSetTile(t, fb, tl)
	}

	if got := fb.storage.Depth()[0]; !types.ApproxEqualScalar(got, 4, 1e-5) {
		t.Fatalf("expected averaged depth 4; got %f", got)
	}
	if got := fb.storage.Normal()[0]; !types.ApproxEqualScalar(got[2], 4, 1e-5) {
		t.Fatalf("expected averaged normal z 4; got %v", got)
	}
	if got := fb.storage.Albedo()[33]; got[0] != 1 {
		t.Fatalf("expected albedo 1; got %v", got)
	}
}

func TestErrorEstimationOnOddPasses(t *testing.T) {
	type spec struct {
		mask channel.Mask
	}
	specs := []spec{
		{channel.AccumBit},
		{channel.AccumBit | channel.VarianceBit},
	}

	for index, s := range specs {
		fb := newTestFrameBuffer(t, 64, 32, channel.RGBA8, s.mask)
		pos := image.Pt(1, 0)

		mustSetTile(t, fb, makeTile(fb, pos, 0, types.Vec4{1, 1, 1, 1}))
		if got := fb.TileError(pos); got != errregion.Unmeasured {
			t.Fatalf("[spec %d] expected even pass to leave the error unmeasured; got %f", index, got)
		}

		mustSetTile(t, fb, makeTile(fb, pos, 1, types.Vec4{0, 0, 0, 1}))
		got := fb.TileError(pos)
		if math.IsInf(float64(got), 1) || got <= 0 {
			t.Fatalf("[spec %d] expected a finite positive error after an odd pass; got %f", index, got)
		}

		// Identical passes converge to zero error.
		conv := newTestFrameBuffer(t, 32, 32, channel.RGBA8, s.mask)
		for i := int32(0); i < 6; i++ {
			mustSetTile(t, conv, makeTile(conv, image.Pt(0, 0), i, types.Vec4{0.5, 0.5, 0.5, 1}))
		}
		if got = conv.TileError(image.Pt(0, 0)); got > 1e-6 {
			t.Fatalf("[spec %d] expected converged tile error ~0; got %f", index, got)
		}

		conv.BeginFrame()
		variance, err := conv.EndFrame(0.01)
		if err != nil {
			t.Fatal(err)
		}
		if variance > 0.01 || conv.FrameVariance() != variance {
			t.Fatalf("[spec %d] expected frame variance below threshold; got %f", index, variance)
		}

		// Estimates survive frame boundaries and are only reset by Clear.
		conv.BeginFrame()
		if got = conv.TileError(image.Pt(0, 0)); got > 1e-6 {
			t.Fatalf("[spec %d] expected BeginFrame to keep the tile error; got %f", index, got)
		}
		if _, err = conv.EndFrame(0.01); err != nil {
			t.Fatal(err)
		}
		conv.Clear()
		if got = conv.TileError(image.Pt(0, 0)); got != errregion.Unmeasured {
			t.Fatalf("[spec %d] expected Clear to reset the tile error; got %f", index, got)
		}
	}
}

func TestNoAccumulationChannelIsInert(t *testing.T) {
	fb := newTestFrameBuffer(t, 32, 32, channel.RGBA8, channel.DepthBit)

	fb.BeginFrame()
	mustSetTile(t, fb, makeTile(fb, image.Pt(0, 0), 1, types.Vec4{1, 0, 0, 1}))
	variance, err := fb.EndFrame(0.1)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(float64(variance), 1) {
		t.Fatalf("expected unmeasured frame variance; got %f", variance)
	}
	if fb.MapBuffer(channel.Accum) != nil {
		t.Fatal("expected disabled accumulation channel to be unmappable")
	}
}

func TestFrameLifecycle(t *testing.T) {
	fb := newTestFrameBuffer(t, 32, 32, channel.RGBA32F, channel.AccumBit)

	var calls []string
	p, err := imageop.NewBuilder().
		Tile(&recordingOp{name: "tile", calls: &calls}).
		Frame(&recordingOp{name: "frame", calls: &calls}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err = fb.SetPipeline(p); err != nil {
		t.Fatal(err)
	}

	if fb.FrameID() != -1 || fb.State() != Idle {
		t.Fatalf("expected idle buffer with frame id -1; got %s, %d", fb.State(), fb.FrameID())
	}

	fb.BeginFrame()
	if fb.FrameID() != 0 || fb.State() != FrameActive {
		t.Fatalf("expected active frame 0; got %s, %d", fb.State(), fb.FrameID())
	}
	if err = fb.SetPipeline(nil); !errors.Is(err, ErrFrameActive) {
		t.Fatalf("expected ErrFrameActive; got %v", err)
	}

	mustSetTile(t, fb, makeTile(fb, image.Pt(0, 0), 0, types.Vec4{1, 1, 1, 1}))
	if _, err = fb.EndFrame(0.1); err != nil {
		t.Fatal(err)
	}
	if fb.State() != Idle || fb.TilesIngested() != 1 {
		t.Fatalf("expected idle state with 1 ingested tile; got %s, %d", fb.State(), fb.TilesIngested())
	}

	exp := []string{"begin:tile", "begin:frame", "process:tile", "process:frame", "end:tile", "end:frame"}
	if len(calls) != len(exp) {
		t.Fatalf("expected calls %v; got %v", exp, calls)
	}
	for i := range exp {
		if calls[i] != exp[i] {
			t.Fatalf("expected calls %v; got %v", exp, calls)
		}
	}

	fb.BeginFrame()
	if fb.FrameID() != 1 {
		t.Fatalf("expected frame id 1; got %d", fb.FrameID())
	}
}

func TestFrameOpErrorStillRunsHooks(t *testing.T) {
	fb := newTestFrameBuffer(t, 32, 32, channel.RGBA32F, channel.AccumBit)

	var calls []string
	failure := errors.New("frame op failed")
	p, _ := imageop.NewBuilder().
		Frame(&recordingOp{name: "f1", calls: &calls, err: failure}).
		Frame(&recordingOp{name: "f2", calls: &calls}).
		Build()
	if err := fb.SetPipeline(p); err != nil {
		t.Fatal(err)
	}

	fb.BeginFrame()
	if _, err := fb.EndFrame(0.1); !errors.Is(err, failure) {
		t.Fatalf("expected frame op error; got %v", err)
	}

	exp := []string{"begin:f1", "begin:f2", "process:f1", "end:f1", "end:f2"}
	if len(calls) != len(exp) {
		t.Fatalf("expected calls %v; got %v", exp, calls)
	}
	if fb.State() != Idle {
		t.Fatalf("expected idle state; got %s", fb.State())
	}
}

func TestConcurrentIngestion(t *testing.T) {
	fb := newTestFrameBuffer(t, 200, 150, channel.RGBA32F, channel.AccumBit|channel.VarianceBit|channel.DepthBit)
	grid := fb.NumTiles()
	passes := 4

	for pass := 0; pass < passes; pass++ {
		fb.BeginFrame()

		var wg sync.WaitGroup
		errCh := make(chan error, grid.X*grid.Y)
		for y := 0; y < grid.Y; y++ {
			for x := 0; x < grid.X; x++ {
				wg.Add(1)
				go func(pos image.Point) {
					defer wg.Done()
					c := float32(pass%2) * 0.5
					errCh <- fb.SetTile(makeTile(fb, pos, fb.AccumID(pos), types.Vec4{c, c, c, 1}))
				}(image.Pt(x, y))
			}
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				t.Fatal(err)
			}
		}

		if _, err := fb.EndFrame(0.001); err != nil {
			t.Fatal(err)
		}
	}

	exp := types.Vec4{0.25, 0.25, 0.25, 1}
	for i, got := range fb.storage.Color32F() {
		if !types.ApproxEqual(got, exp, 1e-5) {
			t.Fatalf("pixel %d: expected %v; got %v", i, exp, got)
		}
	}
	for y := 0; y < grid.Y; y++ {
		for x := 0; x < grid.X; x++ {
			if got := fb.AccumID(image.Pt(x, y)); got != int32(passes) {
				t.Fatalf("tile (%d, %d): expected accum id %d; got %d", x, y, passes, got)
			}
		}
	}
}

func TestConstructionOptions(t *testing.T) {
	p, err := imageop.NewBuilder().Tile(imageop.Invert{}).Build()
	if err != nil {
		t.Fatal(err)
	}

	fb, err := New(64, 64, channel.RGBA32F, channel.AccumBit, WithPipeline(p), WithLogger(log.New("fb-test")))
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Close()

	if fb.Pipeline() != p {
		t.Fatal("expected pipeline to be attached at construction")
	}
	if fb.ID() == "" {
		t.Fatal("expected a non-empty instance id")
	}
	if got := fb.NumTiles(); got != image.Pt(2, 2) {
		t.Fatalf("expected 2x2 tile grid; got %v", got)
	}

	mustSetTile(t, fb, makeTile(fb, image.Pt(1, 1), 0, types.Vec4{0.25, 0.25, 0.25, 1}))
	if got := fb.storage.Color32F()[63*64+63]; !types.ApproxEqual(got, types.Vec4{0.75, 0.75, 0.75, 1}, 1e-6) {
		t.Fatalf("expected inverted color; got %v", got)
	}
}

func TestFrameOpsStartFromResolvedColor(t *testing.T) {
	type spec struct {
		format channel.ColorFormat
		mask   channel.Mask
		tol    float32
	}
	specs := []spec{
		{channel.RGBA32F, channel.AccumBit, 1e-6},
		{channel.RGBA32F, channel.DepthBit, 1e-6},
		{channel.RGBA8, channel.AccumBit | channel.VarianceBit, 2.0 / 255},
	}

	skipped, rendered := image.Pt(0, 0), image.Pt(1, 0)
	exp := types.Vec4{0.5, 0.5, 0.5, 1}
	for index, s := range specs {
		fb := newTestFrameBuffer(t, 64, 32, s.format, s.mask)
		p, err := imageop.NewBuilder().Frame(imageop.TonemapReinhard{Exposure: 1}).Build()
		if err != nil {
			t.Fatal(err)
		}
		if err = fb.SetPipeline(p); err != nil {
			t.Fatal(err)
		}

		// The skipped tile is only ingested during the first frame.
		for frame := 0; frame < 4; frame++ {
			fb.BeginFrame()
			if frame == 0 {
				mustSetTile(t, fb, makeTile(fb, skipped, 0, types.Vec4{1, 1, 1, 1}))
			}
			mustSetTile(t, fb, makeTile(fb, rendered, fb.AccumID(rendered), types.Vec4{1, 1, 1, 1}))
			if _, err = fb.EndFrame(0.01); err != nil {
				t.Fatal(err)
			}

			view := fb.storage.View()
			for _, px := range []int{5*64 + 5, 5*64 + 40} {
				if got := view.Color(px); !types.ApproxEqual(got, exp, s.tol) {
					t.Fatalf("[spec %d] frame %d, pixel %d: expected %v; got %v", index, frame, px, exp, got)
				}
			}
		}
	}
}

func TestCloseDuringIngestionDefersRelease(t *testing.T) {
	op := &blockingTileOp{
		entered: make(chan struct{}),
		resume:  make(chan struct{}),
	}
	p, err := imageop.NewBuilder().Tile(op).Build()
	if err != nil {
		t.Fatal(err)
	}

	fb, err := New(32, 32, channel.RGBA32F, channel.AccumBit|channel.DepthBit, WithPipeline(p))
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- fb.SetTile(makeTile(fb, image.Pt(0, 0), 0, types.Vec4{0.5, 0.5, 0.5, 1}))
	}()

	<-op.entered
	fb.Close()
	if fb.Released() {
		t.Fatal("expected storage to outlive the in-flight ingestion")
	}

	close(op.resume)
	if err = <-errCh; err != nil {
		t.Fatalf("expected in-flight ingestion to complete; got %v", err)
	}
	if !fb.Released() {
		t.Fatal("expected storage to be released once the ingestion returned")
	}
	if err = fb.SetTile(makeTile(fb, image.Pt(0, 0), 1, types.Vec4{})); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed; got %v", err)
	}
}

func newTestFrameBuffer(t *testing.T, w, h int, format channel.ColorFormat, mask channel.Mask) *FrameBuffer {
	fb, err := New(w, h, format, mask)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fb.Close)
	return fb
}

func makeTile(fb *FrameBuffer, pos image.Point, accumID int32, c types.Vec4) *tile.Tile {
	tl := tile.New(pos, fb.Size())
	tl.AccumID = accumID
	tl.Fill(c)
	return tl
}

func mustSetTile(t *testing.T, fb *FrameBuffer, tl *tile.Tile) {
	if err := fb.SetTile(tl); err != nil {
		t.Fatal(err)
	}
}

type failingTileOp struct {
	err error
}

func (op *failingTileOp) Name() string                 { return "failing" }
func (op *failingTileOp) BeginFrame()                  {}
func (op *failingTileOp) EndFrame()                    {}
func (op *failingTileOp) ProcessTile(*tile.Tile) error { return op.err }

type recordingOp struct {
	name  string
	calls *[]string
	err   error
}

func (op *recordingOp) Name() string { return op.name }
func (op *recordingOp) BeginFrame()  { *op.calls = append(*op.calls, "begin:"+op.name) }
func (op *recordingOp) EndFrame()    { *op.calls = append(*op.calls, "end:"+op.name) }

func (op *recordingOp) ProcessTile(*tile.Tile) error {
	*op.calls = append(*op.calls, "process:"+op.name)
	return op.err
}

func (op *recordingOp) ProcessFrame(*channel.View) error {
	*op.calls = append(*op.calls, "process:"+op.name)
	return op.err
}

type blockingTileOp struct {
	entered chan struct{}
	resume  chan struct{}
}

func (op *blockingTileOp) Name() string { return "blocking" }
func (op *blockingTileOp) BeginFrame()  {}
func (op *blockingTileOp) EndFrame()    {}

func (op *blockingTileOp) ProcessTile(*tile.Tile) error {
	close(op.entered)
	<-op.resume
	return nil
}

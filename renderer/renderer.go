package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/polaris-accum/framebuffer"
	"github.com/achilleasa/polaris-accum/imageop"
	"github.com/achilleasa/polaris-accum/log"
	"github.com/achilleasa/polaris-accum/tracer"
)

type Renderer interface {
	// Render progressive frames until the frame buffer converges, the frame
	// limit is reached or ctx is cancelled.
	Render(ctx context.Context) error

	// Shutdown renderer and any attached tracer.
	Close()

	// Get the frame buffer the renderer accumulates into.
	FrameBuffer() *framebuffer.FrameBuffer

	// Get the statistics of the last rendered frame.
	Stats() FrameStats

	// Get the statistics of every rendered frame.
	Frames() []FrameStats
}

// The default renderer drives a frame buffer with a pool of tracers.
type defaultRenderer struct {
	logger log.Logger

	options   Options
	fb        *framebuffer.FrameBuffer
	tracers   []tracer.Tracer
	scheduler tracer.TileScheduler

	frames []FrameStats
}

// Create a new renderer that accumulates into a new frame buffer with the
// attached pipeline. The renderer takes ownership of the supplied tracers.
func NewDefault(opts Options, pipeline *imageop.Pipeline, tracers []tracer.Tracer, scheduler tracer.TileScheduler) (Renderer, error) {
	if len(tracers) == 0 {
		return nil, ErrNoTracers
	}

	format, mask, err := opts.Validate()
	if err != nil {
		return nil, err
	}

	fb, err := framebuffer.New(opts.FrameW, opts.FrameH, format, mask)
	if err != nil {
		return nil, err
	}
	if err = fb.SetPipeline(pipeline); err != nil {
		fb.Close()
		return nil, err
	}

	if scheduler == nil {
		scheduler = tracer.PerfectScheduler()
	}

	r := &defaultRenderer{
		logger:    log.New("renderer"),
		options:   opts,
		fb:        fb,
		tracers:   tracers,
		scheduler: scheduler,
	}
	r.logger.Infof("rendering %dx%d frames (%s, channels: %s) with %d tracer(s)", opts.FrameW, opts.FrameH, format, mask, len(tracers))
	return r, nil
}

// Shutdown renderer and any attached tracer.
func (r *defaultRenderer) Close() {
	for _, tr := range r.tracers {
		tr.Close()
	}
	r.tracers = nil
	r.fb.Close()
}

func (r *defaultRenderer) FrameBuffer() *framebuffer.FrameBuffer {
	return r.fb
}

func (r *defaultRenderer) Stats() FrameStats {
	if len(r.frames) == 0 {
		return FrameStats{FrameID: -1}
	}
	return r.frames[len(r.frames)-1]
}

func (r *defaultRenderer) Frames() []FrameStats {
	return r.frames
}

// Render progressive frames. Cancellation is checked between frames; a
// cancelled render returns ErrInterrupted and leaves the frame buffer with
// the frames completed so far.
func (r *defaultRenderer) Render(ctx context.Context) error {
	if len(r.tracers) == 0 {
		return ErrNoTracers
	}

	for frame := 0; frame < r.options.MaxFrames; frame++ {
		select {
		case <-ctx.Done():
			r.logger.Noticef("interrupted after %d frame(s)", frame)
			return ErrInterrupted
		default:
		}

		stats, err := r.renderFrame()
		if err != nil {
			return err
		}
		r.frames = append(r.frames, stats)

		if stats.PendingTiles == 0 || stats.Variance < r.options.ErrorThreshold {
			r.logger.Infof("converged after %d frame(s); variance: %f", frame+1, stats.Variance)
			return nil
		}
	}

	r.logger.Noticef("reached frame limit (%d); variance: %f", r.options.MaxFrames, r.fb.FrameVariance())
	return nil
}

type blockResult struct {
	tiles uint32
	err   error
}

// Render the next frame: trace all pending tiles and wait for every tracer
// before ending the frame.
func (r *defaultRenderer) renderFrame() (FrameStats, error) {
	start := time.Now()
	pending := tracer.PendingTiles(r.fb, r.options.ErrorThreshold)

	r.fb.BeginFrame()
	stats := FrameStats{
		FrameID:      r.fb.FrameID(),
		PendingTiles: len(pending),
		Tracers:      make([]TracerStat, len(r.tracers)),
	}

	blocks := r.scheduler.Schedule(r.tracers, pending)
	results := make([]blockResult, len(r.tracers))

	var wg sync.WaitGroup
	for idx, tr := range r.tracers {
		if len(blocks[idx]) == 0 {
			continue
		}

		wg.Add(1)
		go func(idx int, tr tracer.Tracer, block tracer.BlockRequest) {
			defer wg.Done()
			doneChan := make(chan uint32, 1)
			errChan := make(chan error, 1)
			block.DoneChan, block.ErrChan = doneChan, errChan

			tr.Enqueue(block)
			select {
			case n := <-doneChan:
				results[idx].tiles = n
			case err := <-errChan:
				results[idx].err = err
			}
		}(idx, tr, tracer.BlockRequest{
			FrameID:         stats.FrameID,
			Tiles:           blocks[idx],
			SamplesPerPixel: r.options.SamplesPerPixel,
			Seed:            r.options.Seed + uint32(stats.FrameID)*uint32(len(r.tracers)) + uint32(idx),
			Sink:            r.fb,
		})
	}
	wg.Wait()

	var traceErr error
	for idx, tr := range r.tracers {
		res := results[idx]
		if res.err != nil && traceErr == nil {
			traceErr = fmt.Errorf("renderer: tracer %s: %w", tr.Id(), res.err)
		}

		stat := TracerStat{Id: tr.Id(), Tiles: res.tiles}
		if res.tiles != 0 {
			stat.RenderTime = tr.Stats().RenderTime
		}
		if len(pending) != 0 {
			stat.FramePercent = 100 * float32(res.tiles) / float32(len(pending))
		}
		stats.Tracers[idx] = stat
	}

	// EndFrame always runs so the buffer returns to the idle state.
	variance, err := r.fb.EndFrame(r.options.ErrorThreshold)
	stats.Variance = variance
	stats.RenderTime = time.Since(start)

	if traceErr != nil {
		return stats, traceErr
	}
	if err != nil {
		return stats, err
	}

	r.logger.Debugf("frame %d: %d tile(s), variance %f, %s", stats.FrameID, stats.PendingTiles, variance, stats.RenderTime)
	return stats, nil
}

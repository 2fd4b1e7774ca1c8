package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/achilleasa/polaris-accum/framebuffer"
	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/imageop"
	"github.com/achilleasa/polaris-accum/renderer"
	"github.com/achilleasa/polaris-accum/tracer"
	"github.com/achilleasa/polaris-accum/tracer/procedural"
	"github.com/achilleasa/polaris-accum/types"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Render the procedural scene until the frame buffer converges.
func RenderFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := loadRenderConfig(ctx)
	if err != nil {
		return err
	}

	// An explicit pipeline file replaces the configured pipeline.
	reg := imageop.DefaultRegistry()
	var pipeline *imageop.Pipeline
	if pipelineFile := ctx.String("pipeline"); pipelineFile != "" {
		pipeline, _, err = decodePipelineFile(reg, pipelineFile)
	} else {
		pipeline, err = cfg.BuildPipeline(reg)
	}
	if err != nil {
		return err
	}

	if cfg.Tracers <= 0 {
		cfg.Tracers = 1
	}
	tracers := make([]tracer.Tracer, cfg.Tracers)
	for idx := range tracers {
		tracers[idx] = procedural.NewTracer(fmt.Sprintf("cpu-%d", idx), 1, procedural.DefaultScene())
	}

	r, err := renderer.NewDefault(cfg.Options, pipeline, tracers, tracer.PerfectScheduler())
	if err != nil {
		for _, tr := range tracers {
			tr.Close()
		}
		return err
	}
	defer r.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = r.Render(sigCtx)
	displayFrameStats(r.Frames())
	if err != nil {
		return err
	}

	mean, err := meanColor(r.FrameBuffer())
	if err != nil {
		return err
	}
	logger.Noticef("mean frame color: %.4f %.4f %.4f %.4f", mean[0], mean[1], mean[2], mean[3])
	return nil
}

// Load the config file (if any) and apply flag overrides.
func loadRenderConfig(ctx *cli.Context) (*renderer.Config, error) {
	cfg := &renderer.Config{Options: renderer.DefaultOptions()}
	if cfgFile := ctx.String("config"); cfgFile != "" {
		var err error
		if cfg, err = renderer.LoadConfig(cfgFile); err != nil {
			return nil, err
		}
	}

	if ctx.IsSet("width") {
		cfg.FrameW = ctx.Int("width")
	}
	if ctx.IsSet("height") {
		cfg.FrameH = ctx.Int("height")
	}
	if ctx.IsSet("format") {
		cfg.Format = ctx.String("format")
	}
	if ctx.IsSet("channels") {
		cfg.Channels = ctx.String("channels")
	}
	if ctx.IsSet("frames") {
		cfg.MaxFrames = ctx.Int("frames")
	}
	if ctx.IsSet("threshold") {
		cfg.ErrorThreshold = float32(ctx.Float64("threshold"))
	}
	if ctx.IsSet("tracers") {
		cfg.Tracers = ctx.Int("tracers")
	}
	if ctx.IsSet("spp") {
		cfg.SamplesPerPixel = uint32(ctx.Int("spp"))
	}
	return cfg, nil
}

// Map the color channel and compute its mean linear value.
func meanColor(fb *framebuffer.FrameBuffer) (types.Vec4, error) {
	ptr := fb.MapBuffer(channel.Color)
	if ptr == nil {
		return types.Vec4{}, nil
	}

	size := fb.Size()
	n := size.X * size.Y
	var sum types.Vec4
	switch fb.Format() {
	case channel.RGBA32F:
		for _, c := range channel.AsVec4(ptr, n) {
			sum = sum.Add(c)
		}
	default:
		for _, p := range channel.AsUint32(ptr, n) {
			sum = sum.Add(channel.DecodeColor(fb.Format(), p))
		}
	}

	if err := fb.Unmap(ptr); err != nil {
		return types.Vec4{}, err
	}
	return sum.Mul(1 / float32(n)), nil
}

func displayFrameStats(frames []renderer.FrameStats) {
	if len(frames) == 0 {
		return
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Frame", "Device", "Tiles", "% of pending", "Render time", "Variance"})

	var total time.Duration
	for _, frame := range frames {
		for _, stat := range frame.Tracers {
			table.Append([]string{
				fmt.Sprintf("%d", frame.FrameID),
				stat.Id,
				fmt.Sprintf("%d", stat.Tiles),
				fmt.Sprintf("%02.1f %%", stat.FramePercent),
				stat.RenderTime.String(),
				fmt.Sprintf("%f", frame.Variance),
			})
		}
		total += frame.RenderTime
	}
	last := frames[len(frames)-1]
	table.SetFooter([]string{"", "", "", "TOTAL", fmt.Sprintf("%d frames", len(frames)), fmt.Sprintf("%f", last.Variance)})

	table.Render()
	logger.Noticef("frame statistics (render time: %s)\n%s", total, buf.String())
}

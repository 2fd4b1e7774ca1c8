package renderer

import (
	"fmt"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
)

type Options struct {
	// Frame dims.
	FrameW int `yaml:"width"`
	FrameH int `yaml:"height"`

	// Frame buffer color representation (rgba8, srgba, rgba32f or none).
	Format string `yaml:"format"`

	// Comma separated list of enabled frame buffer channels.
	Channels string `yaml:"channels"`

	// Upper bound on the number of progressive frames.
	MaxFrames int `yaml:"max_frames"`

	// Rendering stops once the frame variance drops below this value.
	ErrorThreshold float32 `yaml:"error_threshold"`

	// Number of procedural tracers to spawn.
	Tracers int `yaml:"tracers"`

	// Number of samples per pixel for each pass.
	SamplesPerPixel uint32 `yaml:"samples_per_pixel"`

	// Seed for the tracers' random number generators.
	Seed uint32 `yaml:"seed"`
}

// Get the default render options.
func DefaultOptions() Options {
	return Options{
		FrameW:          512,
		FrameH:          512,
		Format:          channel.SRGBA.String(),
		Channels:        "accum,variance,depth",
		MaxFrames:       64,
		ErrorThreshold:  0.01,
		Tracers:         1,
		SamplesPerPixel: 1,
	}
}

// Check the options and resolve the frame buffer format and channels.
func (opts Options) Validate() (channel.ColorFormat, channel.Mask, error) {
	if opts.FrameW <= 0 || opts.FrameH <= 0 {
		return 0, 0, fmt.Errorf("%w: frame dimensions %dx%d", ErrInvalidOptions, opts.FrameW, opts.FrameH)
	}
	if opts.MaxFrames <= 0 {
		return 0, 0, fmt.Errorf("%w: max frames must be positive", ErrInvalidOptions)
	}
	if opts.SamplesPerPixel == 0 {
		return 0, 0, fmt.Errorf("%w: samples per pixel must be positive", ErrInvalidOptions)
	}

	format, err := channel.ParseColorFormat(opts.Format)
	if err != nil {
		return 0, 0, err
	}
	mask, err := channel.ParseMask(opts.Channels)
	if err != nil {
		return 0, 0, err
	}
	return format, mask, nil
}

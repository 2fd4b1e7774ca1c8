package renderer

import "time"

type TracerStat struct {
	// The tracer id.
	Id string

	// The number of tiles and the percentage of pending tiles they represent.
	Tiles        uint32
	FramePercent float32

	// Render time for assigned block
	RenderTime time.Duration
}

type FrameStats struct {
	// The frame buffer frame id.
	FrameID int32

	// Individual tracer stats.
	Tracers []TracerStat

	// Number of tiles traced in this frame.
	PendingTiles int

	// Frame variance after the frame completed.
	Variance float32

	// Total render time for entire frame.
	RenderTime time.Duration
}

// Package procedural provides a CPU tracer that renders an analytic scene.
package procedural

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"

	"github.com/achilleasa/polaris-accum/framebuffer/tile"
	"github.com/achilleasa/polaris-accum/log"
	"github.com/achilleasa/polaris-accum/tracer"
	"github.com/achilleasa/polaris-accum/types"
)

var (
	ErrNoSink         = errors.New("procedural: block request has no tile sink")
	ErrTracerClosed   = errors.New("procedural: tracer is closed")
	ErrInvalidSamples = errors.New("procedural: samples per pixel must be positive")
)

type cpuTracer struct {
	logger log.Logger

	sync.Mutex
	wg sync.WaitGroup

	// The tracer id.
	id string

	// Relative speed estimate.
	speed uint32

	scene Scene

	// A channel for receiving block requests from the renderer.
	blockReqChan chan tracer.BlockRequest

	// A channel for signaling the worker to exit.
	closeChan chan struct{}

	// Statistics for last rendered block.
	stats *tracer.Stats

	// Reused tile buffer.
	tile tile.Tile
}

// Create a new procedural tracer and start its worker.
func NewTracer(id string, speed uint32, scene Scene) tracer.Tracer {
	if speed == 0 {
		speed = 1
	}

	tr := &cpuTracer{
		logger:       log.New(fmt.Sprintf("procedural tracer (%s)", id)),
		id:           id,
		speed:        speed,
		scene:        scene,
		blockReqChan: make(chan tracer.BlockRequest),
		stats:        &tracer.Stats{},
	}
	tr.startWorker()
	return tr
}

// Get tracer id.
func (tr *cpuTracer) Id() string {
	return tr.id
}

// Get the computation speed estimate.
func (tr *cpuTracer) Speed() uint32 {
	return tr.speed
}

// Retrieve last frame statistics.
func (tr *cpuTracer) Stats() *tracer.Stats {
	return tr.stats
}

// Enqueue a block request. Requests sent to a closed tracer fail with
// ErrTracerClosed.
func (tr *cpuTracer) Enqueue(blockReq tracer.BlockRequest) {
	tr.Lock()
	closed := tr.closeChan == nil
	tr.Unlock()

	if closed {
		blockReq.ErrChan <- ErrTracerClosed
		return
	}
	tr.blockReqChan <- blockReq
}

// Shutdown the worker. Close blocks until any in-flight block completes.
func (tr *cpuTracer) Close() {
	tr.Lock()
	defer tr.Unlock()

	if tr.closeChan == nil {
		return
	}

	tr.closeChan <- struct{}{}
	<-tr.closeChan
	tr.wg.Wait()
	tr.closeChan = nil
	tr.logger.Debug("worker stopped")
}

// Spawn a go-routine to process block render requests.
func (tr *cpuTracer) startWorker() {
	// Worker already running
	if tr.closeChan != nil {
		return
	}
	tr.closeChan = make(chan struct{})

	readyChan := make(chan struct{})
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		close(readyChan)
		for {
			select {
			case blockReq := <-tr.blockReqChan:
				startTime := time.Now()
				err := tr.renderBlock(&blockReq)
				if err != nil {
					blockReq.ErrChan <- err
					continue
				}

				// Update stats
				tr.stats.Tiles = uint32(len(blockReq.Tiles))
				tr.stats.RenderTime = time.Since(startTime)

				blockReq.DoneChan <- uint32(len(blockReq.Tiles))
			case <-tr.closeChan:
				// Ack close
				tr.closeChan <- struct{}{}
				return
			}
		}
	}()

	// Wait for go-routine to start
	<-readyChan
}

// Trace every tile of the block and submit it to the request's sink.
func (tr *cpuTracer) renderBlock(blockReq *tracer.BlockRequest) error {
	if blockReq.Sink == nil {
		return ErrNoSink
	}
	if blockReq.SamplesPerPixel == 0 {
		return ErrInvalidSamples
	}

	fbSize := blockReq.Sink.Size()
	for _, pos := range blockReq.Tiles {
		tr.tile.Region = tile.RegionAt(pos, fbSize)
		tr.tile.FbSize = fbSize
		tr.tile.Reset()
		tr.tile.AccumID = blockReq.Sink.AccumID(pos)

		seed := int64(blockReq.Seed) ^ int64(pos.Y*fbSize.X+pos.X)<<20 ^ int64(tr.tile.AccumID)<<40
		Render(&tr.scene, &tr.tile, blockReq.SamplesPerPixel, rand.New(rand.NewSource(seed)))

		if err := blockReq.Sink.SetTile(&tr.tile); err != nil {
			return fmt.Errorf("%s: tile %v: %w", tr.id, pos, err)
		}
	}
	return nil
}

// Render the scene into the tile region using spp jittered samples per
// pixel. The tile weight of each pixel is set to spp.
func Render(sc *Scene, t *tile.Tile, spp uint32, rng *rand.Rand) {
	fbSize := t.FbSize
	aspect := float32(fbSize.X) / float32(fbSize.Y)
	invSpp := 1 / float32(spp)

	w, h := t.Region.Dx(), t.Region.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := image.Pt(t.Region.Min.X+x, t.Region.Min.Y+y)

			var color, normal, albedo types.Vec3
			var depth float32
			for s := uint32(0); s < spp; s++ {
				u := (float32(px.X) + rng.Float32()) / float32(fbSize.X)
				v := (float32(px.Y) + rng.Float32()) / float32(fbSize.Y)

				smp := sc.trace(sc.primaryRay(u, v, aspect), rng)
				color = color.Add(smp.color)
				normal = normal.Add(smp.normal)
				albedo = albedo.Add(smp.albedo)
				depth += smp.depth
			}

			i := tile.Index(x, y)
			t.SetColor(i, color.Mul(invSpp).Vec4(1))
			t.Z[i] = depth * invSpp
			t.Nx[i], t.Ny[i], t.Nz[i] = normal[0]*invSpp, normal[1]*invSpp, normal[2]*invSpp
			t.Ar[i], t.Ag[i], t.Ab[i] = albedo[0]*invSpp, albedo[1]*invSpp, albedo[2]*invSpp
			t.W[i] = float32(spp)
		}
	}
}

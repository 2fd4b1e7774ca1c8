package imageop

import (
	"fmt"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
	"github.com/achilleasa/polaris-accum/framebuffer/tile"
)

// A validated, ordered set of operations: all tile operations followed by
// all frame operations. A nil or empty pipeline is valid and does nothing.
type Pipeline struct {
	tileOps  []TileOp
	frameOps []FrameOp
}

// Get the tile operations in pipeline order.
func (p *Pipeline) TileOps() []TileOp {
	if p == nil {
		return nil
	}
	return p.tileOps
}

// Get the frame operations in pipeline order.
func (p *Pipeline) FrameOps() []FrameOp {
	if p == nil {
		return nil
	}
	return p.frameOps
}

// Get the total number of operations.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.tileOps) + len(p.frameOps)
}

// Get all operations in pipeline order.
func (p *Pipeline) Operations() []Operation {
	ops := make([]Operation, 0, p.Len())
	for _, op := range p.TileOps() {
		ops = append(ops, op)
	}
	for _, op := range p.FrameOps() {
		ops = append(ops, op)
	}
	return ops
}

// Invoke the BeginFrame hook of every operation in pipeline order.
func (p *Pipeline) BeginFrame() {
	for _, op := range p.Operations() {
		op.BeginFrame()
	}
}

// Invoke the EndFrame hook of every operation in pipeline order.
func (p *Pipeline) EndFrame() {
	for _, op := range p.Operations() {
		op.EndFrame()
	}
}

// Run all tile operations against t in pipeline order. Processing stops at
// the first failing operation.
func (p *Pipeline) ProcessTile(t *tile.Tile) error {
	for _, op := range p.TileOps() {
		if err := op.ProcessTile(t); err != nil {
			return fmt.Errorf("imageop: tile operation %q: %w", op.Name(), err)
		}
	}
	return nil
}

// Run all frame operations against v in pipeline order. Processing stops at
// the first failing operation.
func (p *Pipeline) ProcessFrame(v *channel.View) error {
	for _, op := range p.FrameOps() {
		if err := op.ProcessFrame(v); err != nil {
			return fmt.Errorf("imageop: frame operation %q: %w", op.Name(), err)
		}
	}
	return nil
}

// Builder assembles a pipeline and enforces the tile-before-frame ordering.
// The first error is sticky and reported by Build.
type Builder struct {
	tileOps  []TileOp
	frameOps []FrameOp
	err      error
}

// Create a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Append a tile operation.
func (b *Builder) Tile(op TileOp) *Builder {
	return b.Add(TileKind, op)
}

// Append a frame operation.
func (b *Builder) Frame(op FrameOp) *Builder {
	return b.Add(FrameKind, op)
}

// Append an operation with an explicit kind.
func (b *Builder) Add(kind Kind, op Operation) *Builder {
	if b.err != nil {
		return b
	}

	switch kind {
	case TileKind:
		top, ok := op.(TileOp)
		if !ok {
			b.err = fmt.Errorf("%w: %q is not a tile operation", ErrKindMismatch, op.Name())
			return b
		}
		if len(b.frameOps) != 0 {
			b.err = fmt.Errorf("%w: %q follows frame operation %q", ErrFrameOpBeforeTileOp, op.Name(), b.frameOps[len(b.frameOps)-1].Name())
			return b
		}
		b.tileOps = append(b.tileOps, top)
	case FrameKind:
		fop, ok := op.(FrameOp)
		if !ok {
			b.err = fmt.Errorf("%w: %q is not a frame operation", ErrKindMismatch, op.Name())
			return b
		}
		b.frameOps = append(b.frameOps, fop)
	default:
		b.err = fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return b
}

// Validate and return the assembled pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Pipeline{
		tileOps:  append([]TileOp(nil), b.tileOps...),
		frameOps: append([]FrameOp(nil), b.frameOps...),
	}, nil
}

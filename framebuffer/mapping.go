package framebuffer

import (
	"unsafe"

	"github.com/achilleasa/polaris-accum/framebuffer/channel"
)

// Map a channel plane for external read access. Returns nil if the channel
// is disabled or the storage has already been released. Every successful
// mapping keeps the storage alive until the matching Unmap call, even if the
// frame buffer is closed in the meantime.
//
// Use the channel.As* helpers with Size().X*Size().Y elements to view the
// returned pointer as a typed slice. The mapped plane reflects whatever was
// last written; it is not double-buffered against frames still in flight.
func (fb *FrameBuffer) MapBuffer(ch channel.Channel) unsafe.Pointer {
	if fb.closed.Load() {
		return nil
	}

	ptr := fb.storage.Pointer(ch)
	if ptr == nil {
		return nil
	}

	if !fb.storage.Retain() {
		return nil
	}
	fb.mapped.Add(1)
	return ptr
}

// Release a mapping obtained by MapBuffer. Unmapping nil is a no-op. A
// pointer that does not refer to one of this buffer's planes is a usage
// error and is reported as ErrForeignPointer.
func (fb *FrameBuffer) Unmap(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if _, owned := fb.storage.Owns(ptr); !owned {
		fb.logger.Errorf("refusing to unmap foreign pointer %p", ptr)
		return ErrForeignPointer
	}

	for {
		outstanding := fb.mapped.Load()
		if outstanding <= 0 {
			fb.logger.Errorf("unmap of %p without a matching map", ptr)
			return ErrNotMapped
		}
		if fb.mapped.CompareAndSwap(outstanding, outstanding-1) {
			break
		}
	}

	fb.storage.Release()
	return nil
}

// Get the number of live references to the channel storage: one for the
// owner (until Close) plus one per outstanding mapping.
func (fb *FrameBuffer) RefCount() int32 {
	return fb.storage.RefCount()
}

// Returns true once the channel storage has been released.
func (fb *FrameBuffer) Released() bool {
	return fb.storage.Released()
}

package framebuffer

import "errors"

var (
	ErrInvalidDimensions = errors.New("framebuffer: width and height must be positive")
	ErrClosed            = errors.New("framebuffer: frame buffer has been closed")
	ErrTileOutOfBounds   = errors.New("framebuffer: tile region lies outside the frame")
	ErrMisalignedTile    = errors.New("framebuffer: tile region is not aligned to the tile grid")
	ErrInvalidAccumID    = errors.New("framebuffer: negative tile accumulation id")
	ErrForeignPointer    = errors.New("framebuffer: unmapping a pointer not created by this frame buffer")
	ErrNotMapped         = errors.New("framebuffer: no outstanding mappings")
	ErrFrameActive       = errors.New("framebuffer: operation not allowed while a frame is active")
)

package imageop

import "errors"

var (
	ErrFrameOpBeforeTileOp = errors.New("imageop: tile operations must precede all frame operations")
	ErrKindMismatch        = errors.New("imageop: operation does not implement the requested kind")
	ErrUnknownKind         = errors.New("imageop: unknown operation kind")
	ErrUnknownOperation    = errors.New("imageop: unknown operation")
	ErrInvalidParam        = errors.New("imageop: invalid operation parameter")
)

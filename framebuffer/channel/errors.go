package channel

import "errors"

var (
	ErrInvalidDimensions = errors.New("channel: buffer dimensions must be positive")
	ErrUnknownChannel    = errors.New("channel: unknown channel")
	ErrUnknownFormat     = errors.New("channel: unknown color format")
)

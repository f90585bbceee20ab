package device

import "errors"

// Common errors.
var (
	ErrFreedBuffer    = errors.New("use of freed buffer")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrNotInitialized = errors.New("device not initialized")
	ErrUnsupported    = errors.New("operation not supported on this device")
	ErrBadRange       = errors.New("read range out of bounds")
)

package bus

import "errors"

var (
	// ErrClosed is returned by a MemoryBus after Close.
	ErrClosed = errors.New("bus: closed")

	// ErrInvalidPattern is returned for a malformed subscription pattern.
	ErrInvalidPattern = errors.New("bus: invalid pattern")

	// ErrPublishFailed wraps transport publish failures.
	ErrPublishFailed = errors.New("bus: publish failed")
)

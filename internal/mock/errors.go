package mock

import "errors"

var (
	// ErrInvalidPoolConfig is returned by BuildPool for zero pool size or non-positive distribution parameters.
	ErrInvalidPoolConfig = errors.New("invalid pool config")

	// ErrInvalidEventRange is returned when an event token range has min < 1 or min > max.
	ErrInvalidEventRange = errors.New("invalid event token range")

	// ErrInvalidSettings is returned by NewGenerator for settings that cannot produce output.
	ErrInvalidSettings = errors.New("invalid generator settings")

	// ErrStreamClosed is returned by Stream.Next once the stream completed, was closed, or was canceled.
	// A stream is never restartable; open a new one instead.
	ErrStreamClosed = errors.New("stream closed")

	// ErrPeerGone wraps the transport error that ended a stream early.
	ErrPeerGone = errors.New("peer gone")
)

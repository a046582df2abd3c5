package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the root of every framing error. A stream that produced one cannot be
// resynchronized and must be closed.
var ErrProtocol = errors.New("muxcache: protocol error")

// FrameError describes a malformed frame.
//
// Connection handling: CLOSE connection immediately.
type FrameError struct {
	RequestID uint64
	Message   string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("muxcache: malformed frame %d: %s", e.RequestID, e.Message)
}

func (e *FrameError) Unwrap() error {
	return ErrProtocol
}

// ShouldCloseConnection returns true - the byte stream is corrupted past this point.
func (e *FrameError) ShouldCloseConnection() bool {
	return true
}

// ShouldCloseConnection reports whether err leaves the connection in an unusable state.
// Framing errors and unknown errors (I/O failures) do, nil does not.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	var closer interface{ ShouldCloseConnection() bool }
	if errors.As(err, &closer) {
		return closer.ShouldCloseConnection()
	}
	return true
}

package arrowstream

import (
	"errors"
	"fmt"
)

// Sentinels for use with errors.Is to classify any error in a chain by
// failure domain without matching a specific instance.
var (
	ErrTransport = &TransportError{}
	ErrDecode    = &DecodeError{}
	ErrResource  = &ResourceError{}
)

// ErrReleased is returned by Release when a handoff has already been
// released.
var ErrReleased = errors.New("arrowstream: handoff already released")

// TransportError reports a failure at the HTTP transfer layer:
// connection or DNS failure, timeout, or a non-2xx response status.
// It never describes a problem with the stream payload itself.
type TransportError struct {
	URL        string
	StatusCode int    // 0 when the request never produced a response
	Status     string // server status line, e.g. "404 Not Found"
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("transport: %s returned %s", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is supports errors.Is by matching any *TransportError target.
func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	return ok
}

// DecodeError reports a failure interpreting the byte stream: a
// malformed frame, a batch without a preceding schema, corrupt column
// data, a truncated stream, or a failure reported by the listener.
// A DecodeError is terminal for the decoder instance that produced it.
type DecodeError struct {
	Offset int64 // stream offset of the message being decoded
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s at offset %d: %v", e.Reason, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode: %s at offset %d", e.Reason, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is supports errors.Is by matching any *DecodeError target.
func (e *DecodeError) Is(target error) bool {
	_, ok := target.(*DecodeError)
	return ok
}

// ResourceError reports a failure constructing or exporting a handoff
// object. It concerns the delivery of one unit, not the decode state.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Is supports errors.Is by matching any *ResourceError target.
func (e *ResourceError) Is(target error) bool {
	_, ok := target.(*ResourceError)
	return ok
}

package loader

import (
	"errors"
	"fmt"
)

// ErrMissingSizeHeader is returned when the response declares no size.
var ErrMissingSizeHeader = errors.New("response is missing Content-Length")

// ErrOriginMismatch is returned when the content target does not match the
// expected origin. Nothing is delivered in that case.
var ErrOriginMismatch = errors.New("content target origin mismatch")

// Transport operations reported in TransportError.Op.
const (
	OpOpen   = "open"
	OpStatus = "status"
	OpRead   = "read"
)

// TransportError reports a failed request, a rejected response, or a failed
// body read.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	// Received is the number of bytes processed before the failure.
	Received int64
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Op == OpStatus:
		return fmt.Sprintf("transport %s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("transport %s %s failed", e.Op, e.URL)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

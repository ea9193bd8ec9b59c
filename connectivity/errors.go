package connectivity

import (
	"fmt"
	"net/http"
)

// ErrCircuitOpen is returned when the breaker for a service is open and the
// call was rejected without reaching the remote side.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrHTTPStatus is returned by the HTTP handlers for non-2xx responses.
type ErrHTTPStatus struct {
	StatusCode int
	Body       string
}

func (e *ErrHTTPStatus) Error() string {
	return fmt.Sprintf("connectivity: HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt:
// 5xx, 408 and 429.
func (e *ErrHTTPStatus) Retryable() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// ErrPanic wraps a value recovered from a panicking handler.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panic: %v", e.Value)
}

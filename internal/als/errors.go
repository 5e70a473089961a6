package als

import (
	"errors"
	"fmt"
)

// ProtocolError is a structured error object returned by the language server
// for a specific request. It is local to that call.
type ProtocolError struct {
	Code    int
	Message string
	Data    []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// IsProtocol reports whether err is a structured server error.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// framingError signals a violation of the Content-Length framing convention.
type framingError struct {
	msg   string
	cause error
}

func (e framingError) Error() string {
	if e.cause != nil {
		return "framing: " + e.msg + ": " + e.cause.Error()
	}
	return "framing: " + e.msg
}

func (e framingError) Unwrap() error { return e.cause }

// IsFraming reports whether err indicates a malformed or truncated frame.
func IsFraming(err error) bool {
	var fe framingError
	return errors.As(err, &fe)
}

// timeoutError signals that a request deadline elapsed before its response.
type timeoutError struct{ method string }

func (e timeoutError) Error() string { return "request timed out: " + e.method }

// ErrTimeout constructs a timeoutError.
func ErrTimeout(method string) error { return timeoutError{method: method} }

// IsTimeout reports whether err indicates a per-request deadline elapsed.
func IsTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te)
}

// disconnectedError signals the process died or the stream closed before a
// response arrived.
type disconnectedError struct{ reason string }

func (e disconnectedError) Error() string { return "disconnected: " + e.reason }

// ErrDisconnected constructs a disconnectedError.
func ErrDisconnected(reason string) error { return disconnectedError{reason: reason} }

// IsDisconnected reports whether err indicates the server went away mid-request.
func IsDisconnected(err error) bool {
	var de disconnectedError
	return errors.As(err, &de)
}

// startupError signals spawn or handshake failure, fatal for that instance
// attempt. Retry is the pool's concern on next use.
type startupError struct {
	msg   string
	cause error
}

func (e startupError) Error() string {
	if e.cause != nil {
		return "startup: " + e.msg + ": " + e.cause.Error()
	}
	return "startup: " + e.msg
}

func (e startupError) Unwrap() error { return e.cause }

// ErrStartup constructs a startupError.
func ErrStartup(msg string, cause error) error { return startupError{msg: msg, cause: cause} }

// IsStartup reports whether err indicates spawn/handshake failure.
func IsStartup(err error) bool {
	var se startupError
	return errors.As(err, &se)
}

// shutdownError fails requests still pending when an instance is shut down.
type shutdownError struct{}

func (shutdownError) Error() string { return "instance shutting down" }

// IsShutdown reports whether err indicates the instance was deliberately stopped.
func IsShutdown(err error) bool {
	var se shutdownError
	return errors.As(err, &se)
}

// deadError signals the restart budget is exhausted; the instance is terminal.
type deadError struct{ root string }

func (e deadError) Error() string { return "instance dead: " + e.root }

// IsDead reports whether err indicates an instance past its restart budget.
func IsDead(err error) bool {
	var de deadError
	return errors.As(err, &de)
}

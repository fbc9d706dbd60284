package mpv

import (
	"errors"
	"fmt"
)

// ErrorCode is a libmpv error code. Zero is success, everything else is negative.
type ErrorCode int32

const (
	Success             ErrorCode = 0
	ErrEventQueueFull   ErrorCode = -1
	ErrNoMem            ErrorCode = -2
	ErrUninitialized    ErrorCode = -3
	ErrInvalidParameter ErrorCode = -4
	ErrOptionNotFound   ErrorCode = -5
	ErrOptionFormat     ErrorCode = -6
	ErrOptionError      ErrorCode = -7
	ErrPropertyNotFound ErrorCode = -8
	ErrPropertyFormat   ErrorCode = -9
	ErrPropertyUnavail  ErrorCode = -10
	ErrPropertyError    ErrorCode = -11
	ErrCommand          ErrorCode = -12
	ErrLoadingFailed    ErrorCode = -13
	ErrAOInitFailed     ErrorCode = -14
	ErrVOInitFailed     ErrorCode = -15
	ErrNothingToPlay    ErrorCode = -16
	ErrUnknownFormat    ErrorCode = -17
	ErrUnsupported      ErrorCode = -18
	ErrNotImplemented   ErrorCode = -19
	ErrGeneric          ErrorCode = -20
)

// errorStrings is used when the loaded library has no text for a code.
var errorStrings = map[ErrorCode]string{
	Success:             "success",
	ErrEventQueueFull:   "event queue full",
	ErrNoMem:            "memory allocation failed",
	ErrUninitialized:    "core not uninitialized",
	ErrInvalidParameter: "invalid parameter",
	ErrOptionNotFound:   "option not found",
	ErrOptionFormat:     "unsupported format for accessing option",
	ErrOptionError:      "error setting option",
	ErrPropertyNotFound: "property not found",
	ErrPropertyFormat:   "unsupported format for accessing property",
	ErrPropertyUnavail:  "property unavailable",
	ErrPropertyError:    "error accessing property",
	ErrCommand:          "error running command",
	ErrLoadingFailed:    "loading failed",
	ErrAOInitFailed:     "audio output initialization failed",
	ErrVOInitFailed:     "video output initialization failed",
	ErrNothingToPlay:    "no audio or video data played",
	ErrUnknownFormat:    "unrecognized file format",
	ErrUnsupported:      "not supported",
	ErrNotImplemented:   "operation not implemented",
	ErrGeneric:          "something happened",
}

// String returns the built-in description of c.
func (c ErrorCode) String() string {
	if s, ok := errorStrings[c]; ok {
		return s
	}
	return "unknown error"
}

// Error implements error so codes can be used as errors.Is targets.
func (c ErrorCode) Error() string {
	return fmt.Sprintf("[%d] %s", int32(c), c.String())
}

// Error is a failed libmpv call. Message is the library's own description of
// Code. Err is set when the failure happened on the Go side before the call,
// for example a string that cannot be expressed as a C string.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", int32(e.Code), e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", int32(e.Code), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error or an ErrorCode with the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *Error:
		return e.Code == t.Code
	}
	return false
}

// Code extracts the libmpv error code from err, or Success if err is nil.
// Errors not produced by this package report ErrGeneric.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c ErrorCode
	if errors.As(err, &c) {
		return c
	}
	return ErrGeneric
}

var (
	// ErrStaleEvent is the panic value when an event payload is read after
	// the next WaitEvent on the same client.
	ErrStaleEvent = errors.New("mpv: event payload used after the next WaitEvent")
	// ErrClosed is returned by calls on a client that has been closed.
	ErrClosed = errors.New("mpv: client is closed")
)

// messageFunc resolves the library text for a code.
type messageFunc func(code int32) string

// newError builds an *Error for code using lookup, falling back to the
// built-in table when the library has nothing to say.
func newError(lookup messageFunc, code ErrorCode, cause error) *Error {
	msg := ""
	if lookup != nil {
		msg = lookup(int32(code))
	}
	if msg == "" {
		msg = code.String()
	}
	return &Error{Code: code, Message: msg, Err: cause}
}

package mpv

import (
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// Format is the numeric tag libmpv uses to describe the shape of a value
// passed through an untyped pointer.
type Format int32

const (
	FormatNone      Format = 0
	FormatString    Format = 1
	FormatOSDString Format = 2
	FormatFlag      Format = 3
	FormatInt64     Format = 4
	FormatDouble    Format = 5
	FormatNode      Format = 6
	FormatNodeArray Format = 7
	FormatNodeMap   Format = 8
	FormatByteArray Format = 9
)

var formatNames = [...]string{
	FormatNone:      "none",
	FormatString:    "string",
	FormatOSDString: "osd-string",
	FormatFlag:      "flag",
	FormatInt64:     "int64",
	FormatDouble:    "double",
	FormatNode:      "node",
	FormatNodeArray: "node-array",
	FormatNodeMap:   "node-map",
	FormatByteArray: "byte-array",
}

func (f Format) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// Value is the closed set of Go types that can be exchanged through the
// typed property and event accessors.
type Value interface {
	string | bool | int64 | float64 | Node
}

// FormatOf returns the native tag used when T crosses the boundary.
func FormatOf[T Value]() Format {
	var zero T
	switch any(zero).(type) {
	case string:
		return FormatString
	case bool:
		return FormatFlag
	case int64:
		return FormatInt64
	case float64:
		return FormatDouble
	case Node:
		return FormatNode
	}
	return FormatNone
}

// Marshal performs one native call that reads or writes the value behind data.
// It returns the call's error translated to *Error, or nil.
type Marshal func(data unsafe.Pointer) error

// Allocator provides the native memory values are staged in.
type Allocator = ffi.Allocator

// Releaser frees memory that the native side handed out.
type Releaser interface {
	Free(ptr uintptr)
	FreeNodeContents(node unsafe.Pointer)
}

// ============================================================================
// Codec Dispatch
// ============================================================================

// codec implements one member of Value against raw payload memory.
type codec struct {
	// readFrom interprets a payload the native side owns, such as event data.
	readFrom func(data uintptr) any
	// writeVia stages v into a transient, hands its address to marshal and
	// releases the transient afterwards.
	writeVia func(a Allocator, v any, marshal Marshal) error
	// readVia hands a zeroed transient to marshal, interprets it and releases
	// whatever the native side stored in it.
	readVia func(r Releaser, marshal Marshal) (any, error)
}

var codecs = map[Format]codec{
	FormatString: {
		readFrom: func(data uintptr) any {
			return validText(ffi.GoString(*(*uintptr)(unsafe.Pointer(data))))
		},
		writeVia: func(a Allocator, v any, marshal Marshal) error {
			s, err := ffi.CString(a, v.(string))
			if err != nil {
				return encodeError(err)
			}
			defer a.Free(s)
			slot := s
			return marshal(unsafe.Pointer(&slot))
		},
		readVia: func(r Releaser, marshal Marshal) (any, error) {
			var slot uintptr
			err := marshal(unsafe.Pointer(&slot))
			var s string
			if slot != 0 {
				s = ffi.GoString(slot)
				r.Free(slot)
			}
			if err != nil {
				return "", err
			}
			if !utf8.ValidString(s) {
				return "", newError(nil, ErrGeneric, errInvalidUTF8)
			}
			return s, nil
		},
	},
	FormatFlag: {
		readFrom: func(data uintptr) any {
			return *(*int32)(unsafe.Pointer(data)) != 0
		},
		writeVia: func(a Allocator, v any, marshal Marshal) error {
			var flag int32
			if v.(bool) {
				flag = 1
			}
			return marshal(unsafe.Pointer(&flag))
		},
		readVia: func(r Releaser, marshal Marshal) (any, error) {
			var flag int32
			if err := marshal(unsafe.Pointer(&flag)); err != nil {
				return false, err
			}
			return flag != 0, nil
		},
	},
	FormatInt64: {
		readFrom: func(data uintptr) any {
			return *(*int64)(unsafe.Pointer(data))
		},
		writeVia: func(a Allocator, v any, marshal Marshal) error {
			i := v.(int64)
			return marshal(unsafe.Pointer(&i))
		},
		readVia: func(r Releaser, marshal Marshal) (any, error) {
			var i int64
			if err := marshal(unsafe.Pointer(&i)); err != nil {
				return int64(0), err
			}
			return i, nil
		},
	},
	FormatDouble: {
		readFrom: func(data uintptr) any {
			return *(*float64)(unsafe.Pointer(data))
		},
		writeVia: func(a Allocator, v any, marshal Marshal) error {
			f := v.(float64)
			return marshal(unsafe.Pointer(&f))
		},
		readVia: func(r Releaser, marshal Marshal) (any, error) {
			var f float64
			if err := marshal(unsafe.Pointer(&f)); err != nil {
				return float64(0), err
			}
			return f, nil
		},
	},
	FormatNode: {
		readFrom: func(data uintptr) any {
			return decodeNode(ffi.As[ffi.Node](data))
		},
		writeVia: func(a Allocator, v any, marshal Marshal) error {
			p, err := encodeNode(a, v.(Node))
			if err != nil {
				return err
			}
			defer releaseNode(a, p)
			return marshal(unsafe.Pointer(ffi.As[ffi.Node](p)))
		},
		readVia: func(r Releaser, marshal Marshal) (any, error) {
			var n ffi.Node
			err := marshal(unsafe.Pointer(&n))
			defer r.FreeNodeContents(unsafe.Pointer(&n))
			if err != nil {
				return None, err
			}
			return decodeNode(&n), nil
		},
	},
}

// ReadFrom interprets data as T. data must point at a payload of T's format;
// the native side keeps ownership of it.
func ReadFrom[T Value](data uintptr) T {
	return codecs[FormatOf[T]()].readFrom(data).(T)
}

// WriteVia stages v in memory from a and calls marshal with its address. The
// staged copy is released before WriteVia returns, whatever marshal returned.
func WriteVia[T Value](a Allocator, v T, marshal Marshal) error {
	return codecs[FormatOf[T]()].writeVia(a, any(v), marshal)
}

// ReadVia calls marshal with the address of a zeroed T-shaped transient and
// returns its interpreted contents. Anything the native side allocated into
// the transient is released through r, also when marshal fails.
func ReadVia[T Value](r Releaser, marshal Marshal) (T, error) {
	v, err := codecs[FormatOf[T]()].readVia(r, marshal)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

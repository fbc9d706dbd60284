package ffi

import (
	"unsafe"
)

// ============================================================================
// C Struct Layouts
// ============================================================================
//
// These mirror libmpv's client.h on LP64 and LLP64 targets. Pointer fields are
// kept as uintptr: they always point into native memory, never into the Go heap.

// Node matches mpv_node. U is the 8-byte payload union; which member is valid
// is decided by Format.
type Node struct {
	U      uint64
	Format int32
	_      [4]byte
}

// NodeList matches mpv_node_list. Keys is only set for maps.
type NodeList struct {
	Num    int32
	_      [4]byte
	Values uintptr
	Keys   uintptr
}

// ByteArray matches mpv_byte_array.
type ByteArray struct {
	Data uintptr
	Size uintptr
}

// Event matches mpv_event.
type Event struct {
	EventID       int32
	Error         int32
	ReplyUserdata uint64
	Data          uintptr
}

// EventProperty matches mpv_event_property.
type EventProperty struct {
	Name   uintptr
	Format int32
	_      [4]byte
	Data   uintptr
}

// EventLogMessage matches mpv_event_log_message.
type EventLogMessage struct {
	Prefix   uintptr
	Level    uintptr
	Text     uintptr
	LogLevel int32
	_        [4]byte
}

// EventStartFile matches mpv_event_start_file.
type EventStartFile struct {
	PlaylistEntryID int64
}

// EventEndFile matches mpv_event_end_file.
type EventEndFile struct {
	Reason                   int32
	Error                    int32
	PlaylistEntryID          int64
	PlaylistInsertID         int64
	PlaylistInsertNumEntries int32
	_                        [4]byte
}

// EventClientMessage matches mpv_event_client_message.
type EventClientMessage struct {
	NumArgs int32
	_       [4]byte
	Args    uintptr
}

// EventHook matches mpv_event_hook.
type EventHook struct {
	Name uintptr
	ID   uint64
}

// EventCommand matches mpv_event_command.
type EventCommand struct {
	Result Node
}

// Sizes used when allocating these records in native memory.
const (
	SizeofNode      = unsafe.Sizeof(Node{})
	SizeofNodeList  = unsafe.Sizeof(NodeList{})
	SizeofByteArray = unsafe.Sizeof(ByteArray{})
	SizeofPtr       = unsafe.Sizeof(uintptr(0))
)

// ============================================================================
// Union Access
// ============================================================================

// Ptr reads the union as a pointer (string, list, byte array).
func (n *Node) Ptr() uintptr { return *(*uintptr)(unsafe.Pointer(&n.U)) }

// SetPtr writes the union as a pointer.
func (n *Node) SetPtr(p uintptr) { n.U = 0; *(*uintptr)(unsafe.Pointer(&n.U)) = p }

// Int64 reads the union as int64.
func (n *Node) Int64() int64 { return *(*int64)(unsafe.Pointer(&n.U)) }

// SetInt64 writes the union as int64.
func (n *Node) SetInt64(v int64) { *(*int64)(unsafe.Pointer(&n.U)) = v }

// Double reads the union as double.
func (n *Node) Double() float64 { return *(*float64)(unsafe.Pointer(&n.U)) }

// SetDouble writes the union as double.
func (n *Node) SetDouble(v float64) { *(*float64)(unsafe.Pointer(&n.U)) = v }

// Flag reads the union as the 4-byte int flag.
func (n *Node) Flag() int32 { return *(*int32)(unsafe.Pointer(&n.U)) }

// SetFlag writes the union as the 4-byte int flag.
func (n *Node) SetFlag(v int32) { n.U = 0; *(*int32)(unsafe.Pointer(&n.U)) = v }

// ============================================================================
// Native Pointer Helpers
// ============================================================================

// NodeAt returns the i-th element of a contiguous native mpv_node array.
func NodeAt(base uintptr, i int) *Node {
	return (*Node)(unsafe.Pointer(base + uintptr(i)*SizeofNode))
}

// PtrAt returns the i-th element of a native pointer array.
func PtrAt(base uintptr, i int) uintptr {
	return *(*uintptr)(unsafe.Pointer(base + uintptr(i)*SizeofPtr))
}

// SetPtrAt writes the i-th element of a native pointer array.
func SetPtrAt(base uintptr, i int, p uintptr) {
	*(*uintptr)(unsafe.Pointer(base + uintptr(i)*SizeofPtr)) = p
}

// As reinterprets a native address as a *T. The address must not be zero.
func As[T any](p uintptr) *T {
	return (*T)(unsafe.Pointer(p))
}

// Put copies v into a freshly allocated native block and returns its address.
// The block must be released with a.Free.
func Put[T any](a Allocator, v T) uintptr {
	size := unsafe.Sizeof(v)
	p := a.Malloc(size)
	if p == 0 {
		return 0
	}
	*(*T)(unsafe.Pointer(p)) = v
	return p
}

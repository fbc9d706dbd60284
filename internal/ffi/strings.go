package ffi

import (
	"errors"
	"strings"
	"unsafe"
)

// ============================================================================
// String Helpers for FFI
// ============================================================================

var (
	// ErrEmbeddedNUL is returned when a Go string cannot be expressed as a C string.
	ErrEmbeddedNUL = errors.New("ffi: string contains NUL byte")
	// ErrNoMemory is returned when the native allocator fails.
	ErrNoMemory = errors.New("ffi: native allocation failed")
)

// GoString copies a NUL-terminated C string into a Go string.
func GoString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var length uintptr
	for *(*byte)(unsafe.Pointer(ptr + length)) != 0 {
		length++
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length))
}

// GoBytes copies size bytes starting at ptr.
func GoBytes(ptr uintptr, size uintptr) []byte {
	if ptr == 0 || size == 0 {
		return []byte{}
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	return out
}

// CopyBytes copies b into a native block from a. An empty slice yields zero.
func CopyBytes(a Allocator, b []byte) (uintptr, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p := a.Malloc(uintptr(len(b)))
	if p == 0 {
		return 0, ErrNoMemory
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(b)), b)
	return p, nil
}

// CString copies s into a NUL-terminated native string from a.
func CString(a Allocator, s string) (uintptr, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return 0, ErrEmbeddedNUL
	}
	p := a.Malloc(uintptr(len(s)) + 1)
	if p == 0 {
		return 0, ErrNoMemory
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(p)), len(s)+1)
	copy(buf, s)
	buf[len(s)] = 0
	return p, nil
}

// CStringArray builds a NULL-terminated char*[] from args. Release it with
// FreeStringArray, also on the error path of the call that consumed it.
func CStringArray(a Allocator, args []string) (uintptr, error) {
	arr := Calloc(a, uintptr(len(args)+1)*SizeofPtr)
	if arr == 0 {
		return 0, ErrNoMemory
	}
	for i, arg := range args {
		p, err := CString(a, arg)
		if err != nil {
			FreeStringArray(a, arr)
			return 0, err
		}
		SetPtrAt(arr, i, p)
	}
	return arr, nil
}

// FreeStringArray releases an array built by CStringArray.
func FreeStringArray(a Allocator, arr uintptr) {
	if arr == 0 {
		return
	}
	for i := 0; ; i++ {
		p := PtrAt(arr, i)
		if p == 0 {
			break
		}
		a.Free(p)
	}
	a.Free(arr)
}

// GoStringArray reads n C strings from a native char*[].
func GoStringArray(arr uintptr, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, GoString(PtrAt(arr, i)))
	}
	return out
}

// GoStringList reads a NULL-terminated native char*[].
func GoStringList(arr uintptr) []string {
	var out []string
	if arr == 0 {
		return out
	}
	for i := 0; ; i++ {
		p := PtrAt(arr, i)
		if p == 0 {
			return out
		}
		out = append(out, GoString(p))
	}
}

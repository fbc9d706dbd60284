package fakempv

import (
	"strconv"
	"unsafe"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// Native tags, duplicated here so the fake does not depend on the package it
// is used to test.
const (
	formatNone      = 0
	formatString    = 1
	formatOSDString = 2
	formatFlag      = 3
	formatInt64     = 4
	formatDouble    = 5
	formatNode      = 6
	formatNodeArray = 7
	formatNodeMap   = 8
	formatByteArray = 9
)

// arena records every block it hands out so an event record and its payload
// can be dropped in one go.
type arena struct {
	a      ffi.Allocator
	blocks map[uintptr]struct{}
}

func newArena(a ffi.Allocator) *arena {
	return &arena{a: a, blocks: make(map[uintptr]struct{})}
}

func (ar *arena) Malloc(size uintptr) uintptr {
	p := ar.a.Malloc(size)
	if p != 0 {
		ar.blocks[p] = struct{}{}
	}
	return p
}

func (ar *arena) Free(ptr uintptr) {
	if _, ok := ar.blocks[ptr]; ok {
		delete(ar.blocks, ptr)
		ar.a.Free(ptr)
	}
}

func (ar *arena) release() {
	for p := range ar.blocks {
		ar.a.Free(p)
	}
	clear(ar.blocks)
}

// cstring is ffi.CString for strings that are known to be NUL free.
func cstring(a ffi.Allocator, s string) uintptr {
	p, err := ffi.CString(a, s)
	if err != nil {
		return 0
	}
	return p
}

// ============================================================================
// Node copies
// ============================================================================

// copyNode deep-copies src into dst using a.
func copyNode(a ffi.Allocator, dst, src *ffi.Node) {
	*dst = ffi.Node{Format: src.Format}
	switch src.Format {
	case formatString, formatOSDString:
		dst.SetPtr(cstring(a, ffi.GoString(src.Ptr())))
	case formatFlag, formatInt64, formatDouble:
		dst.U = src.U
	case formatByteArray:
		if src.Ptr() == 0 {
			return
		}
		in := ffi.As[ffi.ByteArray](src.Ptr())
		data, _ := ffi.CopyBytes(a, ffi.GoBytes(in.Data, in.Size))
		dst.SetPtr(ffi.Put(a, ffi.ByteArray{Data: data, Size: in.Size}))
	case formatNodeArray, formatNodeMap:
		if src.Ptr() == 0 {
			dst.SetPtr(ffi.Calloc(a, ffi.SizeofNodeList))
			return
		}
		in := ffi.As[ffi.NodeList](src.Ptr())
		out := ffi.NodeList{Num: in.Num}
		if in.Num > 0 {
			out.Values = ffi.Calloc(a, uintptr(in.Num)*ffi.SizeofNode)
			for i := 0; i < int(in.Num); i++ {
				copyNode(a, ffi.NodeAt(out.Values, i), ffi.NodeAt(in.Values, i))
			}
			if src.Format == formatNodeMap && in.Keys != 0 {
				out.Keys = ffi.Calloc(a, uintptr(in.Num)*ffi.SizeofPtr)
				for i := 0; i < int(in.Num); i++ {
					if k := ffi.PtrAt(in.Keys, i); k != 0 {
						ffi.SetPtrAt(out.Keys, i, cstring(a, ffi.GoString(k)))
					}
				}
			}
		}
		dst.SetPtr(ffi.Put(a, out))
	default:
		dst.Format = formatNone
	}
}

// freeNode releases what copyNode allocated and resets n, the way
// mpv_free_node_contents does.
func freeNode(a ffi.Allocator, n *ffi.Node) {
	switch n.Format {
	case formatString, formatOSDString:
		a.Free(n.Ptr())
	case formatByteArray:
		if p := n.Ptr(); p != 0 {
			a.Free(ffi.As[ffi.ByteArray](p).Data)
			a.Free(p)
		}
	case formatNodeArray, formatNodeMap:
		if p := n.Ptr(); p != 0 {
			l := ffi.As[ffi.NodeList](p)
			for i := 0; i < int(l.Num); i++ {
				freeNode(a, ffi.NodeAt(l.Values, i))
				if l.Keys != 0 {
					a.Free(ffi.PtrAt(l.Keys, i))
				}
			}
			a.Free(l.Keys)
			a.Free(l.Values)
			a.Free(p)
		}
	}
	*n = ffi.Node{}
}

func stringNode(a ffi.Allocator, s string) ffi.Node {
	n := ffi.Node{Format: formatString}
	n.SetPtr(cstring(a, s))
	return n
}

func int64Node(v int64) ffi.Node {
	n := ffi.Node{Format: formatInt64}
	n.SetInt64(v)
	return n
}

func doubleNode(v float64) ffi.Node {
	n := ffi.Node{Format: formatDouble}
	n.SetDouble(v)
	return n
}

func flagNode(v bool) ffi.Node {
	n := ffi.Node{Format: formatFlag}
	if v {
		n.SetFlag(1)
	} else {
		n.SetFlag(0)
	}
	return n
}

// nodeText renders scalar nodes the way mpv prints property values.
func nodeText(n *ffi.Node) (string, bool) {
	switch n.Format {
	case formatString, formatOSDString:
		return ffi.GoString(n.Ptr()), true
	case formatInt64:
		return strconv.FormatInt(n.Int64(), 10), true
	case formatDouble:
		return strconv.FormatFloat(n.Double(), 'f', 6, 64), true
	case formatFlag:
		if n.Flag() != 0 {
			return "yes", true
		}
		return "no", true
	}
	return "", false
}

// ============================================================================
// Typed transfer
// ============================================================================

// sizeOfFormat is the size of the transient a value of format occupies.
func sizeOfFormat(format int32) uintptr {
	switch format {
	case formatString, formatOSDString:
		return ffi.SizeofPtr
	case formatFlag, formatInt64, formatDouble:
		return 8
	case formatNode:
		return ffi.SizeofNode
	}
	return 0
}

// store writes the stored value src into the caller's transient at data in
// the requested format. Memory handed out comes from a.
func store(a ffi.Allocator, src *ffi.Node, format int32, data unsafe.Pointer) int32 {
	switch format {
	case formatNode:
		copyNode(a, (*ffi.Node)(data), src)
		return errSuccess
	case formatString, formatOSDString:
		s, ok := nodeText(src)
		if !ok {
			return errPropertyFormat
		}
		*(*uintptr)(data) = cstring(a, s)
		return errSuccess
	case formatFlag:
		if src.Format != formatFlag {
			return errPropertyFormat
		}
		*(*int32)(data) = src.Flag()
		return errSuccess
	case formatInt64:
		if src.Format != formatInt64 {
			return errPropertyFormat
		}
		*(*int64)(data) = src.Int64()
		return errSuccess
	case formatDouble:
		switch src.Format {
		case formatDouble:
			*(*float64)(data) = src.Double()
		case formatInt64:
			*(*float64)(data) = float64(src.Int64())
		default:
			return errPropertyFormat
		}
		return errSuccess
	}
	return errPropertyFormat
}

// load reads a caller's value of format at data into a node owned by a.
func load(a ffi.Allocator, format int32, data unsafe.Pointer) (ffi.Node, int32) {
	if data == nil {
		return ffi.Node{}, errInvalidParameter
	}
	switch format {
	case formatNode:
		var n ffi.Node
		copyNode(a, &n, (*ffi.Node)(data))
		return n, errSuccess
	case formatString, formatOSDString:
		return stringNode(a, ffi.GoString(*(*uintptr)(data))), errSuccess
	case formatFlag:
		return flagNode(*(*int32)(data) != 0), errSuccess
	case formatInt64:
		return int64Node(*(*int64)(data)), errSuccess
	case formatDouble:
		return doubleNode(*(*float64)(data)), errSuccess
	}
	return ffi.Node{}, errPropertyFormat
}

// coerce converts an incoming value to the type of the value it replaces,
// as mpv does for typed properties. Values that cannot be converted fail
// with errPropertyFormat. The incoming node is consumed.
func coerce(a ffi.Allocator, old *ffi.Node, in ffi.Node) (ffi.Node, int32) {
	if old == nil || old.Format == in.Format || in.Format == formatNode {
		return in, errSuccess
	}
	switch {
	case old.Format == formatDouble && in.Format == formatInt64:
		return doubleNode(float64(in.Int64())), errSuccess
	case in.Format == formatString:
		s := ffi.GoString(in.Ptr())
		freeNode(a, &in)
		switch old.Format {
		case formatInt64:
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return ffi.Node{}, errPropertyFormat
			}
			return int64Node(v), errSuccess
		case formatDouble:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return ffi.Node{}, errPropertyFormat
			}
			return doubleNode(v), errSuccess
		case formatFlag:
			switch s {
			case "yes", "true":
				return flagNode(true), errSuccess
			case "no", "false":
				return flagNode(false), errSuccess
			}
			return ffi.Node{}, errPropertyFormat
		}
		return stringNode(a, s), errSuccess
	}
	freeNode(a, &in)
	return ffi.Node{}, errPropertyFormat
}

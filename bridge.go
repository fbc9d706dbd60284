package mpv

import (
	"errors"
	"sort"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// ============================================================================
// Node <-> mpv_node
// ============================================================================
//
// encodeNode and releaseNode are mirror images: every block fillNode allocates
// is reachable from the tree it builds, and clearNode walks the same tree to
// free it. A partially built tree is always well-formed, so clearNode is also
// the unwind path when encoding fails halfway.

var errInvalidUTF8 = errors.New("mpv: string from native side is not valid UTF-8")

// encodeError maps a host-side staging failure onto a libmpv error code.
func encodeError(err error) error {
	if errors.Is(err, ffi.ErrNoMemory) {
		return newError(nil, ErrNoMem, err)
	}
	return newError(nil, ErrGeneric, err)
}

// encodeNode allocates a native mpv_node holding n. The result must be
// released with releaseNode once the native call that reads it returns.
func encodeNode(a ffi.Allocator, n Node) (uintptr, error) {
	p := ffi.Calloc(a, ffi.SizeofNode)
	if p == 0 {
		return 0, encodeError(ffi.ErrNoMemory)
	}
	if err := fillNode(a, ffi.As[ffi.Node](p), n); err != nil {
		a.Free(p)
		return 0, err
	}
	return p, nil
}

// releaseNode frees a node built by encodeNode, including the node itself.
func releaseNode(a ffi.Allocator, p uintptr) {
	if p == 0 {
		return
	}
	clearNode(a, ffi.As[ffi.Node](p))
	a.Free(p)
}

// fillNode writes n into dst. On error dst has been reset to none and
// nothing it allocated is left behind.
func fillNode(a ffi.Allocator, dst *ffi.Node, n Node) error {
	dst.U = 0
	dst.Format = int32(FormatNone)

	switch v := n.value.(type) {
	case string:
		s, err := ffi.CString(a, v)
		if err != nil {
			return encodeError(err)
		}
		dst.SetPtr(s)
	case int64:
		dst.SetInt64(v)
	case float64:
		dst.SetDouble(v)
	case bool:
		var flag int32
		if v {
			flag = 1
		}
		dst.SetFlag(flag)
	case []byte:
		ba := ffi.Calloc(a, ffi.SizeofByteArray)
		if ba == 0 {
			return encodeError(ffi.ErrNoMemory)
		}
		data, err := ffi.CopyBytes(a, v)
		if err != nil {
			a.Free(ba)
			return encodeError(err)
		}
		rec := ffi.As[ffi.ByteArray](ba)
		rec.Data = data
		rec.Size = uintptr(len(v))
		dst.SetPtr(ba)
	case []Node:
		list, err := newNodeList(a, len(v), false)
		if err != nil {
			return err
		}
		dst.SetPtr(list)
		dst.Format = int32(FormatNodeArray)
		values := ffi.As[ffi.NodeList](list).Values
		for i, item := range v {
			if err := fillNode(a, ffi.NodeAt(values, i), item); err != nil {
				clearNode(a, dst)
				return err
			}
		}
		return nil
	case map[string]Node:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		list, err := newNodeList(a, len(keys), true)
		if err != nil {
			return err
		}
		dst.SetPtr(list)
		dst.Format = int32(FormatNodeMap)
		l := ffi.As[ffi.NodeList](list)
		for i, k := range keys {
			kp, err := ffi.CString(a, k)
			if err != nil {
				clearNode(a, dst)
				return encodeError(err)
			}
			ffi.SetPtrAt(l.Keys, i, kp)
			if err := fillNode(a, ffi.NodeAt(l.Values, i), v[k]); err != nil {
				clearNode(a, dst)
				return err
			}
		}
		return nil
	default:
		return nil
	}
	dst.Format = int32(n.format)
	return nil
}

// newNodeList allocates an mpv_node_list with n zeroed values, and n zeroed
// keys when withKeys is set. Empty lists carry no arrays.
func newNodeList(a ffi.Allocator, n int, withKeys bool) (uintptr, error) {
	list := ffi.Calloc(a, ffi.SizeofNodeList)
	if list == 0 {
		return 0, encodeError(ffi.ErrNoMemory)
	}
	if n == 0 {
		return list, nil
	}
	l := ffi.As[ffi.NodeList](list)
	l.Values = ffi.Calloc(a, uintptr(n)*ffi.SizeofNode)
	if l.Values == 0 {
		a.Free(list)
		return 0, encodeError(ffi.ErrNoMemory)
	}
	if withKeys {
		l.Keys = ffi.Calloc(a, uintptr(n)*ffi.SizeofPtr)
		if l.Keys == 0 {
			a.Free(l.Values)
			a.Free(list)
			return 0, encodeError(ffi.ErrNoMemory)
		}
	}
	l.Num = int32(n)
	return list, nil
}

// clearNode frees everything n points to and resets it to none. The slot
// itself is not freed.
func clearNode(a ffi.Allocator, n *ffi.Node) {
	switch Format(n.Format) {
	case FormatString:
		a.Free(n.Ptr())
	case FormatByteArray:
		if ba := n.Ptr(); ba != 0 {
			a.Free(ffi.As[ffi.ByteArray](ba).Data)
			a.Free(ba)
		}
	case FormatNodeArray, FormatNodeMap:
		if list := n.Ptr(); list != 0 {
			l := ffi.As[ffi.NodeList](list)
			for i := 0; i < int(l.Num); i++ {
				clearNode(a, ffi.NodeAt(l.Values, i))
				if l.Keys != 0 {
					a.Free(ffi.PtrAt(l.Keys, i))
				}
			}
			a.Free(l.Keys)
			a.Free(l.Values)
			a.Free(list)
		}
	}
	n.U = 0
	n.Format = int32(FormatNone)
}

// decodeNode copies a native node into a Go-owned Node. It never frees.
// Null map keys are dropped, invalid UTF-8 is replaced and unknown tags
// decode to None.
func decodeNode(n *ffi.Node) Node {
	switch Format(n.Format) {
	case FormatString, FormatOSDString:
		return StringNode(validText(ffi.GoString(n.Ptr())))
	case FormatFlag:
		return BoolNode(n.Flag() != 0)
	case FormatInt64:
		return IntNode(n.Int64())
	case FormatDouble:
		return DoubleNode(n.Double())
	case FormatByteArray:
		ba := n.Ptr()
		if ba == 0 {
			return ByteArrayNode(nil)
		}
		rec := ffi.As[ffi.ByteArray](ba)
		return ByteArrayNode(ffi.GoBytes(rec.Data, rec.Size))
	case FormatNodeArray:
		list := n.Ptr()
		if list == 0 {
			return ArrayNode()
		}
		l := ffi.As[ffi.NodeList](list)
		items := make([]Node, 0, max(l.Num, 0))
		for i := 0; i < int(l.Num); i++ {
			items = append(items, decodeNode(ffi.NodeAt(l.Values, i)))
		}
		return ArrayNode(items...)
	case FormatNodeMap:
		list := n.Ptr()
		if list == 0 {
			return MapNode(nil)
		}
		l := ffi.As[ffi.NodeList](list)
		m := make(map[string]Node, max(l.Num, 0))
		if l.Keys == 0 {
			return MapNode(m)
		}
		for i := 0; i < int(l.Num); i++ {
			kp := ffi.PtrAt(l.Keys, i)
			if kp == 0 {
				continue
			}
			m[validText(ffi.GoString(kp))] = decodeNode(ffi.NodeAt(l.Values, i))
		}
		return MapNode(m)
	}
	return None
}

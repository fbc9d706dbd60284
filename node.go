package mpv

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Node is a dynamically typed value as carried by mpv_node.
//
// The zero Node is None. The member is fixed at construction time through
// StringNode, IntNode, DoubleNode, BoolNode, ByteArrayNode, ArrayNode or
// MapNode, so the tag always describes the payload actually held. A Node never
// references native memory.
type Node struct {
	format Format
	value  any
}

// None is the empty Node.
var None = Node{}

func StringNode(s string) Node { return Node{format: FormatString, value: s} }
func IntNode(i int64) Node { return Node{format: FormatInt64, value: i} }
func DoubleNode(f float64) Node { return Node{format: FormatDouble, value: f} }
func BoolNode(b bool) Node { return Node{format: FormatFlag, value: b} }
func ArrayNode(items ...Node) Node { return Node{format: FormatNodeArray, value: items} }

// ByteArrayNode wraps b. The slice is not copied.
func ByteArrayNode(b []byte) Node { return Node{format: FormatByteArray, value: b} }

// MapNode wraps m. The map is not copied.
func MapNode(m map[string]Node) Node {
	if m == nil {
		m = map[string]Node{}
	}
	return Node{format: FormatNodeMap, value: m}
}

// Format returns the native tag of the member held by n.
func (n Node) Format() Format { return n.format }

// IsNone reports whether n holds no value.
func (n Node) IsNone() bool { return n.format == FormatNone }

func (n Node) Str() (string, bool) {
	s, ok := n.value.(string)
	return s, ok && n.format == FormatString
}

func (n Node) Int() (int64, bool) {
	i, ok := n.value.(int64)
	return i, ok
}

func (n Node) Double() (float64, bool) {
	f, ok := n.value.(float64)
	return f, ok
}

func (n Node) Bool() (bool, bool) {
	b, ok := n.value.(bool)
	return b, ok
}

func (n Node) Bytes() ([]byte, bool) {
	b, ok := n.value.([]byte)
	return b, ok && n.format == FormatByteArray
}

func (n Node) Array() ([]Node, bool) {
	a, ok := n.value.([]Node)
	return a, ok
}

func (n Node) Map() (map[string]Node, bool) {
	m, ok := n.value.(map[string]Node)
	return m, ok
}

// Number returns n as float64 if it holds an Int or a Double.
func (n Node) Number() (float64, bool) {
	switch v := n.value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Get returns the member of a Map node named key.
func (n Node) Get(key string) (Node, bool) {
	m, ok := n.Map()
	if !ok {
		return None, false
	}
	v, ok := m[key]
	return v, ok
}

// Index returns the i-th element of an Array node.
func (n Node) Index(i int) (Node, bool) {
	a, ok := n.Array()
	if !ok || i < 0 || i >= len(a) {
		return None, false
	}
	return a[i], true
}

// Len returns the element count of an Array or Map node, the byte count of a
// ByteArray node and zero otherwise.
func (n Node) Len() int {
	switch v := n.value.(type) {
	case []Node:
		return len(v)
	case map[string]Node:
		return len(v)
	case []byte:
		return len(v)
	}
	return 0
}

// Equal reports structural equality. Map key order is irrelevant, nil and
// empty byte arrays are equal and NaN equals NaN.
func (n Node) Equal(o Node) bool {
	if n.format != o.format {
		return false
	}
	switch a := n.value.(type) {
	case nil:
		return o.value == nil
	case string:
		return a == o.value.(string)
	case int64:
		return a == o.value.(int64)
	case float64:
		b := o.value.(float64)
		return a == b || (math.IsNaN(a) && math.IsNaN(b))
	case bool:
		return a == o.value.(bool)
	case []byte:
		return bytes.Equal(a, o.value.([]byte))
	case []Node:
		b := o.value.([]Node)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case map[string]Node:
		b := o.value.(map[string]Node)
		if len(a) != len(b) {
			return false
		}
		for k, v := range a {
			w, ok := b[k]
			if !ok || !v.Equal(w) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders n for debugging. Map keys are sorted.
func (n Node) String() string {
	var sb strings.Builder
	n.writeTo(&sb)
	return sb.String()
}

func (n Node) writeTo(sb *strings.Builder) {
	switch v := n.value.(type) {
	case nil:
		sb.WriteString("none")
	case string:
		sb.WriteString(strconv.Quote(v))
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case []byte:
		fmt.Fprintf(sb, "<%d bytes>", len(v))
	case []Node:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.writeTo(sb)
		}
		sb.WriteByte(']')
	case map[string]Node:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(": ")
			v[k].writeTo(sb)
		}
		sb.WriteByte('}')
	}
}

// ============================================================================
// Conversion to and from plain Go values
// ============================================================================

// Interface converts n into plain Go values: nil, string, int64, float64,
// bool, []byte, []any and map[string]any.
func (n Node) Interface() any {
	switch v := n.value.(type) {
	case []Node:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item.Interface()
		}
		return out
	case map[string]Node:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = item.Interface()
		}
		return out
	}
	return n.value
}

// NodeOf converts a plain Go value into a Node. It accepts the output of
// Interface as well as what encoding/json and go-toml produce.
func NodeOf(v any) (Node, error) {
	switch x := v.(type) {
	case nil:
		return None, nil
	case Node:
		return x, nil
	case string:
		return StringNode(x), nil
	case bool:
		return BoolNode(x), nil
	case int:
		return IntNode(int64(x)), nil
	case int32:
		return IntNode(int64(x)), nil
	case int64:
		return IntNode(x), nil
	case uint32:
		return IntNode(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return None, fmt.Errorf("mpv: %d overflows int64", x)
		}
		return IntNode(int64(x)), nil
	case float32:
		return DoubleNode(float64(x)), nil
	case float64:
		return DoubleNode(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntNode(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return None, fmt.Errorf("mpv: invalid number %q", x)
		}
		return DoubleNode(f), nil
	case []byte:
		return ByteArrayNode(x), nil
	case []string:
		items := make([]Node, len(x))
		for i, s := range x {
			items[i] = StringNode(s)
		}
		return ArrayNode(items...), nil
	case []any:
		items := make([]Node, len(x))
		for i, item := range x {
			n, err := NodeOf(item)
			if err != nil {
				return None, err
			}
			items[i] = n
		}
		return ArrayNode(items...), nil
	case map[string]any:
		m := make(map[string]Node, len(x))
		for k, item := range x {
			n, err := NodeOf(item)
			if err != nil {
				return None, err
			}
			m[k] = n
		}
		return MapNode(m), nil
	}
	return None, fmt.Errorf("mpv: cannot represent %T as a node", v)
}

// MarshalJSON encodes n the way mpv's JSON IPC does. Byte arrays become
// base64 strings and do not survive a round trip.
func (n Node) MarshalJSON() ([]byte, error) {
	switch v := n.value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []byte("null"), nil
		}
	case []byte:
		return json.Marshal(base64.StdEncoding.EncodeToString(v))
	case []Node:
		if v == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v)
	case map[string]Node:
		return json.Marshal(v)
	}
	return json.Marshal(n.value)
}

// UnmarshalJSON decodes integers to Int, other numbers to Double and null to None.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	out, err := NodeOf(v)
	if err != nil {
		return err
	}
	*n = out
	return nil
}

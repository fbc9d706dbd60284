package script

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	mpv "github.com/agiangrant/mpvclient"
)

// toLua converts a node into a Lua value. Byte arrays become strings.
func toLua(L *lua.LState, n mpv.Node) lua.LValue {
	switch n.Format() {
	case mpv.FormatString:
		s, _ := n.Str()
		return lua.LString(s)
	case mpv.FormatInt64:
		i, _ := n.Int()
		return lua.LNumber(i)
	case mpv.FormatDouble:
		f, _ := n.Double()
		return lua.LNumber(f)
	case mpv.FormatFlag:
		b, _ := n.Bool()
		return lua.LBool(b)
	case mpv.FormatByteArray:
		b, _ := n.Bytes()
		return lua.LString(b)
	case mpv.FormatNodeArray:
		items, _ := n.Array()
		t := L.CreateTable(len(items), 0)
		for _, item := range items {
			t.Append(toLua(L, item))
		}
		return t
	case mpv.FormatNodeMap:
		m, _ := n.Map()
		t := L.CreateTable(0, len(m))
		for k, v := range m {
			t.RawSetString(k, toLua(L, v))
		}
		return t
	}
	return lua.LNil
}

// toNode converts a Lua value into a node. Whole numbers become Int. A table
// whose keys are exactly 1..n is an array, an empty table is an empty array
// and anything else must have string keys.
func toNode(v lua.LValue) (mpv.Node, error) {
	switch x := v.(type) {
	case *lua.LNilType:
		return mpv.None, nil
	case lua.LBool:
		return mpv.BoolNode(bool(x)), nil
	case lua.LString:
		return mpv.StringNode(string(x)), nil
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return mpv.IntNode(int64(f)), nil
		}
		return mpv.DoubleNode(f), nil
	case *lua.LTable:
		return tableNode(x)
	}
	return mpv.None, fmt.Errorf("cannot convert %s to a node", v.Type())
}

func tableNode(t *lua.LTable) (mpv.Node, error) {
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n := t.MaxN(); n == count {
		items := make([]mpv.Node, 0, n)
		for i := 1; i <= n; i++ {
			item, err := toNode(t.RawGetInt(i))
			if err != nil {
				return mpv.None, err
			}
			items = append(items, item)
		}
		return mpv.ArrayNode(items...), nil
	}

	m := make(map[string]mpv.Node, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			err = fmt.Errorf("table key %s is not a string", k.String())
			return
		}
		m[string(key)], err = toNode(v)
	})
	if err != nil {
		return mpv.None, err
	}
	return mpv.MapNode(m), nil
}

// stringArgs converts the arguments from index first on to strings.
func stringArgs(L *lua.LState, first int) []string {
	top := L.GetTop()
	if top < first {
		return nil
	}
	args := make([]string, 0, top-first+1)
	for i := first; i <= top; i++ {
		args = append(args, L.ToStringMeta(L.Get(i)).String())
	}
	return args
}

package engine

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luadap/internal/debugger"
)

// luaValue adapts a gopher-lua value to the debugger.Value interface.
// It holds a live reference into the paused interpreter, so it is only
// read while the engine is parked; the adapter's handle table drops all
// of these whenever the stack changes.
type luaValue struct {
	lv lua.LValue
}

// wrapValue wraps a Lua value, mapping nil and LNil to the absent value.
func wrapValue(lv lua.LValue) debugger.Value {
	if lv == nil || lv == lua.LNil {
		return nil
	}
	return &luaValue{lv: lv}
}

// TypeName returns the Lua dynamic type name.
func (v *luaValue) TypeName() string {
	return v.lv.Type().String()
}

// Display renders the value the way Lua's tostring would, with strings
// quoted so they read unambiguously next to numbers.
func (v *luaValue) Display() string {
	if s, ok := v.lv.(lua.LString); ok {
		return fmt.Sprintf("%q", string(s))
	}
	return v.lv.String()
}

// Children returns the entries of a table, array part first in index
// order, then the remaining keys sorted for stable output. Non-table
// values have no children.
func (v *luaValue) Children() []debugger.NamedValue {
	tbl, ok := v.lv.(*lua.LTable)
	if !ok {
		return nil
	}

	var children []debugger.NamedValue

	n := tbl.Len()
	for i := 1; i <= n; i++ {
		children = append(children, debugger.NamedValue{
			Name:  fmt.Sprintf("[%d]", i),
			Value: wrapValue(tbl.RawGetInt(i)),
		})
	}

	var rest []debugger.NamedValue
	tbl.ForEach(func(k, val lua.LValue) {
		if kn, ok := k.(lua.LNumber); ok {
			idx := int(kn)
			if float64(idx) == float64(kn) && idx >= 1 && idx <= n {
				return // already emitted from the array part
			}
		}
		rest = append(rest, debugger.NamedValue{
			Name:  keyName(k),
			Value: wrapValue(val),
		})
	})
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })

	return append(children, rest...)
}

// keyName renders a table key for display.
func keyName(k lua.LValue) string {
	switch kv := k.(type) {
	case lua.LString:
		return string(kv)
	case lua.LNumber:
		return fmt.Sprintf("[%v]", kv)
	default:
		return k.String()
	}
}

package host

import (
	"context"
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal/actor"
)

// Bridge is handed to APIs when they are installed. It gives Go functions
// called from Lua access to the state and to the host's suspension point.
type Bridge struct {
	L    *lua.LState
	host *Host
	ctx  context.Context
}

// Context is the context of the Lua code currently running.
func (b *Bridge) Context() context.Context { return b.ctx }

// Warn sends text to the diagnostic sink from inside the host.
func (b *Bridge) Warn(text string) { b.host.warn(text) }

// Method sets tbl[name] to fn. Scripts may call it as tbl.name(...) or
// tbl:name(...); base is the stack index of the first real argument.
func (b *Bridge) Method(tbl *lua.LTable, name string, fn func(L *lua.LState, base int) int) {
	tbl.RawSetString(name, b.L.NewFunction(func(L *lua.LState) int {
		base := 1
		if L.GetTop() >= 1 && L.Get(1) == tbl {
			base = 2
		}
		return fn(L, base)
	}))
}

// Await runs call while the host keeps serving messages, so call may use
// components that call back into the host. It must be used for every
// blocking request made from a Lua callback.
func Await[R any](b *Bridge, call func(ctx context.Context) (R, error)) (R, error) {
	return actor.Await(b.ctx, b.host.self, call)
}

// Raise aborts the running Lua function with err.
func Raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

// ToGo converts a Lua value to nil, bool, float64, string, []any or
// map[string]any. Other values become their string form.
func ToGo(v lua.LValue) any {
	return toGo(v, 0)
}

func toGo(v lua.LValue, depth int) any {
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		if depth > 32 {
			return lv.String()
		}
		if n := lv.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGo(lv.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			out[k.String()] = toGo(val, depth+1)
		})
		return out
	default:
		return v.String()
	}
}

// ToLua converts Go values produced by the APIs into Lua values.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(x)
	case []string:
		t := L.CreateTable(len(x), 0)
		for _, s := range x {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, e := range x {
			t.Append(ToLua(L, e))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, ToLua(L, x[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

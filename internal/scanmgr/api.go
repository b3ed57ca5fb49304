package scanmgr

import (
	"bytes"
	"context"
	"io"

	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal/host"
)

// API is the userscript view of the scan manager, installed as "scanmgr".
type API struct {
	manager Weak
}

func (*API) Name() string { return "scanmgr" }

func (a *API) Install(b *host.Bridge) lua.LValue {
	t := b.L.NewTable()
	b.Method(t, "scan", func(L *lua.LState, base int) int {
		m, ok := a.manager.Upgrade()
		if !ok {
			return host.Raise(L, ErrNotRunning)
		}
		results, err := host.Await(b, func(ctx context.Context) ([]Result, error) {
			return m.InvokeScan(ctx)
		})
		if err != nil {
			return host.Raise(L, err)
		}
		L.Push(resultTable(L, results))
		return 1
	})
	return t
}

// resultTable converts results to {{engine=, item={name=, path=, digest=}}, ...}.
// Its metatable offers csv(), json(), ndjson() and table() renderings.
func resultTable(L *lua.LState, results []Result) *lua.LTable {
	t := L.CreateTable(len(results), 0)
	for _, r := range results {
		it := L.CreateTable(0, 3)
		it.RawSetString("name", lua.LString(r.Item.Name))
		if r.Item.Path != "" {
			it.RawSetString("path", lua.LString(r.Item.Path))
		}
		it.RawSetString("digest", lua.LString(r.Item.Digest))
		e := L.CreateTable(0, 2)
		e.RawSetString("engine", lua.LString(r.Engine))
		e.RawSetString("item", it)
		t.Append(e)
	}

	methods := L.NewTable()
	render := func(write func(io.Writer, []Result) error) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			var buf bytes.Buffer
			if err := write(&buf, results); err != nil {
				return host.Raise(L, err)
			}
			L.Push(lua.LString(buf.String()))
			return 1
		})
	}
	methods.RawSetString("csv", render(WriteCSV))
	methods.RawSetString("json", render(WriteJSON))
	methods.RawSetString("ndjson", render(WriteNDJSON))
	methods.RawSetString("table", render(WriteTable))

	mt := L.NewTable()
	mt.RawSetString("__index", methods)
	L.SetMetatable(t, mt)
	return t
}

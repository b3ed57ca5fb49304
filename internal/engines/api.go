package engines

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal/actor"
	"ScriptScan/internal/host"
	"ScriptScan/internal/rules"
)

var errNoRegistry = errors.New("the userscript scan engine service is not running")

// API is the userscript view of the registry, installed as "user_engines".
type API struct {
	registry Weak
	host     actor.WeakRef[host.Host]
}

func (*API) Name() string { return "user_engines" }

func (a *API) Install(b *host.Bridge) lua.LValue {
	t := b.L.NewTable()
	b.Method(t, "register", func(L *lua.LState, base int) int {
		name := L.CheckString(base)
		fn := L.CheckFunction(base + 1)
		reg, ok := a.registry.Upgrade()
		if !ok {
			return host.Raise(L, errNoRegistry)
		}
		h, ok := a.host.Upgrade()
		if !ok {
			return host.Raise(L, host.ErrNotRunning)
		}
		if err := reg.Register(name, NewLuaEngine(host.Handle{Ref: h}, fn)); err != nil {
			return host.Raise(L, err)
		}
		return 0
	})
	b.Method(t, "remove", func(L *lua.LState, base int) int {
		name := L.CheckString(base)
		reg, ok := a.registry.Upgrade()
		if !ok {
			return host.Raise(L, errNoRegistry)
		}
		if err := reg.Unregister(name); err != nil {
			return host.Raise(L, err)
		}
		return 0
	})
	b.Method(t, "scan", func(L *lua.LState, base int) int {
		data := L.CheckString(base)
		reg, ok := a.registry.Upgrade()
		if !ok {
			return host.Raise(L, errNoRegistry)
		}
		names, err := host.Await(b, func(ctx context.Context) ([]string, error) {
			return reg.ScanBytes(ctx, []byte(data))
		})
		if err != nil {
			return host.Raise(L, err)
		}
		L.Push(host.ToLua(L, names))
		return 1
	})
	b.Method(t, "list", func(L *lua.LState, base int) int {
		reg, ok := a.registry.Upgrade()
		if !ok {
			return host.Raise(L, errNoRegistry)
		}
		names, err := host.Await(b, func(ctx context.Context) ([]string, error) {
			return reg.List(ctx)
		})
		if err != nil {
			return host.Raise(L, err)
		}
		L.Push(host.ToLua(L, names))
		return 1
	})
	b.Method(t, "load_rules", func(L *lua.LState, base int) int {
		var paths []string
		for i := base; i <= L.GetTop(); i++ {
			paths = append(paths, L.CheckString(i))
		}
		reg, ok := a.registry.Upgrade()
		if !ok {
			return host.Raise(L, errNoRegistry)
		}
		sets, err := host.Await(b, func(ctx context.Context) ([]rules.Named, error) {
			return rules.LoadFiles(ctx, paths, 0)
		})
		if err != nil {
			return host.Raise(L, err)
		}
		if err := RegisterRules(reg, sets); err != nil {
			return host.Raise(L, err)
		}
		L.Push(lua.LNumber(len(sets)))
		return 1
	})
	return t
}

// RegisterRules registers every loaded rule engine under its name.
func RegisterRules(reg Handle, sets []rules.Named) error {
	for _, s := range sets {
		if err := reg.Register(s.Name, s.Engine); err != nil {
			return err
		}
	}
	return nil
}

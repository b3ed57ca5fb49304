package queue

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal"
	"ScriptScan/internal/host"
	"ScriptScan/internal/item"
)

var errNoQueue = errors.New("there is no running global queue")

// API is the userscript view of the queue, installed as the global "queue".
type API struct {
	queue Weak
}

func (*API) Name() string { return "queue" }

func (a *API) Install(b *host.Bridge) lua.LValue {
	t := b.L.NewTable()
	b.Method(t, "add_raw", func(L *lua.LState, base int) int {
		name, data := L.CheckString(base), L.CheckString(base+1)
		q, ok := a.queue.Upgrade()
		if !ok {
			return host.Raise(L, errNoQueue)
		}
		if err := q.EnqueueRaw(name, []byte(data)); err != nil {
			return host.Raise(L, err)
		}
		return 0
	})
	b.Method(t, "add_file", func(L *lua.LState, base int) int {
		path := L.CheckString(base)
		q, ok := a.queue.Upgrade()
		if !ok {
			return host.Raise(L, errNoQueue)
		}
		if err := q.EnqueueFile(path); err != nil {
			return host.Raise(L, err)
		}
		return 0
	})
	b.Method(t, "add_dir", func(L *lua.LState, base int) int {
		root := L.CheckString(base)
		opts := walkOptions(L.OptTable(base+1, nil))
		if err := opts.Validate(); err != nil {
			return host.Raise(L, err)
		}
		opts.Prepare()
		q, ok := a.queue.Upgrade()
		if !ok {
			return host.Raise(L, errNoQueue)
		}
		n, err := host.Await(b, func(ctx context.Context) (int, error) {
			return q.EnqueueTree(ctx, root, opts)
		})
		if err != nil {
			return host.Raise(L, err)
		}
		L.Push(lua.LNumber(n))
		return 1
	})
	b.Method(t, "dequeue", func(L *lua.LState, base int) int {
		q, ok := a.queue.Upgrade()
		if !ok {
			return host.Raise(L, errNoQueue)
		}
		c, err := host.Await(b, func(ctx context.Context) (item.Content, error) {
			return q.Dequeue(ctx)
		})
		if err != nil {
			return host.Raise(L, err)
		}
		L.Push(lua.LString(c.Name))
		if c.Path != "" {
			L.Push(lua.LString(c.Path))
		} else {
			L.Push(lua.LNil)
		}
		L.Push(lua.LString(c.Data))
		return 3
	})
	b.Method(t, "len", func(L *lua.LState, base int) int {
		q, ok := a.queue.Upgrade()
		if !ok {
			return host.Raise(L, errNoQueue)
		}
		n, err := host.Await(b, func(ctx context.Context) (int, error) {
			return q.Length(ctx)
		})
		if err != nil {
			return host.Raise(L, err)
		}
		L.Push(lua.LNumber(n))
		return 1
	})
	return t
}

// walkOptions reads {depth=, archives=, include={...}, exclude={...},
// whitelist={...}, blacklist={...}}.
func walkOptions(t *lua.LTable) *internal.WalkOptions {
	opts := &internal.WalkOptions{}
	if t == nil {
		return opts
	}
	if v, ok := t.RawGetString("depth").(lua.LNumber); ok {
		opts.Depth = int(v)
	}
	opts.Archives = lua.LVAsBool(t.RawGetString("archives"))
	opts.SniffArchives = lua.LVAsBool(t.RawGetString("sniff"))
	opts.Include = stringList(t.RawGetString("include"))
	opts.Exclude = stringList(t.RawGetString("exclude"))
	opts.Whitelist = stringList(t.RawGetString("whitelist"))
	opts.Blacklist = stringList(t.RawGetString("blacklist"))
	return opts
}

func stringList(v lua.LValue) []string {
	switch x := v.(type) {
	case lua.LString:
		return []string{string(x)}
	case *lua.LTable:
		var out []string
		x.ForEach(func(_, e lua.LValue) {
			if s, ok := e.(lua.LString); ok {
				out = append(out, string(s))
			}
		})
		return out
	}
	return nil
}

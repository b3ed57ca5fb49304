// Package host runs the Lua userscript environment as an actor. The Lua
// state is only ever touched from the host goroutine.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal/actor"
)

// ErrNotRunning is returned by components that need the host and cannot reach it.
var ErrNotRunning = fmt.Errorf("the Lua userscript environment does not appear to be running: %w", actor.ErrNotRunning)

// API is a userscript API installed as a Lua global named Name().
type API interface {
	Name() string
	Install(b *Bridge) lua.LValue
}

type Options struct {
	Unsafe bool
	// Args is exposed to scripts as the global table arg.
	Args []string
	// Warn receives every diagnostic. Defaults to stderr.
	Warn func(text string)
	// Stdout receives print() output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Host is the actor state.
type Host struct {
	opts   Options
	L      *lua.LState
	self   *actor.Ref[Host]
	bridge *Bridge
	apis   map[string]struct{}
	log    *logrus.Entry
}

// Handle is a strong reference to a running host.
type Handle struct {
	*actor.Ref[Host]
}

// Spawn starts a host. Startup failures are reported by Ping.
func Spawn(opts Options, actorOpts ...actor.Option) Handle {
	if opts.Warn == nil {
		opts.Warn = func(text string) { fmt.Fprintf(os.Stderr, "warning: %s\n", text) }
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	h := &Host{opts: opts, apis: make(map[string]struct{}), log: logrus.WithField("actor", "host")}
	return Handle{actor.Spawn("host", h, actorOpts...)}
}

func (h *Host) OnStart(ctx context.Context, self *actor.Ref[Host]) error {
	h.self = self
	h.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	h.bridge = &Bridge{L: h.L, host: h, ctx: ctx}
	if err := openLibs(h.L, h.opts.Unsafe); err != nil {
		h.L.Close()
		return fmt.Errorf("open lua libraries: %w", err)
	}
	h.installGlobals()
	for _, api := range []API{AboutAPI{}, FsAPI{}} {
		h.install(api)
	}
	h.log.WithField("unsafe", h.opts.Unsafe).Debug("userscript environment ready")
	return nil
}

func (h *Host) OnStop(ctx context.Context, reason error) {
	if h.L != nil {
		h.L.Close()
	}
}

func openLibs(L *lua.LState, unsafe bool) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
		{lua.OsLibName, lua.OpenOs},
		{lua.IoLibName, lua.OpenIo},
	}
	if unsafe {
		libs = append(libs, []struct {
			name string
			fn   lua.LGFunction
		}{
			{lua.DebugLibName, lua.OpenDebug},
			{lua.ChannelLibName, lua.OpenChannel},
		}...)
	}
	for _, lib := range libs {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("%s: %w", lib.name, err)
		}
	}
	return nil
}

func (h *Host) installGlobals() {
	L := h.L
	args := L.NewTable()
	for i, a := range h.opts.Args {
		args.RawSetInt(i+1, lua.LString(a))
	}
	L.SetGlobal("arg", args)
	L.SetGlobal("warn", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		h.warn(strings.Join(parts, ""))
		return 0
	}))
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprintln(h.opts.Stdout, strings.Join(parts, "\t"))
		return 0
	}))
}

func (h *Host) install(api API) {
	name := api.Name()
	if _, dup := h.apis[name]; dup {
		h.log.WithField("api", name).Debug("replacing userscript API")
	}
	h.L.SetGlobal(name, api.Install(h.bridge))
	h.apis[name] = struct{}{}
	h.log.WithField("api", name).Debug("registered userscript API")
}

func (h *Host) warn(text string) {
	h.log.Warn(stripansi.Strip(text))
	h.opts.Warn(text)
}

// enter points the Lua state and the bridge at ctx for the duration of a
// call and returns a function restoring the previous context.
func (h *Host) enter(ctx context.Context) func() {
	prevCtx := h.bridge.ctx
	prevL := h.L.Context()
	h.bridge.ctx = ctx
	h.L.SetContext(ctx)
	return func() {
		h.bridge.ctx = prevCtx
		if prevL != nil {
			h.L.SetContext(prevL)
		} else {
			h.L.RemoveContext()
		}
	}
}

// run loads and executes a chunk, returning its results.
func (h *Host) run(ctx context.Context, chunk, code string) ([]lua.LValue, error) {
	fn, err := h.L.Load(strings.NewReader(code), chunk)
	if err != nil {
		return nil, err
	}
	restore := h.enter(ctx)
	defer restore()

	top := h.L.GetTop()
	defer h.L.SetTop(top)
	h.L.Push(fn)
	if err := h.L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, err
	}
	n := h.L.GetTop() - top
	vals := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		vals = append(vals, h.L.Get(top+i))
	}
	return vals, nil
}

// call runs an engine callable against data.
func (h *Host) call(ctx context.Context, fn *lua.LFunction, data []byte) (bool, error) {
	restore := h.enter(ctx)
	defer restore()

	top := h.L.GetTop()
	defer h.L.SetTop(top)
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(data)); err != nil {
		return false, err
	}
	return lua.LVAsBool(h.L.Get(-1)), nil
}

// Register installs api as a global. It does not wait for the install.
func (h Handle) Register(api API) error {
	return h.Tell(func(_ context.Context, s *Host) { s.install(api) })
}

// Warn sends text to the diagnostic sink.
func (h Handle) Warn(text string) error {
	return h.Tell(func(_ context.Context, s *Host) { s.warn(text) })
}

// Exec runs a chunk of Lua code. chunk names it in error messages.
func (h Handle) Exec(ctx context.Context, chunk, code string) error {
	_, err := actor.Ask(ctx, h.Ref, func(loop context.Context, s *Host) (struct{}, error) {
		runCtx, cancel := actor.WithCaller(loop, ctx)
		defer cancel()
		_, err := s.run(runCtx, chunk, code)
		return struct{}{}, err
	})
	return err
}

// ExecFile runs a script from disk.
func (h Handle) ExecFile(ctx context.Context, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return h.Exec(ctx, "@"+path, string(code))
}

// Eval evaluates code as an expression when possible, falling back to a
// statement, and returns the first result converted to a Go value.
func (h Handle) Eval(ctx context.Context, code string) (any, error) {
	return actor.Ask(ctx, h.Ref, func(loop context.Context, s *Host) (any, error) {
		runCtx, cancel := actor.WithCaller(loop, ctx)
		defer cancel()
		vals, err := s.run(runCtx, "=repl", "return "+code)
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Type == lua.ApiErrorSyntax {
			vals, err = s.run(runCtx, "=repl", code)
		}
		if err != nil || len(vals) == 0 {
			return nil, err
		}
		return ToGo(vals[0]), nil
	})
}

// Call executes an engine callable with data on the host goroutine.
func (h Handle) Call(ctx context.Context, fn *lua.LFunction, data []byte) (bool, error) {
	return actor.Ask(ctx, h.Ref, func(loop context.Context, s *Host) (bool, error) {
		runCtx, cancel := actor.WithCaller(loop, ctx)
		defer cancel()
		return s.call(runCtx, fn, data)
	})
}

// APIs lists the installed userscript API names.
func (h Handle) APIs(ctx context.Context) ([]string, error) {
	return actor.Ask(ctx, h.Ref, func(_ context.Context, s *Host) ([]string, error) {
		names := make([]string, 0, len(s.apis))
		for n := range s.apis {
			names = append(names, n)
		}
		return names, nil
	})
}

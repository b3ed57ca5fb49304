package host

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) add(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, s)
}

func (w *warnings) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.msgs...)
}

func startHost(t *testing.T, opts Options) (Handle, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	h := Spawn(opts)
	require.NoError(t, h.Ping(ctx))
	t.Cleanup(func() {
		_ = h.StopGracefully()
		_ = h.WaitForStop(context.Background())
	})
	return h, ctx
}

func TestEval(t *testing.T) {
	h, ctx := startHost(t, Options{Args: []string{"one", "two"}})

	v, err := h.Eval(ctx, "1 + 2")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	require.NoError(t, h.Exec(ctx, "test", "greeting = 'hi'"))
	v, err = h.Eval(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	v, err = h.Eval(ctx, "arg")
	require.NoError(t, err)
	assert.Equal(t, []any{"one", "two"}, v)

	v, err = h.Eval(ctx, "{a = true}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": true}, v)

	v, err = h.Eval(ctx, "x = 5")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExecErrors(t *testing.T) {
	h, ctx := startHost(t, Options{})
	assert.Error(t, h.Exec(ctx, "bad", "this is not lua"))
	assert.Error(t, h.Exec(ctx, "boom", "error('boom')"))
	// the host survives script errors
	require.NoError(t, h.Ping(ctx))
}

func TestUnsafeLibraries(t *testing.T) {
	h, ctx := startHost(t, Options{})
	v, err := h.Eval(ctx, "debug == nil and channel == nil")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	u, ctx := startHost(t, Options{Unsafe: true})
	v, err = u.Eval(ctx, "type(debug) .. type(channel)")
	require.NoError(t, err)
	assert.Equal(t, "tabletable", v)
}

func TestWarnSink(t *testing.T) {
	var w warnings
	h, ctx := startHost(t, Options{Warn: w.add})

	require.NoError(t, h.Warn("from go"))
	require.NoError(t, h.Exec(ctx, "warn", "warn('from ', 'lua')"))
	assert.Equal(t, []string{"from go", "from lua"}, w.list())
}

func TestPrintGoesToStdout(t *testing.T) {
	var out bytes.Buffer
	h, ctx := startHost(t, Options{Stdout: &out})
	require.NoError(t, h.Exec(ctx, "print", "print('a', 1)"))
	assert.Equal(t, "a\t1\n", out.String())
}

func TestExecFile(t *testing.T) {
	h, ctx := startHost(t, Options{})
	p := filepath.Join(t.TempDir(), "script.lua")
	require.NoError(t, os.WriteFile(p, []byte("answer = 6 * 7"), 0644))
	require.NoError(t, h.ExecFile(ctx, p))
	v, err := h.Eval(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

type probeAPI struct {
	h Handle
}

func (probeAPI) Name() string { return "probe" }

// Install exposes probe:roundtrip(expr), which evaluates expr through a
// separate request to the host while the calling script is still running.
func (p probeAPI) Install(b *Bridge) lua.LValue {
	t := b.L.NewTable()
	b.Method(t, "roundtrip", func(L *lua.LState, base int) int {
		expr := L.CheckString(base)
		v, err := Await(b, func(ctx context.Context) (any, error) {
			return p.h.Eval(ctx, expr)
		})
		if err != nil {
			return Raise(L, err)
		}
		L.Push(ToLua(L, v))
		return 1
	})
	return t
}

func TestRegisterAndReentrantCall(t *testing.T) {
	h, ctx := startHost(t, Options{})
	require.NoError(t, h.Register(probeAPI{h: h}))

	v, err := h.Eval(ctx, "probe:roundtrip('10 * 10') + probe.roundtrip('1')")
	require.NoError(t, err)
	assert.Equal(t, 101.0, v)

	names, err := h.APIs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"about", "fs", "probe"}, names)
}

func TestCall(t *testing.T) {
	h, ctx := startHost(t, Options{})
	require.NoError(t, h.Exec(ctx, "def", "function has_hello(s) return s:find('hello') ~= nil end"))

	lf, err := lookupFunction(ctx, h, "has_hello")
	require.NoError(t, err)
	require.NotNil(t, lf)

	ok, err := h.Call(ctx, lf, []byte("say hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Call(ctx, lf, []byte("goodbye"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallTimeout(t *testing.T) {
	h, ctx := startHost(t, Options{})
	require.NoError(t, h.Exec(ctx, "def", "function spin(s) while true do end end"))
	lf, err := lookupFunction(ctx, h, "spin")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = h.Call(short, lf, []byte("x"))
	require.Error(t, err)

	// the state is usable again once the call is aborted
	v, err := h.Eval(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestAboutAPI(t *testing.T) {
	h, ctx := startHost(t, Options{})
	v, err := h.Eval(ctx, "_BUILD.major >= 0 and about:at_least('0.0.1')")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = h.Eval(ctx, "about.program")
	require.NoError(t, err)
	assert.Equal(t, "scriptscan", v)
}

func TestFsAPI(t *testing.T) {
	h, ctx := startHost(t, Options{})
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.log"), []byte("b"), 0644))
	require.NoError(t, h.Exec(ctx, "dir", "dir = [["+dir+"]]"))

	v, err := h.Eval(ctx, "fs:test(dir) and not fs:test(dir .. '/missing')")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = h.Eval(ctx, "#fs:listdir(dir)")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = h.Eval(ctx, "#fs:walk(dir)")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = h.Eval(ctx, "fs:path(dir .. '/a.txt').stem .. ':' .. fs:path(dir .. '/a.txt').type")
	require.NoError(t, err)
	assert.Equal(t, "a:file", v)
}

// lookupFunction fetches a global Lua function. The value is only passed
// back to the host, never called from the test goroutine.
func lookupFunction(ctx context.Context, h Handle, name string) (*lua.LFunction, error) {
	var fn *lua.LFunction
	err := h.Tell(func(_ context.Context, s *Host) {
		fn, _ = s.L.GetGlobal(name).(*lua.LFunction)
	})
	if err != nil {
		return nil, err
	}
	return fn, h.Ping(ctx)
}

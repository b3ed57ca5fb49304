// Package engines keeps the named detection engines and runs content
// against all of them.
package engines

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal/actor"
	"ScriptScan/internal/host"
)

// Engine decides whether content matches.
type Engine interface {
	Match(ctx context.Context, content []byte) (bool, error)
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, content []byte) (bool, error)

func (f EngineFunc) Match(ctx context.Context, content []byte) (bool, error) { return f(ctx, content) }

// EngineInvocationError reports the engine that failed a scan.
type EngineInvocationError struct {
	Engine string
	Err    error
}

func (e *EngineInvocationError) Error() string {
	return fmt.Sprintf("failed to invoke userscript engine %s: %v", e.Engine, e.Err)
}

func (e *EngineInvocationError) Unwrap() error { return e.Err }

// LuaEngine is a Lua function run inside the host.
type LuaEngine struct {
	host actor.WeakRef[host.Host]
	fn   *lua.LFunction
}

func NewLuaEngine(h host.Handle, fn *lua.LFunction) *LuaEngine {
	return &LuaEngine{host: h.Downgrade(), fn: fn}
}

func (e *LuaEngine) Match(ctx context.Context, content []byte) (bool, error) {
	ref, ok := e.host.Upgrade()
	if !ok {
		return false, host.ErrNotRunning
	}
	return host.Handle{Ref: ref}.Call(ctx, e.fn, content)
}

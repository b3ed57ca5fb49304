package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver/v4"
	lua "github.com/yuin/gopher-lua"

	"ScriptScan/internal"
)

// AboutAPI exposes program and version information, and sets the globals
// _VERSION and _BUILD.
type AboutAPI struct{}

func (AboutAPI) Name() string { return "about" }

func (AboutAPI) Install(b *Bridge) lua.LValue {
	L := b.L
	v := semver.MustParse(internal.Version)
	luaVersion := lua.LVAsString(L.GetGlobal("_VERSION"))

	build := L.NewTable()
	build.RawSetString("major", lua.LNumber(v.Major))
	build.RawSetString("minor", lua.LNumber(v.Minor))
	build.RawSetString("patch", lua.LNumber(v.Patch))
	pre := make([]string, 0, len(v.Pre))
	for _, p := range v.Pre {
		pre = append(pre, p.String())
	}
	build.RawSetString("pre", lua.LString(strings.Join(pre, ".")))
	L.SetGlobal("_BUILD", build)
	L.SetGlobal("_VERSION", lua.LString(fmt.Sprintf("%s v%s", internal.ProgramName, v)))

	t := L.NewTable()
	t.RawSetString("program", lua.LString(internal.ProgramName))
	t.RawSetString("version", lua.LString(v.String()))
	t.RawSetString("lua", lua.LString(luaVersion))
	b.Method(t, "at_least", func(L *lua.LState, base int) int {
		want, err := semver.ParseTolerant(L.CheckString(base))
		if err != nil {
			return Raise(L, err)
		}
		L.Push(lua.LBool(v.GTE(want)))
		return 1
	})
	mt := L.NewTable()
	mt.RawSetString("__call", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(fmt.Sprintf("%s v%s (%s)", internal.ProgramName, v, luaVersion)))
		return 1
	}))
	L.SetMetatable(t, mt)
	return t
}

// FsAPI exposes file system helpers: path, test, listdir and walk.
type FsAPI struct{}

func (FsAPI) Name() string { return "fs" }

func (FsAPI) Install(b *Bridge) lua.LValue {
	t := b.L.NewTable()
	b.Method(t, "path", func(L *lua.LState, base int) int {
		L.Push(pathObject(L, L.CheckString(base)))
		return 1
	})
	b.Method(t, "test", func(L *lua.LState, base int) int {
		L.Push(lua.LBool(readable(L.CheckString(base))))
		return 1
	})
	b.Method(t, "listdir", func(L *lua.LState, base int) int {
		dir, err := filepath.Abs(L.CheckString(base))
		if err != nil {
			return Raise(L, err)
		}
		ents, err := os.ReadDir(dir)
		if err != nil {
			return Raise(L, fmt.Errorf("cannot read directory %s: %w", dir, err))
		}
		out := L.CreateTable(len(ents), 0)
		for _, e := range ents {
			out.Append(pathObject(L, filepath.Join(dir, e.Name())))
		}
		L.Push(out)
		return 1
	})
	b.Method(t, "walk", func(L *lua.LState, base int) int {
		root := L.CheckString(base)
		depth := L.OptInt(base+1, 0)
		var files []string
		err := internal.WalkWithDepth(b.Context(), root, depth, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			return Raise(L, err)
		}
		L.Push(ToLua(L, files))
		return 1
	})
	return t
}

func readable(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	if st.IsDir() {
		_, err = os.ReadDir(path)
		return err == nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func pathObject(L *lua.LState, p string) *lua.LTable {
	t := L.NewTable()
	ext := filepath.Ext(p)
	name := filepath.Base(p)
	t.RawSetString("path", lua.LString(p))
	t.RawSetString("name", lua.LString(name))
	t.RawSetString("ext", lua.LString(strings.TrimPrefix(ext, ".")))
	t.RawSetString("stem", lua.LString(strings.TrimSuffix(name, ext)))
	t.RawSetString("parent", lua.LString(filepath.Dir(p)))

	kind := "unknown"
	if st, err := os.Lstat(p); err == nil {
		switch {
		case st.Mode()&os.ModeSymlink != 0:
			kind = "symlink"
		case st.IsDir():
			kind = "directory"
		case st.Mode().IsRegular():
			kind = "file"
		}
		t.RawSetString("size", lua.LNumber(st.Size()))
		t.RawSetString("mtime", lua.LNumber(st.ModTime().Unix()))
	}
	t.RawSetString("type", lua.LString(kind))
	return t
}

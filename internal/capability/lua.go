package capability

import (
	"context"
	"fmt"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

// LuaCapability is a capability implementation backed by a Lua script. The
// script must define a global function invoke(params, credentials) returning
// a value (string, number, boolean, or table). Operators use it to register
// custom capabilities without recompiling the daemon.
//
// Each call runs in a fresh interpreter state so concurrent executions share
// nothing. The script gets no os, io, or filesystem access.
type LuaCapability struct {
	Path string
}

// NewLuaCapability resolves the script path once so later failures name an
// absolute path.
func NewLuaCapability(path string) (*LuaCapability, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("lua capability: script path: %w", err)
	}
	return &LuaCapability{Path: abs}, nil
}

func (c *LuaCapability) Invoke(ctx context.Context, inv pkgcap.Invocation, emit pkgcap.Emitter) (any, error) {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer lState.Close()
	lState.SetContext(ctx)

	// Base, string, table, and math libraries only: enough for data shaping,
	// nothing that touches the host.
	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := lState.CallByParam(lua.P{
			Fn:      lState.NewFunction(open.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(open.name)); err != nil {
			return nil, fmt.Errorf("lua capability %s: stdlib: %w", c.Path, err)
		}
	}

	// Base opens dofile/loadfile; those reach the host filesystem, so they go.
	for _, g := range []string{"dofile", "loadfile", "load", "loadstring"} {
		lState.SetGlobal(g, lua.LNil)
	}

	if err := lState.DoFile(c.Path); err != nil {
		return nil, fmt.Errorf("lua capability %s: load: %w", c.Path, err)
	}

	fn := lState.GetGlobal("invoke")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("lua capability %s: script must define global function invoke(params, credentials)", c.Path)
	}

	if emit != nil {
		emit.Progress("start", map[string]any{"capability": inv.Capability})
	}

	lState.Push(fn)
	lState.Push(goToLua(lState, inv.Params))
	creds := make(map[string]any, len(inv.Credentials))
	for k, v := range inv.Credentials {
		creds[k] = v
	}
	lState.Push(goToLua(lState, creds))
	if err := lState.PCall(2, 1, nil); err != nil {
		return nil, fmt.Errorf("lua capability %s: invoke(): %w", c.Path, err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)
	return luaToGo(ret), nil
}

// goToLua converts a JSON-shaped Go value into a Lua value.
func goToLua(lState *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := lState.NewTable()
		for i, el := range val {
			tbl.RawSetInt(i+1, goToLua(lState, el))
		}
		return tbl
	case map[string]any:
		tbl := lState.NewTable()
		for k, el := range val {
			tbl.RawSetString(k, goToLua(lState, el))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua return value into a JSON-shaped Go value. Tables
// with a dense 1..n integer key sequence decode as arrays.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		maxN := val.MaxN()
		if maxN > 0 {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[k.String()] = luaToGo(v)
		})
		if len(obj) == 0 {
			return []any{}
		}
		return obj
	default:
		return v.String()
	}
}

// Package luaengine evaluates operator-supplied Lua scripts against the
// claims of an already verified token.
package luaengine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ErrLuaTimeout is returned when a script exceeds its execution time limit.
var ErrLuaTimeout = errors.New("lua script exceeded execution time limit")

// ErrRejected wraps every rejection raised by the script itself.
var ErrRejected = errors.New("lua policy rejected")

// DefaultTimeout is the default execution time limit per evaluation.
const DefaultTimeout = 2 * time.Second

// CompiledPolicy holds a pre-compiled script. Each evaluation runs in a
// fresh LState, so a CompiledPolicy is safe for concurrent use.
type CompiledPolicy struct {
	proto   *lua.FunctionProto
	timeout time.Duration
}

// Compile parses and compiles a Lua script.
func Compile(script string, timeout time.Duration) (*CompiledPolicy, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("lua compile error: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CompiledPolicy{proto: fn.Proto, timeout: timeout}, nil
}

// Evaluate runs the policy. permission is the permission the request was
// gated on ("" for public operations) and permissions the granted list.
func (cp *CompiledPolicy) Evaluate(ctx context.Context, claims map[string]any, permission string, permissions []string) error {
	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)
	openSafeLibs(L)

	L.SetGlobal("claims", mapToLTable(L, claims))
	L.SetGlobal("permission", lua.LString(permission))

	var policyErr error
	fail := func(L *lua.LState, format string, args ...any) {
		policyErr = fmt.Errorf("%w: "+format, append([]any{ErrRejected}, args...)...)
		L.RaiseError("%s", policyErr.Error())
	}

	L.SetGlobal("has", L.NewFunction(func(L *lua.LState) int {
		_, ok := claims[L.CheckString(1)]
		L.Push(lua.LBool(ok))
		return 1
	}))
	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		L.Push(goToLua(L, claims[L.CheckString(1)]))
		return 1
	}))
	L.SetGlobal("has_permission", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(slices.Contains(permissions, L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("require_claim", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if _, ok := claims[key]; !ok {
			fail(L, "required claim missing: %s", key)
		}
		return 0
	}))
	L.SetGlobal("reject", L.NewFunction(func(L *lua.LState) int {
		fail(L, "%s", L.OptString(1, "rejected"))
		return 0
	}))

	L.Push(L.NewFunctionFromProto(cp.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLuaTimeout
		}
		if policyErr != nil {
			return policyErr
		}
		return fmt.Errorf("lua policy error: %w", err)
	}
	return nil
}

// openSafeLibs opens only libraries without filesystem or process access.
func openSafeLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
}

func mapToLTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, goToLua(L, v))
	}
	return tbl
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		return mapToLTable(L, val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

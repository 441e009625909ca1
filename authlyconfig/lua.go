package authlyconfig

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/coffeeshop/authly"
	lua "github.com/yuin/gopher-lua"
)

type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that runs a Lua file returning a config table:
//
//	return {
//	  domain = "tenant.us.auth0.com",
//	  audience = "coffee",
//	  jwks_cache_ttl_sec = 600,
//	  policy = { enabled = true, script = [[ require_claim("sub") ]] },
//	}
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*authly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString runs script and maps the returned table onto an authly.Config.
func LoadLuaString(script string) (*authly.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

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

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}
	tbl, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", L.Get(-1).Type())
	}
	return finish(luaTableToConfig(tbl))
}

func luaTableToConfig(tbl *lua.LTable) authly.Config {
	cfg := authly.Config{
		Domain:           getStringField(tbl, "domain"),
		Audience:         getStringField(tbl, "audience"),
		AllowedAlgs:      getStringSliceField(tbl, "allowed_algs"),
		Issuer:           getStringField(tbl, "issuer"),
		JWKSURL:          getStringField(tbl, "jwks_url"),
		JWKSCacheTTL:     time.Duration(getNumberField(tbl, "jwks_cache_ttl_sec")) * time.Second,
		DisableJWKSCache: getBoolField(tbl, "disable_jwks_cache"),
		ClockSkew:        time.Duration(getNumberField(tbl, "clock_skew_sec")) * time.Second,
	}
	if p := getTableField(tbl, "policy"); p != nil {
		cfg.Policy = authly.PolicyConfig{
			Enabled: getBoolField(p, "enabled"),
			Script:  getStringField(p, "script"),
			Timeout: time.Duration(getNumberField(p, "timeout_ms")) * time.Millisecond,
		}
	}
	return cfg
}

func getStringField(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getNumberField(tbl *lua.LTable, key string) float64 {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getBoolField(tbl *lua.LTable, key string) bool {
	if b, ok := tbl.RawGetString(key).(lua.LBool); ok {
		return bool(b)
	}
	return false
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	if t, ok := tbl.RawGetString(key).(*lua.LTable); ok {
		return t
	}
	return nil
}

func getStringSliceField(tbl *lua.LTable, key string) []string {
	t := getTableField(tbl, key)
	if t == nil {
		return nil
	}
	var result []string
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}

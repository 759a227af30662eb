package autosort

import (
	"context"
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// LuaOracle sorts with a user script. The script defines a global function
//
//	sort(request) -> order
//	sort(request) -> nil, message, {plugins...}
//
// where request mirrors Request (id, game, plugins[{name, owner, native,
// tags}]). Returning nil with a message reports a conflict. Runtime errors
// in the script make the oracle unreachable.
//
// Each call runs in a fresh state with only the base, table, string and math
// libraries loaded.
type LuaOracle struct {
	name    string
	source  string
	timeout time.Duration
}

// NewLuaOracle creates an oracle from script source. name is used in error
// messages.
func NewLuaOracle(name, source string) *LuaOracle {
	return &LuaOracle{name: name, source: source, timeout: 10 * time.Second}
}

// LoadLuaOracle reads a script file.
func LoadLuaOracle(path string) (*LuaOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sort script: %w", err)
	}
	return NewLuaOracle(path, string(data)), nil
}

// SetTimeout bounds each call. Zero disables the bound.
func (o *LuaOracle) SetTimeout(d time.Duration) {
	o.timeout = d
}

// Sort runs the script's sort function.
func (o *LuaOracle) Sort(ctx context.Context, req *Request) (resp *Response, err error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %s: lua panic: %v", ErrOracleUnreachable, o.name, r)
		}
	}()

	if err := L.DoString(o.source); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracleUnreachable, o.name, err)
	}
	fn, ok := L.GetGlobal("sort").(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s: no sort function", ErrOracleUnreachable, o.name)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 3, Protect: true}, requestTable(L, req)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracleUnreachable, o.name, err)
	}
	conflicts := L.Get(-1)
	message := L.Get(-2)
	result := L.Get(-3)
	L.Pop(3)

	order, ok := result.(*lua.LTable)
	if !ok {
		if message == lua.LNil {
			return nil, fmt.Errorf("%w: %s: sort returned %s", ErrOracleUnreachable, o.name, result.Type())
		}
		return nil, &ConflictError{Message: lua.LVAsString(message), Plugins: stringList(conflicts)}
	}
	return &Response{Order: stringList(order)}, nil
}

func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func requestTable(L *lua.LState, req *Request) *lua.LTable {
	plugins := L.NewTable()
	for _, p := range req.Plugins {
		t := L.NewTable()
		t.RawSetString("name", lua.LString(p.Name))
		t.RawSetString("owner", lua.LString(p.Owner))
		t.RawSetString("native", lua.LBool(p.Native))
		tags := L.NewTable()
		for _, tag := range p.Tags {
			tags.Append(lua.LString(tag))
		}
		t.RawSetString("tags", tags)
		plugins.Append(t)
	}

	t := L.NewTable()
	t.RawSetString("id", lua.LString(req.ID))
	t.RawSetString("game", lua.LString(req.GameID))
	t.RawSetString("plugins", plugins)
	return t
}

func stringList(v lua.LValue) []string {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	n := t.Len()
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, lua.LVAsString(t.RawGetInt(i)))
	}
	return out
}

var _ Oracle = (*LuaOracle)(nil)

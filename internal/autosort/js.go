package autosort

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"
)

// JSOracle sorts with a JavaScript file. The script defines a global function
//
//	sort(request) -> [names...]
//	sort(request) -> {error: message, plugins: [names...]}
//
// Returning an object with an error reports a conflict. Exceptions make the
// oracle unreachable. The runtime has no module loader and no host access.
type JSOracle struct {
	name    string
	source  string
	timeout time.Duration
}

// NewJSOracle creates an oracle from script source.
func NewJSOracle(name, source string) *JSOracle {
	return &JSOracle{name: name, source: source, timeout: 10 * time.Second}
}

// LoadJSOracle reads a script file.
func LoadJSOracle(path string) (*JSOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sort script: %w", err)
	}
	return NewJSOracle(path, string(data)), nil
}

// SetTimeout bounds each call. Zero disables the bound.
func (o *JSOracle) SetTimeout(d time.Duration) {
	o.timeout = d
}

// Sort runs the script's sort function in a fresh runtime.
func (o *JSOracle) Sort(ctx context.Context, req *Request) (resp *Response, err error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracleUnreachable, o.name, err)
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %s: js panic: %v", ErrOracleUnreachable, o.name, r)
		}
	}()

	if _, err := vm.RunString(o.source); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracleUnreachable, o.name, err)
	}
	fn, ok := goja.AssertFunction(vm.Get("sort"))
	if !ok {
		return nil, fmt.Errorf("%w: %s: no sort function", ErrOracleUnreachable, o.name)
	}
	val, err := fn(goja.Undefined(), vm.ToValue(requestObject(req)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracleUnreachable, o.name, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, fmt.Errorf("%w: %s: sort returned nothing", ErrOracleUnreachable, o.name)
	}

	switch v := val.Export().(type) {
	case []interface{}:
		order, ok := exportStrings(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s: order contains non-string values", ErrOracleUnreachable, o.name)
		}
		return &Response{Order: order}, nil
	case map[string]interface{}:
		msg, ok := v["error"].(string)
		if !ok || msg == "" {
			return nil, fmt.Errorf("%w: %s: result object has no error message", ErrOracleUnreachable, o.name)
		}
		plugins, _ := v["plugins"].([]interface{})
		names, _ := exportStrings(plugins)
		return nil, &ConflictError{Message: msg, Plugins: names}
	default:
		return nil, fmt.Errorf("%w: %s: sort returned %T", ErrOracleUnreachable, o.name, v)
	}
}

func requestObject(req *Request) map[string]interface{} {
	plugins := make([]interface{}, 0, len(req.Plugins))
	for _, p := range req.Plugins {
		tags := make([]interface{}, len(p.Tags))
		for i, tag := range p.Tags {
			tags[i] = tag
		}
		plugins = append(plugins, map[string]interface{}{
			"name":   p.Name,
			"owner":  p.Owner,
			"native": p.Native,
			"tags":   tags,
		})
	}
	return map[string]interface{}{
		"id":      req.ID,
		"game":    req.GameID,
		"plugins": plugins,
	}
}

func exportStrings(values []interface{}) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

var _ Oracle = (*JSOracle)(nil)

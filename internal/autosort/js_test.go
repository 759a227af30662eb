package autosort

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

const mastersFirstJS = `
function sort(req) {
  var masters = [], rest = [];
  req.plugins.forEach(function (p) {
    if (p.tags.indexOf("esm") >= 0) {
      masters.push(p.name);
    } else {
      rest.push(p.name);
    }
  });
  rest.sort();
  return masters.concat(rest);
}
`

func TestJSOracle_Sort(t *testing.T) {
	o := NewJSOracle("masters.js", mastersFirstJS)
	resp, err := o.Sort(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if want := []string{"Skyrim.esm", "Alpha.esm", "Zeta.esp"}; !reflect.DeepEqual(resp.Order, want) {
		t.Errorf("Order = %v, want %v", resp.Order, want)
	}
}

func TestJSOracle_SeesRequestFields(t *testing.T) {
	o := NewJSOracle("fields.js", `
function sort(req) {
  if (!req.id) { throw new Error("missing id"); }
  return [req.game, String(req.plugins[0].native), req.plugins[1].owner];
}`)
	resp, err := o.Sort(context.Background(), sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"skyrimse", "true", "ModZ"}; !reflect.DeepEqual(resp.Order, want) {
		t.Errorf("Order = %v, want %v", resp.Order, want)
	}
}

func TestJSOracle_Errors(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		want     error
		conflict []string
	}{
		{"conflict", `function sort(req) { return {error: "cycle", plugins: ["A.esp", "B.esp"]}; }`, ErrOracleConflict, []string{"A.esp", "B.esp"}},
		{"exception", `function sort(req) { throw new Error("broken"); }`, ErrOracleUnreachable, nil},
		{"syntax error", `function sort(req {`, ErrOracleUnreachable, nil},
		{"no function", `var x = 1;`, ErrOracleUnreachable, nil},
		{"wrong type", `function sort(req) { return 42; }`, ErrOracleUnreachable, nil},
		{"undefined", `function sort(req) {}`, ErrOracleUnreachable, nil},
		{"non-string names", `function sort(req) { return [1, 2]; }`, ErrOracleUnreachable, nil},
		{"object without error", `function sort(req) { return {plugins: []}; }`, ErrOracleUnreachable, nil},
		{"no require", `function sort(req) { return require("fs"); }`, ErrOracleUnreachable, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJSOracle(tt.name, tt.source).Sort(context.Background(), sampleRequest())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.conflict != nil {
				var ce *ConflictError
				if !errors.As(err, &ce) || !reflect.DeepEqual(ce.Plugins, tt.conflict) || ce.Message != "cycle" {
					t.Errorf("conflict = %+v", ce)
				}
			}
		})
	}
}

func TestJSOracle_Timeout(t *testing.T) {
	o := NewJSOracle("spin.js", `function sort(req) { for (;;) {} }`)
	o.SetTimeout(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := o.Sort(context.Background(), sampleRequest())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrOracleUnreachable) {
			t.Errorf("err = %v, want ErrOracleUnreachable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("script was not interrupted")
	}
}

func TestJSOracle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJSOracle("masters.js", mastersFirstJS).Sort(ctx, sampleRequest())
	if !errors.Is(err, ErrOracleUnreachable) {
		t.Errorf("err = %v, want ErrOracleUnreachable", err)
	}
}

func TestLoadJSOracle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sort.js")
	if err := os.WriteFile(path, []byte(mastersFirstJS), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err := LoadJSOracle(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Sort(context.Background(), sampleRequest()); err != nil {
		t.Errorf("Sort: %v", err)
	}

	if _, err := LoadJSOracle(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Error("expected error for missing script")
	}
}

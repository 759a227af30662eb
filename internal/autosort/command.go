package autosort

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Default gjson paths into a command oracle's response.
const (
	DefaultOrderPath    = "order"
	DefaultErrorPath    = "error.message"
	DefaultConflictPath = "error.plugins"
)

// CommandOracle runs an external program per request. The request is written
// to stdin as JSON; the program answers on stdout with a JSON document from
// which the order or an error is extracted with gjson paths.
type CommandOracle struct {
	Path    string
	Args    []string
	Timeout time.Duration

	OrderPath    string
	ErrorPath    string
	ConflictPath string
}

// NewCommandOracle creates a command oracle with default response paths.
func NewCommandOracle(path string, args ...string) *CommandOracle {
	return &CommandOracle{
		Path:         path,
		Args:         args,
		Timeout:      30 * time.Second,
		OrderPath:    DefaultOrderPath,
		ErrorPath:    DefaultErrorPath,
		ConflictPath: DefaultConflictPath,
	}
}

// Sort runs the command.
func (c *CommandOracle) Sort(ctx context.Context, req *Request) (*Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnreachable, ctx.Err())
	}

	out := stdout.Bytes()
	if !gjson.ValidBytes(out) {
		if runErr != nil {
			return nil, fmt.Errorf("%w: %v: %s", ErrOracleUnreachable, runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrOracleUnreachable)
	}

	if msg := gjson.GetBytes(out, c.pathOr(c.ErrorPath, DefaultErrorPath)); msg.Exists() {
		conflict := &ConflictError{Message: msg.String()}
		for _, p := range gjson.GetBytes(out, c.pathOr(c.ConflictPath, DefaultConflictPath)).Array() {
			conflict.Plugins = append(conflict.Plugins, p.String())
		}
		return nil, conflict
	}
	if runErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnreachable, runErr)
	}

	order := gjson.GetBytes(out, c.pathOr(c.OrderPath, DefaultOrderPath))
	if !order.IsArray() {
		return nil, fmt.Errorf("%w: response has no %q array", ErrOracleUnreachable, c.pathOr(c.OrderPath, DefaultOrderPath))
	}
	resp := &Response{}
	for _, name := range order.Array() {
		resp.Order = append(resp.Order, name.String())
	}
	return resp, nil
}

func (c *CommandOracle) pathOr(p, def string) string {
	if p == "" {
		return def
	}
	return p
}

var _ Oracle = (*CommandOracle)(nil)

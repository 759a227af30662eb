// Package autosort asks an external ordering oracle for a dependency-aware
// load order and applies its answer.
//
// The oracle itself is opaque: an external command speaking JSON, a sandboxed
// Lua or JavaScript script, or an in-process function. The Adapter guarantees at most one
// call in flight per profile and applies only the newest request's result.
package autosort

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Errors returned by oracles.
var (
	// ErrOracleUnreachable indicates the oracle could not produce an answer.
	ErrOracleUnreachable = errors.New("sort oracle unreachable")

	// ErrOracleConflict indicates cyclic or contradictory ordering rules.
	ErrOracleConflict = errors.New("sort oracle reported a conflict")
)

// ConflictError describes rules the oracle could not satisfy.
type ConflictError struct {
	Message string
	Plugins []string
}

func (e *ConflictError) Error() string {
	if len(e.Plugins) == 0 {
		return fmt.Sprintf("sort conflict: %s", e.Message)
	}
	return fmt.Sprintf("sort conflict: %s (%s)", e.Message, strings.Join(e.Plugins, ", "))
}

// Is matches ErrOracleConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrOracleConflict
}

// RequestPlugin is one plugin handed to the oracle.
type RequestPlugin struct {
	Name   string   `json:"name"`
	Owner  string   `json:"owner,omitempty"`
	Native bool     `json:"native"`
	Tags   []string `json:"tags,omitempty"`
}

// Request is the oracle input: the current load order with metadata.
type Request struct {
	ID      string          `json:"id"`
	GameID  string          `json:"game"`
	Plugins []RequestPlugin `json:"plugins"`
}

// NewRequest creates a request with a fresh id.
func NewRequest(gameID string, plugins []RequestPlugin) *Request {
	return &Request{
		ID:      uuid.NewString(),
		GameID:  gameID,
		Plugins: plugins,
	}
}

// Names returns the plugin names in request order.
func (r *Request) Names() []string {
	names := make([]string, len(r.Plugins))
	for i, p := range r.Plugins {
		names[i] = p.Name
	}
	return names
}

// Response is the oracle output.
type Response struct {
	Order []string
}

// Oracle computes a load order.
type Oracle interface {
	Sort(ctx context.Context, req *Request) (*Response, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req *Request) (*Response, error)

// Sort calls f.
func (f OracleFunc) Sort(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// StaticOracle answers every request with a fixed order, or with the request
// order when Order is nil.
type StaticOracle struct {
	Order []string
	Err   error
}

// Sort returns the configured answer.
func (s *StaticOracle) Sort(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnreachable, err)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Order == nil {
		return &Response{Order: req.Names()}, nil
	}
	order := make([]string, len(s.Order))
	copy(order, s.Order)
	return &Response{Order: order}, nil
}

var (
	_ Oracle = OracleFunc(nil)
	_ Oracle = (*StaticOracle)(nil)
)

// Package ops defines the boundary between the engine and the application
// that actually performs operations.
//
// The engine only ever sees an Executor: an operation name and a parameter
// map go in, a Result envelope comes out. Everything about how an operation
// mutates the host application lives behind that interface.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Executor dispatches a named operation with parameters to the host application.
// A returned error is a transport failure; operation failures are reported
// through Result.Success and Result.Error.
type Executor interface {
	Execute(ctx context.Context, operation string, params map[string]any) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, operation string, params map[string]any) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, operation string, params map[string]any) (Result, error) {
	return f(ctx, operation, params)
}

// Result is the typed envelope for an operation's structured result.
// On the wire it is a flat JSON object: {"success": bool, "error": string, ...fields}.
type Result struct {
	Success bool
	Error   string
	Fields  map[string]any
}

// OK builds a successful result with the given fields.
func OK(fields map[string]any) Result {
	if fields == nil {
		fields = map[string]any{}
	}
	return Result{Success: true, Fields: fields}
}

// Fail builds a failed result with an error message.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), Fields: map[string]any{}}
}

// Lookup resolves a dotted path ("rooms.ids") through nested maps in Fields.
func (r Result) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = r.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// MarshalJSON encodes the result as a flat object.
func (r Result) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["success"] = r.Success
	if r.Error != "" {
		flat["error"] = r.Error
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes a flat object. A missing "success" field is treated as false.
func (r *Result) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode operation result: %w", err)
	}
	if flat == nil {
		return fmt.Errorf("decode operation result: expected a JSON object")
	}
	out := Result{Fields: map[string]any{}}
	for k, v := range flat {
		switch k {
		case "success":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("decode operation result: success must be a boolean, got %T", v)
			}
			out.Success = b
		case "error":
			if v != nil {
				out.Error = fmt.Sprint(v)
			}
		default:
			out.Fields[k] = v
		}
	}
	*r = out
	return nil
}

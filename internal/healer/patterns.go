package healer

import (
	"fmt"
	"strings"
)

// FixFunc rewrites a copy of the failed step's parameters.
// It returns false when the fix does not apply to these parameters.
type FixFunc func(params map[string]any) (map[string]any, bool)

// ErrorPattern maps a known error substring to a parameter-level fix.
type ErrorPattern struct {
	ID         string  // Strategy tag suffix: a successful fix is tagged "fixed_<ID>"
	Substring  string  // Matched case-insensitively against the error message
	Fix        FixFunc // Nil for unfixable patterns
	Unfixable  bool    // Healing stops immediately when matched
	Suggestion string  // Human-readable guidance
}

// Strategy returns the heal tag recorded when this pattern's fix succeeds.
func (p ErrorPattern) Strategy() string {
	return "fixed_" + p.ID
}

// Matches reports whether the pattern applies to an error message.
func (p ErrorPattern) Matches(errMsg string) bool {
	return p.Substring != "" && strings.Contains(strings.ToLower(errMsg), strings.ToLower(p.Substring))
}

var (
	levelParams = []string{"level_id", "level_name", "level"}
	typeParams  = []string{"type_id", "type_name", "family_type"}
	viewParams  = []string{"view_id"}
)

// DefaultPatterns returns the builtin pattern table in match order.
func DefaultPatterns() []ErrorPattern {
	return []ErrorPattern{
		{
			ID:         "level_not_found",
			Substring:  "level not found",
			Fix:        zeroParams(levelParams),
			Suggestion: "Clear the level reference so the operation uses the default level",
		},
		{
			ID:         "type_not_found",
			Substring:  "type not found",
			Fix:        dropParams(typeParams),
			Suggestion: "Drop the type reference so the operation falls back to the default type",
		},
		{
			ID:         "view_not_found",
			Substring:  "view not found",
			Fix:        dropParams(viewParams),
			Suggestion: "Drop the view reference so the operation targets the active view",
		},
		{
			ID:         "name_conflict",
			Substring:  "already exists",
			Fix:        suffixName,
			Suggestion: "Pick a unique name",
		},
		{
			ID:         "element_not_found",
			Substring:  "element not found",
			Unfixable:  true,
			Suggestion: "Element ids are stale; replan from a fresh query",
		},
		{
			ID:         "read_only",
			Substring:  "read-only",
			Unfixable:  true,
			Suggestion: "The document is read-only; check out or save a local copy",
		},
		{
			ID:         "permission_denied",
			Substring:  "permission denied",
			Unfixable:  true,
			Suggestion: "Elements are owned by another user",
		},
	}
}

// zeroParams resets level-style references to their zero value.
func zeroParams(keys []string) FixFunc {
	return func(params map[string]any) (map[string]any, bool) {
		changed := false
		for _, key := range keys {
			v, ok := params[key]
			if !ok {
				continue
			}
			zero := zeroValue(v)
			if zero != v {
				params[key] = zero
				changed = true
			}
		}
		return params, changed
	}
}

func zeroValue(v any) any {
	switch v.(type) {
	case string:
		return ""
	case int:
		return 0
	case int64:
		return int64(0)
	case float64:
		return float64(0)
	default:
		return nil
	}
}

func dropParams(keys []string) FixFunc {
	return func(params map[string]any) (map[string]any, bool) {
		changed := false
		for _, key := range keys {
			if _, ok := params[key]; ok {
				delete(params, key)
				changed = true
			}
		}
		return params, changed
	}
}

func suffixName(params map[string]any) (map[string]any, bool) {
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return params, false
	}
	params["name"] = fmt.Sprintf("%s (2)", name)
	return params, true
}

package engine

import "strings"

// placeholderKey returns key when s is exactly "{{key}}".
func placeholderKey(s string) (string, bool) {
	if len(s) < 5 || !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	key := s[2 : len(s)-2]
	if key == "" || strings.ContainsAny(key, "{}") {
		return "", false
	}
	return key, true
}

// ResolveParams substitutes "{{key}}" string values with context values.
// Unknown keys keep the literal placeholder; non-string values pass through.
// The input map is never modified.
func ResolveParams(params map[string]any, ctx map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for name, value := range params {
		s, ok := value.(string)
		if !ok {
			out[name] = value
			continue
		}
		key, ok := placeholderKey(s)
		if !ok {
			out[name] = value
			continue
		}
		if resolved, found := ctx[key]; found {
			out[name] = resolved
		} else {
			out[name] = value
		}
	}
	return out
}

package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Interpolate resolves ${{...}} references in action params against vars
// (see Scope.Vars). Maps and slices are walked recursively. A string that is
// exactly one reference takes the referenced value with its type; references
// embedded in longer strings are stringified in place.
//
//	{"url": "https://api.example.com/search?q=${{ data.query }}"}
//	{"items": "${{ context.findings }}"}
func Interpolate(params any, vars map[string]any) (any, error) {
	switch v := params.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			r, err := Interpolate(e, vars)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			r, err := Interpolate(e, vars)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case string:
		return interpolateString(v, vars)
	default:
		return params, nil
	}
}

func interpolateString(input string, vars map[string]any) (any, error) {
	if !strings.Contains(input, "${{") {
		return input, nil
	}

	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "${{") == 1 {
		return resolveRef(strings.TrimSpace(trimmed[3:len(trimmed)-2]), vars)
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}
		result.WriteString(input[i : i+idx])
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		val, err := resolveRef(strings.TrimSpace(input[start:end]), vars)
		if err != nil {
			return nil, err
		}
		result.WriteString(marshalInline(val))
		i = end + 2
	}

	return result.String(), nil
}

// resolveRef resolves a dotted path such as "data.queries.0" or "context.topic".
func resolveRef(ref string, vars map[string]any) (any, error) {
	if ref == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
	}
	if strings.Contains(ref, "${{") {
		return nil, schema.NewError(schema.ErrCodeInterpolation,
			"nested interpolation not allowed: ${{...}} cannot contain ${{")
	}

	namespace, path, _ := strings.Cut(ref, ".")
	root, ok := vars[namespace]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(scopeVars, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": scopeVars})
	}
	if path == "" {
		return root, nil
	}
	return traversePath(root, path, ref)
}

// traversePath walks nested maps and slices along a dot-delimited path.
// Numeric segments index into slices.
func traversePath(root any, path, ref string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", ref, i).
				WithDetails(map[string]any{"expression": ref})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				keys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, ref, strings.Join(keys, ", ")).
					WithDetails(map[string]any{"expression": ref, "available_fields": keys})
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"index %q out of range in %q (len %d)", seg, ref, len(v)).
					WithDetails(map[string]any{"expression": ref})
			}
			current = v[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current).
				WithDetails(map[string]any{"expression": ref})
		}
	}
	return current, nil
}

// marshalInline renders a resolved value inside a longer string.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasInterpolation reports whether params contain any ${{...}} reference.
func HasInterpolation(params any) bool {
	switch v := params.(type) {
	case map[string]any:
		for _, e := range v {
			if HasInterpolation(e) {
				return true
			}
		}
	case []any:
		for _, e := range v {
			if HasInterpolation(e) {
				return true
			}
		}
	case string:
		return strings.Contains(v, "${{")
	}
	return false
}

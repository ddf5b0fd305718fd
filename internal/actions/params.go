package actions

import (
	"encoding/json"
	"time"

	"github.com/trendy-design/taskflow/internal/expressions"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Param helpers shared by the built-in actions. Params arrive either
// straight from a YAML/JSON definition or from interpolation, so numbers
// may be int or float64.

func stringParam(m map[string]any, key, defaultVal string) string {
	s, ok := m[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	b, ok := m[key].(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

// durationParam parses a Go duration string or a number of milliseconds.
func durationParam(m map[string]any, key string, defaultVal time.Duration) (time.Duration, error) {
	switch v := m[key].(type) {
	case nil:
		return defaultVal, nil
	case string:
		if v == "" {
			return defaultVal, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "param %q: invalid duration %q", key, v).WithCause(err)
		}
		return d, nil
	case int, int64, float64, json.Number:
		return time.Duration(intParam(m, key, 0)) * time.Millisecond, nil
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "param %q: expected duration, got %T", key, v)
	}
}

// requireString rejects a missing or empty string param.
func requireString(action string, m map[string]any, key string) error {
	if s, ok := m[key].(string); !ok || s == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param '%s'", action, key)
	}
	return nil
}

// pending reports a param still carrying an unresolved placeholder, which
// Validate accepts and Execute re-checks.
func pending(v any) bool {
	return expressions.HasInterpolation(v)
}

package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition documents.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://taskflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["start", "tasks"],
  "properties": {
    "name": { "type": "string" },
    "start": { "type": "string", "minLength": 1 },
    "input": {},
    "config": {
      "type": "object",
      "properties": {
        "maxIterations": { "type": "integer", "minimum": 0 },
        "timeoutMs": { "type": "integer", "minimum": 0 }
      }
    },
    "context_schema": { "type": "object", "additionalProperties": { "type": ["object", "boolean"] } },
    "events_schema": { "type": "object", "additionalProperties": { "type": ["object", "boolean"] } },
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/task" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "task": {
      "type": "object",
      "required": ["name", "action"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "action": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "dependencies": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout": { "$ref": "#/$defs/duration" },
        "on_error": { "$ref": "#/$defs/on_error" },
        "route": { "$ref": "#/$defs/route" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": { "type": "string", "enum": ["none", "constant", "linear", "exponential"] },
        "delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "on_error": {
      "type": "object",
      "required": ["strategy"],
      "properties": {
        "strategy": { "type": "string", "enum": ["ignore", "fallback", "abort"] },
        "fallback": { "type": "string" }
      },
      "additionalProperties": false
    },
    "route": {
      "type": "object",
      "properties": {
        "end": { "type": "boolean" },
        "to": { "type": "string", "minLength": 1 },
        "many": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["task"],
            "properties": {
              "task": { "type": "string", "minLength": 1 },
              "data": {}
            },
            "additionalProperties": false
          }
        },
        "expr": { "type": "string", "minLength": 1 },
        "when": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["if", "to"],
            "properties": {
              "if": { "type": "string", "minLength": 1 },
              "to": { "type": "string", "minLength": 1 }
            },
            "additionalProperties": false
          }
        },
        "default": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

const workflowSchemaURL = "https://taskflow.dev/schemas/workflow.json"

// JSONSchemaValidator validates workflow definitions and compiles per-key
// value schemas. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the compiled key schema cache.
	mu    sync.RWMutex
	cache map[string]*KeySchema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the workflow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*KeySchema),
	}, nil
}

// ValidateDefinition checks the structure of a WorkflowDefinition.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toTaskflowError(err)
	}
	return nil
}

// KeySchema returns the compiled schema for one key, reusing a cached
// compilation when the same document was compiled before.
func (v *JSONSchemaValidator) KeySchema(key string, doc any) (*KeySchema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "schema for key %q is not JSON: %s", key, err.Error())
	}
	cacheKey := key + "\x00" + string(raw)

	v.mu.RLock()
	if ks, ok := v.cache[cacheKey]; ok {
		v.mu.RUnlock()
		return ks, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if ks, ok := v.cache[cacheKey]; ok {
		return ks, nil
	}

	ks, err := CompileKeySchema(key, raw)
	if err != nil {
		return nil, err
	}
	v.cache[cacheKey] = ks
	return ks, nil
}

// KeySchemas compiles a schema document per key.
func (v *JSONSchemaValidator) KeySchemas(docs map[string]any) (map[string]*KeySchema, error) {
	out := make(map[string]*KeySchema, len(docs))
	for key, doc := range docs {
		ks, err := v.KeySchema(key, doc)
		if err != nil {
			return nil, err
		}
		out[key] = ks
	}
	return out, nil
}

// KeySchema validates the values written under one Context or Event Store key.
type KeySchema struct {
	key      string
	compiled *jsonschema.Schema
	doc      any
}

// CompileKeySchema compiles a raw JSON Schema document for key.
func CompileKeySchema(key string, raw []byte) (*KeySchema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unmarshal schema for key %q: %s", key, err.Error()).WithCause(err)
	}

	loc := "taskflow://keys/" + url.PathEscape(key)
	c := newCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "add schema for key %q: %s", key, err.Error()).WithCause(err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile schema for key %q: %s", key, err.Error()).WithCause(err)
	}
	return &KeySchema{key: key, compiled: compiled, doc: doc}, nil
}

// MustKeySchema is CompileKeySchema for schema literals known to be valid.
func MustKeySchema(key, raw string) *KeySchema {
	ks, err := CompileKeySchema(key, []byte(raw))
	if err != nil {
		panic(err)
	}
	return ks
}

// Key returns the key this schema guards.
func (k *KeySchema) Key() string { return k.key }

// Validate checks value against the schema and returns it unchanged on success.
func (k *KeySchema) Validate(value any) (any, error) {
	doc, err := toJSONValue(value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "key %q: value is not JSON-serializable: %s", k.key, err.Error()).WithCause(err)
	}
	if err := k.compiled.Validate(doc); err != nil {
		return nil, toTaskflowError(err).WithDetails(map[string]any{"key": k.key, "violations": violations(err)})
	}
	return value, nil
}

// Default derives the value used when a key has no state yet: the schema's
// own "default" when present, otherwise an empty object filled with the
// "default" of each declared property. The candidate must pass the schema.
func (k *KeySchema) Default() (any, error) {
	var candidate any
	obj, _ := k.doc.(map[string]any)
	if d, ok := obj["default"]; ok {
		candidate = d
	} else {
		m := map[string]any{}
		if props, ok := obj["properties"].(map[string]any); ok {
			for name, p := range props {
				if ps, ok := p.(map[string]any); ok {
					if d, ok := ps["default"]; ok {
						m[name] = d
					}
				}
			}
		}
		candidate = m
	}

	if err := k.compiled.Validate(candidate); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "key %q has no valid default", k.key).
			WithCause(err).
			WithDetails(map[string]any{"key": k.key, "violations": violations(err)})
	}
	return fromJSONValue(candidate), nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// fromJSONValue converts json.Number leaves into float64 so defaults look like
// values decoded with encoding/json.
func fromJSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromJSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromJSONValue(e)
		}
		return out
	default:
		return v
	}
}

func toTaskflowError(err error) *schema.TaskflowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	vs := violations(verr)
	switch len(vs) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, vs[0]).WithDetails(map[string]any{"violations": vs})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(vs)).
			WithDetails(map[string]any{"violations": vs})
	}
}

// violations walks a ValidationError tree and collects leaf messages with
// their instance locations.
func violations(err error) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	return collectViolations(verr)
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

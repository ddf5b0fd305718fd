package flow

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// LoadFile reads a workflow definition. The format follows the extension:
// .yaml/.yml or .json.
func LoadFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read workflow definition %s", path).WithCause(err)
	}
	format := DetectFormat(path)
	if format == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported file extension %q", filepath.Ext(path))
	}
	return Parse(data, format)
}

// Parse decodes a definition in the given format ("yaml" or "json").
// Unknown fields are rejected in both formats.
func Parse(data []byte, format string) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition

	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse YAML: %s", err.Error()).WithCause(err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse JSON: %s", err.Error()).WithCause(err)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported format %q, use \"yaml\" or \"json\"", format)
	}
	return &def, nil
}

// DetectFormat returns "yaml" or "json" based on the file extension, or "".
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}

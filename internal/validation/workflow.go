package validation

import "github.com/trendy-design/taskflow/pkg/schema"

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (action refs, task refs, routes, durations)
// 3. Graph (dependency cycles, reachability from start)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
	exprs      ExpressionCompiler
}

// Option configures a WorkflowValidator.
type Option func(*WorkflowValidator)

// WithExpressionCompiler enables compile checks of route expressions.
func WithExpressionCompiler(c ExpressionCompiler) Option {
	return func(wv *WorkflowValidator) { wv.exprs = c }
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip action existence checks.
func NewWorkflowValidator(lookup ActionLookup, opts ...Option) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	wv := &WorkflowValidator{
		jsonSchema: jsv,
		actions:    lookup,
	}
	for _, opt := range opts {
		opt(wv)
	}
	return wv, nil
}

// Schemas exposes the underlying JSON Schema validator for key schemas.
func (wv *WorkflowValidator) Schemas() *JSONSchemaValidator {
	return wv.jsonSchema
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("", "", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.actions, wv.exprs))

	// Graph analysis needs resolvable references.
	if result.Valid() {
		result.Merge(validateDAG(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	tfErr, ok := err.(*schema.TaskflowError)
	if !ok {
		result.AddError("", "", schema.ErrCodeValidation, err.Error())
		return result
	}

	if vs, ok := tfErr.Details["violations"].([]string); ok {
		for _, msg := range vs {
			result.AddError("", "", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("", "", schema.ErrCodeValidation, tfErr.Message)
	return result
}

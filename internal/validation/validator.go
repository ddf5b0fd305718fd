package validation

import "github.com/trendy-design/taskflow/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// ActionLookup reports whether an action name is registered.
type ActionLookup interface {
	Has(name string) bool
}

// ExpressionCompiler compiles a routing expression without running it.
// language is "expr" for route.expr and "cel" for route.when conditions.
type ExpressionCompiler interface {
	Compile(language, expression string) error
}

package expressions

import (
	"context"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Engine evaluates expressions of declarative workflows.
// Three implementations: CEL (route conditions), Expr (route expressions and
// the expr.eval action), GoJQ (the jq action).
type Engine interface {
	Name() string
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}

// Set bundles one instance of every engine. It is safe for concurrent use
// and is meant to be shared by every compiled workflow.
type Set struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewSet creates the three engines.
func NewSet() (*Set, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Set{CEL: cel, Expr: NewExprEngine(), JQ: NewGoJQEngine()}, nil
}

// Engine returns the engine registered under language.
func (s *Set) Engine(language string) (Engine, error) {
	switch language {
	case "cel":
		return s.CEL, nil
	case "expr":
		return s.Expr, nil
	case "jq":
		return s.JQ, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", language)
	}
}

// Compile checks expression in language without evaluating it.
func (s *Set) Compile(language, expression string) error {
	e, err := s.Engine(language)
	if err != nil {
		return err
	}
	return e.Compile(expression)
}

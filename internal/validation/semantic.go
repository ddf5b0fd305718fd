package validation

import (
	"fmt"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

const highRetryThreshold = 10

// validateSemantic checks everything JSON Schema cannot express: task
// references in start, dependencies, routes and fallbacks, registered
// actions, parseable durations and well-formed routes.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup, exprs ExpressionCompiler) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		if names[t.Name] {
			result.AddError(t.Name, "name", schema.ErrCodeConflict,
				fmt.Sprintf("duplicate task name %q", t.Name))
		}
		if t.Name == schema.RouteEnd {
			result.AddError(t.Name, "name", schema.ErrCodeValidation,
				fmt.Sprintf("%q is reserved for branch termination", schema.RouteEnd))
		}
		names[t.Name] = true
	}

	if !names[def.Start] {
		result.AddError("", "start", schema.ErrCodeNotFound,
			fmt.Sprintf("start references non-existent task %q", def.Start))
	}

	for i := range def.Tasks {
		validateTaskSemantic(&def.Tasks[i], names, lookup, exprs, result)
	}

	return result
}

func validateTaskSemantic(t *schema.TaskSpec, names map[string]bool, lookup ActionLookup, exprs ExpressionCompiler, result *schema.ValidationResult) {
	if lookup != nil && !lookup.Has(t.Action) {
		result.AddError(t.Name, "action", schema.ErrCodeActionUnavailable,
			fmt.Sprintf("action %q not registered", t.Action))
	}

	seen := make(map[string]bool, len(t.Dependencies))
	for j, dep := range t.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", j)
		switch {
		case dep == t.Name:
			result.AddError(t.Name, field, schema.ErrCodeCycleDetected, "task depends on itself")
		case !names[dep]:
			result.AddError(t.Name, field, schema.ErrCodeNotFound,
				fmt.Sprintf("references non-existent task %q", dep))
		case seen[dep]:
			result.AddWarning(t.Name, field, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate dependency %q", dep))
		}
		seen[dep] = true
	}

	if t.Timeout != "" {
		validatePositiveDuration(t.Name, "timeout", t.Timeout, result)
	}

	if r := t.Retry; r != nil {
		if r.Max > highRetryThreshold {
			result.AddWarning(t.Name, "retry.max", schema.ErrCodeValidation,
				fmt.Sprintf("retry max %d is unusually high", r.Max))
		}
		if r.Delay != "" {
			validatePositiveDuration(t.Name, "retry.delay", r.Delay, result)
		}
		if r.MaxDelay != "" {
			validatePositiveDuration(t.Name, "retry.max_delay", r.MaxDelay, result)
		}
		if r.Max > 0 && r.Backoff != "" && r.Backoff != "none" && r.Delay == "" {
			result.AddWarning(t.Name, "retry.delay", schema.ErrCodeValidation,
				fmt.Sprintf("backoff %q without delay retries immediately", r.Backoff))
		}
	}

	if h := t.OnError; h != nil {
		switch h.Strategy {
		case schema.ErrorStrategyFallback:
			switch {
			case h.Fallback == "":
				result.AddError(t.Name, "on_error.fallback", schema.ErrCodeValidation,
					"fallback strategy requires a fallback task")
			case h.Fallback == t.Name:
				result.AddError(t.Name, "on_error.fallback", schema.ErrCodeValidation,
					"task cannot be its own fallback")
			case !names[h.Fallback]:
				result.AddError(t.Name, "on_error.fallback", schema.ErrCodeNotFound,
					fmt.Sprintf("references non-existent task %q", h.Fallback))
			}
		default:
			if h.Fallback != "" {
				result.AddWarning(t.Name, "on_error.fallback", schema.ErrCodeValidation,
					fmt.Sprintf("fallback is ignored with strategy %q", h.Strategy))
			}
		}
	}

	if t.Route != nil {
		validateRoute(t.Name, t.Route, names, exprs, result)
	}
}

// validateRoute enforces exactly one route form and resolvable targets.
func validateRoute(task string, r *schema.RouteSpec, names map[string]bool, exprs ExpressionCompiler, result *schema.ValidationResult) {
	forms := 0
	if r.End {
		forms++
	}
	if r.To != "" {
		forms++
	}
	if len(r.Many) > 0 {
		forms++
	}
	if r.Expr != "" {
		forms++
	}
	if len(r.When) > 0 {
		forms++
	}
	if forms != 1 {
		result.AddError(task, "route", schema.ErrCodeValidation,
			fmt.Sprintf("route must use exactly one of end, to, many, expr, when (got %d)", forms))
		return
	}

	checkTarget := func(field, target string) {
		if target != schema.RouteEnd && !names[target] {
			result.AddError(task, field, schema.ErrCodeNotFound,
				fmt.Sprintf("route references non-existent task %q", target))
		}
	}
	checkExpr := func(field, language, expression string) {
		if exprs == nil {
			return
		}
		if err := exprs.Compile(language, expression); err != nil {
			result.AddError(task, field, schema.ErrCodeValidation,
				fmt.Sprintf("expression does not compile: %s", err.Error()))
		}
	}

	if r.To != "" {
		checkTarget("route.to", r.To)
	}
	for i, m := range r.Many {
		if m.Task == schema.RouteEnd {
			result.AddError(task, fmt.Sprintf("route.many[%d].task", i), schema.ErrCodeValidation,
				"fan-out target cannot be end")
			continue
		}
		checkTarget(fmt.Sprintf("route.many[%d].task", i), m.Task)
	}
	if r.Expr != "" {
		checkExpr("route.expr", "expr", r.Expr)
	}
	for i, c := range r.When {
		checkExpr(fmt.Sprintf("route.when[%d].if", i), "cel", c.If)
		checkTarget(fmt.Sprintf("route.when[%d].to", i), c.To)
	}

	if r.Default != "" {
		if len(r.When) == 0 && r.Expr == "" {
			result.AddWarning(task, "route.default", schema.ErrCodeValidation,
				"default is only used with when or expr routes")
		}
		checkTarget("route.default", r.Default)
	}
}

func validatePositiveDuration(task, field, value string, result *schema.ValidationResult) {
	d, err := time.ParseDuration(value)
	if err != nil {
		result.AddError(task, field, schema.ErrCodeValidation,
			fmt.Sprintf("invalid duration %q", value))
		return
	}
	if d <= 0 {
		result.AddError(task, field, schema.ErrCodeValidation,
			fmt.Sprintf("duration %q must be positive", value))
	}
}

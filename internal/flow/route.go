package flow

import (
	"context"
	"log/slog"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/expressions"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// route compiles a route block. Evaluation errors are logged and end the
// branch, since a route function cannot fail.
func (c *Compiler) route(task string, spec *schema.RouteSpec) engine.RouteFunc {
	switch {
	case spec == nil, spec.End:
		return engine.EndRoute

	case spec.To != "":
		to := spec.To
		return func(engine.RouteParams) engine.Route { return engine.Next(to) }

	case len(spec.Many) > 0:
		many := spec.Many
		return func(p engine.RouteParams) engine.Route {
			vars, ok := c.routeVars(task, p)
			if !ok {
				return engine.End()
			}
			targets := make([]engine.Target, 0, len(many))
			for _, m := range many {
				if m.Data == nil {
					targets = append(targets, engine.Target{Task: m.Task})
					continue
				}
				data, err := expressions.Interpolate(m.Data, vars)
				if err != nil {
					c.routeFailed(task, "many", err)
					return engine.End()
				}
				targets = append(targets, engine.To(m.Task, data))
			}
			return engine.Many(targets...)
		}

	case spec.Expr != "":
		expr, fallback := spec.Expr, spec.Default
		return func(p engine.RouteParams) engine.Route {
			vars, ok := c.routeVars(task, p)
			if !ok {
				return engine.End()
			}
			next, err := c.exprs.Expr.EvaluateString(context.Background(), expr, vars)
			if err != nil {
				c.routeFailed(task, "expr", err)
				return engine.End()
			}
			if next == "" {
				next = fallback
			}
			return engine.Next(next)
		}

	case len(spec.When) > 0:
		cases, fallback := spec.When, spec.Default
		return func(p engine.RouteParams) engine.Route {
			vars, ok := c.routeVars(task, p)
			if !ok {
				return engine.End()
			}
			for _, wc := range cases {
				match, err := c.exprs.CEL.EvaluateBool(context.Background(), wc.If, vars)
				if err != nil {
					c.routeFailed(task, "when", err)
					return engine.End()
				}
				if match {
					return engine.Next(wc.To)
				}
			}
			return engine.Next(fallback)
		}
	}
	return engine.EndRoute
}

func (c *Compiler) routeVars(task string, p engine.RouteParams) (map[string]any, bool) {
	vars, err := scopeOf(p.Params, p.Result).Vars()
	if err != nil {
		c.routeFailed(task, "scope", err)
		return nil, false
	}
	return vars, true
}

func (c *Compiler) routeFailed(task, form string, err error) {
	c.logger.Error("route evaluation failed, ending branch",
		slog.String("task", task),
		slog.String("route", form),
		slog.String("error", err.Error()))
}

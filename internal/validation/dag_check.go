package validation

import (
	"fmt"
	"sort"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// validateDAG performs graph analysis over the definition: static
// dependency cycles (Kahn's algorithm) and reachability from start through
// route, fallback and dependency edges. Route cycles are loops and allowed.
func validateDAG(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		names[t.Name] = true
	}

	// deps[name] = dependencies of name, dependents[name] = tasks waiting on name.
	deps := make(map[string][]string, len(def.Tasks))
	dependents := make(map[string][]string, len(def.Tasks))
	for _, t := range def.Tasks {
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if !names[dep] || seen[dep] {
				continue
			}
			seen[dep] = true
			deps[t.Name] = append(deps[t.Name], dep)
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	if cycle := findDependencyCycle(names, deps, dependents); len(cycle) > 0 {
		result.AddError("", "tasks", schema.ErrCodeCycleDetected,
			fmt.Sprintf("dependency cycle between tasks %v", cycle))
		return result
	}

	// Expression routes pick targets at run time; reachability is unknowable.
	succ := make(map[string][]string, len(def.Tasks))
	for _, t := range def.Tasks {
		if t.Route != nil && t.Route.Expr != "" {
			return result
		}
		succ[t.Name] = append(succ[t.Name], routeTargets(t.Route)...)
		if t.OnError != nil && t.OnError.Fallback != "" {
			succ[t.Name] = append(succ[t.Name], t.OnError.Fallback)
		}
		succ[t.Name] = append(succ[t.Name], dependents[t.Name]...)
	}

	reachable := map[string]bool{def.Start: true}
	queue := []string{def.Start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range succ[node] {
			if next == schema.RouteEnd || reachable[next] {
				continue
			}
			reachable[next] = true
			queue = append(queue, next)
		}
	}

	for _, t := range def.Tasks {
		if !reachable[t.Name] {
			result.AddWarning(t.Name, "", schema.ErrCodeValidation,
				fmt.Sprintf("task %q is unreachable from start %q", t.Name, def.Start))
		}
	}

	return result
}

// findDependencyCycle returns the sorted names left over by Kahn's
// algorithm, which are exactly the tasks on or behind a cycle.
func findDependencyCycle(names map[string]bool, deps, dependents map[string][]string) []string {
	inDegree := make(map[string]int, len(names))
	queue := make([]string, 0, len(names))
	for name := range names {
		inDegree[name] = len(deps[name])
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		delete(inDegree, node)
		for _, d := range dependents[node] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(inDegree) == 0 {
		return nil
	}
	left := make([]string, 0, len(inDegree))
	for name := range inDegree {
		left = append(left, name)
	}
	sort.Strings(left)
	return left
}

func routeTargets(r *schema.RouteSpec) []string {
	if r == nil {
		return nil
	}
	var out []string
	if r.To != "" {
		out = append(out, r.To)
	}
	for _, m := range r.Many {
		out = append(out, m.Task)
	}
	for _, c := range r.When {
		out = append(out, c.To)
	}
	if r.Default != "" {
		out = append(out, r.Default)
	}
	return out
}

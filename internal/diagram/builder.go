package diagram

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Build constructs a DiagramModel from a WorkflowDefinition. A non-nil report
// overlays each task with its outcome in that run.
func Build(def *schema.WorkflowDefinition, report *engine.RunReport) (*DiagramModel, error) {
	if def == nil || len(def.Tasks) == 0 {
		return nil, fmt.Errorf("diagram: workflow has no tasks")
	}

	known := make(map[string]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		known[t.Name] = true
	}
	if !known[def.Start] {
		return nil, fmt.Errorf("diagram: start task %q is not defined", def.Start)
	}

	nodes := make([]*Node, 0, len(def.Tasks)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range def.Tasks {
		spec := &def.Tasks[i]
		node := &Node{ID: spec.Name, Label: nodeLabel(spec), Kind: routeKind(spec.Route)}
		overlayStatus(node, report)
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := buildEdges(def, known)
	return &DiagramModel{
		Title:  titleFromDef(def),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(def, edges),
	}, nil
}

func routeKind(r *schema.RouteSpec) NodeKind {
	switch {
	case r == nil:
		return NodeKindTask
	case len(r.Many) > 0:
		return NodeKindFanout
	case r.Expr != "" || len(r.When) > 0:
		return NodeKindRouter
	default:
		return NodeKindTask
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(spec *schema.TaskSpec) string {
	if spec.Action != "" {
		return fmt.Sprintf("%s\n(%s)", spec.Name, spec.Action)
	}
	return spec.Name
}

// overlayStatus applies the task's outcome in report to node.
func overlayStatus(node *Node, report *engine.RunReport) {
	if report == nil {
		return
	}
	overlay := &StatusOverlay{Executions: report.Counts[node.ID]}
	if st, ok := report.States[node.ID]; ok {
		overlay.Status = string(st)
	}
	if res, ok := report.Tasks[node.ID]; ok {
		overlay.Status = string(res.Status)
		overlay.DurationMs = res.Duration.Milliseconds()
		overlay.Attempts = res.Attempts
		if res.Skipped {
			overlay.Status = "skipped"
		}
		if res.Err != nil {
			overlay.Error = res.Err.Error()
		}
	}
	if overlay.Status == "" {
		return
	}
	node.Status = overlay
}

// taskLiteral matches quoted names inside a routing expression.
var taskLiteral = regexp.MustCompile(`["']([A-Za-z0-9_.\-]+)["']`)

// buildEdges derives edges from each task's route, dependencies and
// fallback. Expr routes are resolved statically from the task names quoted
// in the expression.
func buildEdges(def *schema.WorkflowDefinition, known map[string]bool) []Edge {
	edges := []Edge{{From: startID, To: def.Start, Kind: EdgeRoute}}
	target := func(name string) string {
		if name == schema.RouteEnd {
			return endID
		}
		return name
	}

	for i := range def.Tasks {
		spec := &def.Tasks[i]
		r := spec.Route

		switch {
		case r == nil || r.End:
			edges = append(edges, Edge{From: spec.Name, To: endID, Kind: EdgeRoute})
		case r.To != "":
			edges = append(edges, Edge{From: spec.Name, To: target(r.To), Kind: EdgeRoute})
		case len(r.Many) > 0:
			for _, t := range r.Many {
				edges = append(edges, Edge{From: spec.Name, To: target(t.Task), Label: "fan-out", Kind: EdgeRoute})
			}
		case len(r.When) > 0 || r.Expr != "":
			for _, c := range r.When {
				edges = append(edges, Edge{From: spec.Name, To: target(c.To), Label: c.If, Kind: EdgeRoute})
			}
			if r.Expr != "" {
				seen := make(map[string]bool)
				for _, m := range taskLiteral.FindAllStringSubmatch(r.Expr, -1) {
					name := m[1]
					if (known[name] || name == schema.RouteEnd) && !seen[name] {
						seen[name] = true
						edges = append(edges, Edge{From: spec.Name, To: target(name), Label: "expr", Kind: EdgeRoute})
					}
				}
			}
			dflt := r.Default
			if dflt == "" && len(r.When) > 0 {
				dflt = schema.RouteEnd
			}
			if dflt != "" {
				edges = append(edges, Edge{From: spec.Name, To: target(dflt), Label: "default", Kind: EdgeRoute})
			}
		}

		for _, dep := range spec.Dependencies {
			edges = append(edges, Edge{From: dep, To: spec.Name, Label: "after", Kind: EdgeDependency})
		}
		if spec.OnError != nil && spec.OnError.Strategy == schema.ErrorStrategyFallback && spec.OnError.Fallback != "" {
			edges = append(edges, Edge{From: spec.Name, To: spec.OnError.Fallback, Label: "on error", Kind: EdgeFallback})
		}
	}
	return edges
}

// buildLevels assigns each node the breadth-first distance from the start
// task. Loops keep the first level reached; unreachable tasks share a level
// before the end node.
func buildLevels(def *schema.WorkflowDefinition, edges []Edge) [][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.To != endID {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}

	level := map[string]int{startID: 0}
	queue := []string{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if _, ok := level[next]; !ok {
				level[next] = level[id] + 1
				queue = append(queue, next)
			}
		}
	}

	maxLevel := 0
	for _, l := range level {
		maxLevel = max(maxLevel, l)
	}
	levels := make([][]string, maxLevel+1)
	var unreachable []string
	for _, t := range def.Tasks {
		l, ok := level[t.Name]
		if !ok {
			unreachable = append(unreachable, t.Name)
			continue
		}
		levels[l] = append(levels[l], t.Name)
	}
	levels[0] = []string{startID}
	if len(unreachable) > 0 {
		levels = append(levels, unreachable)
	}
	levels = slices.DeleteFunc(levels, func(l []string) bool { return len(l) == 0 })
	return append(levels, []string{endID})
}

// titleFromDef generates a diagram title from the workflow name.
func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	return "Workflow"
}

package engine

// Edge is a candidate transition out of a task. A nil When always matches.
type Edge struct {
	To   string
	When func(p RouteParams) bool
	// Data overrides the routed result when HasData is set.
	Data    any
	HasData bool
}

func (e Edge) matches(p RouteParams) bool {
	return e.When == nil || e.When(p)
}

func (e Edge) target() Target {
	if e.HasData {
		return To(e.To, e.Data)
	}
	return Target{Task: e.To}
}

// EdgePattern decides how a set of edges becomes a Route. The set of
// patterns is closed: Sequential, Parallel, Conditional and Loop.
type EdgePattern interface {
	handle(edges []Edge, p RouteParams) Route
}

// Sequential follows the first matching edge.
type Sequential struct{}

// Parallel fans out to every matching edge.
type Parallel struct{}

// Conditional follows the first matching edge and falls back to Default,
// or ends when Default is empty.
type Conditional struct {
	Default string
}

// Loop follows the first matching edge while the routing task ran fewer
// than Max times, then continues with Exit (or ends).
type Loop struct {
	Max  int
	Exit string
}

func (Sequential) handle(edges []Edge, p RouteParams) Route {
	for _, e := range edges {
		if e.matches(p) {
			return routeOne(e.target())
		}
	}
	return End()
}

func (Parallel) handle(edges []Edge, p RouteParams) Route {
	var targets []Target
	for _, e := range edges {
		if e.matches(p) {
			targets = append(targets, e.target())
		}
	}
	return Many(targets...)
}

func (c Conditional) handle(edges []Edge, p RouteParams) Route {
	if r := (Sequential{}).handle(edges, p); r.Kind() != RouteEnd {
		return r
	}
	return Next(c.Default)
}

func (l Loop) handle(edges []Edge, p RouteParams) Route {
	if p.Exec.GetTaskExecutionCount(p.Task) < l.Max {
		if r := (Sequential{}).handle(edges, p); r.Kind() != RouteEnd {
			return r
		}
	}
	return Next(l.Exit)
}

// Edges builds a RouteFunc that applies pattern to edges.
func Edges(pattern EdgePattern, edges ...Edge) RouteFunc {
	if pattern == nil {
		pattern = Sequential{}
	}
	return func(p RouteParams) Route {
		return pattern.handle(edges, p)
	}
}

func routeOne(t Target) Route {
	if t.HasData {
		return NextWith(t.Task, t.Data)
	}
	return Next(t.Task)
}

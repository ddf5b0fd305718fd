package engine

import "github.com/trendy-design/taskflow/pkg/schema"

// RouteKind discriminates the Route union.
type RouteKind int

const (
	// RouteEnd stops the branch. It is the zero value, so Route{} ends too.
	RouteEnd RouteKind = iota
	// RouteOne continues the branch with a single task.
	RouteOne
	// RouteMany fans out to several tasks that run concurrently.
	RouteMany
)

func (k RouteKind) String() string {
	switch k {
	case RouteEnd:
		return "end"
	case RouteOne:
		return "one"
	case RouteMany:
		return "many"
	default:
		return "unknown"
	}
}

// Target is one task to dispatch. Without explicit data the target
// receives the result of the routing task.
type Target struct {
	Task    string
	Data    any
	HasData bool
}

// To builds a target that receives data.
func To(task string, data any) Target {
	return Target{Task: task, Data: data, HasData: true}
}

// Route is what a task's route function decides after a successful run.
type Route struct {
	kind    RouteKind
	targets []Target
}

// End stops the branch.
func End() Route { return Route{} }

// Next continues with task, passing the result. Next("end") is End().
func Next(task string) Route {
	if task == "" || task == schema.RouteEnd {
		return End()
	}
	return Route{kind: RouteOne, targets: []Target{{Task: task}}}
}

// NextWith continues with task, passing data instead of the result.
func NextWith(task string, data any) Route {
	if task == "" || task == schema.RouteEnd {
		return End()
	}
	return Route{kind: RouteOne, targets: []Target{To(task, data)}}
}

// Fanout runs every task concurrently, each receiving the result.
func Fanout(tasks ...string) Route {
	targets := make([]Target, 0, len(tasks))
	for _, t := range tasks {
		targets = append(targets, Target{Task: t})
	}
	return Many(targets...)
}

// Many runs every target concurrently. An empty list ends the branch.
func Many(targets ...Target) Route {
	if len(targets) == 0 {
		return End()
	}
	return Route{kind: RouteMany, targets: targets}
}

// Kind returns the union tag.
func (r Route) Kind() RouteKind { return r.kind }

// Targets returns the dispatched tasks; empty for End.
func (r Route) Targets() []Target { return r.targets }

// Names returns the target task names.
func (r Route) Names() []string {
	out := make([]string, len(r.targets))
	for i, t := range r.targets {
		out[i] = t.Task
	}
	return out
}

// RouteFunc inspects a finished task and picks what runs next.
type RouteFunc func(p RouteParams) Route

// EndRoute is the default route of tasks that declare none.
func EndRoute(RouteParams) Route { return End() }

package schema

// WorkflowDefinition is the declarative (JSON or YAML) form of a task graph.
// It is compiled into engine tasks by internal/flow.
type WorkflowDefinition struct {
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Start  string         `json:"start" yaml:"start"`
	Input  any            `json:"input,omitempty" yaml:"input,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// ContextSchema and EventsSchema map each key to a JSON Schema document.
	ContextSchema map[string]any `json:"context_schema,omitempty" yaml:"context_schema,omitempty"`
	EventsSchema  map[string]any `json:"events_schema,omitempty" yaml:"events_schema,omitempty"`

	Tasks []TaskSpec `json:"tasks" yaml:"tasks"`
}

// TaskSpec describes a single task of a declarative workflow.
type TaskSpec struct {
	Name         string         `json:"name" yaml:"name"`
	Action       string         `json:"action" yaml:"action"`
	Params       map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Retry        *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout      string         `json:"timeout,omitempty" yaml:"timeout,omitempty"` // e.g. "30s"
	OnError      *ErrorHandler  `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	Route        *RouteSpec     `json:"route,omitempty" yaml:"route,omitempty"`
}

// RetryPolicy configures how often and how fast a failed task is re-attempted.
type RetryPolicy struct {
	Max      int    `json:"max" yaml:"max"`
	Backoff  string `json:"backoff,omitempty" yaml:"backoff,omitempty"` // none | constant | linear | exponential
	Delay    string `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxDelay string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// ErrorStrategy selects what happens once a task exhausts its attempts.
type ErrorStrategy string

const (
	ErrorStrategyIgnore   ErrorStrategy = "ignore"
	ErrorStrategyFallback ErrorStrategy = "fallback"
	ErrorStrategyAbort    ErrorStrategy = "abort"
)

// ErrorHandler is the on_error block of a task.
type ErrorHandler struct {
	Strategy ErrorStrategy `json:"strategy" yaml:"strategy"`
	Fallback string        `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// RouteSpec declares where a task goes after it succeeds. Exactly one form is used:
//
//	end: true                      stop this branch
//	to: next                       run one task with the result
//	many: [{task: a}, {task: b}]   fan out, each with optional data
//	expr: 'runs.loop < 3 ? "loop" : "end"'
//	when: [{if: 'result.score > 0.5', to: write}], default: search
type RouteSpec struct {
	End     bool          `json:"end,omitempty" yaml:"end,omitempty"`
	To      string        `json:"to,omitempty" yaml:"to,omitempty"`
	Many    []RouteTarget `json:"many,omitempty" yaml:"many,omitempty"`
	Expr    string        `json:"expr,omitempty" yaml:"expr,omitempty"`
	When    []RouteCase   `json:"when,omitempty" yaml:"when,omitempty"`
	Default string        `json:"default,omitempty" yaml:"default,omitempty"`
}

// RouteTarget is one branch of a fan-out. Data nil means "pass the result".
type RouteTarget struct {
	Task string `json:"task" yaml:"task"`
	Data any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// RouteCase is a CEL-guarded routing edge.
type RouteCase struct {
	If string `json:"if" yaml:"if"`
	To string `json:"to" yaml:"to"`
}

// RouteEnd is the literal route target that terminates a branch.
const RouteEnd = "end"

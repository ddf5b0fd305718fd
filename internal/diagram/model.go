package diagram

// NodeKind classifies a diagram node by how its task routes.
type NodeKind string

const (
	NodeKindTask   NodeKind = "task"
	NodeKindRouter NodeKind = "router" // expr or when route
	NodeKindFanout NodeKind = "fanout" // many route
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

// EdgeKind distinguishes routing edges from ordering constraints.
type EdgeKind string

const (
	EdgeRoute      EdgeKind = "route"
	EdgeDependency EdgeKind = "dependency"
	EdgeFallback   EdgeKind = "fallback"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single task in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of a task in one run.
type StatusOverlay struct {
	Status     string // from schema.TaskStatus, or "skipped"
	DurationMs int64
	Attempts   int
	Executions int
	Error      string
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
	Kind  EdgeKind
}

package schema

// Lifecycle event names emitted by the engine to its observers.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunAborted   = "run_aborted"

	EventTaskWaiting   = "task_waiting"
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskSkipped   = "task_skipped"
	EventTaskRetrying  = "task_retrying"
	EventTaskRouted    = "task_routed"
	EventTaskExecution = "task_execution"

	EventTaskFallback       = "task_fallback"
	EventTaskIgnored        = "task_ignored"
	EventCircuitBreakerOpen = "circuit_breaker_open"
)

// TaskStatus represents the lifecycle state of a task within one run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

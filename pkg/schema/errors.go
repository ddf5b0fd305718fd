package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeTaskFailed        = "TASK_FAILED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeAborted           = "ABORTED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeDependencyPending = "DEPENDENCY_PENDING"
	ErrCodeActionUnavailable = "ACTION_UNAVAILABLE"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeVault             = "VAULT_ERROR"
)

// nonRetryableCodes never consume another attempt.
var nonRetryableCodes = map[string]bool{
	ErrCodeValidation:        true,
	ErrCodeNotFound:          true,
	ErrCodeConflict:          true,
	ErrCodeInvalidTransition: true,
	ErrCodeCycleDetected:     true,
	ErrCodeNonRetryable:      true,
	ErrCodeCancelled:         true,
	ErrCodeAborted:           true,
	ErrCodeCircuitOpen:       true,
	ErrCodeActionUnavailable: true,
	ErrCodeInterpolation:     true,
	ErrCodeVault:             true,
}

// TaskflowError is the structured error type for all taskflow operations.
type TaskflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Task    string         `json:"task,omitempty"`
	Cause   error          `json:"-"`
}

func (e *TaskflowError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.Task, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TaskflowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether another attempt may succeed.
func (e *TaskflowError) IsRetryable() bool {
	return !nonRetryableCodes[e.Code]
}

// NewError creates a new TaskflowError.
func NewError(code, message string) *TaskflowError {
	return &TaskflowError{Code: code, Message: message}
}

// NewErrorf creates a new TaskflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *TaskflowError {
	return &TaskflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask attaches a task name to the error.
func (e *TaskflowError) WithTask(task string) *TaskflowError {
	e.Task = task
	return e
}

// WithCause attaches an underlying cause.
func (e *TaskflowError) WithCause(err error) *TaskflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TaskflowError) WithDetails(details map[string]any) *TaskflowError {
	e.Details = details
	return e
}

// HasCode reports whether err is (or wraps) a TaskflowError with the given code.
func HasCode(err error, code string) bool {
	var tfErr *TaskflowError
	if errors.As(err, &tfErr) {
		return tfErr.Code == code
	}
	return false
}

package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue blocks a definition.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single problem found in a workflow definition.
// Task is empty for definition-level issues.
type ValidationIssue struct {
	Task     string             `json:"task,omitempty"`
	Field    string             `json:"field,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// Location renders the issue position as "tasks[name].field".
func (i ValidationIssue) Location() string {
	var b strings.Builder
	if i.Task != "" {
		b.WriteString("tasks[")
		b.WriteString(i.Task)
		b.WriteString("]")
	}
	if i.Field != "" {
		if b.Len() > 0 {
			b.WriteString(".")
		}
		b.WriteString(i.Field)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// ValidationResult aggregates the issues of every validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid is true when no error-severity issue was recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(task, field, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Task: task, Field: field, Code: code, Message: message, Severity: SeverityError,
	})
}

func (r *ValidationResult) AddWarning(task, field, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Task: task, Field: field, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid result, otherwise a TaskflowError carrying
// the first error's code and every issue in its details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := fmt.Sprintf("%s: %s", first.Location(), first.Message)
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("definition has %d errors, first at %s", len(r.Errors), msg)
	}

	return NewError(first.Code, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}

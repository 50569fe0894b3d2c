// internal/apperrors/errors.go
package apperrors

import "fmt"

// ValidationError reports malformed, missing or contradictory input. The
// request is the client's fault and must not be retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Msg)
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports a duplicate (name, version) pair on create.
type ConflictError struct {
	Name    string
	Version string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("package %s@%s already exists", e.Name, e.Version)
}

// NotFoundError reports an operation on an unknown package id.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %d does not exist", e.ID)
}

// DependencyError reports a failed external collaborator (signal provider,
// URL resolution, archive fetch). Potentially transient: the caller may retry
// the whole invocation.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency failure in %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Dependency wraps err as a DependencyError for the named operation.
func Dependency(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}

// DisqualifiedError reports a submission rejected because a sub-score fell
// below the acceptance threshold.
type DisqualifiedError struct {
	Metric string
	Score  float64
}

func (e *DisqualifiedError) Error() string {
	return fmt.Sprintf("%s score %.2f is below the acceptance threshold", e.Metric, e.Score)
}

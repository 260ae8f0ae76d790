package acceptor

import (
	"errors"
	"fmt"

	"github.com/aura-net/mcast-acceptor/exitcodes"
)

// RuntimeError represents an infrastructure or operational error that should
// lead to exit code 2. Examples include configuration errors, unreachable
// nodes, services that failed to start and logs that could not be fetched.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// ComparisonFailureError represents a run whose infrastructure worked but
// where at least one client's logs did not satisfy the policy (exit code 1).
type ComparisonFailureError struct {
	Message string
}

func (e *ComparisonFailureError) Error() string {
	return fmt.Sprintf("comparison failure: %s", e.Message)
}

// NewComparisonFailureError creates a new ComparisonFailureError
func NewComparisonFailureError(message string) *ComparisonFailureError {
	return &ComparisonFailureError{Message: message}
}

// IsComparisonFailureError checks if the error is or wraps a ComparisonFailureError
func IsComparisonFailureError(err error) bool {
	var cmpErr *ComparisonFailureError
	return err != nil && errors.As(err, &cmpErr)
}

// ExitCode maps an error returned by the acceptor onto the process exit code.
// Runtime errors win over comparison failures. Errors of unknown type are
// treated as runtime errors.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsRuntimeError(err):
		return exitcodes.InfraError
	case IsComparisonFailureError(err):
		return exitcodes.ComparisonFailure
	default:
		return exitcodes.InfraError
	}
}

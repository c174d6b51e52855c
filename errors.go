package harness

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
)

// ExecutionError is a failure of the harness itself rather than of a unit,
// such as a panic or an unwritable report directory.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(err error) *ExecutionError {
	return &ExecutionError{Err: err}
}

// IsExecutionError checks if the error is or wraps an ExecutionError
func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return err != nil && errors.As(err, &execErr)
}

// IllegalArgumentError reports invalid flags or an invalid plan
type IllegalArgumentError struct {
	Err error
}

func (e *IllegalArgumentError) Error() string {
	return fmt.Sprintf("illegal argument: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *IllegalArgumentError) Unwrap() error {
	return e.Err
}

// NewIllegalArgumentError creates a new IllegalArgumentError
func NewIllegalArgumentError(err error) *IllegalArgumentError {
	return &IllegalArgumentError{Err: err}
}

// IsIllegalArgumentError checks if the error is or wraps an IllegalArgumentError
func IsIllegalArgumentError(err error) bool {
	var argErr *IllegalArgumentError
	return err != nil && errors.As(err, &argErr)
}

// ExecutionFailureError means the run completed and at least one unit failed
type ExecutionFailureError struct {
	Message string
}

func (e *ExecutionFailureError) Error() string {
	return fmt.Sprintf("execution failure: %s", e.Message)
}

// NewExecutionFailureError creates a new ExecutionFailureError
func NewExecutionFailureError(message string) *ExecutionFailureError {
	return &ExecutionFailureError{Message: message}
}

// IsExecutionFailureError checks if the error is or wraps an ExecutionFailureError
func IsExecutionFailureError(err error) bool {
	var failErr *ExecutionFailureError
	return err != nil && errors.As(err, &failErr)
}

// ExitCode maps an error returned by the harness to the process exit code.
// Unclassified errors are execution errors.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsIllegalArgumentError(err):
		return exitcodes.IllegalArgument
	case IsExecutionFailureError(err):
		return exitcodes.ExecutionFailure
	default:
		return exitcodes.ExecutionError
	}
}

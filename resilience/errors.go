package resilience

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("invocation timed out")

	// ErrPollExhausted matches every *PollExhaustedError via errors.Is.
	ErrPollExhausted = errors.New("poll exhausted")
)

// TimeoutError is returned by Invoke when a task did not finish within its
// deadline. The task's context has been cancelled, but the task is not
// waited for and may still be running.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("invocation timed out after %s: best-effort cancellation was requested, the task may still be running", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout checks if the error is or wraps a TimeoutError
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return err != nil && errors.As(err, &timeoutErr)
}

// UnrecoverableError marks a failure that must never be retried: a panic in
// a task, or a programming defect such as a negative timeout.
type UnrecoverableError struct {
	Err   error
	Panic any // Set when the failure was a recovered panic
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// Unrecoverable wraps err so that Retry will not retry it.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

// IsUnrecoverable checks if the error is or wraps an UnrecoverableError
func IsUnrecoverable(err error) bool {
	var unrecoverableErr *UnrecoverableError
	return err != nil && errors.As(err, &unrecoverableErr)
}

func defect(format string, args ...any) error {
	return &UnrecoverableError{Err: fmt.Errorf(format, args...)}
}

// RetryExhaustedError is returned by Retry once every allowed attempt failed
// with a retryable error. It unwraps to the last failure.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted checks if the error is or wraps a RetryExhaustedError
func IsRetryExhausted(err error) bool {
	var exhaustedErr *RetryExhaustedError
	return err != nil && errors.As(err, &exhaustedErr)
}

// PollExhaustedError is the default fallback result of a polled task that
// never became ready within its budget.
type PollExhaustedError struct{}

func (e *PollExhaustedError) Error() string {
	return "poll exhausted: no ready result within the overall timeout"
}

func (e *PollExhaustedError) Is(target error) bool {
	return target == ErrPollExhausted
}

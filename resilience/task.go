// Package resilience bounds individual automation calls in time and makes
// them tolerant of transient failures.
//
// Invoke runs a task with a wall-clock deadline, Retry re-runs a task on
// failures of a given kind, and Poll re-runs a task until it reports a ready
// result, falling back to the task's own timeout path when the budget runs
// out. Retry and Poll compose: a polled task may retry internally, and a
// retried task may be a bounded invocation.
package resilience

import (
	"context"
	"errors"
)

// Task is a unit of work. The context is the cancellation token: a task that
// wants to stop promptly after a timeout must watch it.
type Task[R any] func(ctx context.Context) (R, error)

// Kind classifies errors for retry decisions.
type Kind func(err error) bool

// AnyKind matches every failure.
var AnyKind Kind = nil

// KindOf matches errors that are, or wrap, an error of type E.
func KindOf[E error]() Kind {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// KindIs matches errors that are, or wrap, target.
func KindIs(target error) Kind {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}

// Or matches errors matched by any of the given kinds.
func Or(kinds ...Kind) Kind {
	return func(err error) bool {
		for _, k := range kinds {
			if k == nil || k(err) {
				return true
			}
		}
		return false
	}
}

func (k Kind) matches(err error) bool {
	return k == nil || k(err)
}

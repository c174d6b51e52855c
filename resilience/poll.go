package resilience

import (
	"context"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
)

// DefaultPollInterval spaces invocations when PollPolicy.Interval is unset.
const DefaultPollInterval = 100 * time.Millisecond

// PolledTask is a task that may report "not ready yet", with a fallback path
// used when readiness is not reached in time.
type PolledTask[R any] interface {
	// Run makes one attempt. ready=false means try again later.
	Run(ctx context.Context) (result R, ready bool, err error)
	// TimedOut produces the poll result once the budget is spent or a
	// single attempt overran its own deadline.
	TimedOut(ctx context.Context) (R, error)
}

// PollFuncs adapts plain functions to a PolledTask. A nil TimedOutFunc fails
// with a *PollExhaustedError.
type PollFuncs[R any] struct {
	RunFunc      func(ctx context.Context) (R, bool, error)
	TimedOutFunc func(ctx context.Context) (R, error)
}

func (p PollFuncs[R]) Run(ctx context.Context) (R, bool, error) {
	return p.RunFunc(ctx)
}

func (p PollFuncs[R]) TimedOut(ctx context.Context) (R, error) {
	if p.TimedOutFunc == nil {
		var zero R
		return zero, &PollExhaustedError{}
	}
	return p.TimedOutFunc(ctx)
}

// PollPolicy bounds a poll. The two timeouts are independent of each other.
type PollPolicy struct {
	// OverallTimeout is the budget measured from the first attempt. Zero
	// means a single attempt.
	OverallTimeout time.Duration
	// PerInvocationTimeout bounds each attempt. Attempts never outlive the
	// remaining overall budget; zero or negative leaves that as the only
	// bound.
	PerInvocationTimeout time.Duration
	// Interval is the pause between attempts, clamped to the remaining
	// budget. Defaults to DefaultPollInterval.
	Interval time.Duration
}

type pollAttempt[R any] struct {
	val   R
	ready bool
	err   error
}

// Poll runs task until it reports a ready result.
//
// A ready result within the overall budget is returned at once. When the
// budget runs out (including in the middle of an attempt) or when an attempt
// overruns PerInvocationTimeout, the result of task.TimedOut is returned
// instead. An error from Run ends the poll immediately without
// consulting TimedOut.
func Poll[R any](ctx context.Context, inv *Invoker, task PolledTask[R], policy PollPolicy) (R, error) {
	var zero R
	if task == nil {
		return zero, defect("poll: nil task")
	}
	if policy.OverallTimeout < 0 {
		return zero, defect("poll: negative overall timeout %s", policy.OverallTimeout)
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	// Run errors travel inside the attempt so that any error from Invoke
	// itself is a timeout, a panic or cancellation.
	attempt := func(ctx context.Context) (pollAttempt[R], error) {
		val, ready, err := task.Run(ctx)
		return pollAttempt[R]{val: val, ready: ready, err: err}, nil
	}

	start := time.Now()
	deadline := start.Add(policy.OverallTimeout)
	for {
		// Each attempt is bounded by whichever comes first: its own
		// deadline or the end of the overall budget.
		perCall, bounded := policy.PerInvocationTimeout, true
		if policy.OverallTimeout > 0 {
			remaining := max(time.Until(deadline), 0)
			if perCall <= 0 || perCall > remaining {
				perCall = remaining
			}
		} else if perCall <= 0 {
			bounded = false
		}

		out, err := invoke(ctx, inv, attempt, perCall, bounded)
		if err != nil {
			if IsTimeout(err) {
				return fallback(ctx, task)
			}
			metrics.RecordPoll("error")
			return zero, err
		}
		if out.err != nil {
			metrics.RecordPoll("error")
			return zero, out.err
		}

		remaining := time.Until(deadline)
		if out.ready {
			if policy.OverallTimeout == 0 || remaining >= 0 {
				metrics.RecordPoll("ready")
				return out.val, nil
			}
			return fallback(ctx, task)
		}
		if remaining <= 0 {
			return fallback(ctx, task)
		}

		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func fallback[R any](ctx context.Context, task PolledTask[R]) (R, error) {
	metrics.RecordPoll("fallback")
	return task.TimedOut(ctx)
}

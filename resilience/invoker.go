package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/workerpool"
	"github.com/ethereum/go-ethereum/log"
)

// Invoker runs tasks on pool workers so that the caller can stop waiting
// when a deadline passes.
type Invoker struct {
	pool *workerpool.Pool
	log  log.Logger
}

// NewInvoker creates an invoker backed by pool. A nil pool gets a private
// unbounded one.
func NewInvoker(pool *workerpool.Pool, logger log.Logger) *Invoker {
	if logger == nil {
		logger = log.New()
	}
	if pool == nil {
		pool = workerpool.New("invoker", 0, logger)
	}
	return &Invoker{
		pool: pool,
		log:  logger.New("component", "invoker"),
	}
}

// Pool returns the pool tasks are submitted to.
func (inv *Invoker) Pool() *workerpool.Pool {
	return inv.pool
}

var defaultInvoker = NewInvoker(nil, nil)

type outcome[R any] struct {
	val R
	err error
}

// Invoke runs task and waits at most timeout for it to finish.
//
// A task error is returned as-is and a panic is returned as an
// *UnrecoverableError. When the deadline passes first, the task's context is
// cancelled and a *TimeoutError is returned immediately; the worker is left
// to finish on its own. A zero timeout is an immediate deadline, though a
// result that is already available still wins. If ctx ends first, its error
// is returned.
func Invoke[R any](ctx context.Context, inv *Invoker, task Task[R], timeout time.Duration) (R, error) {
	return invoke(ctx, inv, task, timeout, true)
}

// invoke runs task on the invoker's pool. Without bounded only ctx can end
// the wait.
func invoke[R any](ctx context.Context, inv *Invoker, task Task[R], timeout time.Duration, bounded bool) (R, error) {
	var zero R
	if task == nil {
		return zero, defect("invoke: nil task")
	}
	if timeout < 0 {
		return zero, defect("invoke: negative timeout %s", timeout)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if inv == nil {
		inv = defaultInvoker
	}

	taskCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Buffered so an abandoned worker can always deliver and exit.
	done := make(chan outcome[R], 1)
	inv.pool.Submit(taskCtx, func(ctx context.Context) {
		var out outcome[R]
		defer func() {
			if r := recover(); r != nil {
				out = outcome[R]{err: &UnrecoverableError{Err: fmt.Errorf("task panicked: %v", r), Panic: r}}
			}
			done <- out
		}()
		out.val, out.err = task(ctx)
	})

	var expired <-chan time.Time
	if bounded {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-done:
		return out.val, out.err
	case <-expired:
		select {
		case out := <-done:
			return out.val, out.err
		default:
		}
		timeoutErr := &TimeoutError{Timeout: timeout}
		cancel(timeoutErr)
		metrics.RecordInvocationTimeout()
		inv.log.Debug("Invocation timed out, abandoning worker", "timeout", timeout, "in_flight", inv.pool.InFlight())
		return zero, timeoutErr
	case <-ctx.Done():
		cancel(context.Cause(ctx))
		return zero, ctx.Err()
	}
}

// InvokeErr is Invoke for tasks that produce no value.
func InvokeErr(ctx context.Context, inv *Invoker, fn func(ctx context.Context) error, timeout time.Duration) error {
	if fn == nil {
		return defect("invoke: nil task")
	}
	_, err := Invoke(ctx, inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, timeout)
	return err
}

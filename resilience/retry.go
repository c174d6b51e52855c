package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum/go-ethereum/log"
)

type retryConfig struct {
	backOff backoff.BackOff
	log     log.Logger
	onRetry func(attempt int, err error)
}

// RetryOption configures Retry
type RetryOption func(*retryConfig)

// WithBackOff paces attempts with b. Without it, retries run back to back.
// Returning backoff.Stop ends retrying as if attempts were exhausted.
func WithBackOff(b backoff.BackOff) RetryOption {
	return func(c *retryConfig) {
		c.backOff = b
	}
}

func WithRetryLogger(logger log.Logger) RetryOption {
	return func(c *retryConfig) {
		c.log = logger
	}
}

// WithOnRetry registers a hook called after each failed attempt that will be
// retried.
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

// Retry runs task until it succeeds, fails with an error retryable does not
// match, or has failed maxRetries+1 times. A nil retryable matches every
// failure. Non-matching errors and *UnrecoverableError are returned as-is;
// exhausting attempts returns a *RetryExhaustedError wrapping the last
// failure.
func Retry[R any](ctx context.Context, task Task[R], retryable Kind, maxRetries int, opts ...RetryOption) (R, error) {
	var zero R
	if task == nil {
		return zero, defect("retry: nil task")
	}
	if maxRetries < 0 {
		return zero, defect("retry: negative max retries %d", maxRetries)
	}

	cfg := retryConfig{
		backOff: &backoff.ZeroBackOff{},
		log:     log.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.backOff.Reset()

	for attempt := 1; ; attempt++ {
		val, err := task(ctx)
		if err == nil {
			return val, nil
		}
		if IsUnrecoverable(err) || !retryable.matches(err) || ctx.Err() != nil {
			return zero, err
		}
		if attempt > maxRetries {
			metrics.RecordRetry("exhausted")
			return zero, &RetryExhaustedError{Attempts: attempt, Err: err}
		}

		wait := cfg.backOff.NextBackOff()
		if wait == backoff.Stop {
			metrics.RecordRetry("exhausted")
			return zero, &RetryExhaustedError{Attempts: attempt, Err: err}
		}

		metrics.RecordRetry("retried")
		cfg.log.Debug("Retrying after failure", "attempt", attempt, "max_retries", maxRetries, "wait", wait, "err", err)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err)
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// RetryErr is Retry for tasks that produce no value.
func RetryErr(ctx context.Context, fn func(ctx context.Context) error, retryable Kind, maxRetries int, opts ...RetryOption) error {
	if fn == nil {
		return defect("retry: nil task")
	}
	_, err := Retry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, retryable, maxRetries, opts...)
	return err
}

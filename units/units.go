// Package units builds runnable unit bodies from plan declarations.
package units

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/resilience"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultTimeout bounds command and http units that declare no timeout
const DefaultTimeout = 10 * time.Minute

// Catalog maps func unit names to their Go implementations
type Catalog map[string]types.UnitFunc

// Register adds fn under name, replacing any previous entry
func (c Catalog) Register(name string, fn types.UnitFunc) {
	c[name] = fn
}

// Names returns the sorted catalog entries
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCatalog returns the built-in func units
func DefaultCatalog() Catalog {
	return Catalog{
		"noop": func(ctx context.Context) error { return nil },
	}
}

// Env is what unit bodies share during a run
type Env struct {
	Components     *registry.Registry
	Invoker        *resilience.Invoker
	Log            log.Logger
	DefaultTimeout time.Duration
	Environment    string
	Catalog        Catalog
}

// Factory builds unit bodies for one run
type Factory struct {
	env Env
	log log.Logger
}

// NewFactory creates a factory, filling unset Env fields with defaults
func NewFactory(env Env) *Factory {
	if env.Log == nil {
		env.Log = log.New()
	}
	if env.Components == nil {
		env.Components = registry.New(env.Log)
	}
	if env.Invoker == nil {
		env.Invoker = resilience.NewInvoker(nil, env.Log)
	}
	if env.DefaultTimeout <= 0 {
		env.DefaultTimeout = DefaultTimeout
	}
	if env.Catalog == nil {
		env.Catalog = DefaultCatalog()
	}
	return &Factory{
		env: env,
		log: env.Log.New("component", "units"),
	}
}

// Build implements plan.UnitFactory
func (f *Factory) Build(unit types.UnitConfig) (types.UnitFunc, error) {
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	if unit.Skip {
		return func(ctx context.Context) error {
			return types.Skip("declared as skipped in the plan")
		}, nil
	}

	switch unit.Kind {
	case types.UnitKindCommand:
		return f.bounded(unit, f.timeout(unit), f.commandBody(unit)), nil
	case types.UnitKindHTTP:
		return f.httpUnit(unit), nil
	case types.UnitKindSleep:
		return f.bounded(unit, unit.Timeout, sleepBody(unit.Duration)), nil
	case types.UnitKindFunc:
		fn, ok := f.env.Catalog[unit.Func]
		if !ok {
			return nil, fmt.Errorf("unit %q: func %q is not registered (known: %v)", unit.ID, unit.Func, f.env.Catalog.Names())
		}
		return f.bounded(unit, unit.Timeout, fn), nil
	}
	return nil, fmt.Errorf("unit %q: unknown kind %q", unit.ID, unit.Kind)
}

func (f *Factory) timeout(unit types.UnitConfig) time.Duration {
	if unit.Timeout > 0 {
		return unit.Timeout
	}
	return f.env.DefaultTimeout
}

// bounded wraps body in a bounded invocation when timeout > 0, and the
// result in a retry loop when the unit declares retries.
func (f *Factory) bounded(unit types.UnitConfig, timeout time.Duration, body types.UnitFunc) types.UnitFunc {
	attempt := body
	if timeout > 0 {
		attempt = func(ctx context.Context) error {
			return resilience.InvokeErr(ctx, f.env.Invoker, body, timeout)
		}
	}
	if unit.Retries == 0 {
		return attempt
	}

	logger := f.log.New("unit", unit.ID)
	return func(ctx context.Context) error {
		opts := []resilience.RetryOption{
			resilience.WithRetryLogger(logger),
			resilience.WithOnRetry(func(attempt int, err error) {
				logger.Warn("Unit attempt failed, retrying", "attempt", attempt, "retries", unit.Retries, "err", err)
			}),
		}
		if unit.Interval > 0 {
			opts = append(opts, resilience.WithBackOff(backoff.NewConstantBackOff(unit.Interval)))
		}
		return resilience.RetryErr(ctx, attempt, retryKind(unit), unit.Retries, opts...)
	}
}

// retryKind maps retry_on classes to an error classification. "exit" is any
// failure of the unit body itself, "timeout" an overrun of the unit timeout.
// Without retry_on every failure except a skip is retried.
func retryKind(unit types.UnitConfig) resilience.Kind {
	timedOut := resilience.KindIs(resilience.ErrTimeout)
	exited := func(err error) bool { return !resilience.IsTimeout(err) }

	var kinds []resilience.Kind
	if len(unit.RetryOn) == 0 || unit.RetriesOn(types.RetryOnExit) {
		kinds = append(kinds, exited)
	}
	if len(unit.RetryOn) == 0 || unit.RetriesOn(types.RetryOnTimeout) {
		kinds = append(kinds, timedOut)
	}
	matches := resilience.Or(kinds...)
	return func(err error) bool {
		return !types.IsSkip(err) && matches(err)
	}
}

func sleepBody(d time.Duration) types.UnitFunc {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

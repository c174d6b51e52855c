// Package harness runs plan suites through the execution scheduler and maps
// their outcome to the process lifecycle.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/plan"
	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/reporting"
	"github.com/ethereum-optimism/infra/op-harness/resilience"
	"github.com/ethereum-optimism/infra/op-harness/scheduler"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/units"
	"github.com/ethereum-optimism/infra/op-harness/workerpool"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// Harness implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Harness)(nil)

// Harness runs the configured suite once, or periodically when a run
// interval is set.
type Harness struct {
	config   *Config
	version  string
	plan     *plan.Plan
	catalog  units.Catalog
	pool     *workerpool.Pool
	reporter *reporting.Reporter
	trigger  *PeriodicTrigger

	mu     sync.Mutex
	result *types.RunResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Option customizes a Harness
type Option func(h *Harness)

// WithCatalog replaces the func unit catalog
func WithCatalog(catalog units.Catalog) Option {
	return func(h *Harness) {
		h.catalog = catalog
	}
}

// WithOutput redirects the console report
func WithOutput(out io.Writer) Option {
	return func(h *Harness) {
		h.reporter = reporting.NewReporter(out, h.config.ReportDir, h.environment(), h.config.Log)
	}
}

func New(config *Config, version string, shutdownCallback func(error), opts ...Option) (*Harness, error) {
	if config == nil {
		return nil, NewIllegalArgumentError(errors.New("config is required"))
	}

	config.Log.Debug("Creating harness with config",
		"plan", config.PlanFile,
		"suite", config.Suite,
		"concurrency", config.Concurrency,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	p, err := plan.New(plan.Config{
		Log:      config.Log,
		PlanFile: config.PlanFile,
	})
	if err != nil {
		return nil, NewIllegalArgumentError(err)
	}
	if _, err := p.RootID(config.Suite); err != nil {
		return nil, NewIllegalArgumentError(err)
	}

	h := &Harness{
		config:           config,
		version:          version,
		plan:             p,
		catalog:          units.DefaultCatalog(),
		pool:             workerpool.New("units", config.Concurrency, config.Log),
		shutdownCallback: shutdownCallback,
	}
	h.reporter = reporting.NewReporter(os.Stdout, config.ReportDir, h.environment(), config.Log)
	for _, opt := range opts {
		opt(h)
	}

	if !config.RunOnce {
		h.trigger, err = NewPeriodicTrigger(config.RunInterval, h.runPeriodic, config.Log)
		if err != nil {
			return nil, NewIllegalArgumentError(err)
		}
	}
	return h, nil
}

// Start implements the cliapp.Lifecycle interface.
func (h *Harness) Start(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.config.Log.Error("Runtime error occurred", "error", r)
			h.running.Store(false)
			err = NewExecutionError(fmt.Errorf("panic: %v", r))
		}
	}()

	h.running.Store(true)

	if !h.config.RunOnce {
		h.config.Log.Info("Starting op-harness in continuous mode", "version", h.version, "interval", h.config.RunInterval)
		return h.trigger.Start(ctx)
	}

	h.config.Log.Info("Starting op-harness in run-once mode", "version", h.version)
	result, err := h.Run(ctx)
	if err != nil {
		return err
	}
	if result.Status.Failed() {
		h.config.Log.Warn("Run completed with failures", "run_id", result.RunID)
		return NewExecutionFailureError(fmt.Sprintf("run %s: %d of %d units failed",
			result.RunID, result.Stats.Failed+result.Stats.Errored, result.Stats.Total))
	}

	h.config.Log.Info("Run completed, exiting (run-once mode)")
	if h.shutdownCallback != nil {
		go h.shutdownCallback(nil)
	}
	return nil
}

// runPeriodic runs the suite and only fails the trigger on harness errors;
// unit failures are reported and the next run still happens.
func (h *Harness) runPeriodic(ctx context.Context) error {
	_, err := h.Run(ctx)
	return err
}

// Run executes the configured suite once. Each run gets a fresh component
// registry, so per-run singletons never leak between runs.
func (h *Harness) Run(ctx context.Context) (*types.RunResult, error) {
	environment := h.environment()
	logger := h.config.Log.New("environment", environment)

	components := registry.New(logger)
	defer func() {
		if err := components.Close(); err != nil {
			logger.Warn("Failed to release run components", "err", err)
		}
	}()

	factory := units.NewFactory(units.Env{
		Components:     components,
		Invoker:        resilience.NewInvoker(h.pool, logger),
		Log:            logger,
		DefaultTimeout: h.config.DefaultTimeout,
		Environment:    environment,
		Catalog:        h.catalog,
	})

	root, err := h.plan.Build(h.config.Suite, factory)
	if err != nil {
		return nil, NewIllegalArgumentError(fmt.Errorf("failed to build suite: %w", err))
	}

	progress := scheduler.NewNoOpProgressIndicator()
	if h.config.ShowProgress {
		progress = scheduler.NewConsoleProgressIndicator(logger, h.config.ProgressInterval)
	}
	defer progress.Stop()

	sched := scheduler.New(scheduler.Config{
		Pool:        h.pool,
		Log:         logger,
		FailFast:    h.config.FailFast,
		Progress:    progress,
		Environment: environment,
	})
	result, err := sched.Run(ctx, root)
	if err != nil {
		metrics.RecordErrorDetails("run failed", err)
		return nil, NewExecutionError(err)
	}

	h.mu.Lock()
	h.result = result
	h.mu.Unlock()
	metrics.RecordRun(environment, result.RunID, result.Status, result.Stats, result.WallClockTime)

	if _, err := h.reporter.Report(result); err != nil {
		metrics.RecordErrorDetails("report failed", err)
		return result, NewExecutionError(err)
	}
	return result, nil
}

// Stop implements the cliapp.Lifecycle interface.
func (h *Harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping op-harness")

	if !h.running.Swap(false) {
		h.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	if h.trigger != nil {
		h.trigger.Stop()
		if err := h.trigger.WaitForShutdown(ctx); err != nil {
			return err
		}
	}

	// Timed out invocations may still be running; give them until ctx ends.
	if err := h.pool.Wait(ctx); err != nil {
		h.config.Log.Warn("Abandoned invocations still running at shutdown", "in_flight", h.pool.InFlight())
	}

	h.config.Log.Info("op-harness stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (h *Harness) Stopped() bool {
	return !h.running.Load()
}

// Result returns the most recent run result, or nil before the first run
func (h *Harness) Result() *types.RunResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Healthy reports false once the most recent run failed
func (h *Harness) Healthy() bool {
	result := h.Result()
	return result == nil || !result.Status.Failed()
}

func (h *Harness) environment() string {
	if h.config.Environment != "" {
		return h.config.Environment
	}
	return h.plan.Config().Environment
}

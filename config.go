package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum/go-ethereum/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	PlanFile         string
	Suite            string        // Suite to run, defaults to the plan root
	Environment      string        // Overrides the plan environment when set
	Concurrency      int           // Maximum units running at once (0 = unbounded)
	FailFast         bool          // Stop sequential groups at their first failure
	DefaultTimeout   time.Duration // Timeout for command and http units that declare none
	RunInterval      time.Duration // Interval between runs
	RunOnce          bool          // Exit after a single run
	ReportDir        string        // Directory for run reports, empty disables them
	ShowProgress     bool          // Whether to show periodic progress updates during a run
	ProgressInterval time.Duration // Interval between progress updates when ShowProgress is 'true'
	HealthzEnabled   bool
	HealthzAddr      string
	Metrics          opmetrics.CLIConfig
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, NewIllegalArgumentError(fmt.Errorf("missing required flags: %w", err))
	}

	planFile, err := filepath.Abs(ctx.String(flags.Plan.Name))
	if err != nil {
		return nil, NewIllegalArgumentError(fmt.Errorf("failed to resolve absolute path for plan '%s': %w", ctx.String(flags.Plan.Name), err))
	}

	reportDir := ctx.String(flags.ReportDir.Name)
	if reportDir != "" {
		reportDir, err = filepath.Abs(reportDir)
		if err != nil {
			return nil, NewIllegalArgumentError(fmt.Errorf("failed to resolve absolute path for report directory '%s': %w", reportDir, err))
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	cfg := &Config{
		PlanFile:         planFile,
		Suite:            ctx.String(flags.Suite.Name),
		Environment:      ctx.String(flags.Environment.Name),
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		FailFast:         ctx.Bool(flags.FailFast.Name),
		DefaultTimeout:   ctx.Duration(flags.DefaultTimeout.Name),
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0,
		ReportDir:        reportDir,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		HealthzEnabled:   ctx.Bool(flags.HealthzEnabled.Name),
		HealthzAddr:      ctx.String(flags.HealthzAddr.Name),
		Metrics:          opmetrics.ReadCLIConfig(ctx),
		Log:              log,
	}
	if err := cfg.Check(); err != nil {
		return nil, NewIllegalArgumentError(err)
	}
	return cfg, nil
}

// Check validates the configuration values
func (c *Config) Check() error {
	if c.PlanFile == "" {
		return errors.New("plan file is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("default timeout must not be negative, got %s", c.DefaultTimeout)
	}
	if c.RunInterval < 0 {
		return fmt.Errorf("run interval must not be negative, got %s", c.RunInterval)
	}
	if c.ShowProgress && c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive, got %s", c.ProgressInterval)
	}
	return c.Metrics.Check()
}

package harness

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/reporting"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/units"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingPlan = `
version: v1.0.0
root: nightly
environment: staging
suites:
  - id: nightly
    mode: sequential
    members:
      - suite: checks
      - unit: done
  - id: checks
    mode: parallel
    members:
      - unit: nap
      - unit: counted
units:
  - id: nap
    kind: sleep
    duration: 10ms
  - id: counted
    kind: func
    func: count
  - id: done
    kind: func
    func: noop
`

const failingPlan = `
version: v1.0.0
suites:
  - id: only
    members:
      - unit: broken
      - unit: fine
units:
  - id: broken
    kind: command
    command: ["sh", "-c", "exit 2"]
  - id: fine
    kind: func
    func: noop
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testConfig(t *testing.T, planContent string) *Config {
	t.Helper()
	return &Config{
		PlanFile:       writePlan(t, planContent),
		DefaultTimeout: 10 * time.Second,
		RunOnce:        true,
		ReportDir:      t.TempDir(),
		Log:            log.NewLogger(log.DiscardHandler()),
	}
}

func countingCatalog(calls *atomic.Int32) units.Catalog {
	catalog := units.DefaultCatalog()
	catalog.Register("count", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	return catalog
}

func TestRunOnceSuccess(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, passingPlan)
	shutdown := make(chan error, 1)
	var out bytes.Buffer

	h, err := New(cfg, "test", func(err error) { shutdown <- err }, WithCatalog(countingCatalog(&calls)), WithOutput(&out))
	require.NoError(t, err)

	require.NoError(t, h.Start(context.Background()))

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not called")
	}

	result := h.Result()
	require.NotNil(t, result)
	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Equal(t, types.ResultStats{Total: 3, Passed: 3}, result.Stats)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, h.Healthy())
	assert.Contains(t, out.String(), result.RunID)

	_, err = os.Stat(filepath.Join(cfg.ReportDir, "run-"+result.RunID, reporting.ReportFileName))
	assert.NoError(t, err)

	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, h.Stopped())
}

func TestRunOnceFailure(t *testing.T) {
	cfg := testConfig(t, failingPlan)
	h, err := New(cfg, "test", nil, WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsExecutionFailureError(err))
	assert.Equal(t, exitcodes.ExecutionFailure, ExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 units failed")
	assert.False(t, h.Healthy())

	// The failing unit does not stop its sibling without fail-fast.
	result := h.Result()
	require.NotNil(t, result)
	assert.Equal(t, types.TestStatusPass, result.Root.Find("fine").Status)
}

func TestRunFailFast(t *testing.T) {
	cfg := testConfig(t, failingPlan)
	cfg.FailFast = true
	h, err := New(cfg, "test", nil, WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusSkip, result.Root.Find("fine").Status)
}

func TestEachRunIsIndependent(t *testing.T) {
	var calls atomic.Int32
	h, err := New(testConfig(t, passingPlan), "test", nil, WithCatalog(countingCatalog(&calls)), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	first, err := h.Run(context.Background())
	require.NoError(t, err)
	second, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Same(t, second, h.Result())
}

func TestEnvironmentOverride(t *testing.T) {
	cfg := testConfig(t, passingPlan)
	h, err := New(cfg, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, "staging", h.environment())

	cfg.Environment = "devnet"
	assert.Equal(t, "devnet", h.environment())
}

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		config func(t *testing.T) *Config
	}{
		{
			name:   "nil config",
			config: func(t *testing.T) *Config { return nil },
		},
		{
			name: "missing plan file",
			config: func(t *testing.T) *Config {
				cfg := testConfig(t, passingPlan)
				cfg.PlanFile = filepath.Join(t.TempDir(), "missing.yaml")
				return cfg
			},
		},
		{
			name: "invalid plan",
			config: func(t *testing.T) *Config {
				return testConfig(t, "version: v2.0.0\nsuites: []\n")
			},
		},
		{
			name: "unknown suite",
			config: func(t *testing.T) *Config {
				cfg := testConfig(t, passingPlan)
				cfg.Suite = "nope"
				return cfg
			},
		},
		{
			name: "periodic without interval",
			config: func(t *testing.T) *Config {
				cfg := testConfig(t, passingPlan)
				cfg.RunOnce = false
				return cfg
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config(t), "test", nil)
			require.Error(t, err)
			assert.True(t, IsIllegalArgumentError(err))
			assert.Equal(t, exitcodes.IllegalArgument, ExitCode(err))
		})
	}
}

func TestUnknownFuncIsIllegalArgument(t *testing.T) {
	cfg := testConfig(t, passingPlan)
	h, err := New(cfg, "test", nil, WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	// "count" is not in the default catalog.
	_, err = h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsIllegalArgumentError(err))
}

func TestPeriodicRuns(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(t, passingPlan)
	cfg.RunOnce = false
	cfg.RunInterval = 20 * time.Millisecond

	h, err := New(cfg, "test", nil, WithCatalog(countingCatalog(&calls)), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Start(ctx))
	assert.Equal(t, int32(1), calls.Load())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, h.Stop(stopCtx))
	assert.True(t, h.Stopped())

	stoppedAt := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stoppedAt, calls.Load())

	// Stopping twice is a no-op.
	require.NoError(t, h.Stop(stopCtx))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: exitcodes.Success},
		{name: "illegal argument", err: NewIllegalArgumentError(errors.New("bad flag")), expected: exitcodes.IllegalArgument},
		{name: "execution failure", err: NewExecutionFailureError("2 units failed"), expected: exitcodes.ExecutionFailure},
		{name: "execution error", err: NewExecutionError(errors.New("panic")), expected: exitcodes.ExecutionError},
		{name: "wrapped illegal argument", err: errors.Join(errors.New("ctx"), NewIllegalArgumentError(errors.New("x"))), expected: exitcodes.IllegalArgument},
		{name: "unclassified", err: errors.New("boom"), expected: exitcodes.ExecutionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	inner := errors.New("inner")

	execErr := NewExecutionError(inner)
	assert.ErrorIs(t, execErr, inner)
	assert.True(t, IsExecutionError(execErr))
	assert.False(t, IsExecutionError(nil))
	assert.Equal(t, "execution error: inner", execErr.Error())

	argErr := NewIllegalArgumentError(inner)
	assert.ErrorIs(t, argErr, inner)
	assert.False(t, IsExecutionError(argErr))

	assert.Equal(t, "execution failure: 1 failed", NewExecutionFailureError("1 failed").Error())
}

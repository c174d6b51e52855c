package main_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/stretchr/testify/require"
)

const passingPlan = `
version: v1.0.0
suites:
  - id: smoke
    mode: parallel
    members:
      - unit: ok
      - unit: nap
units:
  - id: ok
    kind: command
    command: ["sh", "-c", "exit 0"]
  - id: nap
    kind: sleep
    duration: 10ms
`

const failingPlan = `
version: v1.0.0
suites:
  - id: smoke
    members:
      - unit: broken
units:
  - id: broken
    kind: command
    command: ["sh", "-c", "echo nope; exit 1"]
`

const cyclicPlan = `
version: v1.0.0
root: a
suites:
  - id: a
    members:
      - suite: b
  - id: b
    members:
      - suite: a
`

// TestExitCodeBehavior verifies that op-harness returns the correct exit codes in run-once mode:
// - Exit code 0 when all units pass
// - Exit code 4 when any unit fails
// - Exit code 3 when the plan or flags are invalid
func TestExitCodeBehavior(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the op-harness binary")
	}
	binary := buildHarness(t)

	testCases := []struct {
		name           string
		plan           string
		extraArgs      []string
		expectedStatus int
	}{
		{
			name:           "Passing units should exit with code 0",
			plan:           passingPlan,
			expectedStatus: exitcodes.Success,
		},
		{
			name:           "Failing units should exit with code 4",
			plan:           failingPlan,
			expectedStatus: exitcodes.ExecutionFailure,
		},
		{
			name:           "Cyclic plan should exit with code 3",
			plan:           cyclicPlan,
			expectedStatus: exitcodes.IllegalArgument,
		},
		{
			name:           "Unknown suite should exit with code 3",
			plan:           passingPlan,
			extraArgs:      []string{"--suite=nope"},
			expectedStatus: exitcodes.IllegalArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			planPath := filepath.Join(t.TempDir(), "plan.yaml")
			require.NoError(t, os.WriteFile(planPath, []byte(tc.plan), 0644))

			args := append([]string{
				"--run-interval=0",
				"--report-dir=" + t.TempDir(),
				"--plan=" + planPath,
			}, tc.extraArgs...)
			require.Equal(t, tc.expectedStatus, runHarness(t, binary, args...))
		})
	}
}

func TestReportWritten(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the op-harness binary")
	}
	binary := buildHarness(t)

	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(passingPlan), 0644))
	reportDir := t.TempDir()

	require.Equal(t, exitcodes.Success, runHarness(t, binary, "--plan="+planPath, "--report-dir="+reportDir))

	reports, err := filepath.Glob(filepath.Join(reportDir, "run-*", "report.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
}

func buildHarness(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "op-harness")
	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "Failed to build op-harness: %s", string(output))
	return binaryPath
}

func runHarness(t *testing.T, binary string, args ...string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if output.Len() > 0 {
		t.Logf("output:\n%s", output.String())
	}
	require.NoError(t, ctx.Err(), "op-harness did not exit in time")

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	require.NoError(t, err)
	return exitcodes.Success
}

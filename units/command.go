package units

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

const (
	// EnvironmentVar is set for every command unit
	EnvironmentVar = "HARNESS_ENVIRONMENT"

	outputTailLines = 20
	waitDelay       = 2 * time.Second
)

// CommandError is returned when a command unit exits unsuccessfully
type CommandError struct {
	Argv     []string
	ExitCode int
	Output   string // Last lines of combined output, ANSI escapes removed
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", strings.Join(e.Argv, " "))
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Output)
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface
func (e *CommandError) Unwrap() error {
	return e.Err
}

func (f *Factory) commandBody(unit types.UnitConfig) types.UnitFunc {
	logger := f.log.New("unit", unit.ID)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, unit.Command[0], unit.Command[1:]...)
		cmd.Dir = unit.Dir
		cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", EnvironmentVar, f.env.Environment))
		for k, v := range unit.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		// Don't let a child holding the output pipes keep us waiting after cancellation.
		cmd.WaitDelay = waitDelay

		output := newTailBuffer(outputTailBytes)
		cmd.Stdout = output
		cmd.Stderr = output

		logger.Debug("Running command", "command", cmd.String(), "dir", cmd.Dir)
		err := cmd.Run()
		if err == nil {
			return nil
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &CommandError{
			Argv:     unit.Command,
			ExitCode: exitCode,
			Output:   tail(stripansi.Strip(output.String()), outputTailLines),
			Err:      err,
		}
	}
}

// tail returns the last n non-empty lines of s
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

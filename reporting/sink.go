package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/ui"
	"github.com/ethereum/go-ethereum/log"
)

const (
	ReportFileName  = "report.json"
	SummaryFileName = "summary.log"
)

// Reporter prints run results to the console and, when a directory is
// configured, writes them to <dir>/run-<id>/.
type Reporter struct {
	out         io.Writer
	dir         string
	environment string
	log         log.Logger
}

// NewReporter creates a reporter. An empty dir disables the report files.
func NewReporter(out io.Writer, dir, environment string, logger log.Logger) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = log.New()
	}
	return &Reporter{
		out:         out,
		dir:         dir,
		environment: environment,
		log:         logger.New("component", "reporter"),
	}
}

// Report prints the result table and summary box, then writes the report
// files. It returns the run directory, or "" when none was written.
func (r *Reporter) Report(result *types.RunResult) (string, error) {
	title := fmt.Sprintf("Harness Results (%s)", formatDuration(result.WallClockTime))
	if _, err := fmt.Fprint(r.out, NewTableFormatter(title, true).Format(result)); err != nil {
		return "", fmt.Errorf("failed to print results table: %w", err)
	}
	if _, err := fmt.Fprint(r.out, ui.Box("Run "+result.RunID, summaryLines(result), 0)); err != nil {
		return "", fmt.Errorf("failed to print summary: %w", err)
	}

	if r.dir == "" {
		return "", nil
	}
	return r.write(result)
}

func (r *Reporter) write(result *types.RunResult) (string, error) {
	runDir := filepath.Join(r.dir, "run-"+result.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", runDir, err)
	}

	data, err := json.MarshalIndent(NewReport(result, r.environment), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, ReportFileName), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	summary := NewTextFormatter(true).Format(result, r.environment)
	if err := os.WriteFile(filepath.Join(runDir, SummaryFileName), []byte(summary), 0644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}

	r.log.Info("Wrote run report", "dir", runDir)
	return runDir, nil
}

func summaryLines(result *types.RunResult) []string {
	lines := []string{
		fmt.Sprintf("Status:   %s", strings.ToUpper(statusString(result.Status))),
		fmt.Sprintf("Units:    %d total, %d passed, %d failed, %d skipped, %d errored",
			result.Stats.Total, result.Stats.Passed, result.Stats.Failed, result.Stats.Skipped, result.Stats.Errored),
		fmt.Sprintf("Duration: %s", formatDuration(result.WallClockTime)),
	}
	return lines
}

package reporting

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/ui"
)

// TextFormatter renders a run result as a plain text tree
type TextFormatter struct {
	includeDetails bool
}

// NewTextFormatter creates a text formatter. With includeDetails the error
// of every failed node is printed under it.
func NewTextFormatter(includeDetails bool) *TextFormatter {
	return &TextFormatter{includeDetails: includeDetails}
}

// Format renders result as text
func (f *TextFormatter) Format(result *types.RunResult, environment string) string {
	var buf bytes.Buffer

	buf.WriteString("Run Summary\n")
	buf.WriteString(strings.Repeat("=", 50) + "\n\n")

	fmt.Fprintf(&buf, "Run ID: %s\n", result.RunID)
	if environment != "" {
		fmt.Fprintf(&buf, "Environment: %s\n", environment)
	}
	fmt.Fprintf(&buf, "Duration: %s\n", formatDuration(result.WallClockTime))
	fmt.Fprintf(&buf, "Total Units: %d\n", result.Stats.Total)
	fmt.Fprintf(&buf, "Passed: %d\n", result.Stats.Passed)
	fmt.Fprintf(&buf, "Failed: %d\n", result.Stats.Failed)
	fmt.Fprintf(&buf, "Skipped: %d\n", result.Stats.Skipped)
	fmt.Fprintf(&buf, "Errored: %d\n", result.Stats.Errored)
	fmt.Fprintf(&buf, "Pass Rate: %.1f%%\n", passRate(result.Stats))
	fmt.Fprintf(&buf, "Status: %s\n\n", strings.ToUpper(statusString(result.Status)))

	buf.WriteString("Execution Tree:\n")
	buf.WriteString(strings.Repeat("-", 30) + "\n")

	var failed []string
	walkPositions(result.Root, func(n *types.NodeResult, pos position) {
		prefix := ui.TreePrefix(pos.depth, pos.isLast, pos.ancestorsLast)
		line := fmt.Sprintf("%s%s %s", prefix, statusChar(n.Status), n.Name)
		if n.Kind == types.NodeKindGroup {
			line += fmt.Sprintf(" [%s, %d units, %d passed, %d failed]", n.Mode, n.Stats.Total, n.Stats.Passed, n.Stats.Failed+n.Stats.Errored)
		} else {
			line += fmt.Sprintf(" (%s)", formatDuration(n.Duration))
			if n.Status.Failed() {
				failed = append(failed, fmt.Sprintf("- %s", n.Name))
				if f.includeDetails && n.Error != nil {
					failed[len(failed)-1] += fmt.Sprintf(" (Error: %s)", n.Error)
				}
			}
		}
		buf.WriteString(line + "\n")

		if f.includeDetails && n.Kind == types.NodeKindUnit && n.Error != nil {
			indent := strings.Repeat(" ", len([]rune(prefix))+2)
			fmt.Fprintf(&buf, "%sError: %s\n", indent, errorSummary(n.Error, 200))
		}
	})

	if len(failed) > 0 {
		buf.WriteString("\nFailed Units:\n")
		buf.WriteString(strings.Repeat("-", 20) + "\n")
		buf.WriteString(strings.Join(failed, "\n") + "\n")
	}

	return buf.String()
}

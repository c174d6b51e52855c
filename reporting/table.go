package reporting

import (
	"bytes"
	"strings"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/ui"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const errorColumnWidth = 80

// TableFormatter renders a run result as an ASCII table, one row per node
type TableFormatter struct {
	title      string
	showGroups bool
}

// NewTableFormatter creates a table formatter. Without showGroups only
// units are listed.
func NewTableFormatter(title string, showGroups bool) *TableFormatter {
	return &TableFormatter{
		title:      title,
		showGroups: showGroups,
	}
}

// Format renders result as a table
func (f *TableFormatter) Format(result *types.RunResult) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(f.title)
	t.AppendHeader(table.Row{"TYPE", "ID", "MODE", "DURATION", "UNITS", "PASSED", "FAILED", "SKIPPED", "STATUS", "ERROR"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TYPE", AutoMerge: true},
		{Name: "ID", WidthMax: 100, WidthMaxEnforcer: text.WrapSoft},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "UNITS", Align: text.AlignRight},
		{Name: "PASSED", Align: text.AlignRight},
		{Name: "FAILED", Align: text.AlignRight},
		{Name: "SKIPPED", Align: text.AlignRight},
		{Name: "ERROR", WidthMax: errorColumnWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	walkPositions(result.Root, func(n *types.NodeResult, pos position) {
		if n.Kind == types.NodeKindGroup && !f.showGroups {
			return
		}
		t.AppendRow(f.row(n, pos))
	})

	switch result.Status {
	case types.TestStatusFail, types.TestStatusError:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleDefault)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		"",
		formatDuration(result.WallClockTime),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed + result.Stats.Errored,
		result.Stats.Skipped,
		strings.ToUpper(statusString(result.Status)),
		"",
	})

	t.Render()
	return buf.String()
}

func (f *TableFormatter) row(n *types.NodeResult, pos position) table.Row {
	name := n.Name
	if f.showGroups {
		name = ui.TreePrefix(pos.depth, pos.isLast, pos.ancestorsLast) + n.Name
	}

	if n.Kind == types.NodeKindGroup {
		return table.Row{
			"Group",
			name,
			string(n.Mode),
			formatDuration(n.Duration),
			n.Stats.Total,
			n.Stats.Passed,
			n.Stats.Failed + n.Stats.Errored,
			n.Stats.Skipped,
			strings.ToUpper(statusString(n.Status)),
			"",
		}
	}
	return table.Row{
		"Unit",
		name,
		"",
		formatDuration(n.Duration),
		1,
		boolToInt(n.Status == types.TestStatusPass),
		boolToInt(n.Status.Failed()),
		boolToInt(n.Status == types.TestStatusSkip),
		strings.ToUpper(statusString(n.Status)),
		errorSummary(n.Error, errorColumnWidth),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

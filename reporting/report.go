// Package reporting renders run results as console tables, text summaries
// and JSON reports.
package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

// Report is the JSON document written for every run
type Report struct {
	RunID         string            `json:"runId"`
	Environment   string            `json:"environment,omitempty"`
	Status        types.TestStatus  `json:"status"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	WallClockTime time.Duration     `json:"wallClockTime"`
	Stats         types.ResultStats `json:"stats"`
	PassRate      float64           `json:"passRate"`
	Root          *NodeReport       `json:"root"`
	FailedUnits   []string          `json:"failedUnits"`
}

// NodeReport is one node of the result tree in a Report
type NodeReport struct {
	Name     string             `json:"name"`
	Path     string             `json:"path"`
	Kind     types.NodeKind     `json:"kind"`
	Mode     types.Mode         `json:"mode,omitempty"`
	Status   types.TestStatus   `json:"status"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
	Stats    *types.ResultStats `json:"stats,omitempty"`
	Children []*NodeReport      `json:"children,omitempty"`
}

// NewReport converts a run result into its report form
func NewReport(result *types.RunResult, environment string) *Report {
	r := &Report{
		RunID:         result.RunID,
		Environment:   environment,
		Status:        result.Status,
		StartTime:     result.StartTime,
		EndTime:       result.EndTime,
		WallClockTime: result.WallClockTime,
		Stats:         result.Stats,
		PassRate:      passRate(result.Stats),
		FailedUnits:   []string{},
	}
	r.Root = r.node(result.Root, "")
	return r
}

func (r *Report) node(n *types.NodeResult, parent string) *NodeReport {
	if n == nil {
		return nil
	}
	path := n.Name
	if parent != "" {
		path = parent + "/" + n.Name
	}

	out := &NodeReport{
		Name:     n.Name,
		Path:     path,
		Kind:     n.Kind,
		Mode:     n.Mode,
		Status:   n.Status,
		Duration: n.Duration,
	}
	if n.Error != nil {
		out.Error = n.Error.Error()
	}
	if n.Kind == types.NodeKindGroup {
		stats := n.Stats
		out.Stats = &stats
	} else if n.Status.Failed() {
		r.FailedUnits = append(r.FailedUnits, path)
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, r.node(child, path))
	}
	return out
}

func passRate(stats types.ResultStats) float64 {
	if stats.Total == 0 {
		return 0
	}
	return float64(stats.Passed) / float64(stats.Total) * 100
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// errorSummary returns the first line of err, cut to max runes
func errorSummary(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	if runes := []rune(msg); len(runes) > max {
		msg = string(runes[:max-3]) + "..."
	}
	return msg
}

func statusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusError:
		return string(status)
	default:
		return "unknown"
	}
}

func statusChar(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓"
	case types.TestStatusFail:
		return "✗"
	case types.TestStatusSkip:
		return "⊝"
	case types.TestStatusError:
		return "⚠"
	default:
		return "?"
	}
}

// position locates a node in the drawn tree. ancestorsLast excludes the root.
type position struct {
	depth         int
	isLast        bool
	ancestorsLast []bool
}

// walkPositions visits the tree in declaration order with each node's
// position, for drawing tree connectors.
func walkPositions(root *types.NodeResult, fn func(n *types.NodeResult, pos position)) {
	var walk func(n *types.NodeResult, pos position)
	walk = func(n *types.NodeResult, pos position) {
		fn(n, pos)
		for i, child := range n.Children {
			childPos := position{
				depth:  pos.depth + 1,
				isLast: i == len(n.Children)-1,
			}
			if pos.depth > 0 {
				childPos.ancestorsLast = append(append([]bool{}, pos.ancestorsLast...), pos.isLast)
			}
			walk(child, childPos)
		}
	}
	if root != nil {
		walk(root, position{isLast: true})
	}
}

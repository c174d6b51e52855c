package types

import (
	"errors"
	"fmt"
	"time"
)

// TestStatus represents the possible states of a unit or group after a run
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// Failed reports whether the status counts as a failure when aggregating.
func (s TestStatus) Failed() bool {
	return s == TestStatusFail || s == TestStatusError
}

// ErrSkipped is the sentinel wrapped by errors returned from Skip.
var ErrSkipped = errors.New("unit skipped")

// Skip returns an error that makes the scheduler record the unit as skipped
// rather than failed.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// IsSkip checks if the error is or wraps ErrSkipped
func IsSkip(err error) bool {
	return err != nil && errors.Is(err, ErrSkipped)
}

// ResultStats tracks unit statistics at each level of the tree
type ResultStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errored int
}

// Add accumulates another set of stats into s.
func (s *ResultStats) Add(other ResultStats) {
	s.Total += other.Total
	s.Passed += other.Passed
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Errored += other.Errored
}

// Count records a single unit outcome.
func (s *ResultStats) Count(status TestStatus) {
	s.Total++
	switch status {
	case TestStatusPass:
		s.Passed++
	case TestStatusFail:
		s.Failed++
	case TestStatusSkip:
		s.Skipped++
	case TestStatusError:
		s.Errored++
	}
}

// NodeResult captures the outcome of a single node of the execution tree.
// Children are kept in declaration order regardless of completion order.
type NodeResult struct {
	Name      string
	Kind      NodeKind
	Mode      Mode // Only set for groups
	Status    TestStatus
	Error     error
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Stats     ResultStats
	Children  []*NodeResult
}

// RunResult captures the complete outcome of one scheduler run
type RunResult struct {
	RunID         string
	Root          *NodeResult
	Status        TestStatus
	Stats         ResultStats
	StartTime     time.Time
	EndTime       time.Time
	WallClockTime time.Duration
}

// Walk visits r and all of its descendants depth-first, in declaration order.
// The callback receives the depth of each node (0 for r itself).
func (r *NodeResult) Walk(fn func(n *NodeResult, depth int)) {
	r.walk(fn, 0)
}

func (r *NodeResult) walk(fn func(n *NodeResult, depth int), depth int) {
	if r == nil {
		return
	}
	fn(r, depth)
	for _, child := range r.Children {
		child.walk(fn, depth+1)
	}
}

// Find returns the first node with the given name, or nil.
func (r *NodeResult) Find(name string) *NodeResult {
	var found *NodeResult
	r.Walk(func(n *NodeResult, _ int) {
		if found == nil && n.Name == name {
			found = n
		}
	})
	return found
}

// AggregateStatus derives a group status from its children's statuses.
// Failures take priority over skips: if any child failed the group fails,
// if every child was skipped the group is skipped, otherwise it passes.
func AggregateStatus(statuses ...TestStatus) TestStatus {
	allSkipped := true
	anyFailed := false

	for _, status := range statuses {
		if status != TestStatusSkip {
			allSkipped = false
		}
		if status.Failed() {
			anyFailed = true
		}
	}

	if anyFailed {
		return TestStatusFail
	}
	if allSkipped {
		return TestStatusSkip
	}
	return TestStatusPass
}

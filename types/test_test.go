package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []TestStatus
		expected TestStatus
	}{
		{
			name:     "all passed",
			statuses: []TestStatus{TestStatusPass, TestStatusPass},
			expected: TestStatusPass,
		},
		{
			name:     "one failed",
			statuses: []TestStatus{TestStatusPass, TestStatusFail, TestStatusPass},
			expected: TestStatusFail,
		},
		{
			name:     "error counts as failure",
			statuses: []TestStatus{TestStatusPass, TestStatusError},
			expected: TestStatusFail,
		},
		{
			name:     "all skipped",
			statuses: []TestStatus{TestStatusSkip, TestStatusSkip},
			expected: TestStatusSkip,
		},
		{
			name:     "skip and pass",
			statuses: []TestStatus{TestStatusSkip, TestStatusPass},
			expected: TestStatusPass,
		},
		{
			name:     "failure wins over skips",
			statuses: []TestStatus{TestStatusSkip, TestStatusFail},
			expected: TestStatusFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateStatus(tt.statuses...))
		})
	}
}

func TestSkip(t *testing.T) {
	err := Skip("not on this network")
	assert.True(t, IsSkip(err))
	assert.Contains(t, err.Error(), "not on this network")

	wrapped := fmt.Errorf("unit body: %w", err)
	assert.True(t, IsSkip(wrapped))

	assert.False(t, IsSkip(nil))
	assert.False(t, IsSkip(errors.New("boom")))
}

func TestResultStats(t *testing.T) {
	var stats ResultStats
	stats.Count(TestStatusPass)
	stats.Count(TestStatusFail)
	stats.Count(TestStatusSkip)
	stats.Count(TestStatusError)

	var total ResultStats
	total.Add(stats)
	total.Add(stats)

	assert.Equal(t, ResultStats{Total: 8, Passed: 2, Failed: 2, Skipped: 2, Errored: 2}, total)
}

func TestNodeResultWalk(t *testing.T) {
	root := &NodeResult{
		Name: "root",
		Children: []*NodeResult{
			{Name: "a", Children: []*NodeResult{{Name: "a1"}}},
			{Name: "b"},
		},
	}

	var names []string
	var depths []int
	root.Walk(func(n *NodeResult, depth int) {
		names = append(names, n.Name)
		depths = append(depths, depth)
	})

	assert.Equal(t, []string{"root", "a", "a1", "b"}, names)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)

	require.NotNil(t, root.Find("a1"))
	assert.Nil(t, root.Find("missing"))
}

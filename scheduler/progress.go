package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
)

// ProgressIndicator interface for UI updates. Calls for groups and units
// arrive concurrently when parallel groups are running.
type ProgressIndicator interface {
	StartRun(name string, totalUnits int)
	StartGroup(name string, mode types.Mode, totalUnits int)
	StartUnit(name string)
	UpdateUnit(name string, status types.TestStatus)
	CompleteGroup(name string, status types.TestStatus)
	CompleteRun(name string, status types.TestStatus)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(name string, totalUnits int)                    {}
func (n *noOpProgressIndicator) StartGroup(name string, mode types.Mode, totalUnits int) {}
func (n *noOpProgressIndicator) StartUnit(name string)                                   {}
func (n *noOpProgressIndicator) UpdateUnit(name string, status types.TestStatus)         {}
func (n *noOpProgressIndicator) CompleteGroup(name string, status types.TestStatus)      {}
func (n *noOpProgressIndicator) CompleteRun(name string, status types.TestStatus)        {}
func (n *noOpProgressIndicator) Stop()                                                   {}

// consoleProgressIndicator logs progress updates on a fixed interval
type consoleProgressIndicator struct {
	logger   log.Logger
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	currentRun     string
	completedUnits int
	failedUnits    int
	totalUnits     int
	runStartTime   time.Time

	runningGroups map[string]time.Time
	runningUnits  map[string]time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second // Default to 30 seconds
	}

	indicator := &consoleProgressIndicator{
		logger:        logger,
		ticker:        time.NewTicker(updateInterval),
		stopCh:        make(chan struct{}),
		runningGroups: make(map[string]time.Time),
		runningUnits:  make(map[string]time.Time),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StartRun(name string, totalUnits int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentRun = name
	c.totalUnits = totalUnits
	c.completedUnits = 0
	c.failedUnits = 0
	c.runStartTime = time.Now()
	c.runningGroups = make(map[string]time.Time)
	c.runningUnits = make(map[string]time.Time)

	c.logger.Info("Starting run", "root", name, "totalUnits", totalUnits)
}

func (c *consoleProgressIndicator) StartGroup(name string, mode types.Mode, totalUnits int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningGroups[name] = time.Now()
	c.logger.Debug("Starting group", "group", name, "mode", mode, "groupUnits", totalUnits)
}

func (c *consoleProgressIndicator) StartUnit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningUnits[name] = time.Now()
	c.logger.Debug("Unit started", "unit", name, "runningUnits", len(c.runningUnits))
}

func (c *consoleProgressIndicator) UpdateUnit(name string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningUnits, name)
	c.completedUnits++
	if status.Failed() {
		c.failedUnits++
	}

	c.logger.Debug("Unit completed", "unit", name, "status", status, "completed", c.completedUnits, "total", c.totalUnits)
}

func (c *consoleProgressIndicator) CompleteGroup(name string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	started, ok := c.runningGroups[name]
	delete(c.runningGroups, name)
	if !ok {
		return
	}
	duration := time.Since(started).Truncate(time.Millisecond)
	c.logger.Info("Completed group", "group", name, "status", status, "duration", duration)
}

func (c *consoleProgressIndicator) CompleteRun(name string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.runStartTime).Truncate(time.Millisecond)
	c.logger.Info("Completed run", "root", name, "status", status, "completed", c.completedUnits, "failed", c.failedUnits, "duration", duration)
	c.currentRun = ""
	c.runningGroups = make(map[string]time.Time)
	c.runningUnits = make(map[string]time.Time)
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentRun == "" {
		return
	}

	var percentComplete float64
	if c.totalUnits > 0 {
		percentComplete = float64(c.completedUnits) * 100.0 / float64(c.totalUnits)
	}

	c.logger.Info("Progress update",
		"root", c.currentRun,
		"completed", c.completedUnits,
		"failed", c.failedUnits,
		"total", c.totalUnits,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningUnits),
		"longestRunning", formatRunning(c.runningUnits, 3),
	)
}

// Stop stops the progress indicator
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunning lists the longest running entries first
func formatRunning(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type entry struct {
		name     string
		duration time.Duration
	}

	entries := make([]entry, 0, len(running))
	now := time.Now()
	for name, startTime := range running {
		entries = append(entries, entry{name: name, duration: now.Sub(startTime)})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].duration > entries[j].duration
	})

	var parts []string
	for i, e := range entries {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", e.name, e.duration.Truncate(time.Second)))
	}

	if len(entries) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(entries)-maxShow))
	}

	return strings.Join(parts, ", ")
}

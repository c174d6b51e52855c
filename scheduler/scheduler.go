// Package scheduler runs an execution tree, honouring each group's
// sequential or parallel mode.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/workerpool"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrFailFast is recorded on siblings skipped after an earlier failure.
var ErrFailFast = errors.New("not run: an earlier sibling failed")

// Config holds the scheduler configuration
type Config struct {
	// Pool bounds how many units run at once. Groups never take a slot.
	Pool *workerpool.Pool
	Log  log.Logger
	// FailFast applies to every sequential group; groups may also opt in
	// individually through Node.FailFast.
	FailFast    bool
	Progress    ProgressIndicator
	Environment string // Used to label metrics
}

// Scheduler executes a tree of groups and units
type Scheduler struct {
	config   Config
	log      log.Logger
	tracer   trace.Tracer
	progress ProgressIndicator
}

// New creates a scheduler
func New(cfg Config) *Scheduler {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Pool == nil {
		cfg.Pool = workerpool.New("units", 0, cfg.Log)
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NewNoOpProgressIndicator()
	}
	return &Scheduler{
		config:   cfg,
		log:      cfg.Log.New("component", "scheduler"),
		tracer:   otel.Tracer("execution scheduler"),
		progress: progress,
	}
}

// Run executes the tree rooted at root and blocks until every node is done.
// Unit failures are reported in the result, never as an error; the error is
// reserved for a malformed tree.
func (s *Scheduler) Run(ctx context.Context, root *types.Node) (*types.RunResult, error) {
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution tree: %w", err)
	}

	runID := uuid.New().String()
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("run %s", root.Name), trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("units", root.CountUnits()),
	))
	defer span.End()

	s.log.Info("Starting run", "run_id", runID, "root", root.Name, "units", root.CountUnits(), "pool_size", s.config.Pool.Size())
	s.progress.StartRun(root.Name, root.CountUnits())

	start := time.Now()
	rootResult := s.runNode(ctx, root)
	end := time.Now()

	result := &types.RunResult{
		RunID:         runID,
		Root:          rootResult,
		Status:        rootResult.Status,
		Stats:         rootResult.Stats,
		StartTime:     start,
		EndTime:       end,
		WallClockTime: end.Sub(start),
	}

	s.progress.CompleteRun(root.Name, result.Status)
	if result.Status.Failed() {
		span.SetStatus(codes.Error, "run failed")
	}
	s.log.Info("Run finished",
		"run_id", runID,
		"status", result.Status,
		"passed", result.Stats.Passed,
		"failed", result.Stats.Failed,
		"skipped", result.Stats.Skipped,
		"errored", result.Stats.Errored,
		"duration", result.WallClockTime)

	return result, nil
}

func (s *Scheduler) runNode(ctx context.Context, n *types.Node) *types.NodeResult {
	if n.IsUnit() {
		return s.runUnit(ctx, n)
	}
	return s.runGroup(ctx, n)
}

func (s *Scheduler) runGroup(ctx context.Context, n *types.Node) *types.NodeResult {
	mode := n.Mode.Normalize()
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("group %s", n.Name), trace.WithAttributes(
		attribute.String("mode", mode.String()),
	))
	defer span.End()

	s.progress.StartGroup(n.Name, mode, n.CountUnits())
	result := &types.NodeResult{
		Name:      n.Name,
		Kind:      types.NodeKindGroup,
		Mode:      mode,
		StartTime: time.Now(),
		Children:  make([]*types.NodeResult, len(n.Children)),
	}

	switch mode {
	case types.ModeParallel:
		// Children never return errors, so a plain group is enough: one
		// failing child must not cancel its siblings.
		var g errgroup.Group
		for i, child := range n.Children {
			g.Go(func() error {
				result.Children[i] = s.runNode(ctx, child)
				return nil
			})
		}
		_ = g.Wait()
	default:
		failFast := s.config.FailFast || n.FailFast
		stopped := false
		for i, child := range n.Children {
			if stopped {
				result.Children[i] = s.recordNotRun(notRun(child, types.TestStatusSkip, ErrFailFast))
				continue
			}
			result.Children[i] = s.runNode(ctx, child)
			if failFast && result.Children[i].Status.Failed() {
				s.log.Info("Fail-fast: skipping remaining units", "group", n.Name, "failed", child.Name)
				stopped = true
			}
		}
	}

	finishGroup(result)
	if result.Status.Failed() {
		span.SetStatus(codes.Error, "group failed")
	}
	s.progress.CompleteGroup(n.Name, result.Status)
	return result
}

func (s *Scheduler) runUnit(ctx context.Context, n *types.Node) *types.NodeResult {
	if err := ctx.Err(); err != nil {
		return s.recordUnit(notRun(n, types.TestStatusError, fmt.Errorf("not started: %w", err)))
	}

	result := &types.NodeResult{
		Name: n.Name,
		Kind: types.NodeKindUnit,
	}

	admitted := false
	err := s.config.Pool.Do(ctx, func(ctx context.Context) error {
		admitted = true
		s.executeUnit(ctx, n, result)
		return nil
	})
	if !admitted {
		return s.recordUnit(notRun(n, types.TestStatusError, fmt.Errorf("not started: %w", err)))
	}
	return s.recordUnit(result)
}

// executeUnit runs a unit body on the calling goroutine with its own
// context, turning panics into failures.
func (s *Scheduler) executeUnit(ctx context.Context, n *types.Node, result *types.NodeResult) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("unit %s", n.Name))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.progress.StartUnit(n.Name)
	s.log.Debug("Running unit", "unit", n.Name)

	result.StartTime = time.Now()
	err := callUnit(ctx, n.Unit)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	switch {
	case err == nil:
		result.Status = types.TestStatusPass
	case types.IsSkip(err):
		result.Status = types.TestStatusSkip
		result.Error = err
	default:
		result.Status = types.TestStatusFail
		result.Error = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	result.Stats.Count(result.Status)
}

func (s *Scheduler) recordUnit(result *types.NodeResult) *types.NodeResult {
	if result.Status.Failed() {
		s.log.Warn("Unit failed", "unit", result.Name, "status", result.Status, "duration", result.Duration, "err", result.Error)
	} else {
		s.log.Info("Unit finished", "unit", result.Name, "status", result.Status, "duration", result.Duration)
	}
	s.progress.UpdateUnit(result.Name, result.Status)
	metrics.RecordUnit(s.config.Environment, result.Name, result.Status, result.Duration)
	return result
}

func (s *Scheduler) recordNotRun(result *types.NodeResult) *types.NodeResult {
	result.Walk(func(n *types.NodeResult, _ int) {
		if n.Kind == types.NodeKindUnit {
			s.recordUnit(n)
		}
	})
	return result
}

func callUnit(ctx context.Context, fn types.UnitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// notRun builds the result of a subtree that was never started, marking
// every unit in it with status.
func notRun(n *types.Node, status types.TestStatus, reason error) *types.NodeResult {
	now := time.Now()
	result := &types.NodeResult{
		Name:      n.Name,
		Status:    status,
		Error:     reason,
		StartTime: now,
		EndTime:   now,
	}
	if n.IsUnit() {
		result.Kind = types.NodeKindUnit
		result.Stats.Count(status)
		return result
	}

	result.Kind = types.NodeKindGroup
	result.Mode = n.Mode.Normalize()
	result.Children = make([]*types.NodeResult, len(n.Children))
	for i, child := range n.Children {
		result.Children[i] = notRun(child, status, reason)
	}
	finishGroup(result)
	result.Error = reason
	return result
}

// finishGroup derives a group's status and stats from its children.
func finishGroup(result *types.NodeResult) {
	statuses := make([]types.TestStatus, len(result.Children))
	var stats types.ResultStats
	for i, child := range result.Children {
		statuses[i] = child.Status
		stats.Add(child.Stats)
	}
	result.Status = types.AggregateStatus(statuses...)
	result.Stats = stats
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
}

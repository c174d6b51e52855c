package harness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunFunc performs one harness run
type RunFunc func(ctx context.Context) error

// PeriodicTrigger calls a RunFunc once on start and then at a fixed
// interval until stopped.
type PeriodicTrigger struct {
	interval time.Duration
	logger   log.Logger
	run      RunFunc

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPeriodicTrigger creates a trigger. The interval must be positive.
func NewPeriodicTrigger(interval time.Duration, run RunFunc, logger log.Logger) (*PeriodicTrigger, error) {
	if interval <= 0 {
		return nil, errors.New("run interval must be positive")
	}
	if run == nil {
		return nil, errors.New("run func is required")
	}
	return &PeriodicTrigger{
		interval: interval,
		logger:   logger,
		run:      run,
		done:     make(chan struct{}),
	}, nil
}

// Start runs once immediately and then periodically in the background. An
// error from the first run is returned and no periodic runs are started;
// later errors are only logged.
func (t *PeriodicTrigger) Start(ctx context.Context) error {
	t.done = make(chan struct{})
	t.running.Store(true)

	t.logger.Info("Starting periodic runs", "interval", t.interval)
	if err := t.run(ctx); err != nil {
		t.running.Store(false)
		return err
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		timer := time.NewTimer(t.interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				if !t.running.Load() {
					t.logger.Debug("Trigger stopped, exiting periodic runner")
					return
				}
				t.logger.Info("Running periodic harness run")
				if err := t.run(ctx); err != nil {
					t.logger.Error("Error in periodic run", "err", err)
				}
				timer.Reset(t.interval)

			case <-t.done:
				t.logger.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				t.logger.Debug("Context canceled, stopping periodic runner")
				t.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// Stop prevents further runs. A run in progress is not interrupted.
func (t *PeriodicTrigger) Stop() {
	if !t.running.Swap(false) {
		t.logger.Debug("Trigger already stopped, nothing to do")
		return
	}
	close(t.done)
}

// Stopped returns true if the trigger is stopped.
func (t *PeriodicTrigger) Stopped() bool {
	return !t.running.Load()
}

// WaitForShutdown blocks until the periodic runner has exited or ctx is done.
func (t *PeriodicTrigger) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Debug("Periodic runner terminated")
		return nil
	case <-ctx.Done():
		t.logger.Warn("Timed out waiting for periodic runner to terminate", "err", ctx.Err())
		return ctx.Err()
	}
}

package harness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicTriggerValidation(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	noop := func(ctx context.Context) error { return nil }

	_, err := NewPeriodicTrigger(0, noop, logger)
	assert.Error(t, err)
	_, err = NewPeriodicTrigger(time.Second, nil, logger)
	assert.Error(t, err)
}

func TestPeriodicTriggerRuns(t *testing.T) {
	calls := make(chan struct{}, 10)
	trigger, err := NewPeriodicTrigger(10*time.Millisecond, func(ctx context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, trigger.Start(ctx))
	assert.False(t, trigger.Stopped())

	// One immediate run plus three periodic ones.
	for i := 0; i < 4; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}

	trigger.Stop()
	assert.True(t, trigger.Stopped())
	require.NoError(t, trigger.WaitForShutdown(context.Background()))
	trigger.Stop()
}

func TestPeriodicTriggerFirstRunError(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	trigger, err := NewPeriodicTrigger(10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return boom
	}, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	assert.ErrorIs(t, trigger.Start(context.Background()), boom)
	assert.True(t, trigger.Stopped())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPeriodicTriggerKeepsRunningAfterErrors(t *testing.T) {
	var calls atomic.Int32
	trigger, err := NewPeriodicTrigger(10*time.Millisecond, func(ctx context.Context) error {
		if calls.Add(1) > 1 {
			return errors.New("later failure")
		}
		return nil
	}, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	trigger.Stop()
	require.NoError(t, trigger.WaitForShutdown(context.Background()))
}

func TestPeriodicTriggerContextCancel(t *testing.T) {
	trigger, err := NewPeriodicTrigger(time.Hour, func(ctx context.Context) error { return nil }, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, trigger.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, trigger.WaitForShutdown(waitCtx))
	assert.True(t, trigger.Stopped())
}

package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(size int) *Pool {
	return New("test", size, log.NewLogger(log.DiscardHandler()))
}

func TestDoBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		tasks       int
		maxExpected int64
	}{
		{name: "single slot", size: 1, tasks: 5, maxExpected: 1},
		{name: "three slots", size: 3, tasks: 10, maxExpected: 3},
		{name: "unbounded", size: 0, tasks: 8, maxExpected: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(tt.size)

			var running, peak atomic.Int64
			var wg sync.WaitGroup
			release := make(chan struct{})

			for i := 0; i < tt.tasks; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := p.Do(context.Background(), func(ctx context.Context) error {
						n := running.Add(1)
						for {
							old := peak.Load()
							if n <= old || peak.CompareAndSwap(old, n) {
								break
							}
						}
						<-release
						running.Add(-1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}

			require.Eventually(t, func() bool {
				return running.Load() == tt.maxExpected
			}, time.Second, 5*time.Millisecond)
			close(release)
			wg.Wait()

			assert.Equal(t, tt.maxExpected, peak.Load())
			assert.Equal(t, 0, p.InFlight())
		})
	}
}

func TestDoCancelledWhileWaiting(t *testing.T) {
	p := newTestPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := p.Do(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	close(release)
}

func TestSubmitNeverBlocks(t *testing.T) {
	// Submissions beyond the admission bound still start immediately.
	p := newTestPool(1)
	block := make(chan struct{})
	var started atomic.Int32

	for i := 0; i < 4; i++ {
		p.Submit(context.Background(), func(ctx context.Context) {
			started.Add(1)
			<-block
		})
	}

	require.Eventually(t, func() bool { return started.Load() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, p.InFlight())

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, 0, p.InFlight())
}

func TestSubmitDropsCancelledWork(t *testing.T) {
	p := newTestPool(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	p.Submit(ctx, func(ctx context.Context) { ran.Store(true) })
	require.NoError(t, p.Wait(context.Background()))
	assert.False(t, ran.Load())
}

func TestWaitTimesOut(t *testing.T) {
	p := newTestPool(0)
	block := make(chan struct{})
	defer close(block)
	p.Submit(context.Background(), func(ctx context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}

// Package workerpool provides the goroutine pool shared by the scheduler and
// the bounded invoker.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"
)

// Pool runs work on goroutines. Admission through Do is bounded by the pool
// size; Submit is elastic and always starts a fresh worker, so a worker that
// was abandoned by its caller can never hold up later submissions.
type Pool struct {
	name     string
	size     int
	sem      *semaphore.Weighted // nil when unbounded
	log      log.Logger
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// New creates a pool. A size <= 0 means unbounded admission.
func New(name string, size int, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.New()
	}
	p := &Pool{
		name: name,
		size: size,
		log:  logger.New("component", "workerpool", "pool", name),
	}
	if size > 0 {
		p.sem = semaphore.NewWeighted(int64(size))
	}
	return p
}

// Size returns the admission bound, or 0 when unbounded.
func (p *Pool) Size() int {
	if p.size <= 0 {
		return 0
	}
	return p.size
}

// Do runs fn on the calling goroutine once a slot is free. It blocks until a
// slot is acquired or ctx is done, in which case fn is not run and the
// context error is returned.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p.track(1)
	defer p.track(-1)
	return fn(ctx)
}

// Submit starts fn on a new worker goroutine and returns immediately. If ctx
// is already done by the time the worker starts, fn is dropped.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if ctx.Err() != nil {
			p.log.Debug("Dropping task submitted with a finished context", "err", ctx.Err())
			return
		}
		p.track(1)
		defer p.track(-1)
		fn(ctx)
	}()
}

// InFlight returns the number of tasks currently running.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Wait blocks until every submitted worker has returned or ctx is done.
// Workers abandoned after a timeout keep running until their task returns,
// so Wait is how shutdown observes them.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.log.Warn("Gave up waiting for workers", "in_flight", p.InFlight())
		return ctx.Err()
	}
}

func (p *Pool) track(delta int64) {
	n := p.inFlight.Add(delta)
	metrics.RecordPoolInFlight(p.name, int(n))
}

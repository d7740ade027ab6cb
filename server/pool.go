package server

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 20

// Pool runs tasks on at most size goroutines at a time.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewPool creates pool of given size. Non-positive size means
// DefaultWorkers.
func NewPool(size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
		log:  log,
	}
}

// Size returns the maximum number of concurrently running tasks.
func (p *Pool) Size() int { return p.size }

// Schedule runs task on a free worker. When all workers are busy it waits
// for one to be released; waiting callers are served in order. It returns
// ctx.Err() if ctx is done before a worker is available, in which case task
// is not run.
//
// A panic inside task is recovered and logged, the worker is released.
func (p *Pool) Schedule(ctx context.Context, task func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if rec := recover(); rec != nil {
				p.log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("worker panic recovered")
			}
		}()
		task()
	}()
	return nil
}

// Wait blocks until all scheduled tasks are done or ctx is done.
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
		return ctx.Err()
	}
}

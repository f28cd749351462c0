package engine

import (
	"context"
	"sync"
)

// batchPool evaluates the items of a batch on a fixed set of goroutines
type batchPool struct {
	jobs    chan func()
	workers sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func newBatchPool(workers int) *batchPool {
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	p := &batchPool{jobs: make(chan func(), workers*4)}
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.workers.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Run calls fn for every index in [0, n) and returns when all calls have
// finished. Items that cannot be queued, because the pool is stopped or ctx
// is done, run on the calling goroutine.
func (p *batchPool) Run(ctx context.Context, n int, fn func(i int)) {
	var pending sync.WaitGroup
	pending.Add(n)

	p.mu.RLock()
	for i := 0; i < n; i++ {
		i := i
		job := func() {
			defer pending.Done()
			fn(i)
		}
		if p.stopped {
			job()
			continue
		}
		select {
		case p.jobs <- job:
		case <-ctx.Done():
			job()
		}
	}
	p.mu.RUnlock()

	pending.Wait()
}

// Stop lets queued items finish and waits for the workers to exit
func (p *batchPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.workers.Wait()
}

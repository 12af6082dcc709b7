// Package workers runs explorations in child processes with a bounded
// number alive at once.
package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/symsteer/internal/ctxlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Process is a started child.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. A non-zero exit status is an
	// error.
	Wait() error
}

// Spawner starts child processes.
type Spawner interface {
	Spawn(ctx context.Context, args []string) (Process, error)
}

// Pool keeps at most max workers alive. A worker frees its slot when it
// exits, whether or not it succeeded; failures are counted apart so the
// caller can tell a clean drain from a lossy one.
type Pool struct {
	spawner Spawner
	sem     *semaphore.Weighted
	group   errgroup.Group

	mu       sync.Mutex
	alive    map[int]Process
	exited   int
	failures int
}

// NewPool creates a pool. max below one is treated as one.
func NewPool(max int, s Spawner) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		spawner: s,
		sem:     semaphore.NewWeighted(int64(max)),
		alive:   make(map[int]Process),
	}
}

// Fork starts a worker and returns its pid. While the pool is full it blocks
// until a worker exits or ctx is done.
func (p *Pool) Fork(ctx context.Context, args ...string) (int, error) {
	logger := ctxlog.FromContext(ctx)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("waiting for a free worker slot: %w", err)
	}
	proc, err := p.spawner.Spawn(ctx, args)
	if err != nil {
		p.sem.Release(1)
		return 0, fmt.Errorf("spawning worker: %w", err)
	}
	pid := proc.Pid()

	p.mu.Lock()
	p.alive[pid] = proc
	p.mu.Unlock()
	logger.Debug("Worker started.", "pid", pid, "args", args)

	p.group.Go(func() error {
		defer p.sem.Release(1)
		err := proc.Wait()

		p.mu.Lock()
		delete(p.alive, pid)
		p.exited++
		if err != nil {
			p.failures++
		}
		p.mu.Unlock()

		if err != nil {
			logger.Warn("Worker failed, slot released.", "pid", pid, "error", err)
			return fmt.Errorf("worker %d: %w", pid, err)
		}
		logger.Debug("Worker exited.", "pid", pid)
		return nil
	})
	return pid, nil
}

// Alive returns the pids of the running workers.
func (p *Pool) Alive() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.alive))
	for pid := range p.alive {
		out = append(out, pid)
	}
	return out
}

// Exited returns how many workers have finished, failures included.
func (p *Pool) Exited() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Failed returns how many workers exited with an error.
func (p *Pool) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Wait blocks until every worker has exited and returns the first failure.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

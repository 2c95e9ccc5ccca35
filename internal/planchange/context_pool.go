package planchange

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/dreamware/clustercomm/internal/database"
)

// ExecContext is an execution context borrowed from a ScriptingEnvironment.
type ExecContext struct {
	slot   int
	db     *database.Database
	exited atomic.Bool
}

// Database returns the database the context was entered for.
func (ec *ExecContext) Database() *database.Database { return ec.db }

// Slot identifies the pool slot backing the context.
func (ec *ExecContext) Slot() int { return ec.slot }

// ContextPool is a fixed-size ScriptingEnvironment. EnterContext blocks
// until a slot is free and fails once the pool is closed.
type ContextPool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	size int
	mu   sync.Mutex
	free []int
}

// NewContextPool returns a pool of size contexts. size below 1 means 1.
func NewContextPool(size int) *ContextPool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	free := make([]int, size)
	for i := range free {
		free[i] = size - 1 - i
	}
	return &ContextPool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
		size:   size,
		free:   free,
	}
}

// EnterContext blocks until a context is free and binds it to db. It
// reports false once the pool is closed.
func (p *ContextPool) EnterContext(db *database.Database) (*ExecContext, bool) {
	if db == nil || p.closed.Load() {
		return nil, false
	}
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return nil, false
	}
	if p.closed.Load() {
		p.sem.Release(1)
		return nil, false
	}

	p.mu.Lock()
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	return &ExecContext{slot: slot, db: db}, true
}

// ExitContext returns ec to the pool. Exiting twice is a no-op.
func (p *ContextPool) ExitContext(ec *ExecContext) {
	if ec == nil || !ec.exited.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, ec.slot)
	p.mu.Unlock()
	p.sem.Release(1)
}

// InUse reports borrowed contexts.
func (p *ContextPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.free)
}

// Close fails pending and future EnterContext calls.
func (p *ContextPool) Close() {
	p.closed.Store(true)
	p.cancel()
}

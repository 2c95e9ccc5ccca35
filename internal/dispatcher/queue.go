// Package dispatcher runs background jobs on a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull   = errors.New("dispatcher: queue full")
	ErrQueueClosed = errors.New("dispatcher: queue closed")
)

// Scheduler is what a job sees of the queue during cleanup.
type Scheduler interface {
	RemoveJob(id string)
}

// Job is a unit of background work. Work runs on a worker goroutine;
// Cleanup runs right after it and must deregister the job.
type Job interface {
	ID() string
	Work()
	Cancel() bool
	Cleanup(s Scheduler)
}

// Queue is a bounded job queue drained by a fixed number of workers.
type Queue struct {
	log     *zap.Logger
	workers int
	ch      chan Job

	mu      sync.Mutex
	pending map[string]Job
	closed  bool

	g *errgroup.Group
}

// NewQueue returns a queue holding at most capacity pending jobs and run by
// workers goroutines once Start is called. Fewer than one worker means one.
func NewQueue(workers, capacity int, log *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		log:     log,
		workers: workers,
		ch:      make(chan Job, capacity),
		pending: make(map[string]Job),
	}
}

// Start launches the workers. They exit when ctx is done or the queue is
// shut down.
func (q *Queue) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	q.g = g
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-q.ch:
					if !ok {
						return nil
					}
					q.run(job)
				}
			}
		})
	}
}

func (q *Queue) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("job panicked", zap.String("job_id", job.ID()), zap.Any("panic", r))
			q.RemoveJob(job.ID())
		}
	}()
	job.Work()
	job.Cleanup(q)
}

// Submit enqueues job without blocking.
func (q *Queue) Submit(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.pending[job.ID()] = job
		return nil
	default:
		return ErrQueueFull
	}
}

// RemoveJob deregisters a finished job.
func (q *Queue) RemoveJob(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

// Len reports jobs submitted and not yet cleaned up.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown refuses new jobs, lets workers drain what is queued and waits
// for them.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	if q.g != nil {
		_ = q.g.Wait()
	}
}

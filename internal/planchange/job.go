package planchange

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/dispatcher"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/metrics"
)

// State is a job's lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateQueued
	StateRunning
	StateCompleted
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCleanedUp:
		return "cleaned_up"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Submitter accepts jobs for background execution.
type Submitter interface {
	Submit(job dispatcher.Job) error
}

// Job is one plan change application.
type Job struct {
	id        string
	c         *Coordinator
	log       *zap.Logger
	state     atomic.Int32
	abandoned atomic.Bool
}

var _ dispatcher.Job = (*Job)(nil)

// ID is the job's uuid.
func (j *Job) ID() string { return j.id }

// State returns where the job is in its lifecycle.
func (j *Job) State() State { return State(j.state.Load()) }

// Abandoned reports whether Abandon was called.
func (j *Job) Abandoned() bool { return j.abandoned.Load() }

// Abandon makes the job skip execution if it has not entered the critical
// section yet. Its outcome is then reported as a failure.
func (j *Job) Abandon() { j.abandoned.Store(true) }

// Enqueue hands the job to s.
func (j *Job) Enqueue(s Submitter) error {
	if !j.state.CompareAndSwap(int32(StateCreated), int32(StateQueued)) {
		return fmt.Errorf("planchange: job %s is %s, not created", j.id, j.State())
	}
	if err := s.Submit(j); err != nil {
		j.state.Store(int32(StateCreated))
		return err
	}
	return nil
}

// Work runs the job. When the node is shutting down it returns without
// touching the monitor. Otherwise it marks the node ready, executes under
// the coordinator lock and reports the outcome once.
func (j *Job) Work() {
	j.state.Store(int32(StateRunning))
	defer j.state.Store(int32(StateCompleted))

	if j.c.shutdown() {
		j.log.Debug("skipping plan change during shutdown", logger.JobID(j.id))
		metrics.PlanChangeJobs.WithLabelValues("skipped").Inc()
		return
	}

	j.c.monitor.SetReady()
	ok := j.runExclusive()
	j.c.monitor.ReportJobOutcome(ok)
}

// runExclusive holds the coordinator lock for the whole critical section.
// A panic anywhere inside it counts as a failed plan change.
func (j *Job) runExclusive() (ok bool) {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()

	if j.abandoned.Load() {
		j.log.Info("plan change abandoned", logger.JobID(j.id))
		metrics.PlanChangeJobs.WithLabelValues("abandoned").Inc()
		return false
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("plan change panicked", logger.JobID(j.id), zap.Any("panic", r))
			ok = false
		}
		metrics.PlanChangeDuration.Observe(time.Since(start).Seconds())
		if ok {
			metrics.PlanChangeJobs.WithLabelValues("success").Inc()
		} else {
			metrics.PlanChangeJobs.WithLabelValues("failure").Inc()
		}
	}()
	return j.execute()
}

// execute must be called with the coordinator lock held.
func (j *Job) execute() bool {
	c := j.c

	db, found := c.registry.AcquireActiveDatabase()
	if !found {
		j.log.Error("no active database for plan change", logger.JobID(j.id))
		return false
	}
	defer c.registry.Release(db)

	ec, entered := c.scripting.EnterContext(db)
	if !entered {
		j.log.Error("no scripting context for plan change", logger.JobID(j.id))
		return false
	}
	defer c.scripting.ExitContext(ec)

	if c.topology != nil {
		defer c.topology.Flush()
	}

	if err := c.applier.Apply(ec); err != nil {
		j.log.Error("plan change failed", logger.JobID(j.id), zap.Error(err))
		return false
	}
	return true
}

// Cancel is not supported; a running plan change always finishes.
func (j *Job) Cancel() bool { return false }

// Cleanup deregisters the job. It is valid once, after Work completed.
func (j *Job) Cleanup(s dispatcher.Scheduler) {
	if !j.state.CompareAndSwap(int32(StateCompleted), int32(StateCleanedUp)) {
		panic(fmt.Sprintf("planchange: cleanup of job %s in state %s", j.id, j.State()))
	}
	s.RemoveJob(j.id)
}

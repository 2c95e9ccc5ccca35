// Package heartbeat is the node's liveness monitor. It polls the plan
// version, dispatches plan change jobs when the node is behind and tracks
// readiness and the outcome of the last job.
package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/planchange"
)

// VersionSource returns the current plan version.
type VersionSource func(ctx context.Context) (uint64, error)

// Job is what the heartbeat dispatches.
type Job interface {
	ID() string
	Enqueue(s planchange.Submitter) error
	Abandon()
}

// Options configures a Heartbeat. Version, NewJob and Queue are required.
type Options struct {
	Interval time.Duration
	Version  VersionSource
	NewJob   func() Job
	Queue    planchange.Submitter
	Logger   *zap.Logger
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	Ready          bool   `json:"ready"`
	AppliedVersion uint64 `json:"applied_version"`
	TargetVersion  uint64 `json:"target_version"`
	LastOutcome    string `json:"last_outcome"`
	Outstanding    string `json:"outstanding_job,omitempty"`
}

// Heartbeat keeps at most one plan change job outstanding. A job is
// dispatched when the plan version moved past the applied one, when the
// previous job failed, or on the first beat.
type Heartbeat struct {
	opts   Options
	log    *zap.Logger
	ready  atomic.Bool
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	stopped     bool
	outstanding Job
	target      uint64
	applied     uint64
	ran         bool
	lastFailed  bool
	lastOutcome string
}

// New returns a stopped heartbeat. Interval defaults to one second.
func New(opts Options) *Heartbeat {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("heartbeat")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Heartbeat{
		opts:        opts,
		log:         log,
		notify:      make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		lastOutcome: "none",
	}
}

// SetReady marks the node ready to serve.
func (h *Heartbeat) SetReady() {
	if !h.ready.Swap(true) {
		h.log.Info("node is ready")
	}
}

// IsReady reports whether a plan change job has run since start.
func (h *Heartbeat) IsReady() bool { return h.ready.Load() }

// ReportJobOutcome records the result of the outstanding job. On success
// the version it was dispatched for becomes the applied version.
func (h *Heartbeat) ReportJobOutcome(success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outstanding = nil
	h.lastFailed = !success
	if success {
		h.applied = h.target
		h.lastOutcome = "success"
		h.log.Info("plan change applied", logger.PlanVersion(h.applied))
		return
	}
	h.lastOutcome = "failure"
	h.log.Warn("plan change failed, will retry", logger.PlanVersion(h.target))
}

// Notify asks for a beat ahead of the next tick.
func (h *Heartbeat) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Start runs the beat loop until ctx is done or Stop is called. It beats
// once immediately.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	h.log.Info("heartbeat started", zap.Duration("interval", h.opts.Interval))
	h.beat(ctx)

	for {
		select {
		case <-ticker.C:
			h.beat(ctx)
		case <-h.notify:
			h.beat(ctx)
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop ends the loop and abandons the outstanding job, if any.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outstanding != nil {
		h.log.Info("abandoning outstanding plan change", logger.JobID(h.outstanding.ID()))
		h.outstanding.Abandon()
	}
}

// Status returns a snapshot for /info.
func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Status{
		Ready:          h.IsReady(),
		AppliedVersion: h.applied,
		TargetVersion:  h.target,
		LastOutcome:    h.lastOutcome,
	}
	if h.outstanding != nil {
		s.Outstanding = h.outstanding.ID()
	}
	return s
}

func (h *Heartbeat) beat(ctx context.Context) {
	version, err := h.opts.Version(ctx)
	if err != nil {
		h.log.Warn("plan version unavailable", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.outstanding != nil {
		h.mu.Unlock()
		return
	}
	if h.ran && !h.lastFailed && version <= h.applied {
		h.mu.Unlock()
		return
	}
	job := h.opts.NewJob()
	h.outstanding = job
	h.target = version
	h.mu.Unlock()

	if err := job.Enqueue(h.opts.Queue); err != nil {
		h.log.Warn("could not dispatch plan change", logger.JobID(job.ID()), zap.Error(err))
		h.mu.Lock()
		if h.outstanding == job {
			h.outstanding = nil
		}
		h.mu.Unlock()
		return
	}
	h.mu.Lock()
	h.ran = true
	h.mu.Unlock()
	h.log.Debug("plan change dispatched", logger.JobID(job.ID()), logger.PlanVersion(version))
}

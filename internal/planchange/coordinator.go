package planchange

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/database"
	"github.com/dreamware/clustercomm/internal/logger"
)

// LivenessMonitor is the heartbeat side of a plan change.
type LivenessMonitor interface {
	SetReady()
	ReportJobOutcome(success bool)
}

// DatabaseRegistry hands out the node's active database.
type DatabaseRegistry interface {
	AcquireActiveDatabase() (*database.Database, bool)
	Release(db *database.Database)
}

// ScriptingEnvironment lends execution contexts bound to a database.
type ScriptingEnvironment interface {
	EnterContext(db *database.Database) (*ExecContext, bool)
	ExitContext(ec *ExecContext)
}

// ChangeApplier performs the actual plan change.
type ChangeApplier interface {
	Apply(ec *ExecContext) error
}

// ApplierFunc adapts a function to ChangeApplier.
type ApplierFunc func(ec *ExecContext) error

// Apply calls f(ec).
func (f ApplierFunc) Apply(ec *ExecContext) error { return f(ec) }

// TopologyCache is flushed after every executed change.
type TopologyCache interface {
	Flush()
}

// Options wires a Coordinator. Topology and ShuttingDown may be nil.
type Options struct {
	Monitor      LivenessMonitor
	Registry     DatabaseRegistry
	Scripting    ScriptingEnvironment
	Applier      ChangeApplier
	Topology     TopologyCache
	ShuttingDown func() bool
	Logger       *zap.Logger
}

// Coordinator owns the node-wide plan change lock and the collaborators
// every job uses.
type Coordinator struct {
	mu sync.Mutex

	monitor   LivenessMonitor
	registry  DatabaseRegistry
	scripting ScriptingEnvironment
	applier   ChangeApplier
	topology  TopologyCache
	shutdown  func() bool
	log       *zap.Logger
}

// NewCoordinator returns a coordinator for opts. It panics when Monitor,
// Registry, Scripting or Applier is nil.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Monitor == nil || opts.Registry == nil || opts.Scripting == nil || opts.Applier == nil {
		panic("planchange: monitor, registry, scripting and applier are required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("planchange")
	}
	shutdown := opts.ShuttingDown
	if shutdown == nil {
		shutdown = func() bool { return false }
	}
	return &Coordinator{
		monitor:   opts.Monitor,
		registry:  opts.Registry,
		scripting: opts.Scripting,
		applier:   opts.Applier,
		topology:  opts.Topology,
		shutdown:  shutdown,
		log:       log,
	}
}

// NewJob returns a job in state Created.
func (c *Coordinator) NewJob() *Job {
	return &Job{
		id:  uuid.NewString(),
		c:   c,
		log: c.log,
	}
}

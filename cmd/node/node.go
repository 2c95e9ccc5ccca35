package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/cluster"
	"github.com/dreamware/clustercomm/internal/config"
	"github.com/dreamware/clustercomm/internal/database"
	"github.com/dreamware/clustercomm/internal/dispatcher"
	"github.com/dreamware/clustercomm/internal/heartbeat"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/network"
	"github.com/dreamware/clustercomm/internal/planchange"
)

const planLoadTimeout = 5 * time.Second

// node wires the local database to the plan change machinery: the
// heartbeat polls the plan version and dispatches plan change jobs, which
// reconcile the hosted shards with the plan under the node-wide lock.
type node struct {
	id  string
	log *zap.Logger

	load      cluster.Loader
	db        *database.Database
	registry  *database.Registry
	topology  *cluster.Topology
	client    *network.Client
	queue     *dispatcher.Queue
	pool      *planchange.ContextPool
	planner   *planchange.Coordinator
	heartbeat *heartbeat.Heartbeat

	shuttingDown atomic.Bool
	appliedPlan  atomic.Uint64
}

func newNode(cfg *config.Config, load cluster.Loader, log *zap.Logger) *node {
	n := &node{
		id:   cfg.Node.ID,
		log:  log,
		load: load,
		db:   database.New(cfg.Node.Database),
	}
	n.registry = database.NewRegistry(n.db, log.Named("database"))
	n.topology = cluster.NewTopology(load, cfg.Node.TopologyTTL, log.Named("topology"))
	n.client = network.NewClient(network.ClientOptions{
		Timeout:     cfg.Coordinator.RequestTimeout,
		MaxInflight: cfg.Coordinator.MaxInflight,
		Logger:      log.Named("network"),
	})
	n.queue = dispatcher.NewQueue(cfg.Node.Workers, cfg.Node.QueueCapacity, log.Named("dispatcher"))
	n.pool = planchange.NewContextPool(int(cfg.Node.ScriptContexts))

	// the heartbeat is both the job source and the liveness monitor the
	// jobs report to
	n.heartbeat = heartbeat.New(heartbeat.Options{
		Interval: cfg.Node.HeartbeatInterval,
		Version:  n.planVersion,
		NewJob:   func() heartbeat.Job { return n.planner.NewJob() },
		Queue:    n.queue,
		Logger:   log.Named("heartbeat"),
	})
	n.planner = planchange.NewCoordinator(planchange.Options{
		Monitor:      n.heartbeat,
		Registry:     n.registry,
		Scripting:    n.pool,
		Applier:      planchange.ApplierFunc(n.applyPlan),
		Topology:     n.topology,
		ShuttingDown: n.shuttingDown.Load,
		Logger:       log.Named("planchange"),
	})
	return n
}

func (n *node) start(ctx context.Context) {
	n.queue.Start(ctx)
	go n.heartbeat.Start(ctx)
}

// stop refuses new plan changes, abandons the pending one and waits for
// running work before releasing resources.
func (n *node) stop() {
	n.shuttingDown.Store(true)
	n.heartbeat.Stop()
	n.queue.Shutdown()
	n.pool.Close()
	n.registry.Close()
	n.topology.Close()
	n.client.Close()
}

func (n *node) planVersion(ctx context.Context) (uint64, error) {
	snap, err := n.load(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Version, nil
}

// applyPlan makes the hosted shards match what the plan assigns to this
// node. Data of dropped shards is discarded.
func (n *node) applyPlan(ec *planchange.ExecContext) error {
	ctx, cancel := context.WithTimeout(context.Background(), planLoadTimeout)
	defer cancel()

	snap, err := n.load(ctx)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if snap == nil {
		return errors.New("load plan: empty snapshot")
	}

	db := ec.Database()
	assigned := snap.ShardsOf(n.id)
	for id, leader := range assigned {
		db.AddShard(id, leader)
	}
	for _, id := range db.ShardIDs() {
		if _, ok := assigned[id]; !ok {
			db.DropShard(id)
			n.log.Info("shard dropped", logger.ShardID(id))
		}
	}

	n.appliedPlan.Store(snap.Version)
	n.log.Info("plan applied",
		logger.PlanVersion(snap.Version),
		zap.Int("shards", len(assigned)))
	return nil
}

package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/metrics"
)

const snapshotKey = "plan"

// Loader fetches the current plan snapshot from its source of truth.
type Loader func(ctx context.Context) (*PlanSnapshot, error)

// Topology caches the latest plan snapshot. Readers get an immutable
// snapshot; Flush drops it so the next reader loads a fresh one. Concurrent
// loads after a miss collapse into a single call to the loader. A load that
// was in flight when Flush ran is not cached.
type Topology struct {
	load   Loader
	cache  *gocache.Cache
	group  singleflight.Group
	gen    atomic.Uint64
	closed atomic.Bool
	log    *zap.Logger
}

// NewTopology returns a Topology that keeps a loaded snapshot for at most ttl.
func NewTopology(load Loader, ttl time.Duration, log *zap.Logger) *Topology {
	if log == nil {
		log = logger.Named("topology")
	}
	return &Topology{
		load:  load,
		cache: gocache.New(ttl, time.Minute),
		log:   log,
	}
}

// LoaderFromURL loads snapshots with GET on a coordinator /plan URL.
func LoaderFromURL(planURL string) Loader {
	return func(ctx context.Context) (*PlanSnapshot, error) {
		var snap PlanSnapshot
		if err := GetJSON(ctx, planURL, &snap); err != nil {
			return nil, err
		}
		return &snap, nil
	}
}

// Snapshot returns the cached snapshot, loading it on a miss. It fails with
// errcode.ShuttingDown once Close was called.
func (t *Topology) Snapshot(ctx context.Context) (*PlanSnapshot, error) {
	if t.closed.Load() {
		return nil, errcode.ErrShuttingDown
	}
	if v, ok := t.cache.Get(snapshotKey); ok {
		return v.(*PlanSnapshot), nil
	}

	v, err, _ := t.group.Do(snapshotKey, func() (any, error) {
		if v, ok := t.cache.Get(snapshotKey); ok {
			return v, nil
		}
		gen := t.gen.Load()
		snap, err := t.load(ctx)
		if err != nil {
			metrics.TopologyLoads.WithLabelValues("error").Inc()
			return nil, err
		}
		if snap == nil {
			metrics.TopologyLoads.WithLabelValues("error").Inc()
			return nil, errors.New("topology loader returned no snapshot")
		}
		metrics.TopologyLoads.WithLabelValues("ok").Inc()
		if t.gen.Load() == gen {
			t.cache.SetDefault(snapshotKey, snap)
		}
		t.log.Debug("topology loaded", logger.PlanVersion(snap.Version))
		return snap, nil
	})
	if err != nil {
		t.log.Warn("topology load failed", zap.Error(err))
		return nil, errcode.New(errcode.BackendUnavailable, "topology unavailable: %v", err)
	}
	return v.(*PlanSnapshot), nil
}

// Flush invalidates the cached snapshot.
func (t *Topology) Flush() {
	t.gen.Add(1)
	t.group.Forget(snapshotKey)
	t.cache.Delete(snapshotKey)
	metrics.TopologyFlushes.Inc()
}

// Close marks the topology as shut down; Snapshot fails from now on.
func (t *Topology) Close() {
	t.closed.Store(true)
	t.cache.Flush()
}

// Package database holds the node's active database and the registry that
// hands it out to plan-change jobs.
package database

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/shard"
)

// Database owns the shards this node hosts.
type Database struct {
	name string

	mu     sync.RWMutex
	shards map[string]*shard.Shard
}

// New returns an empty database.
func New(name string) *Database {
	return &Database{
		name:   name,
		shards: make(map[string]*shard.Shard),
	}
}

func (d *Database) Name() string { return d.name }

// AddShard creates the shard if missing and returns it. An existing shard
// keeps its data and only has its leader flag updated.
func (d *Database) AddShard(id string, leader bool) *shard.Shard {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.shards[id]; ok {
		s.SetLeader(leader)
		return s
	}
	s := shard.NewShard(id, leader)
	d.shards[id] = s
	return s
}

// GetShard returns the hosted shard with the given id.
func (d *Database) GetShard(id string) (*shard.Shard, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shards[id]
	return s, ok
}

// DropShard removes the shard. Returns false if it was not hosted here.
func (d *Database) DropShard(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.shards[id]
	if !ok {
		return false
	}
	s.SetState(shard.ShardStateDropping)
	delete(d.shards, id)
	return true
}

// ShardIDs returns hosted shard ids, sorted.
func (d *Database) ShardIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.shards))
	for id := range d.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shards returns the hosted shards ordered by id.
func (d *Database) Shards() []*shard.Shard {
	ids := d.ShardIDs()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*shard.Shard, 0, len(ids))
	for _, id := range ids {
		if s, ok := d.shards[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Registry hands out the active database with reference counting. Once
// closed, acquisition fails so shutdown can wait out in-flight users.
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	active *Database
	refs   int
	closed bool
	idle   *sync.Cond
}

// NewRegistry makes active the database handed out by the registry.
func NewRegistry(active *Database, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{active: active, log: log}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// AcquireActiveDatabase returns the active database and takes a reference.
// It reports false when the registry is closed or has no database.
func (r *Registry) AcquireActiveDatabase() (*Database, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.active == nil {
		return nil, false
	}
	r.refs++
	return r.active, true
}

// Release drops a reference taken by AcquireActiveDatabase.
func (r *Registry) Release(db *Database) {
	if db == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs == 0 {
		r.log.Error("database released more often than acquired", zap.String("database", db.Name()))
		return
	}
	r.refs--
	if r.refs == 0 {
		r.idle.Broadcast()
	}
}

// Refs reports outstanding references.
func (r *Registry) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Active returns the active database without taking a reference, or nil
// once the registry is closed. The node's HTTP handlers read shards through
// it; plan-change jobs go through AcquireActiveDatabase.
func (r *Registry) Active() *Database {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.active
}

// Close stops further acquisition and waits for outstanding references.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for r.refs > 0 {
		r.idle.Wait()
	}
}

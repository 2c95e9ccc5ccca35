package coordinator

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/clustercomm/internal/cluster"
)

var (
	ErrNoServers       = errors.New("no servers")
	ErrShardOutOfRange = errors.New("shard id out of range")
	ErrUnassigned      = errors.New("shard is not assigned")
)

// ShardAssignment is the responsible server list of one shard. Servers[0]
// is the leader; the rest are followers in promotion order.
type ShardAssignment struct {
	ShardID int      `json:"shard_id"`
	Servers []string `json:"servers"`
}

// Leader returns the first responsible server, or "" if there is none.
func (a *ShardAssignment) Leader() string {
	if len(a.Servers) == 0 {
		return ""
	}
	return a.Servers[0]
}

// ShardRegistry is the authoritative cluster plan: which servers are
// responsible for which shard, and where each server can be reached.
//
// Every mutation that changes the plan bumps Version, which nodes poll to
// decide whether they need to run a plan change. Keys map to shards with
// FNV-1a modulo the shard count, so the shard count is fixed for the life
// of the registry.
//
// Thread Safety:
// All methods are safe for concurrent use. Returned slices and snapshots
// are copies.
type ShardRegistry struct {
	mu          sync.RWMutex
	numShards   int
	replication int
	shards      map[int][]string  // shard id -> leader-first server ids
	servers     map[string]string // server id -> endpoint
	version     uint64
}

// NewShardRegistry creates an empty plan with numShards shards, each to be
// held by up to replicationFactor servers.
//
// Example:
//
//	registry := NewShardRegistry(8, 2)
//	registry.RegisterServer("node-1", "tcp://10.0.0.1:8081")
//	registry.RegisterServer("node-2", "tcp://10.0.0.2:8081")
//	registry.RebalanceShards([]string{"node-1", "node-2"})
func NewShardRegistry(numShards, replicationFactor int) *ShardRegistry {
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	return &ShardRegistry{
		numShards:   numShards,
		replication: replicationFactor,
		shards:      make(map[int][]string),
		servers:     make(map[string]string),
	}
}

// RegisterServer records or updates the endpoint of a server. Server ids
// must not contain a comma, since a comma-joined id is how a shard's whole
// server list is addressed.
func (r *ShardRegistry) RegisterServer(serverID, endpoint string) error {
	if serverID == "" || endpoint == "" {
		return errors.New("server id and endpoint are required")
	}
	if strings.Contains(serverID, ",") {
		return fmt.Errorf("server id %q contains a comma", serverID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.servers[serverID] == endpoint {
		return nil
	}
	r.servers[serverID] = endpoint
	r.version++
	return nil
}

// AssignShard replaces the responsible servers of a shard. servers must be
// non-empty and is stored leader first with duplicates removed.
func (r *ShardRegistry) AssignShard(shardID int, servers []string) error {
	if shardID < 0 || shardID >= r.numShards {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrShardOutOfRange, shardID, r.numShards)
	}
	list := dedupe(servers)
	if len(list) == 0 {
		return ErrNoServers
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Equal(r.shards[shardID], list) {
		return nil
	}
	r.shards[shardID] = list
	r.version++
	return nil
}

// GetAssignment returns a copy of the shard's assignment, or nil.
func (r *ShardRegistry) GetAssignment(shardID int) *ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	servers, ok := r.shards[shardID]
	if !ok {
		return nil
	}
	return &ShardAssignment{ShardID: shardID, Servers: slices.Clone(servers)}
}

// GetAllAssignments returns every assignment ordered by shard id.
func (r *ShardRegistry) GetAllAssignments() []*ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*ShardAssignment, 0, len(ids))
	for _, id := range ids {
		out = append(out, &ShardAssignment{ShardID: id, Servers: slices.Clone(r.shards[id])})
	}
	return out
}

// GetShardForKey maps a key to its shard. It is pure and lock-free.
func (r *ShardRegistry) GetShardForKey(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(r.numShards))
}

// GetLeaderForKey returns the shard owning key and that shard's leader.
func (r *ShardRegistry) GetLeaderForKey(key string) (int, string, error) {
	shardID := r.GetShardForKey(key)
	a := r.GetAssignment(shardID)
	if a == nil || a.Leader() == "" {
		return shardID, "", fmt.Errorf("%w: shard %d", ErrUnassigned, shardID)
	}
	return shardID, a.Leader(), nil
}

// GetServerShards returns the shards a server is responsible for, sorted.
func (r *ShardRegistry) GetServerShards(serverID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []int
	for id, servers := range r.shards {
		if slices.Contains(servers, serverID) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// NumShards returns the fixed number of shards.
func (r *ShardRegistry) NumShards() int { return r.numShards }

// ReplicationFactor returns how many servers each shard should have.
func (r *ShardRegistry) ReplicationFactor() int { return r.replication }

// Version returns the plan version. It only ever grows.
func (r *ShardRegistry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Endpoint returns the registered endpoint of a server.
func (r *ShardRegistry) Endpoint(serverID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.servers[serverID]
	return ep, ok
}

// RebalanceShards redistributes every shard round-robin across servers.
// Shard i is led by servers[i%n] and followed by the next servers in ring
// order, up to the replication factor.
//
// Current limitations:
//   - Ignores shard sizes and current placement
//   - No data migration coordination; followers start empty
func (r *ShardRegistry) RebalanceShards(servers []string) error {
	list := dedupe(servers)
	if len(list) == 0 {
		return fmt.Errorf("cannot rebalance: %w", ErrNoServers)
	}
	copies := min(r.replication, len(list))

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for shardID := 0; shardID < r.numShards; shardID++ {
		assigned := make([]string, 0, copies)
		for i := 0; i < copies; i++ {
			assigned = append(assigned, list[(shardID+i)%len(list)])
		}
		if !slices.Equal(r.shards[shardID], assigned) {
			r.shards[shardID] = assigned
			changed = true
		}
	}
	if changed {
		r.version++
	}
	return nil
}

// FailoverServer removes a server from the plan. Shards it led are taken
// over by their first follower; shards left with no server become
// unassigned. It returns the affected shard ids, sorted.
func (r *ShardRegistry) FailoverServer(serverID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []int
	for id, servers := range r.shards {
		i := slices.Index(servers, serverID)
		if i < 0 {
			continue
		}
		affected = append(affected, id)
		rest := slices.Delete(slices.Clone(servers), i, i+1)
		if len(rest) == 0 {
			delete(r.shards, id)
			continue
		}
		r.shards[id] = rest
	}
	_, known := r.servers[serverID]
	delete(r.servers, serverID)

	if len(affected) > 0 || known {
		r.version++
	}
	slices.Sort(affected)
	return affected
}

// Snapshot returns an immutable copy of the plan in wire form. Shard ids
// are rendered as decimal strings.
func (r *ShardRegistry) Snapshot() *cluster.PlanSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &cluster.PlanSnapshot{
		Version: r.version,
		Shards:  make(map[string][]string, len(r.shards)),
		Servers: make(map[string]string, len(r.servers)),
	}
	for id, servers := range r.shards {
		snap.Shards[strconv.Itoa(id)] = slices.Clone(servers)
	}
	for id, ep := range r.servers {
		snap.Servers[id] = ep
	}
	return snap
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

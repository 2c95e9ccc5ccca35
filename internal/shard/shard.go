// Package shard holds one partition of a database on a node.
package shard

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/storage"
)

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateActive means the shard is serving requests
	ShardStateActive ShardState = "active"
	// ShardStateDropping means the plan no longer assigns the shard here
	ShardStateDropping ShardState = "dropping"
)

// Shard is a data partition. Leader is true when this node is the first
// responsible server in the plan.
type Shard struct {
	ID    string
	Store storage.Store
	Stats *ShardStats

	mu     sync.RWMutex
	leader bool
	state  ShardState
}

// ShardStats tracks operational statistics for a shard
type ShardStats struct {
	Ops     OperationStats     `json:"ops"`
	Storage storage.StoreStats `json:"storage"`
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Inserts uint64 `json:"inserts"`
	Deletes uint64 `json:"deletes"`
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID       string     `json:"id"`
	Leader   bool       `json:"leader"`
	State    ShardState `json:"state"`
	KeyCount int        `json:"key_count"`
	ByteSize int        `json:"byte_size"`
}

// Document is one entry of a batch insert.
type Document struct {
	Key  string `json:"_key"`
	Body []byte `json:"-"`
}

// NewShard creates a new shard with in-memory storage
func NewShard(id string, leader bool) *Shard {
	return &Shard{
		ID:     id,
		Store:  storage.NewMemoryStore(),
		Stats:  &ShardStats{},
		leader: leader,
		state:  ShardStateActive,
	}
}

// Get returns the value stored under key.
func (s *Shard) Get(key string) ([]byte, error) {
	atomic.AddUint64(&s.Stats.Ops.Gets, 1)
	return s.Store.Get(key)
}

// Put stores value under key, replacing any previous value.
func (s *Shard) Put(key string, value []byte) error {
	atomic.AddUint64(&s.Stats.Ops.Puts, 1)
	return s.Store.Put(key, value)
}

func (s *Shard) Delete(key string) error {
	atomic.AddUint64(&s.Stats.Ops.Deletes, 1)
	return s.Store.Delete(key)
}

// ListKeys returns all keys in the shard, sorted
func (s *Shard) ListKeys() []string {
	keys := s.Store.List()
	sort.Strings(keys)
	return keys
}

// InsertMany stores docs one by one. Failures do not abort the batch; they
// are tallied per error code in the returned counter, which is nil when
// every document was stored.
func (s *Shard) InsertMany(docs []Document, overwrite bool) (int, map[errcode.Code]uint64) {
	var counter map[errcode.Code]uint64
	fail := func(c errcode.Code) {
		if counter == nil {
			counter = make(map[errcode.Code]uint64)
		}
		counter[c]++
	}

	created := 0
	for _, d := range docs {
		atomic.AddUint64(&s.Stats.Ops.Inserts, 1)
		if d.Key == "" {
			fail(errcode.DocumentKeyBad)
			continue
		}
		var err error
		if overwrite {
			err = s.Store.Put(d.Key, d.Body)
		} else {
			err = s.Store.Insert(d.Key, d.Body)
		}
		switch {
		case err == nil:
			created++
		case errors.Is(err, storage.ErrKeyExists):
			fail(errcode.UniqueConstraintViolated)
		default:
			fail(errcode.Internal)
		}
	}
	return created, counter
}

// GetStats returns current shard statistics
func (s *Shard) GetStats() ShardStats {
	return ShardStats{
		Ops: OperationStats{
			Gets:    atomic.LoadUint64(&s.Stats.Ops.Gets),
			Puts:    atomic.LoadUint64(&s.Stats.Ops.Puts),
			Inserts: atomic.LoadUint64(&s.Stats.Ops.Inserts),
			Deletes: atomic.LoadUint64(&s.Stats.Ops.Deletes),
		},
		Storage: s.Store.Stats(),
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() ShardInfo {
	s.mu.RLock()
	leader, state := s.leader, s.state
	s.mu.RUnlock()

	st := s.Store.Stats()
	return ShardInfo{
		ID:       s.ID,
		Leader:   leader,
		State:    state,
		KeyCount: st.Keys,
		ByteSize: st.Bytes,
	}
}

// Leader reports whether this node leads the shard.
func (s *Shard) Leader() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader
}

// SetLeader flips leadership after a plan change.
func (s *Shard) SetLeader(leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = leader
}

func (s *Shard) State() ShardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the shard state
func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

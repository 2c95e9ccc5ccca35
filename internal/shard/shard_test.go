package shard

import (
	"bytes"
	"testing"

	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/storage"
)

// TestNewShard tests shard creation
func TestNewShard(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		leader bool
	}{
		{name: "leader shard", id: "s1", leader: true},
		{name: "follower shard", id: "s2", leader: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shard := NewShard(tt.id, tt.leader)

			if shard.ID != tt.id {
				t.Errorf("Expected shard ID %s, got %s", tt.id, shard.ID)
			}
			if shard.Leader() != tt.leader {
				t.Errorf("Expected leader=%v, got %v", tt.leader, shard.Leader())
			}
			if shard.State() != ShardStateActive {
				t.Errorf("Expected state %s, got %s", ShardStateActive, shard.State())
			}
			if shard.Store == nil || shard.Stats == nil {
				t.Error("Expected store and stats to be initialized")
			}
		})
	}
}

// TestShardOperations tests basic key operations through the shard
func TestShardOperations(t *testing.T) {
	shard := NewShard("s1", true)

	if err := shard.Put("b", []byte("2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = shard.Put("a", []byte("1"))

	value, err := shard.Get("b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(value, []byte("2")) {
		t.Errorf("Expected '2', got %s", string(value))
	}

	keys := shard.ListKeys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Expected sorted keys [a b], got %v", keys)
	}

	_ = shard.Delete("a")
	if _, err := shard.Get("a"); err != storage.ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

// TestShardInsertMany tests batch inserts and per-code failure counts
func TestShardInsertMany(t *testing.T) {
	tests := []struct {
		name        string
		existing    []string
		docs        []Document
		overwrite   bool
		wantCreated int
		wantCounter map[errcode.Code]uint64
	}{
		{
			name:        "all new",
			docs:        []Document{{Key: "a", Body: []byte("{}")}, {Key: "b", Body: []byte("{}")}},
			wantCreated: 2,
		},
		{
			name:        "duplicate and bad key",
			existing:    []string{"a"},
			docs:        []Document{{Key: "a"}, {Key: ""}, {Key: "c"}, {Key: ""}},
			wantCreated: 1,
			wantCounter: map[errcode.Code]uint64{
				errcode.UniqueConstraintViolated: 1,
				errcode.DocumentKeyBad:           2,
			},
		},
		{
			name:        "overwrite replaces existing",
			existing:    []string{"a"},
			docs:        []Document{{Key: "a", Body: []byte("new")}},
			overwrite:   true,
			wantCreated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shard := NewShard("s1", true)
			for _, k := range tt.existing {
				_ = shard.Put(k, []byte("old"))
			}

			created, counter := shard.InsertMany(tt.docs, tt.overwrite)
			if created != tt.wantCreated {
				t.Errorf("Expected %d created, got %d", tt.wantCreated, created)
			}
			if len(counter) != len(tt.wantCounter) {
				t.Fatalf("Expected counter %v, got %v", tt.wantCounter, counter)
			}
			for code, n := range tt.wantCounter {
				if counter[code] != n {
					t.Errorf("Expected %d for %s, got %d", n, code, counter[code])
				}
			}
		})
	}
}

// TestShardStats tests statistics tracking
func TestShardStats(t *testing.T) {
	shard := NewShard("s1", true)

	_ = shard.Put("k", []byte("abc"))
	_, _ = shard.Get("k")
	_, _ = shard.Get("missing")
	shard.InsertMany([]Document{{Key: "x", Body: []byte("1")}}, false)
	_ = shard.Delete("k")

	stats := shard.GetStats()
	if stats.Ops.Puts != 1 || stats.Ops.Gets != 2 || stats.Ops.Inserts != 1 || stats.Ops.Deletes != 1 {
		t.Errorf("Unexpected op counts: %+v", stats.Ops)
	}
	if stats.Storage.Keys != 1 || stats.Storage.Bytes != 1 {
		t.Errorf("Unexpected storage stats: %+v", stats.Storage)
	}

	info := shard.Info()
	if info.ID != "s1" || !info.Leader || info.KeyCount != 1 {
		t.Errorf("Unexpected info: %+v", info)
	}
}

// TestShardStateTransitions tests leader and state updates
func TestShardStateTransitions(t *testing.T) {
	shard := NewShard("s1", false)

	shard.SetLeader(true)
	shard.SetState(ShardStateDropping)

	if !shard.Leader() {
		t.Error("Expected shard to be leader")
	}
	if shard.State() != ShardStateDropping {
		t.Errorf("Expected state %s, got %s", ShardStateDropping, shard.State())
	}
}

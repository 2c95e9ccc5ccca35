// Package storage is the key-value layer under each shard of a node's
// database.
package storage

import (
	"errors"
	"sync"
)

var (
	// ErrKeyNotFound is returned when a key doesn't exist in the store
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Insert when the key is already present
	ErrKeyExists = errors.New("key already exists")
)

// Store defines the interface for key-value storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get returns ErrKeyNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// Put creates or overwrites the value for key
	Put(key string, value []byte) error

	// Insert creates key, failing with ErrKeyExists if it is present
	Insert(key string, value []byte) error

	// Delete is idempotent
	Delete(key string) error

	// List returns all keys in no particular order
	List() []string

	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int `json:"keys"`
	Bytes int `json:"bytes"`
}

// MemoryStore implements Store in memory. Values are copied on the way in
// and out.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	bytes int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return clone(value), nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(key, value)
	return nil
}

// Insert stores value under key unless the key exists, in which case it
// returns ErrKeyExists.
func (m *MemoryStore) Insert(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return ErrKeyExists
	}
	m.set(key, value)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.data[key]; exists {
		m.bytes -= len(old)
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{Keys: len(m.data), Bytes: m.bytes}
}

// set requires m.mu held for writing.
func (m *MemoryStore) set(key string, value []byte) {
	if old, exists := m.data[key]; exists {
		m.bytes -= len(old)
	}
	m.data[key] = clone(value)
	m.bytes += len(value)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

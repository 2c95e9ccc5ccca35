package storage

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		if keys := store.List(); len(keys) != 0 {
			t.Errorf("Expected empty store, got %d keys", len(keys))
		}
		if _, err := store.Get("nonexistent"); err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Put("key1", []byte("value1")); err != nil {
			t.Fatalf("Failed to put value: %v", err)
		}
		if err := store.Put("key1", []byte("value2")); err != nil {
			t.Fatalf("Failed to overwrite value: %v", err)
		}

		value, err := store.Get("key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}
		if !bytes.Equal(value, []byte("value2")) {
			t.Errorf("Expected 'value2', got %s", string(value))
		}
	})

	t.Run("insert refuses existing key", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Insert("key1", []byte("value1")); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		if err := store.Insert("key1", []byte("other")); err != ErrKeyExists {
			t.Errorf("Expected ErrKeyExists, got %v", err)
		}

		value, _ := store.Get("key1")
		if !bytes.Equal(value, []byte("value1")) {
			t.Errorf("Expected original value to survive, got %s", string(value))
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Put("key1", []byte("value1"))

		for i := 0; i < 2; i++ {
			if err := store.Delete("key1"); err != nil {
				t.Fatalf("Delete %d failed: %v", i, err)
			}
		}
		if _, err := store.Get("key1"); err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
		}
	})

	t.Run("values are copied", func(t *testing.T) {
		store := NewMemoryStore()
		in := []byte("abc")
		_ = store.Put("k", in)
		in[0] = 'z'

		out, _ := store.Get("k")
		out[1] = 'z'

		again, _ := store.Get("k")
		if string(again) != "abc" {
			t.Errorf("Expected stored value to be isolated, got %s", string(again))
		}
	})
}

// TestMemoryStoreStats tests key and byte accounting
func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()

	_ = store.Put("a", []byte("12345"))
	_ = store.Put("b", []byte("12"))
	_ = store.Put("a", []byte("1"))

	stats := store.Stats()
	if stats.Keys != 2 {
		t.Errorf("Expected 2 keys, got %d", stats.Keys)
	}
	if stats.Bytes != 3 {
		t.Errorf("Expected 3 bytes, got %d", stats.Bytes)
	}

	_ = store.Delete("b")
	if stats = store.Stats(); stats.Bytes != 1 || stats.Keys != 1 {
		t.Errorf("Expected 1 key / 1 byte after delete, got %+v", stats)
	}
}

// TestMemoryStoreConcurrency tests that concurrent inserts of the same key
// let exactly one writer win
func TestMemoryStoreConcurrency(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Insert("contended", []byte(fmt.Sprint(i))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
			_ = store.Put(fmt.Sprintf("key-%d", i), []byte("v"))
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one winning insert, got %d", wins)
	}
	if n := len(store.List()); n != 51 {
		t.Errorf("Expected 51 keys, got %d", n)
	}
}

// TestStoreInterface verifies MemoryStore satisfies Store
func TestStoreInterface(t *testing.T) {
	var _ Store = NewMemoryStore()
}

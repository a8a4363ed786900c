// Package local provides the device-resident key-value store that backs every
// read in rostersync.
//
// The store is the first stop for all reads: a value present here is returned
// to callers without waiting on the network. It is deliberately forgiving:
//
//   - A missing key is reported as absent, never as an error.
//   - A value that cannot be decoded is reported as absent, never as an error.
//   - Storage failures during reads are logged and reported as absent.
//
// Records are created on first write and overwritten in place. This package
// never deletes a record.
//
// Two implementations are provided:
//
//	store, err := local.Open(".roster/local.db", nil) // durable, SQLite
//	store := local.NewMemoryStore()                   // process-lifetime only
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrClosed is returned by Set when the store has been closed.
var ErrClosed = errors.New("local store closed")

// Store is a synchronous key-value store scoped to this device.
//
// Implementations must be safe for concurrent use. Get must never block on
// anything but the local disk.
type Store interface {
	// Get returns the raw stored value for key. The boolean is false when
	// the key has no record or the record could not be read.
	Get(key string) (string, bool)

	// Set writes value under key, replacing any previous value.
	Set(key, value string) error

	// Keys lists every key that currently has a record, sorted.
	Keys() ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Load reads key from s and decodes it as JSON into a T.
//
// Decode failures are treated exactly like a missing key: the zero T and
// false are returned. Corrupted entries therefore never surface to callers.
func Load[T any](s Store, key string) (T, bool) {
	var v T
	raw, ok := s.Get(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Save encodes v as JSON and stores it under key.
func Save[T any](s Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// MemoryStore is a Store held entirely in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.Get.
func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set implements Store.Set.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	return nil
}

// Keys implements Store.Keys.
func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.Close.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

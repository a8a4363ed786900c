package remote

import (
	"context"
	"sync"
	"time"
)

type memoryDoc struct {
	data    Document
	updated time.Time
}

// MemoryBackend is a Backend held in process memory.
//
// It is the reference implementation of the Backend contract and is used by
// tests and by the document service when no durable store is configured.
type MemoryBackend struct {
	mu     sync.Mutex
	docs   map[string]memoryDoc
	clock  clock
	hub    *hub
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs: make(map[string]memoryDoc),
		hub:  newHub(),
	}
}

// Get implements Backend.Get.
func (m *MemoryBackend) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(path), nil
}

func (m *MemoryBackend) snapshotLocked(path string) Snapshot {
	doc, ok := m.docs[path]
	if !ok {
		return Snapshot{Path: path}
	}
	return Snapshot{Path: path, Data: clone(doc.data), UpdateTime: doc.updated}
}

// Set implements Backend.Set.
func (m *MemoryBackend) Set(ctx context.Context, path string, data Document) error {
	return m.BatchSet(ctx, map[string]Document{path: data})
}

// Create implements Backend.Create.
func (m *MemoryBackend) Create(ctx context.Context, path string, data Document) (bool, error) {
	if err := ValidatePath(path); err != nil {
		return false, err
	}
	norm, err := normalize(data)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, exists := m.docs[path]; exists {
		return false, nil
	}
	m.applyLocked(path, norm, m.clock.now())
	return true, nil
}

// BatchSet implements Backend.BatchSet.
func (m *MemoryBackend) BatchSet(ctx context.Context, writes map[string]Document) error {
	normalized := make(map[string]Document, len(writes))
	for path, data := range writes {
		if err := ValidatePath(path); err != nil {
			return err
		}
		norm, err := normalize(data)
		if err != nil {
			return err
		}
		normalized[path] = norm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := m.clock.now()
	for path, data := range normalized {
		m.applyLocked(path, data, now)
	}
	return nil
}

// applyLocked merges data into path and notifies subscribers. Publishing
// while holding m.mu keeps every subscriber's view in write order.
func (m *MemoryBackend) applyLocked(path string, data Document, now time.Time) {
	doc := m.docs[path]
	doc.data = merge(doc.data, data)
	doc.updated = now
	m.docs[path] = doc
	m.hub.publish(Snapshot{Path: path, Data: doc.data, UpdateTime: now})
}

// Subscribe implements Backend.Subscribe.
func (m *MemoryBackend) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.hub.add(path, m.snapshotLocked(path), fn), nil
}

// Subscribers returns the number of live subscriptions.
func (m *MemoryBackend) Subscribers() int {
	return m.hub.count()
}

// Close implements Backend.Close. Live subscriptions are cancelled.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.closeAll()
	return nil
}

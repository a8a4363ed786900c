// Package remote provides the shared, organization-scoped document store that
// devices synchronize through.
//
// Architecture
//
// The package has two layers:
//
//	Client   (org-scoped, relative paths, never returns errors)
//	   ↓
//	Backend  (full paths, error-returning)
//	   ├── MemoryBackend  in-process, used by tests and single-process setups
//	   ├── SQLBackend     SQLite documents table, durable store behind the document service
//	   ├── RedisBackend   Redis hashes + Lua + PubSub
//	   └── HTTPBackend    client of the document service (REST + WebSocket)
//
// Documents
//
// A document is a JSON object addressed by a hierarchical path:
//
//	organizations/{org}/{collection}/{id}
//
// Writes are merges: fields not present in the payload are preserved. Every
// write is stamped by the backend's clock; the stamp is exposed as
// Snapshot.UpdateTime. Documents are never deleted through this package.
//
// Subscriptions
//
// Subscribe delivers the current snapshot first and then one snapshot per
// mutation, in order. Each subscription has its own delivery goroutine, so a
// slow callback never blocks writers or other subscribers. Cancelling one
// subscription does not affect others on the same path.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrInvalidPath is returned for paths that are not document paths.
	ErrInvalidPath = errors.New("invalid document path")

	// ErrClosed is returned by backends that have been closed.
	ErrClosed = errors.New("remote backend closed")
)

// Document is the structured payload of a remote document.
type Document map[string]any

// Snapshot is the state of one document at a point in time.
type Snapshot struct {
	Path       string
	Data       Document
	UpdateTime time.Time
}

// Exists reports whether the document existed when the snapshot was taken.
func (s Snapshot) Exists() bool {
	return s.Data != nil
}

// Subscription is a live registration returned by Backend.Subscribe.
type Subscription interface {
	// Cancel stops delivery. It is safe to call more than once.
	Cancel()
}

// Backend is an error-returning document store. All paths are full document
// paths as built by Join.
type Backend interface {
	// Get fetches a document. A missing document is reported as a snapshot
	// whose Exists() is false, not as an error.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Set merge-writes data into the document at path, creating it if needed.
	Set(ctx context.Context, path string, data Document) error

	// Create writes data only if no document exists at path. The check and
	// the write are atomic. It reports whether the document was created.
	Create(ctx context.Context, path string, data Document) (bool, error)

	// BatchSet merge-writes every document in writes atomically: either all
	// are applied or none are.
	BatchSet(ctx context.Context, writes map[string]Document) error

	// Subscribe registers fn for every change to path, starting with the
	// current snapshot.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)

	// Close releases the backend's resources.
	Close() error
}

// normalize returns a deep copy of doc in canonical JSON form: numbers become
// json.Number and nested values are plain maps and slices. Every backend
// stores normalized documents so that callers see the same shapes regardless
// of backend.
func normalize(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return DecodeDocument(bytes.NewReader(data))
}

// DecodeDocument reads one JSON object from r, keeping numbers as
// json.Number.
func DecodeDocument(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// merge copies every field of src into dst.
func merge(dst, src Document) Document {
	if dst == nil {
		dst = make(Document, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// clone returns a copy of doc that shares no maps or slices with it.
func clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Document:
		return clone(t)
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// clock issues strictly increasing timestamps for in-process backends.
type clock struct {
	last time.Time
}

func (c *clock) now() time.Time {
	t := time.Now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Package remotetest provides a conformance suite for remote.Backend
// implementations.
//
// Usage:
//
//	func TestMemoryBackend(t *testing.T) {
//	    remotetest.Run(t, func(t *testing.T) remote.Backend {
//	        return remote.NewMemoryBackend()
//	    })
//	}
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/rostersync/internal/remote"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) remote.Backend

// Wait bounds every asynchronous expectation.
const Wait = 5 * time.Second

// Recorder collects snapshots delivered to a subscription.
type Recorder struct {
	mu    sync.Mutex
	snaps []remote.Snapshot
	ch    chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{ch: make(chan struct{}, 1024)}
}

// Record is a subscription callback.
func (r *Recorder) Record(s remote.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

// Snapshots returns a copy of everything recorded so far.
func (r *Recorder) Snapshots() []remote.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]remote.Snapshot(nil), r.snaps...)
}

// WaitFor blocks until at least n snapshots were recorded.
func (r *Recorder) WaitFor(t *testing.T, n int) []remote.Snapshot {
	t.Helper()
	deadline := time.After(Wait)
	for {
		if snaps := r.Snapshots(); len(snaps) >= n {
			return snaps
		}
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d snapshots, got %d", n, len(r.Snapshots()))
		}
	}
}

// WaitUntil blocks until a recorded snapshot satisfies match.
func (r *Recorder) WaitUntil(t *testing.T, match func(remote.Snapshot) bool) remote.Snapshot {
	t.Helper()
	deadline := time.After(Wait)
	for {
		for _, s := range r.Snapshots() {
			if match(s) {
				return s
			}
		}
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot; got %v", r.Snapshots())
		}
	}
}

// Path returns a unique document path for a test.
func Path(t *testing.T, rel string) string {
	t.Helper()
	path, err := remote.Join(fmt.Sprintf("org%d", time.Now().UnixNano()), rel)
	require.NoError(t, err)
	return path
}

// Num converts a decoded number back to int64 for assertions.
func Num(t *testing.T, v any) int64 {
	t.Helper()
	n, ok := v.(json.Number)
	require.True(t, ok, "expected json.Number, got %T", v)
	i, err := n.Int64()
	require.NoError(t, err)
	return i
}

// Run exercises the Backend contract against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	open := func(t *testing.T) remote.Backend {
		b := newBackend(t)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		b := open(t)
		snap, err := b.Get(ctx, Path(t, "rosters/gold"))
		require.NoError(t, err)
		assert.False(t, snap.Exists())
	})

	t.Run("InvalidPath", func(t *testing.T) {
		b := open(t)
		_, err := b.Get(ctx, "rosters/gold")
		assert.ErrorIs(t, err, remote.ErrInvalidPath)
		assert.ErrorIs(t, b.Set(ctx, "organizations/acme/rosters", remote.Document{}), remote.ErrInvalidPath)
	})

	t.Run("SetMerges", func(t *testing.T) {
		b := open(t)
		path := Path(t, "config/culture")

		require.NoError(t, b.Set(ctx, path, remote.Document{"motto": "work", "year": 2024}))
		first, err := b.Get(ctx, path)
		require.NoError(t, err)
		require.True(t, first.Exists())

		require.NoError(t, b.Set(ctx, path, remote.Document{"motto": "play"}))
		second, err := b.Get(ctx, path)
		require.NoError(t, err)

		assert.Equal(t, "play", second.Data["motto"])
		assert.Equal(t, int64(2024), Num(t, second.Data["year"]), "merge must keep unwritten fields")
		assert.True(t, second.UpdateTime.After(first.UpdateTime), "update time must advance")
	})

	t.Run("NestedValues", func(t *testing.T) {
		b := open(t)
		path := Path(t, "rosters/gold")
		athletes := []any{map[string]any{"id": "a1", "xp": 10}}

		require.NoError(t, b.Set(ctx, path, remote.Document{"athletes": athletes}))
		snap, err := b.Get(ctx, path)
		require.NoError(t, err)

		list, ok := snap.Data["athletes"].([]any)
		require.True(t, ok, "athletes is %T", snap.Data["athletes"])
		require.Len(t, list, 1)
		first := list[0].(map[string]any)
		assert.Equal(t, "a1", first["id"])
		assert.Equal(t, int64(10), Num(t, first["xp"]))
	})

	t.Run("CreateNeverOverwrites", func(t *testing.T) {
		b := open(t)
		path := Path(t, "rosters/gold")

		created, err := b.Create(ctx, path, remote.Document{"owner": "first"})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = b.Create(ctx, path, remote.Document{"owner": "second"})
		require.NoError(t, err)
		assert.False(t, created)

		snap, err := b.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "first", snap.Data["owner"])
	})

	t.Run("ReservedCharactersInIDs", func(t *testing.T) {
		b := open(t)
		org := fmt.Sprintf("org%d", time.Now().UnixNano())
		ids := []string{"a#1", "b?x=1", "50%", "a b", "a%2Fb"}

		for _, id := range ids {
			path, err := remote.Join(org, "feedback/"+id)
			require.NoError(t, err)
			require.NoError(t, b.Set(ctx, path, remote.Document{"id": id}))
		}
		for _, id := range ids {
			path, _ := remote.Join(org, "feedback/"+id)
			snap, err := b.Get(ctx, path)
			require.NoError(t, err)
			require.True(t, snap.Exists(), id)
			assert.Equal(t, id, snap.Data["id"])
		}
		for _, neighbour := range []string{"a", "b", "50"} {
			path, _ := remote.Join(org, "feedback/"+neighbour)
			snap, err := b.Get(ctx, path)
			require.NoError(t, err)
			assert.False(t, snap.Exists(), "feedback/%s must stay untouched", neighbour)
		}
	})

	t.Run("BatchSet", func(t *testing.T) {
		b := open(t)
		gold := Path(t, "rosters/gold")
		silver := Path(t, "rosters/silver")

		require.NoError(t, b.BatchSet(ctx, map[string]remote.Document{
			gold:   {"athletes": []any{"a1"}},
			silver: {"athletes": []any{"a2"}},
		}))

		for _, p := range []string{gold, silver} {
			snap, err := b.Get(ctx, p)
			require.NoError(t, err)
			assert.True(t, snap.Exists(), p)
		}
	})

	t.Run("BatchSetRejectsInvalidPathAtomically", func(t *testing.T) {
		b := open(t)
		gold := Path(t, "rosters/gold")

		err := b.BatchSet(ctx, map[string]remote.Document{
			gold:        {"athletes": []any{}},
			"not/valid": {"x": 1},
		})
		require.Error(t, err)

		snap, err := b.Get(ctx, gold)
		require.NoError(t, err)
		assert.False(t, snap.Exists(), "no document may be written when the batch fails")
	})

	t.Run("SubscribeInitialAndChanges", func(t *testing.T) {
		b := open(t)
		path := Path(t, "rosters/gold")
		rec := NewRecorder()

		sub, err := b.Subscribe(ctx, path, rec.Record)
		require.NoError(t, err)
		defer sub.Cancel()

		first := rec.WaitFor(t, 1)
		assert.False(t, first[0].Exists(), "initial snapshot of a missing document")

		require.NoError(t, b.Set(ctx, path, remote.Document{"n": 1}))
		require.NoError(t, b.Set(ctx, path, remote.Document{"n": 2}))

		last := rec.WaitUntil(t, func(s remote.Snapshot) bool {
			return s.Exists() && fmt.Sprint(s.Data["n"]) == "2"
		})
		assert.Equal(t, path, last.Path)
	})

	t.Run("SubscriptionsAreIndependent", func(t *testing.T) {
		b := open(t)
		path := Path(t, "config/pin")
		a, c := NewRecorder(), NewRecorder()

		subA, err := b.Subscribe(ctx, path, a.Record)
		require.NoError(t, err)
		subC, err := b.Subscribe(ctx, path, c.Record)
		require.NoError(t, err)
		defer subC.Cancel()

		a.WaitFor(t, 1)
		c.WaitFor(t, 1)
		subA.Cancel()
		subA.Cancel() // idempotent

		require.NoError(t, b.Set(ctx, path, remote.Document{"value": "1234"}))
		c.WaitUntil(t, func(s remote.Snapshot) bool { return s.Exists() })

		// Give a cancelled subscription the chance to misbehave.
		time.Sleep(50 * time.Millisecond)
		for _, s := range a.Snapshots() {
			assert.False(t, s.Exists(), "cancelled subscription received a change")
		}
	})
}

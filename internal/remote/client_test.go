package remote_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/rostersync/internal/remote"
	"github.com/rosterhq/rostersync/internal/remote/remotetest"
)

// failingBackend fails every call.
type failingBackend struct{}

var errDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) (remote.Snapshot, error) {
	return remote.Snapshot{}, errDown
}
func (failingBackend) Set(context.Context, string, remote.Document) error { return errDown }
func (failingBackend) Create(context.Context, string, remote.Document) (bool, error) {
	return false, errDown
}
func (failingBackend) BatchSet(context.Context, map[string]remote.Document) error { return errDown }
func (failingBackend) Subscribe(context.Context, string, func(remote.Snapshot)) (remote.Subscription, error) {
	return nil, errDown
}
func (failingBackend) Close() error { return nil }

func newClient(t *testing.T, b remote.Backend) (*remote.Client, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	c, err := remote.NewClient(b, "acme", remote.ClientOptions{
		Timeout: time.Second,
		Logger:  log.New(&logs, "", 0),
	})
	require.NoError(t, err)
	return c, &logs
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewMemoryBackend()
	c, _ := newClient(t, backend)

	_, ok := c.Get(ctx, "rosters/gold")
	assert.False(t, ok)

	require.True(t, c.Set(ctx, "rosters/gold", remote.Document{"athletes": []any{}}))
	doc, ok := c.Get(ctx, "rosters/gold")
	require.True(t, ok)
	assert.Contains(t, doc, "athletes")

	// Paths are scoped to the organization.
	snap, err := backend.Get(ctx, "organizations/acme/rosters/gold")
	require.NoError(t, err)
	assert.True(t, snap.Exists())

	created, ok := c.Create(ctx, "rosters/gold", remote.Document{"x": 1})
	assert.True(t, ok)
	assert.False(t, created)

	assert.True(t, c.BatchSet(ctx, map[string]remote.Document{
		"rosters/silver": {"athletes": []any{}},
		"rosters/bronze": {"athletes": []any{}},
	}))
}

func TestClient_FailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	c, logs := newClient(t, failingBackend{})

	_, ok := c.Get(ctx, "rosters/gold")
	assert.False(t, ok)
	assert.False(t, c.Set(ctx, "rosters/gold", remote.Document{}))
	created, ok := c.Create(ctx, "rosters/gold", remote.Document{})
	assert.False(t, created)
	assert.False(t, ok)
	assert.False(t, c.BatchSet(ctx, map[string]remote.Document{"rosters/gold": {}}))
	cancel, ok := c.Subscribe(ctx, "rosters/gold", func(remote.Document, bool) {})
	assert.Nil(t, cancel)
	assert.False(t, ok)

	assert.Contains(t, logs.String(), "backend down")
}

func TestClient_InvalidRelativePath(t *testing.T) {
	c, logs := newClient(t, remote.NewMemoryBackend())
	assert.False(t, c.Set(context.Background(), "rosters", remote.Document{}))
	assert.Contains(t, logs.String(), "invalid document path")
}

func TestClient_NilIsDisabled(t *testing.T) {
	var c *remote.Client
	ctx := context.Background()

	assert.False(t, c.Enabled())
	_, ok := c.Get(ctx, "rosters/gold")
	assert.False(t, ok)
	assert.False(t, c.Set(ctx, "rosters/gold", remote.Document{}))
	_, ok = c.Subscribe(ctx, "rosters/gold", func(remote.Document, bool) {})
	assert.False(t, ok)
}

func TestClient_Subscribe(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t, remote.NewMemoryBackend())

	type event struct {
		doc    remote.Document
		exists bool
	}
	events := make(chan event, 10)
	cancel, ok := c.Subscribe(ctx, "config/pin", func(d remote.Document, exists bool) {
		events <- event{d, exists}
	})
	require.True(t, ok)
	defer cancel()

	select {
	case e := <-events:
		assert.False(t, e.exists)
	case <-time.After(remotetest.Wait):
		t.Fatal("no initial snapshot")
	}

	require.True(t, c.Set(ctx, "config/pin", remote.Document{"value": "1234"}))
	select {
	case e := <-events:
		assert.True(t, e.exists)
		assert.Equal(t, "1234", e.doc["value"])
	case <-time.After(remotetest.Wait):
		t.Fatal("no change delivered")
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := remote.NewClient(nil, "acme", remote.ClientOptions{})
	assert.Error(t, err)

	_, err = remote.NewClient(remote.NewMemoryBackend(), "", remote.ClientOptions{})
	assert.ErrorIs(t, err, remote.ErrInvalidPath)
}

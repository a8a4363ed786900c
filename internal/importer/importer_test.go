package importer

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
)

func newService(t *testing.T) (*roster.Service, *local.MemoryStore) {
	t.Helper()
	store := local.NewMemoryStore()
	engine := sync.New(store, nil, sync.Options{Logger: log.New(io.Discard, "", 0)})
	return roster.NewService(engine, roster.Options{}), store
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew_Validation(t *testing.T) {
	svc, _ := newService(t)
	_, err := New("", svc, nil)
	assert.Error(t, err)
	_, err = New(t.TempDir(), nil, nil)
	assert.Error(t, err)
}

func TestImportAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gold.json", `[{"id":"a1","name":"Ana"}]`)
	writeFile(t, dir, "silver.toml", "[[athletes]]\nid = \"a2\"\nname = \"Ben\"\n")
	writeFile(t, dir, "bronze.json", `[{"id":"a3"}]`) // invalid, no name
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0755))

	svc, store := newService(t)
	w, err := New(dir, svc, testConfig())
	require.NoError(t, err)

	n, err := w.ImportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gold, ok := local.Load[[]roster.Athlete](store, "roster-gold")
	require.True(t, ok)
	assert.Equal(t, "gold", gold[0].Group)

	_, ok = local.Load[[]roster.Athlete](store, "roster-bronze")
	assert.False(t, ok)
}

func TestImportAll_MissingDir(t *testing.T) {
	svc, _ := newService(t)
	w, err := New(filepath.Join(t.TempDir(), "nope"), svc, testConfig())
	require.NoError(t, err)

	n, err := w.ImportAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportFile_GroupRestriction(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "diamond.json", `[{"id":"a1","name":"Ana"}]`)

	svc, _ := newService(t)
	cfg := testConfig()
	cfg.Groups = roster.DefaultGroups
	w, err := New(dir, svc, cfg)
	require.NoError(t, err)

	err = w.ImportFile(context.Background(), path)
	assert.ErrorContains(t, err, "not configured")
}

func TestRun_ImportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gold.json", `[{"id":"a1","name":"Ana"}]`)

	svc, store := newService(t)
	cfg := testConfig()
	var (
		mu     gosync.Mutex
		groups []string
	)
	cfg.OnImport = func(group string, athletes int, w *sync.Write) {
		mu.Lock()
		defer mu.Unlock()
		groups = append(groups, group)
		assert.Equal(t, sync.StatusLocalOnly, w.Status())
	}
	w, err := New(dir, svc, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := store.Get("roster-gold")
		return ok
	}, 5*time.Second, 10*time.Millisecond, "initial import")

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, dir, "silver.json", `{"athletes":[{"id":"a2","name":"Ben","xp":5}]}`)

	require.Eventually(t, func() bool {
		a, ok := local.Load[[]roster.Athlete](store, "roster-silver")
		return ok && len(a) == 1 && a[0].XP == 5
	}, 5*time.Second, 10*time.Millisecond, "watched import")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, groups, "gold")
	assert.Contains(t, groups, "silver")
}

func TestDue_Debounces(t *testing.T) {
	svc, _ := newService(t)
	w, err := New(t.TempDir(), svc, &Config{DebounceInterval: time.Second, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)

	now := time.Now()
	w.queueChange("/x/gold.json")
	w.queueChange("/x/gold.json")
	assert.Equal(t, 1, w.Pending())

	assert.Empty(t, w.due(now))
	assert.Equal(t, []string{"/x/gold.json"}, w.due(now.Add(2*time.Second)))
	assert.Zero(t, w.Pending())
}

func TestRun_TinyDebounce(t *testing.T) {
	svc, _ := newService(t)
	w, err := New(t.TempDir(), svc, &Config{DebounceInterval: time.Nanosecond, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	assert.Equal(t, minPollInterval, w.pollInterval())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
}

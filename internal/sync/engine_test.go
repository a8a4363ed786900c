package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/remote"
)

type athlete struct {
	ID string `json:"id"`
	XP int    `json:"xp"`
}

var (
	quiet      = log.New(io.Discard, "", 0)
	goldRoster = Binding{Key: "roster-gold", Path: "rosters/gold", Codec: FieldCodec("athletes")}
	pinConfig  = Binding{Key: "config-pin", Path: "config/pin", Codec: FieldCodec("value")}
	wait       = 5 * time.Second
)

// downBackend fails every call, like an unreachable remote.
type downBackend struct{}

var errDown = errors.New("connection refused")

func (downBackend) Get(context.Context, string) (remote.Snapshot, error) {
	return remote.Snapshot{}, errDown
}
func (downBackend) Set(context.Context, string, remote.Document) error { return errDown }
func (downBackend) Create(context.Context, string, remote.Document) (bool, error) {
	return false, errDown
}
func (downBackend) BatchSet(context.Context, map[string]remote.Document) error { return errDown }
func (downBackend) Subscribe(context.Context, string, func(remote.Snapshot)) (remote.Subscription, error) {
	return nil, errDown
}
func (downBackend) Close() error { return nil }

// pushBackend lets a test deliver snapshots to subscribers directly.
type pushBackend struct {
	*remote.MemoryBackend
	mu  gosync.Mutex
	fns []func(remote.Snapshot)
}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}

func (p *pushBackend) Subscribe(_ context.Context, _ string, fn func(remote.Snapshot)) (remote.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fns = append(p.fns, fn)
	return noopSubscription{}, nil
}

func (p *pushBackend) emit(s remote.Snapshot) {
	p.mu.Lock()
	var fns []func(remote.Snapshot)
	fns = append(fns, p.fns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func newEngine(t *testing.T, store local.Store, backend remote.Backend) *Engine {
	t.Helper()
	var client *remote.Client
	if backend != nil {
		var err error
		client, err = remote.NewClient(backend, "acme", remote.ClientOptions{Timeout: time.Second, Logger: quiet})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
	}
	e := New(store, client, Options{Logger: quiet})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		_ = e.Drain(ctx)
	})
	return e
}

func drain(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}

func remoteDoc(t *testing.T, b remote.Backend, rel string) remote.Snapshot {
	t.Helper()
	path, err := remote.Join("acme", rel)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	snap, err := b.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get %s failed: %v", path, err)
	}
	return snap
}

func mustSave(t *testing.T, store local.Store, key string, v any) {
	t.Helper()
	if err := local.Save(store, key, v); err != nil {
		t.Fatalf("Save %s failed: %v", key, err)
	}
}

func mustSet(t *testing.T, b remote.Backend, path string, doc remote.Document) {
	t.Helper()
	if err := b.Set(context.Background(), path, doc); err != nil {
		t.Fatalf("Set %s failed: %v", path, err)
	}
}

// firstID returns the id of the first athlete in a remote roster document.
func firstID(t *testing.T, snap remote.Snapshot) any {
	t.Helper()
	list, ok := snap.Data["athletes"].([]any)
	if !ok || len(list) == 0 {
		t.Fatalf("athletes = %#v, want a non-empty list", snap.Data["athletes"])
	}
	return list[0].(map[string]any)["id"]
}

func TestSave_LocalReadAfterWrite(t *testing.T) {
	roster := []athlete{{ID: "a1", XP: 10}}

	tests := []struct {
		name    string
		backend remote.Backend
		want    Status
	}{
		{name: "remote available", backend: remote.NewMemoryBackend(), want: StatusWritten},
		{name: "remote down", backend: downBackend{}, want: StatusFailed},
		{name: "no remote", backend: nil, want: StatusLocalOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := local.NewMemoryStore()
			e := newEngine(t, store, tt.backend)

			w := Save(context.Background(), e, goldRoster, roster)

			got, ok := local.Load[[]athlete](store, "roster-gold")
			if !ok {
				t.Fatal("local record missing right after Save")
			}
			if !reflect.DeepEqual(got, roster) {
				t.Errorf("local record = %+v, want %+v", got, roster)
			}

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()
			out := w.Wait(ctx)
			if out.Status != tt.want {
				t.Errorf("Wait status = %s, want %s", out.Status, tt.want)
			}
			if w.Status() != tt.want {
				t.Errorf("Status() = %s, want %s", w.Status(), tt.want)
			}
			if tt.want == StatusFailed && !errors.Is(out.Err, ErrRemoteWrite) {
				t.Errorf("Err = %v, want ErrRemoteWrite", out.Err)
			}
		})
	}
}

func TestSave_RemoteReceivesEnvelope(t *testing.T) {
	backend := remote.NewMemoryBackend()
	e := newEngine(t, local.NewMemoryStore(), backend)

	Save(context.Background(), e, goldRoster, []athlete{{ID: "a1", XP: 10}})
	drain(t, e)

	snap := remoteDoc(t, backend, "rosters/gold")
	if !snap.Exists() {
		t.Fatal("remote roster not written")
	}
	if id := firstID(t, snap); id != "a1" {
		t.Errorf("remote athlete id = %v, want a1", id)
	}
}

func TestSave_LocalFailureSkipsRemote(t *testing.T) {
	store := local.NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	backend := remote.NewMemoryBackend()
	e := newEngine(t, store, backend)

	w := Save(context.Background(), e, goldRoster, []athlete{{ID: "a1"}})
	if w.Status() != StatusFailed {
		t.Errorf("Status() = %s, want failed", w.Status())
	}
	if err := w.Wait(context.Background()).Err; !errors.Is(err, local.ErrClosed) {
		t.Errorf("Err = %v, want local.ErrClosed", err)
	}

	drain(t, e)
	if remoteDoc(t, backend, "rosters/gold").Exists() {
		t.Error("remote must not be written when the local write fails")
	}
}

func TestSave_SurvivesCallerCancellation(t *testing.T) {
	backend := remote.NewMemoryBackend()
	e := newEngine(t, local.NewMemoryStore(), backend)

	ctx, cancel := context.WithCancel(context.Background())
	w := Save(ctx, e, pinConfig, "1234")
	cancel()

	if out := w.Wait(context.Background()); out.Status != StatusWritten {
		t.Fatalf("status = %s (%v), want written", out.Status, out.Err)
	}
	if got := remoteDoc(t, backend, "config/pin").Data["value"]; got != "1234" {
		t.Errorf("remote pin = %v, want 1234", got)
	}
}

func TestLoad_WarmsCacheOnRemoteHit(t *testing.T) {
	backend := remote.NewMemoryBackend()
	mustSet(t, backend, "organizations/acme/rosters/gold",
		remote.Document{"athletes": []any{map[string]any{"id": "a1", "xp": 7}}})

	store := local.NewMemoryStore()
	e := newEngine(t, store, backend)

	got, ok := Load[[]athlete](context.Background(), e, goldRoster)
	if !ok {
		t.Fatal("Load missed a populated remote")
	}
	want := []athlete{{ID: "a1", XP: 7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	cached, ok := local.Load[[]athlete](store, "roster-gold")
	if !ok || !reflect.DeepEqual(cached, got) {
		t.Errorf("cache = %+v (ok=%v), want %+v", cached, ok, got)
	}
}

func TestLoad_CorruptLocalFallsBackToRemote(t *testing.T) {
	backend := remote.NewMemoryBackend()
	mustSet(t, backend, "organizations/acme/rosters/gold",
		remote.Document{"athletes": []any{map[string]any{"id": "a1", "xp": 4}}})

	store := local.NewMemoryStore()
	if err := store.Set("roster-gold", "not json"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	e := newEngine(t, store, backend)

	got, ok := Load[[]athlete](context.Background(), e, goldRoster)
	if !ok {
		t.Fatal("Load must fall through to the remote when the local record is corrupt")
	}
	want := []athlete{{ID: "a1", XP: 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	cached, ok := local.Load[[]athlete](store, "roster-gold")
	if !ok {
		raw, _ := store.Get("roster-gold")
		t.Fatalf("local record still undecodable after Load: %q", raw)
	}
	if !reflect.DeepEqual(cached, want) {
		t.Errorf("cache = %+v, want %+v", cached, want)
	}

	drain(t, e)
	if id := firstID(t, remoteDoc(t, backend, "rosters/gold")); id != "a1" {
		t.Errorf("remote athlete id = %v, want a1", id)
	}
}

func TestLoad_MissEverywhere(t *testing.T) {
	store := local.NewMemoryStore()
	e := newEngine(t, store, remote.NewMemoryBackend())

	if _, ok := Load[[]athlete](context.Background(), e, goldRoster); ok {
		t.Error("Load reported a value that exists nowhere")
	}
	if _, present := store.Get("roster-gold"); present {
		t.Error("a miss must not write the local store")
	}
}

func TestLoad_RemoteDownIsAbsent(t *testing.T) {
	e := newEngine(t, local.NewMemoryStore(), downBackend{})
	if _, ok := Load[[]athlete](context.Background(), e, goldRoster); ok {
		t.Error("Load with an unreachable remote must report absence")
	}
}

func TestLoad_BackfillNeverOverwrites(t *testing.T) {
	backend := remote.NewMemoryBackend()
	mustSet(t, backend, "organizations/acme/rosters/gold",
		remote.Document{"athletes": []any{map[string]any{"id": "remote", "xp": 1}}})

	store := local.NewMemoryStore()
	localRoster := []athlete{{ID: "local", XP: 99}}
	mustSave(t, store, "roster-gold", localRoster)
	e := newEngine(t, store, backend)

	got, ok := Load[[]athlete](context.Background(), e, goldRoster)
	if !ok || !reflect.DeepEqual(got, localRoster) {
		t.Errorf("Load = %+v (ok=%v), want the local record %+v", got, ok, localRoster)
	}

	drain(t, e)
	if id := firstID(t, remoteDoc(t, backend, "rosters/gold")); id != "remote" {
		t.Errorf("remote athlete id = %v, remote document must not be overwritten", id)
	}
}

func TestLoad_BackfillsEmptyRemote(t *testing.T) {
	backend := remote.NewMemoryBackend()
	store := local.NewMemoryStore()
	mustSave(t, store, "roster-gold", []athlete{{ID: "a1"}})
	e := newEngine(t, store, backend)

	if _, ok := Load[[]athlete](context.Background(), e, goldRoster); !ok {
		t.Fatal("Load missed the local record")
	}

	drain(t, e)
	snap := remoteDoc(t, backend, "rosters/gold")
	if !snap.Exists() {
		t.Fatal("empty remote was not backfilled")
	}
	if list, _ := snap.Data["athletes"].([]any); len(list) != 1 {
		t.Errorf("backfilled athletes = %v, want 1 entry", snap.Data["athletes"])
	}
}

func TestLoad_LocalOnlyBinding(t *testing.T) {
	backend := remote.NewMemoryBackend()
	store := local.NewMemoryStore()
	mustSave(t, store, "draft", map[string]string{"a": "b"})
	e := newEngine(t, store, backend)

	got, ok := Load[map[string]string](context.Background(), e, Binding{Key: "draft"})
	if !ok || got["a"] != "b" {
		t.Errorf("Load = %v (ok=%v), want a=b", got, ok)
	}

	w := Save(context.Background(), e, Binding{Key: "draft"}, map[string]string{"a": "c"})
	if w.Status() != StatusLocalOnly {
		t.Errorf("Status() = %s, want local-only", w.Status())
	}
}

func TestPushAll_Deterministic(t *testing.T) {
	backend := remote.NewMemoryBackend()
	store := local.NewMemoryStore()
	e := newEngine(t, store, backend)

	groups := []string{"platinum", "gold", "silver", "bronze"}
	var plan PushPlan
	for _, g := range groups {
		plan.Batch = append(plan.Batch, Binding{Key: "roster-" + g, Path: "rosters/" + g, Codec: FieldCodec("athletes")})
	}
	plan.Single = []Binding{pinConfig, {Key: "config-culture", Path: "config/culture", Codec: FieldCodec("value")}}

	mustSave(t, store, "roster-gold", []athlete{{ID: "a1"}})
	mustSave(t, store, "roster-silver", []athlete{})
	mustSave(t, store, "config-pin", "1234")

	first := e.PushAll(context.Background(), plan)
	second := e.PushAll(context.Background(), plan)

	if want := (PushResult{Synced: 3, Errors: 0}); first != want {
		t.Errorf("first push = %+v, want %+v", first, want)
	}
	if first != second {
		t.Errorf("second push = %+v, want %+v", second, first)
	}
	if !remoteDoc(t, backend, "rosters/silver").Exists() {
		t.Error("empty silver roster must still be pushed")
	}
	if remoteDoc(t, backend, "rosters/bronze").Exists() {
		t.Error("bronze has no local record and must not be pushed")
	}
}

func TestPushAll_FailuresCounted(t *testing.T) {
	store := local.NewMemoryStore()
	e := newEngine(t, store, downBackend{})

	mustSave(t, store, "roster-gold", []athlete{{ID: "a1"}})
	mustSave(t, store, "config-pin", "1234")

	res := e.PushAll(context.Background(), PushPlan{Batch: []Binding{goldRoster}, Single: []Binding{pinConfig}})
	if want := (PushResult{Synced: 0, Errors: 2}); res != want {
		t.Errorf("PushAll = %+v, want %+v", res, want)
	}
}

func TestPushAll_NoRemote(t *testing.T) {
	store := local.NewMemoryStore()
	mustSave(t, store, "config-pin", "1234")
	e := newEngine(t, store, nil)

	if res := e.PushAll(context.Background(), PushPlan{Single: []Binding{pinConfig}}); res != (PushResult{}) {
		t.Errorf("PushAll without remote = %+v, want zero", res)
	}
}

func TestListen_Propagation(t *testing.T) {
	backend := remote.NewMemoryBackend()
	store := local.NewMemoryStore()
	e := newEngine(t, store, backend)

	var (
		mu    gosync.Mutex
		calls [][]athlete
	)
	got := make(chan struct{}, 10)
	l := Listen(context.Background(), e, goldRoster, func(a []athlete) {
		mu.Lock()
		calls = append(calls, a)
		mu.Unlock()
		got <- struct{}{}
	})
	if l == nil {
		t.Fatal("Listen returned nil with a remote configured")
	}
	defer l.Cancel()

	mustSet(t, backend, "organizations/acme/rosters/gold",
		remote.Document{"athletes": []any{map[string]any{"id": "a2", "xp": 3}}})

	select {
	case <-got:
	case <-time.After(wait):
		t.Fatal("callback not invoked")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("callback ran %d times, want 1 (initial absent snapshot must not reach it)", len(calls))
	}
	want := []athlete{{ID: "a2", XP: 3}}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("callback got %+v, want %+v", calls[0], want)
	}

	cached, ok := local.Load[[]athlete](store, "roster-gold")
	if !ok || !reflect.DeepEqual(cached, calls[0]) {
		t.Errorf("cache = %+v (ok=%v), want %+v", cached, ok, calls[0])
	}
}

func TestListen_AbsentPayloadKeepsLocal(t *testing.T) {
	backend := &pushBackend{MemoryBackend: remote.NewMemoryBackend()}
	store := local.NewMemoryStore()
	mustSave(t, store, "config-pin", "1234")
	e := newEngine(t, store, backend)

	calls := 0
	l := Listen(context.Background(), e, pinConfig, func(string) { calls++ })
	if l == nil {
		t.Fatal("Listen returned nil with a remote configured")
	}

	backend.emit(remote.Snapshot{Path: "organizations/acme/config/pin"})
	if calls != 0 {
		t.Errorf("absent snapshot invoked the callback")
	}

	backend.emit(remote.Snapshot{Path: "organizations/acme/config/pin", Data: remote.Document{"other": true}})
	if calls != 0 {
		t.Errorf("malformed payload invoked the callback")
	}

	if pin, ok := local.Load[string](store, "config-pin"); !ok || pin != "1234" {
		t.Errorf("local pin = %q (ok=%v), want 1234", pin, ok)
	}

	backend.emit(remote.Snapshot{Path: "organizations/acme/config/pin", Data: remote.Document{"value": "9999"}})
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestListen_Disabled(t *testing.T) {
	e := newEngine(t, local.NewMemoryStore(), nil)
	if l := Listen(context.Background(), e, goldRoster, func([]athlete) {}); l != nil {
		t.Error("Listen without a remote must return nil")
	}

	e = newEngine(t, local.NewMemoryStore(), remote.NewMemoryBackend())
	l := Listen(context.Background(), e, Binding{Key: "draft"}, func(string) {})
	if l != nil {
		t.Error("Listen on a local-only binding must return nil")
	}
	l.Cancel() // nil-safe
}

func TestListen_IndependentCancel(t *testing.T) {
	backend := remote.NewMemoryBackend()
	e := newEngine(t, local.NewMemoryStore(), backend)

	first := Listen(context.Background(), e, pinConfig, func(string) {})
	second := make(chan string, 10)
	l2 := Listen(context.Background(), e, pinConfig, func(s string) { second <- s })
	if first == nil || l2 == nil {
		t.Fatal("Listen returned nil with a remote configured")
	}
	defer l2.Cancel()

	first.Cancel()
	first.Cancel()

	mustSet(t, backend, "organizations/acme/config/pin", remote.Document{"value": "4321"})
	select {
	case v := <-second:
		if v != "4321" {
			t.Errorf("second listener got %q, want 4321", v)
		}
	case <-time.After(wait):
		t.Fatal("remaining listener stopped receiving")
	}
}

// Roster "gold" saved on one device is readable from a fresh device that has
// no local cache.
func TestGoldRosterAcrossDevices(t *testing.T) {
	backend := remote.NewMemoryBackend()
	a1 := athlete{ID: "A1", XP: 0}

	deviceA := local.NewMemoryStore()
	engineA := newEngine(t, deviceA, backend)
	w := Save(context.Background(), engineA, goldRoster, []athlete{a1})

	stored, ok := deviceA.Get("roster-gold")
	if !ok {
		t.Fatal("device A has no local record")
	}
	jsonEqual(t, `[{"id":"A1","xp":0}]`, stored)
	if out := w.Wait(context.Background()); out.Status != StatusWritten {
		t.Fatalf("status = %s (%v), want written", out.Status, out.Err)
	}

	deviceB := local.NewMemoryStore()
	engineB := newEngine(t, deviceB, backend)
	got, ok := Load[[]athlete](context.Background(), engineB, goldRoster)
	if !ok || !reflect.DeepEqual(got, []athlete{a1}) {
		t.Errorf("device B Load = %+v (ok=%v), want [%+v]", got, ok, a1)
	}
}

func TestDrain_ContextExpires(t *testing.T) {
	e := newEngine(t, local.NewMemoryStore(), nil)
	block := make(chan struct{})
	e.background(context.Background(), func(context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Drain(ctx); err == nil {
		t.Error("Drain returned nil while work was still running")
	}
	close(block)
	drain(t, e)
}

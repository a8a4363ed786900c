package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/remote"
)

// RemoteWinsOncePopulated names the reconciliation policy of Load.
//
// A local value is copied to the remote store only while the remote document
// does not exist. Once any device has populated the document, backfill never
// replaces it, and the document only changes through explicit writes (Save,
// PushAll) from some device.
const RemoteWinsOncePopulated = "remote-wins-once-populated"

// Options configures an Engine.
type Options struct {
	// Logger receives sync activity and swallowed failures.
	// Nil means stderr with a "[sync] " prefix.
	Logger *log.Logger

	// BackgroundTimeout bounds each background remote write (Save and
	// backfill). Zero means 30 seconds.
	BackgroundTimeout time.Duration
}

// Engine moves values between a local store and an optional remote store.
// It is safe for concurrent use.
type Engine struct {
	local   local.Store
	remote  *remote.Client
	logger  *log.Logger
	timeout time.Duration

	inflight gosync.WaitGroup
}

// New creates an Engine. A nil remote client makes every binding
// local-only.
//
// Example:
//
//	store, err := local.Open(".roster/local.db", nil)
//	if err != nil {
//	    return err
//	}
//	engine := sync.New(store, nil, sync.Options{})
func New(store local.Store, client *remote.Client, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = 30 * time.Second
	}
	return &Engine{
		local:   store,
		remote:  client,
		logger:  opts.Logger,
		timeout: opts.BackgroundTimeout,
	}
}

// Local returns the engine's local store.
func (e *Engine) Local() local.Store {
	return e.local
}

// Remote returns the engine's remote client, which may be nil.
func (e *Engine) Remote() *remote.Client {
	return e.remote
}

// RemoteEnabled reports whether a remote store is configured.
func (e *Engine) RemoteEnabled() bool {
	return e.remote.Enabled()
}

func (e *Engine) syncs(b Binding) bool {
	return b.Path != "" && e.remote.Enabled()
}

// background runs fn detached from the caller's cancellation, bounded by the
// engine's background timeout. Drain waits for it.
func (e *Engine) background(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer cancel()
		fn(ctx)
	}()
}

// Drain waits until every background remote write started so far has
// finished, or ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain background writes: %w", ctx.Err())
	}
}

// Save writes v under b.Key locally, then merge-writes it to b.Path in the
// background. The local write has completed when Save returns; the remote
// outcome is available through the returned Write.
func Save[T any](ctx context.Context, e *Engine, b Binding, v T) *Write {
	raw, err := json.Marshal(v)
	if err != nil {
		return resolvedWrite(b, Outcome{Status: StatusFailed, Err: fmt.Errorf("failed to encode %s: %w", b.Key, err)})
	}
	return e.saveRaw(ctx, b, raw)
}

func (e *Engine) saveRaw(ctx context.Context, b Binding, raw []byte) *Write {
	if err := e.local.Set(b.Key, string(raw)); err != nil {
		e.logger.Printf("WARNING: local write %s failed: %v", b.Key, err)
		return resolvedWrite(b, Outcome{Status: StatusFailed, Err: fmt.Errorf("failed to write %s locally: %w", b.Key, err)})
	}
	if !e.syncs(b) {
		return resolvedWrite(b, Outcome{Status: StatusLocalOnly})
	}

	doc, err := b.codec().Encode(raw)
	if err != nil {
		e.logger.Printf("WARNING: cannot shape %s for remote: %v", b, err)
		remoteWrites.WithLabelValues("failed").Inc()
		return resolvedWrite(b, Outcome{Status: StatusFailed, Err: err})
	}

	w := newWrite(b)
	e.background(ctx, func(ctx context.Context) {
		if !e.remote.Set(ctx, b.Path, doc) {
			remoteWrites.WithLabelValues("failed").Inc()
			w.resolve(Outcome{Status: StatusFailed, Err: fmt.Errorf("%w: %s", ErrRemoteWrite, b.Path)})
			return
		}
		remoteWrites.WithLabelValues("written").Inc()
		w.resolve(Outcome{Status: StatusWritten})
	})
	return w
}

// Load returns the value bound to b.
//
// A local record is returned immediately, and a backfill is scheduled that
// copies it to b.Path only if no remote document exists there. Without a
// local record Load fetches b.Path, stores the result locally and returns
// it. Remote failures and undecodable values are reported as absent.
func Load[T any](ctx context.Context, e *Engine, b Binding) (T, bool) {
	if v, ok := local.Load[T](e.local, b.Key); ok {
		if e.syncs(b) {
			if raw, ok := e.local.Get(b.Key); ok {
				e.backfill(ctx, b, []byte(raw))
			}
		}
		return v, true
	}

	var zero T
	if !e.syncs(b) {
		return zero, false
	}
	raw, ok := e.fetch(ctx, b)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		e.logger.Printf("WARNING: remote value for %s does not decode: %v", b, err)
		return zero, false
	}
	if err := e.local.Set(b.Key, string(raw)); err != nil {
		e.logger.Printf("WARNING: failed to cache %s locally: %v", b.Key, err)
	}
	return v, true
}

// fetch reads b.Path and returns it in its local JSON form.
func (e *Engine) fetch(ctx context.Context, b Binding) ([]byte, bool) {
	doc, ok := e.remote.Get(ctx, b.Path)
	if !ok {
		return nil, false
	}
	raw, err := b.codec().Decode(doc)
	if err != nil {
		e.logger.Printf("WARNING: remote document %s is malformed: %v", b.Path, err)
		return nil, false
	}
	return raw, true
}

// backfill creates the remote document for b from the local value, unless
// one already exists (RemoteWinsOncePopulated).
func (e *Engine) backfill(ctx context.Context, b Binding, raw []byte) {
	doc, err := b.codec().Encode(raw)
	if err != nil {
		e.logger.Printf("WARNING: skipping backfill of %s: %v", b, err)
		backfills.WithLabelValues("failed").Inc()
		return
	}
	e.background(ctx, func(ctx context.Context) {
		created, ok := e.remote.Create(ctx, b.Path, doc)
		switch {
		case !ok:
			backfills.WithLabelValues("failed").Inc()
		case created:
			backfills.WithLabelValues("created").Inc()
			e.logger.Printf("Backfilled %s", b)
		default:
			backfills.WithLabelValues("exists").Inc()
		}
	})
}

// Listener is an active Listen registration.
type Listener struct {
	binding Binding
	once    gosync.Once
	cancel  func()
}

// Binding returns the binding being listened to.
func (l *Listener) Binding() Binding {
	return l.binding
}

// Cancel stops this listener only. It is safe to call more than once and on
// a nil Listener.
func (l *Listener) Cancel() {
	if l == nil {
		return
	}
	l.once.Do(l.cancel)
}

// Listen subscribes to b.Path. Every change that carries a document is
// written to b.Key locally and then passed to fn, starting with the current
// state. It returns nil when the binding is local-only or the subscription
// could not be opened.
//
// Changes without a document (the remote document does not exist, or was
// removed) are logged and not delivered to fn, and the local record is left
// as it was.
func Listen[T any](ctx context.Context, e *Engine, b Binding, fn func(T)) *Listener {
	if !e.syncs(b) {
		return nil
	}
	codec := b.codec()
	cancel, ok := e.remote.Subscribe(ctx, b.Path, func(doc remote.Document, exists bool) {
		if !exists {
			listenEvents.WithLabelValues("absent").Inc()
			e.logger.Printf("%s has no remote document; keeping local value", b)
			return
		}
		raw, err := codec.Decode(doc)
		if err != nil {
			listenEvents.WithLabelValues("undecodable").Inc()
			e.logger.Printf("WARNING: ignoring malformed change on %s: %v", b.Path, err)
			return
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			listenEvents.WithLabelValues("undecodable").Inc()
			e.logger.Printf("WARNING: ignoring undecodable change on %s: %v", b.Path, err)
			return
		}
		if err := e.local.Set(b.Key, string(raw)); err != nil {
			e.logger.Printf("WARNING: failed to cache %s locally: %v", b.Key, err)
		}
		listenEvents.WithLabelValues("applied").Inc()
		fn(v)
	})
	if !ok {
		return nil
	}
	return &Listener{binding: b, cancel: cancel}
}

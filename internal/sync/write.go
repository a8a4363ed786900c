package sync

import (
	"context"
	"errors"
)

// ErrRemoteWrite is the Outcome error for a remote write that the remote
// store rejected or never acknowledged. The underlying cause is logged.
var ErrRemoteWrite = errors.New("remote write failed")

// Status is the state of a Save.
type Status int

const (
	// StatusLocalOnly means the value was written locally and no remote
	// write was attempted (no remote configured, or the binding has no path).
	StatusLocalOnly Status = iota

	// StatusDeferred means the value was written locally and the remote
	// write is still in flight.
	StatusDeferred

	// StatusWritten means the remote store acknowledged the write.
	StatusWritten

	// StatusFailed means the local write failed, or the remote write did.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLocalOnly:
		return "local-only"
	case StatusDeferred:
		return "deferred"
	case StatusWritten:
		return "written"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the final result of a Save.
type Outcome struct {
	Status Status
	Err    error
}

// Write tracks one Save. Callers that do not care about the remote outcome
// can drop it; the remote write proceeds either way.
type Write struct {
	binding Binding
	done    chan struct{}
	outcome Outcome
}

func newWrite(b Binding) *Write {
	return &Write{binding: b, done: make(chan struct{})}
}

func resolvedWrite(b Binding, o Outcome) *Write {
	w := newWrite(b)
	w.resolve(o)
	return w
}

func (w *Write) resolve(o Outcome) {
	w.outcome = o
	close(w.done)
}

// Binding returns the binding that was written.
func (w *Write) Binding() Binding {
	return w.binding
}

// Done is closed once the outcome is final.
func (w *Write) Done() <-chan struct{} {
	return w.done
}

// Status returns StatusDeferred while the remote write is in flight and the
// final status afterwards.
func (w *Write) Status() Status {
	select {
	case <-w.done:
		return w.outcome.Status
	default:
		return StatusDeferred
	}
}

// Wait blocks until the outcome is final or ctx is done. When ctx ends first
// the returned Outcome is StatusDeferred with ctx's error.
func (w *Write) Wait(ctx context.Context) Outcome {
	select {
	case <-w.done:
		return w.outcome
	case <-ctx.Done():
		return Outcome{Status: StatusDeferred, Err: ctx.Err()}
	}
}

// Failed returns a Write that already failed with err, for callers that
// reject a value before it reaches the engine.
func Failed(b Binding, err error) *Write {
	return resolvedWrite(b, Outcome{Status: StatusFailed, Err: err})
}

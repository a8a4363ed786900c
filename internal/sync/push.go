package sync

import (
	"context"

	"github.com/rosterhq/rostersync/internal/remote"
)

// PushPlan is the fixed set of bindings PushAll reconciles.
type PushPlan struct {
	// Batch bindings are written together in one atomic batch.
	Batch []Binding

	// Single bindings are written one call each.
	Single []Binding
}

// PushResult counts documents written and documents that failed.
type PushResult struct {
	Synced int `json:"synced" yaml:"synced"`
	Errors int `json:"errors" yaml:"errors"`
}

// PushAll writes every binding in plan that has a local record to the remote
// store. Batch bindings are sent as one atomic batch, so they either all
// count as synced or all count as errors. Failures are not retried.
// Bindings without a local record or without a path are skipped.
//
// With no remote configured PushAll does nothing and returns a zero result.
func (e *Engine) PushAll(ctx context.Context, plan PushPlan) PushResult {
	var res PushResult
	if !e.RemoteEnabled() {
		e.logger.Printf("Push skipped: no remote store configured")
		return res
	}

	batch := make(map[string]remote.Document)
	var batchKeys []string
	for _, b := range plan.Batch {
		doc, ok, err := e.localDocument(b)
		if err != nil {
			e.logger.Printf("WARNING: cannot push %s: %v", b, err)
			res.Errors++
			continue
		}
		if !ok {
			continue
		}
		batch[b.Path] = doc
		batchKeys = append(batchKeys, b.Key)
	}
	if len(batch) > 0 {
		if e.remote.BatchSet(ctx, batch) {
			res.Synced += len(batch)
		} else {
			e.logger.Printf("WARNING: batch push of %v failed", batchKeys)
			res.Errors += len(batch)
		}
	}

	for _, b := range plan.Single {
		doc, ok, err := e.localDocument(b)
		if err != nil {
			e.logger.Printf("WARNING: cannot push %s: %v", b, err)
			res.Errors++
			continue
		}
		if !ok {
			continue
		}
		if e.remote.Set(ctx, b.Path, doc) {
			res.Synced++
		} else {
			res.Errors++
		}
	}

	pushDocuments.WithLabelValues("synced").Add(float64(res.Synced))
	pushDocuments.WithLabelValues("error").Add(float64(res.Errors))
	e.logger.Printf("Push complete: synced=%d errors=%d", res.Synced, res.Errors)
	return res
}

// localDocument returns the remote shape of b's local record. ok is false
// when there is nothing to push.
func (e *Engine) localDocument(b Binding) (doc remote.Document, ok bool, err error) {
	if b.Path == "" {
		return nil, false, nil
	}
	raw, present := e.local.Get(b.Key)
	if !present {
		return nil, false, nil
	}
	d, err := b.codec().Encode([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// Package sync keeps the device-local store and the shared remote document
// store consistent.
//
// Overview
//
// Every read is served from the local store when it has a record, so callers
// never wait on the network for data this device has already seen. The remote
// store is what lets several devices share state; this package moves values
// between the two.
//
//	caller (roster.Service, CLI, importer)
//	     ↓
//	   Engine ──────────────┐
//	     ↓                  ↓
//	local.Store        remote.Client
//	(this device)      (organizations/{org}/...)
//
// Primitives
//
// The engine exposes four operations, all parameterized by a Binding that
// pairs a local key with an optional remote path:
//
//	Save    write-through: local first, then a background remote merge-write
//	Load    read-through: local hit returns at once and schedules a backfill;
//	        a local miss fetches from remote and warms the cache
//	Listen  live propagation: remote changes are written locally, then
//	        handed to the callback
//	PushAll batch reconciliation: every populated key is written to remote
//
// A Binding with no Path, or an Engine with a nil remote client, is
// local-only: Save reports StatusLocalOnly, Load never touches the network
// and Listen returns nil.
//
// Reconciliation
//
// Backfill copies a local value to remote only while the remote document
// does not exist. The existence check and the write are a single atomic
// Create on the backend, so the first device to populate a document is
// authoritative and later backfills never overwrite it
// (see RemoteWinsOncePopulated). There is no merge of conflicting values:
// concurrent writes resolve by last write wins on the remote store.
//
// Error Handling
//
// Nothing in this package returns an error for remote trouble. Unreachable
// or failing remotes degrade to absence and to StatusFailed results, and the
// cause is logged. Local write failures are reported through the Write
// result.
//
// Usage
//
//	store, err := local.Open(".roster/local.db", nil)
//	if err != nil {
//	    return err
//	}
//	client, err := remote.NewClient(backend, "acme", remote.ClientOptions{})
//	if err != nil {
//	    return err
//	}
//	engine := sync.New(store, client, sync.Options{})
//
//	b := sync.Binding{Key: "roster-gold", Path: "rosters/gold", Codec: sync.FieldCodec("athletes")}
//	w := sync.Save(ctx, engine, b, athletes)
//	athletes, ok := sync.Load[[]Athlete](ctx, engine, b)
//
//	l := sync.Listen(ctx, engine, b, func(a []Athlete) { render(a) })
//	defer l.Cancel()
package sync

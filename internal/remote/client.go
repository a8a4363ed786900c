package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds every remote call. Zero means 10 seconds.
	Timeout time.Duration
	// Logger receives every swallowed failure.
	Logger *log.Logger
}

// Client is the organization-scoped adapter used by the sync engine.
//
// It takes paths relative to the organization ("rosters/gold") and never
// returns errors: unreachable or misbehaving backends degrade to absence and
// false, with the cause logged. A nil *Client is valid and behaves as a
// remote that is not configured.
type Client struct {
	backend Backend
	org     string
	timeout time.Duration
	logger  *log.Logger
}

// NewClient binds backend to org.
func NewClient(backend Backend, org string, opts ClientOptions) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if _, err := Join(org, "probe/probe"); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{backend: backend, org: org, timeout: opts.Timeout, logger: opts.Logger}, nil
}

// Enabled reports whether c is backed by a remote store.
func (c *Client) Enabled() bool {
	return c != nil && c.backend != nil
}

// Org returns the organization this client is scoped to.
func (c *Client) Org() string {
	if c == nil {
		return ""
	}
	return c.org
}

// Backend returns the underlying backend.
func (c *Client) Backend() Backend {
	if c == nil {
		return nil
	}
	return c.backend
}

func (c *Client) full(op, rel string) (string, bool) {
	path, err := Join(c.org, rel)
	if err != nil {
		c.logger.Printf("WARNING: %s %s: %v", op, rel, err)
		return "", false
	}
	return path, true
}

// Get fetches the document at rel. The boolean is false when the document
// does not exist or could not be fetched.
func (c *Client) Get(ctx context.Context, rel string) (Document, bool) {
	if !c.Enabled() {
		return nil, false
	}
	path, ok := c.full("get", rel)
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	snap, err := c.backend.Get(ctx, path)
	if err != nil {
		c.logger.Printf("WARNING: get %s failed: %v", path, err)
		return nil, false
	}
	if !snap.Exists() {
		return nil, false
	}
	return snap.Data, true
}

// Set merge-writes data at rel and reports success.
func (c *Client) Set(ctx context.Context, rel string, data Document) bool {
	if !c.Enabled() {
		return false
	}
	path, ok := c.full("set", rel)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Set(ctx, path, data); err != nil {
		c.logger.Printf("WARNING: set %s failed: %v", path, err)
		return false
	}
	return true
}

// Create writes data at rel only if nothing is there yet. created reports
// whether this call wrote the document; ok is false when the backend could
// not be reached.
func (c *Client) Create(ctx context.Context, rel string, data Document) (created, ok bool) {
	if !c.Enabled() {
		return false, false
	}
	path, valid := c.full("create", rel)
	if !valid {
		return false, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := c.backend.Create(ctx, path, data)
	if err != nil {
		c.logger.Printf("WARNING: create %s failed: %v", path, err)
		return false, false
	}
	return created, true
}

// BatchSet merge-writes every document in writes atomically and reports
// whether the whole batch was applied.
func (c *Client) BatchSet(ctx context.Context, writes map[string]Document) bool {
	if !c.Enabled() {
		return false
	}
	full := make(map[string]Document, len(writes))
	for rel, data := range writes {
		path, ok := c.full("batch", rel)
		if !ok {
			return false
		}
		full[path] = data
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.BatchSet(ctx, full); err != nil {
		c.logger.Printf("WARNING: batch of %d documents failed: %v", len(full), err)
		return false
	}
	return true
}

// Subscribe calls fn with (data, true) for every state of the document at
// rel and with (nil, false) whenever it does not exist. The returned cancel
// function stops this subscription only.
func (c *Client) Subscribe(ctx context.Context, rel string, fn func(Document, bool)) (cancel func(), ok bool) {
	if !c.Enabled() {
		return nil, false
	}
	path, valid := c.full("subscribe", rel)
	if !valid {
		return nil, false
	}

	sub, err := c.backend.Subscribe(ctx, path, func(s Snapshot) {
		fn(s.Data, s.Exists())
	})
	if err != nil {
		c.logger.Printf("WARNING: subscribe %s failed: %v", path, err)
		return nil, false
	}
	return sub.Cancel, true
}

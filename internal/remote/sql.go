package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLBackend is a Backend persisted in an embedded SQLite database.
//
// It is meant to be owned by a single process (normally the document
// service); other devices reach it through HTTPBackend. Writes are serialized
// by the backend so subscribers observe them in commit order.
type SQLBackend struct {
	conn *sql.DB
	path string

	mu     sync.Mutex
	clock  clock
	hub    *hub
	closed bool
}

// OpenSQL opens (or creates) a document database at path.
func OpenSQL(path string) (*SQLBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		data TEXT NOT NULL,
		update_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(org);`
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	b := &SQLBackend{conn: conn, path: path, hub: newHub()}

	// Resume the clock from the newest stored stamp so update times stay
	// monotonic across restarts.
	var last sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(update_time) FROM documents`).Scan(&last); err == nil && last.Valid {
		b.clock.last = time.Unix(0, last.Int64).UTC()
	}

	return b, nil
}

// Get implements Backend.Get.
func (b *SQLBackend) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Snapshot{}, ErrClosed
	}
	return b.getLocked(ctx, b.conn, path)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *SQLBackend) getLocked(ctx context.Context, q queryer, path string) (Snapshot, error) {
	var (
		raw     string
		updated int64
	)
	err := q.QueryRowContext(ctx, `SELECT data, update_time FROM documents WHERE path = ?`, path).
		Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{Path: path}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := DecodeDocument(strings.NewReader(raw))
	if err != nil {
		return Snapshot{}, fmt.Errorf("corrupt document %s: %w", path, err)
	}
	return Snapshot{Path: path, Data: doc, UpdateTime: time.Unix(0, updated).UTC()}, nil
}

// Set implements Backend.Set.
func (b *SQLBackend) Set(ctx context.Context, path string, data Document) error {
	return b.BatchSet(ctx, map[string]Document{path: data})
}

// Create implements Backend.Create.
func (b *SQLBackend) Create(ctx context.Context, path string, data Document) (bool, error) {
	if err := ValidatePath(path); err != nil {
		return false, err
	}
	norm, err := normalize(data)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}

	existing, err := b.getLocked(ctx, b.conn, path)
	if err != nil {
		return false, err
	}
	if existing.Exists() {
		return false, nil
	}

	snaps, err := b.commitLocked(ctx, map[string]Document{path: norm})
	if err != nil {
		return false, err
	}
	b.publish(snaps)
	return true, nil
}

// BatchSet implements Backend.BatchSet.
func (b *SQLBackend) BatchSet(ctx context.Context, writes map[string]Document) error {
	normalized := make(map[string]Document, len(writes))
	for path, data := range writes {
		if err := ValidatePath(path); err != nil {
			return err
		}
		norm, err := normalize(data)
		if err != nil {
			return err
		}
		normalized[path] = norm
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	snaps, err := b.commitLocked(ctx, normalized)
	if err != nil {
		return err
	}
	b.publish(snaps)
	return nil
}

// commitLocked merges writes inside one transaction and returns the
// resulting snapshots.
func (b *SQLBackend) commitLocked(ctx context.Context, writes map[string]Document) ([]Snapshot, error) {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := b.clock.now()
	snaps := make([]Snapshot, 0, len(writes))
	for path, data := range writes {
		current, err := b.getLocked(ctx, tx, path)
		if err != nil {
			return nil, err
		}
		merged := merge(current.Data, data)
		raw, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", path, err)
		}

		query := `
		INSERT INTO documents (path, org, data, update_time) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			data = excluded.data,
			update_time = excluded.update_time`
		if _, err := tx.ExecContext(ctx, query, path, OrgOf(path), string(raw), now.UnixNano()); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		snaps = append(snaps, Snapshot{Path: path, Data: merged, UpdateTime: now})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return snaps, nil
}

func (b *SQLBackend) publish(snaps []Snapshot) {
	for _, s := range snaps {
		b.hub.publish(s)
	}
}

// Subscribe implements Backend.Subscribe.
func (b *SQLBackend) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	initial, err := b.getLocked(ctx, b.conn, path)
	if err != nil {
		return nil, err
	}
	return b.hub.add(path, initial, fn), nil
}

// Subscribers returns the number of live subscriptions.
func (b *SQLBackend) Subscribers() int {
	return b.hub.count()
}

// Count returns the number of stored documents for org, or for every
// organization when org is empty.
func (b *SQLBackend) Count(ctx context.Context, org string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	var n int
	var err error
	if org == "" {
		err = b.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	} else {
		err = b.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE org = ?`, org).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Close implements Backend.Close.
func (b *SQLBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.hub.closeAll()
	if _, err := b.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = b.conn.Close()
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return b.conn.Close()
}

/*
Package sqlite provides a SQLite-backed implementation of store.KV.

PURPOSE:
  Production persistence for the impact engine. A single kv table
  holds every record family; the key builders in store/keys.go give
  the namespace its structure. The same patterns apply to any
  key-value backend with single-key atomicity.

SCHEMA:
  kv(k TEXT PRIMARY KEY, v BLOB, updated_at TEXT)

PUTIFABSENT:
  Implemented as INSERT OR IGNORE; RowsAffected tells the caller
  whether it won the race. This is the primitive that makes award
  recording at-most-once under concurrent duplicate delivery.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency: multiple readers don't block, single writer at a time,
  better crash recovery.

CONCURRENCY:
  Uses sync.RWMutex on top of database/sql. With a server-grade
  backend the database's own concurrency control takes over.

USAGE:
  kv, err := sqlite.New("./data/impact.db")
  if err != nil {
      log.Fatal(err)
  }
  defer kv.Close()

MIGRATION:
  Schema is auto-migrated on New(). The single-table layout makes
  versioned migrations unnecessary here.

SEE ALSO:
  - store/kv.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

// KV implements store.KV on SQLite.
type KV struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.KV = (*KV)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*KV, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	kv := &KV{db: db}
	if err := kv.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return kv, nil
}

func (s *KV) Close() error {
	return s.db.Close()
}

func (s *KV) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			k          TEXT PRIMARY KEY,
			v          BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *KV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO kv (k, v, updated_at) VALUES (?, ?, ?)
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("put-if-absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put-if-absent %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *KV) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ESCAPE avoids the _ in key prefixes acting as a LIKE wildcard.
	rows, err := s.db.QueryContext(ctx, `
		SELECT k, v FROM kv
		WHERE k LIKE ? ESCAPE '\'
		ORDER BY k
	`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func likePrefix(prefix string) string {
	escaped := ""
	for _, r := range prefix {
		if r == '%' || r == '_' || r == '\\' {
			escaped += `\`
		}
		escaped += string(r)
	}
	return escaped + "%"
}

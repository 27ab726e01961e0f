/*
Package store defines the key-value persistence abstraction.

PURPOSE:
  Every durable record in the system (award records, issue ledgers,
  aggregates, tenant configuration, batch leases) lives behind this
  interface as a namespaced key with a JSON value. The engine assumes
  nothing about the backend beyond single-key atomicity.

KEY OPERATIONS:
  Get:         Read one key (absent is not an error)
  Set:         Unconditional write
  Delete:      Remove a key
  PutIfAbsent: Atomic create-if-absent; the idempotency primitive
  Scan:        Ordered prefix scan; drives the tenant directory

PUTIFABSENT:
  Award records must be written at most once even when two deliveries
  of the same event race past the existence check. PutIfAbsent is the
  single primitive that makes that an invariant instead of a hope:
  exactly one caller observes created=true.

IMPLEMENTATIONS:
  - store/memory: In-memory map, for tests and dev
  - store/sqlite: Single kv table on SQLite with WAL

SEE ALSO:
  - keys.go: Key builders for every record family
  - ledger/: The main consumer of PutIfAbsent
*/
package store

import "context"

// KV is the storage collaborator for the whole engine.
// Values are opaque bytes; callers encode JSON.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// PutIfAbsent writes value under key only if the key does not exist.
	// Returns created=false (and no error) when the key was already present.
	PutIfAbsent(ctx context.Context, key string, value []byte) (created bool, err error)

	// Scan returns all entries whose key starts with prefix, in key order.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// Entry is one key-value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

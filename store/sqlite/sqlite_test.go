package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wityliti/afforestation-atlassian-plugin/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.KV {
	kv, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

// =============================================================================
// TESTS
// =============================================================================

func TestSQLite_GetSetDelete(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k1", []byte("v1")))
	v, ok, err := kv.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	// Upsert replaces.
	require.NoError(t, kv.Set(ctx, "k1", []byte("v2")))
	v, _, _ = kv.Get(ctx, "k1")
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, kv.Delete(ctx, "k1"))
	_, ok, _ = kv.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestSQLite_PutIfAbsent(t *testing.T) {
	// GIVEN: A key created once
	// WHEN: Creating it again
	// THEN: The second attempt reports created=false and the first
	//       value survives

	kv := newTestStore(t)
	ctx := context.Background()

	created, err := kv.PutIfAbsent(ctx, "award:1", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = kv.PutIfAbsent(ctx, "award:1", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	v, _, err := kv.Get(ctx, "award:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v)
}

func TestSQLite_ScanPrefix(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "agg:t1:weekly:2026-W34", []byte("a")))
	require.NoError(t, kv.Set(ctx, "agg:t1:weekly:2026-W35", []byte("b")))
	require.NoError(t, kv.Set(ctx, "agg:t2:weekly:2026-W34", []byte("c")))

	entries, err := kv.Scan(ctx, "agg:t1:")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "agg:t1:weekly:2026-W34", entries[0].Key)
}

func TestSQLite_ScanEscapesLikeWildcards(t *testing.T) {
	// GIVEN: Keys where the prefix itself contains LIKE wildcards
	// WHEN: Scanning with that prefix
	// THEN: The wildcard is treated literally, not as "match anything"

	kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "pct%:a", []byte("1")))
	require.NoError(t, kv.Set(ctx, "pctX:b", []byte("2")))

	entries, err := kv.Scan(ctx, "pct%:")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pct%:a", entries[0].Key)
}

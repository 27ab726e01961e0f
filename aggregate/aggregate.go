/*
Package aggregate maintains the time-bucketed leaf/tree counters.

PURPOSE:
  Every award increments counters at tenant scope (and optionally user
  and team scope) across daily/weekly/monthly buckets. The batch path
  reads the weekly bucket to size a pledge and afterwards resets only
  its tree counter, leaving leaves and issue counts as history.

CONCURRENCY:
  Increments are read-modify-write on shared counters. The engine
  serializes writers per bucket key with a keyed mutex, so concurrent
  event deliveries to the same bucket never lose updates within a
  process. (Cross-process safety is the store's concern.)

CAPS:
  Per-user daily increments honor an optional cap: the increment is
  truncated to the remaining headroom and the call reports the capped
  and original values, so suppressed points stay auditable.

READS:
  A missing bucket reads as zero-valued; callers never branch on
  existence.

SEE ALSO:
  - period.go: Period key computation
  - pipeline/: The two writers (event path and batch path)
*/
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

// =============================================================================
// BUCKETS
// =============================================================================

// Scope identifies whose counters a bucket holds.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeTeam   Scope = "team"
)

// Bucket is one aggregate counter record.
type Bucket struct {
	Scope      Scope      `json:"scope"`
	ScopeID    string     `json:"scopeId,omitempty"`
	PeriodType PeriodType `json:"periodType"`
	PeriodKey  string     `json:"periodKey"`
	Leaves     int        `json:"leaves"`
	Trees      int        `json:"trees"`
	IssueCount int        `json:"issueCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	PledgedAt  *time.Time `json:"pledgedAt,omitempty"`
}

// IncrementResult reports what an increment actually applied.
type IncrementResult struct {
	Bucket         Bucket
	AppliedLeaves  int
	OriginalLeaves int
	WasCapped      bool
}

// remainder is the carried-forward tree count between batch periods.
type remainder struct {
	Trees     int       `json:"trees"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine reads and mutates aggregate buckets through the KV store.
type Engine struct {
	KV store.KV

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(kv store.KV) *Engine {
	return &Engine{KV: kv, Now: time.Now, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockKey returns the per-bucket mutex, creating it on first use.
func (e *Engine) lockKey(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	return m
}

func bucketKey(tenantID string, scope Scope, scopeID string, pt PeriodType, pk string) string {
	switch scope {
	case ScopeUser:
		return store.UserAggKey(tenantID, scopeID, string(pt), pk)
	case ScopeTeam:
		return store.TeamAggKey(tenantID, scopeID, string(pt), pk)
	default:
		return store.AggKey(tenantID, string(pt), pk)
	}
}

// Get reads a bucket; absent buckets come back zero-valued.
func (e *Engine) Get(ctx context.Context, tenantID string, scope Scope, scopeID string, pt PeriodType, pk string) (Bucket, error) {
	return e.read(ctx, bucketKey(tenantID, scope, scopeID, pt, pk), scope, scopeID, pt, pk)
}

func (e *Engine) read(ctx context.Context, key string, scope Scope, scopeID string, pt PeriodType, pk string) (Bucket, error) {
	data, ok, err := e.KV.Get(ctx, key)
	if err != nil {
		return Bucket{}, err
	}
	if !ok {
		return Bucket{Scope: scope, ScopeID: scopeID, PeriodType: pt, PeriodKey: pk, CreatedAt: e.now().UTC()}, nil
	}
	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return Bucket{}, fmt.Errorf("unmarshal bucket %s: %w", key, err)
	}
	return b, nil
}

func (e *Engine) write(ctx context.Context, key string, b Bucket) error {
	b.UpdatedAt = e.now().UTC()
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal bucket %s: %w", key, err)
	}
	return e.KV.Set(ctx, key, data)
}

// Increment adds leaves/trees to a bucket and bumps its issue count
// by one. dailyCap > 0 truncates the leaf increment to the remaining
// headroom (user scope's per-day cap); pass 0 for no cap.
func (e *Engine) Increment(ctx context.Context, tenantID string, scope Scope, scopeID string, pt PeriodType, pk string, leaves, trees, dailyCap int) (IncrementResult, error) {
	key := bucketKey(tenantID, scope, scopeID, pt, pk)
	lock := e.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	b, err := e.read(ctx, key, scope, scopeID, pt, pk)
	if err != nil {
		return IncrementResult{}, err
	}

	applied := leaves
	capped := false
	if dailyCap > 0 && pt == PeriodDaily && b.Leaves+leaves > dailyCap {
		applied = dailyCap - b.Leaves
		if applied < 0 {
			applied = 0
		}
		capped = true
	}

	b.Leaves += applied
	b.Trees += trees
	b.IssueCount++

	if err := e.write(ctx, key, b); err != nil {
		return IncrementResult{}, err
	}
	return IncrementResult{Bucket: b, AppliedLeaves: applied, OriginalLeaves: leaves, WasCapped: capped}, nil
}

// ResetTrees zeroes only the tree counter of a tenant-global bucket
// after its accumulated trees have been pledged. Leaves and issue
// count stay behind as historical record.
func (e *Engine) ResetTrees(ctx context.Context, tenantID string, pt PeriodType, pk string) error {
	key := bucketKey(tenantID, ScopeGlobal, "", pt, pk)
	lock := e.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	b, err := e.read(ctx, key, ScopeGlobal, "", pt, pk)
	if err != nil {
		return err
	}
	b.Trees = 0
	pledged := e.now().UTC()
	b.PledgedAt = &pledged
	return e.write(ctx, key, b)
}

// =============================================================================
// REMAINDER CARRY-FORWARD
// =============================================================================

// RemainderTrees returns the trees carried forward from earlier batch
// periods (allocations dropped below the per-project minimum).
func (e *Engine) RemainderTrees(ctx context.Context, tenantID string) (int, error) {
	data, ok, err := e.KV.Get(ctx, store.RemainderKey(tenantID))
	if err != nil || !ok {
		return 0, err
	}
	var r remainder
	if err := json.Unmarshal(data, &r); err != nil {
		return 0, fmt.Errorf("unmarshal remainder: %w", err)
	}
	return r.Trees, nil
}

// SetRemainderTrees stores the carry-forward for the next batch.
func (e *Engine) SetRemainderTrees(ctx context.Context, tenantID string, trees int) error {
	data, err := json.Marshal(remainder{Trees: trees, UpdatedAt: e.now().UTC()})
	if err != nil {
		return err
	}
	return e.KV.Set(ctx, store.RemainderKey(tenantID), data)
}

/*
lease.go - Per-tenant-per-period batch lease

PURPOSE:
  Guarantees at most one live batch run per tenant per period even
  when several scheduler instances fire at once. The lease is a
  create-if-absent record keyed by (tenant, period); an expired
  lease may be taken over so a crashed run cannot wedge a tenant.

SEE ALSO:
  - batch.go: acquisition around each tenant's run
  - store/keys.go: BatchLeaseKey
*/
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

// leaseTTL bounds how long a crashed run can block a period.
const leaseTTL = 30 * time.Minute

type batchLease struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// acquireLease claims the (tenant, period) batch slot. It returns the
// owner token on success and ok=false when a live lease is held
// elsewhere. Expired leases are taken over.
func (e *Engine) acquireLease(ctx context.Context, tenantID, periodKey string) (owner string, ok bool, err error) {
	key := store.BatchLeaseKey(tenantID, periodKey)
	now := e.Now()
	lease := batchLease{
		Owner:      uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(leaseTTL),
	}
	raw, err := json.Marshal(lease)
	if err != nil {
		return "", false, err
	}

	created, err := e.KV.PutIfAbsent(ctx, key, raw)
	if err != nil {
		return "", false, fmt.Errorf("acquire batch lease: %w", err)
	}
	if created {
		return lease.Owner, true, nil
	}

	existing, found, err := e.KV.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read batch lease: %w", err)
	}
	if found {
		var held batchLease
		if err := json.Unmarshal(existing, &held); err == nil && now.Before(held.ExpiresAt) {
			return "", false, nil
		}
	}

	// Stale or unreadable lease: take it over.
	e.Log.Warnw("taking over expired batch lease", "tenant", tenantID, "period", periodKey)
	if err := e.KV.Set(ctx, key, raw); err != nil {
		return "", false, fmt.Errorf("take over batch lease: %w", err)
	}
	return lease.Owner, true, nil
}

// releaseLease drops the lease if we still own it.
func (e *Engine) releaseLease(ctx context.Context, tenantID, periodKey, owner string) {
	key := store.BatchLeaseKey(tenantID, periodKey)
	raw, found, err := e.KV.Get(ctx, key)
	if err != nil || !found {
		return
	}
	var held batchLease
	if err := json.Unmarshal(raw, &held); err != nil || held.Owner != owner {
		return
	}
	if err := e.KV.Delete(ctx, key); err != nil {
		e.Log.Warnw("release batch lease failed", "tenant", tenantID, "period", periodKey, "error", err)
	}
}

/*
batch.go - Periodic pledge batch (the planting path)

PURPOSE:
  For every registered tenant with pledging enabled: take the current
  period's accumulated trees plus any carried remainder, allocate
  across the tenant's funded projects, submit one pledge, then reset
  the period counters and persist the new remainder.

INVARIANTS:
  - The (tenant, period) lease plus the completed batch record mean a
    period is pledged at most once, no matter how many scheduler
    instances or manual triggers fire.
  - A tenant failure is recorded and logged; remaining tenants still
    run.
  - Counters are only reset after the pledge was accepted, so a
    failed submission retries cleanly on the next run.

SEE ALSO:
  - funding/allocator.go: tree distribution
  - afforestation/client.go: pledge submission
  - ledger/ledger.go: BatchRecord
*/
package pipeline

import (
	"context"
	"fmt"

	"github.com/wityliti/afforestation-atlassian-plugin/afforestation"
	"github.com/wityliti/afforestation-atlassian-plugin/aggregate"
	"github.com/wityliti/afforestation-atlassian-plugin/funding"
	"github.com/wityliti/afforestation-atlassian-plugin/ledger"
)

// Batch record statuses.
const (
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// TenantBatchResult is the outcome of one tenant's batch run.
type TenantBatchResult struct {
	TenantID   string `json:"tenantId"`
	PeriodKey  string `json:"periodKey"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	TotalTrees int    `json:"totalTrees"`
	Remainder  int    `json:"remainder"`
	PledgeID   string `json:"pledgeId,omitempty"`
	Err        string `json:"error,omitempty"`
}

// RunBatch runs the current weekly batch for every registered tenant.
// Per-tenant failures are captured in the results, never propagated.
func (e *Engine) RunBatch(ctx context.Context) ([]TenantBatchResult, error) {
	tenants, err := e.Tenants.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	periodKey := aggregate.PeriodKey(aggregate.PeriodWeekly, e.Now())

	results := make([]TenantBatchResult, 0, len(tenants))
	for _, tenantID := range tenants {
		res := e.RunTenantBatch(ctx, tenantID, aggregate.PeriodWeekly, periodKey)
		if res.Err != "" {
			e.Log.Errorw("tenant batch failed",
				"tenant", tenantID, "period", periodKey, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunBatchDue runs the batch only for tenants whose configured window
// is open right now (weekly tenants on their day of week, monthly
// tenants on the first of the month). The scheduler calls this; the
// manual trigger uses RunBatch.
func (e *Engine) RunBatchDue(ctx context.Context) ([]TenantBatchResult, error) {
	tenants, err := e.Tenants.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	now := e.Now().UTC()

	var results []TenantBatchResult
	for _, tenantID := range tenants {
		snap, err := e.Tenants.Snapshot(ctx, tenantID)
		if err != nil {
			e.Log.Errorw("tenant batch skipped", "tenant", tenantID, "error", err)
			continue
		}
		batching := snap.Config.PlantingMode.PledgeBatching
		pt := aggregate.PeriodWeekly
		switch batching.Frequency {
		case "monthly":
			if now.Day() != 1 {
				continue
			}
			pt = aggregate.PeriodMonthly
		default:
			if int(now.Weekday()) != batching.DayOfWeek {
				continue
			}
		}
		res := e.RunTenantBatch(ctx, tenantID, pt, aggregate.PeriodKey(pt, now))
		if res.Err != "" {
			e.Log.Errorw("tenant batch failed",
				"tenant", tenantID, "period", res.PeriodKey, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunTenantBatch runs one tenant's batch for one period.
func (e *Engine) RunTenantBatch(ctx context.Context, tenantID string, pt aggregate.PeriodType, periodKey string) TenantBatchResult {
	res := TenantBatchResult{TenantID: tenantID, PeriodKey: periodKey}

	snap, err := e.Tenants.Snapshot(ctx, tenantID)
	if err != nil {
		res.Err = fmt.Sprintf("load tenant snapshot: %v", err)
		return res
	}
	if !snap.Config.PlantingMode.PledgeEnabled {
		res.Skipped, res.Reason = true, "pledging disabled"
		return res
	}

	// Batch records are keyed by period, so a completed record means
	// this period already pledged.
	if prior, err := e.Ledger.GetBatch(ctx, tenantID, periodKey); err != nil {
		res.Err = fmt.Sprintf("load batch record: %v", err)
		return res
	} else if prior != nil && prior.Status == BatchStatusCompleted {
		res.Skipped, res.Reason = true, "period already pledged"
		res.PledgeID = prior.PledgeID
		return res
	}

	owner, ok, err := e.acquireLease(ctx, tenantID, periodKey)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	if !ok {
		res.Skipped, res.Reason = true, "batch already running"
		return res
	}
	defer e.releaseLease(ctx, tenantID, periodKey, owner)

	bucket, err := e.Aggregates.Get(ctx, tenantID, aggregate.ScopeGlobal, "", pt, periodKey)
	if err != nil {
		res.Err = fmt.Sprintf("load weekly aggregate: %v", err)
		return res
	}
	carried, err := e.Aggregates.RemainderTrees(ctx, tenantID)
	if err != nil {
		res.Err = fmt.Sprintf("load remainder: %v", err)
		return res
	}

	total := carried + bucket.Trees
	res.TotalTrees = total
	if total <= 0 {
		res.Skipped, res.Reason = true, "no trees accumulated"
		return res
	}

	allocations := funding.Allocate(total, snap.Funding)
	pledged, remainder := splitAllocations(allocations)
	res.Remainder = remainder
	if len(pledged) == 0 {
		// Everything fell below the per-project minimum; carry the
		// whole total forward and leave the period bucket alone.
		if err := e.Aggregates.SetRemainderTrees(ctx, tenantID, remainder); err != nil {
			res.Err = fmt.Sprintf("persist remainder: %v", err)
			return res
		}
		res.Skipped, res.Reason = true, "all allocations below project minimum"
		return res
	}

	if e.Fulfiller == nil {
		res.Err = "no fulfiller configured"
		return res
	}

	pledgedTrees := 0
	for _, a := range pledged {
		pledgedTrees += a.Trees
	}
	pledge, err := e.Fulfiller.CreatePledge(ctx, afforestation.PledgeRequest{
		TenantID:    tenantID,
		Period:      periodKey,
		TotalTrees:  pledgedTrees,
		TotalLeaves: bucket.Leaves,
		Allocations: pledged,
		Evidence: afforestation.Evidence{
			Source:     "completed issues",
			Period:     periodKey,
			IssueCount: bucket.IssueCount,
		},
	})
	if err != nil {
		res.Err = fmt.Sprintf("create pledge: %v", err)
		e.recordBatch(ctx, tenantID, ledger.BatchRecord{
			BatchID:    periodKey,
			PeriodKey:  periodKey,
			TotalTrees: total,
			Status:     BatchStatusFailed,
			Error:      res.Err,
		})
		return res
	}
	res.PledgeID = pledge.ID

	if err := e.Aggregates.ResetTrees(ctx, tenantID, pt, periodKey); err != nil {
		res.Err = fmt.Sprintf("reset weekly trees: %v", err)
		return res
	}
	if err := e.Aggregates.SetRemainderTrees(ctx, tenantID, remainder); err != nil {
		res.Err = fmt.Sprintf("persist remainder: %v", err)
		return res
	}
	e.recordBatch(ctx, tenantID, ledger.BatchRecord{
		BatchID:    periodKey,
		PeriodKey:  periodKey,
		TotalTrees: pledgedTrees,
		PledgeID:   pledge.ID,
		Status:     BatchStatusCompleted,
	})

	e.Log.Infow("pledge submitted",
		"tenant", tenantID, "period", periodKey,
		"trees", pledgedTrees, "remainder", remainder, "pledge", pledge.ID)
	return res
}

// splitAllocations separates plantable project shares from the
// carry-forward remainder entry.
func splitAllocations(allocs []funding.Allocation) (pledged []afforestation.PledgeAllocation, remainder int) {
	for _, a := range allocs {
		if a.CarryForward || a.ProjectID == funding.RemainderProjectID {
			remainder += a.Trees
			continue
		}
		if a.Trees > 0 {
			pledged = append(pledged, afforestation.PledgeAllocation{ProjectID: a.ProjectID, Trees: a.Trees})
		}
	}
	return pledged, remainder
}

func (e *Engine) recordBatch(ctx context.Context, tenantID string, rec ledger.BatchRecord) {
	if err := e.Ledger.RecordBatch(ctx, tenantID, rec); err != nil {
		e.Log.Errorw("record batch failed", "tenant", tenantID, "period", rec.PeriodKey, "error", err)
	}
}

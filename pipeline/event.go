/*
event.go - Issue event processing (the award path)

PURPOSE:
  Converts one incoming issue event into at most one award:
    scope filter -> completion detection -> deterministic award id ->
    ledger create-if-absent -> scoring -> aggregates -> instant order.

INVARIANTS:
  - An event that does not represent a completion produces no writes
    (except reopen stamping).
  - Redelivery of the same completion is a no-op past the ledger:
    the award id is a pure function of the event, and the ledger
    record is create-if-absent.
  - Errors are absorbed at this boundary; the caller (webhook handler)
    always gets a result, never a panic or a propagated store error.

SEE ALSO:
  - impact/completion.go: detection
  - ledger/ledger.go: idempotency
  - scoring/scorer.go: leaf computation
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/wityliti/afforestation-atlassian-plugin/afforestation"
	"github.com/wityliti/afforestation-atlassian-plugin/aggregate"
	"github.com/wityliti/afforestation-atlassian-plugin/funding"
	"github.com/wityliti/afforestation-atlassian-plugin/impact"
	"github.com/wityliti/afforestation-atlassian-plugin/ledger"
	"github.com/wityliti/afforestation-atlassian-plugin/tenant"
)

// EventResult summarizes what one event ended up doing.
type EventResult struct {
	Processed bool   `json:"processed"`
	Reason    string `json:"reason,omitempty"`
	AwardID   string `json:"awardId,omitempty"`
	Leaves    int    `json:"leaves"`
	Trees     int    `json:"trees"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Blocked   bool   `json:"blocked,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

// ProcessIssueEvent runs the full award path for one event.
// It never returns an error to the caller: failures are logged and
// reported through the result so webhook delivery always succeeds.
func (e *Engine) ProcessIssueEvent(ctx context.Context, ev impact.Event) EventResult {
	res, err := e.processIssueEvent(ctx, ev)
	if err != nil {
		e.Log.Errorw("event processing failed",
			"tenant", ev.TenantID, "issue", ev.Issue.Key, "error", err)
		return EventResult{Processed: false, Reason: "internal error"}
	}
	return res
}

func (e *Engine) processIssueEvent(ctx context.Context, ev impact.Event) (EventResult, error) {
	snap, err := e.Tenants.Snapshot(ctx, ev.TenantID)
	if err != nil {
		return EventResult{}, fmt.Errorf("load tenant snapshot: %w", err)
	}
	cfg := snap.Config

	if !impact.InScope(ev.Issue, &cfg.Scope) {
		return EventResult{Processed: false, Reason: "out of scope"}, nil
	}

	// Reopen stamping happens regardless of completion so later
	// completions can apply the pause window.
	if impact.DetectReopen(ev.Delta, cfg.Completion) {
		if err := e.Ledger.MarkReopened(ctx, ev.TenantID, ev.Issue.ID, ev.Time); err != nil {
			return EventResult{}, fmt.Errorf("mark reopened: %w", err)
		}
	}

	completion := impact.DetectCompletion(ev.Issue, ev.Delta, cfg.Completion, ev.Time)
	if !completion.Detected {
		return EventResult{Processed: false, Reason: "not a completion"}, nil
	}

	awardID := ledger.GenerateAwardID(ev.TenantID, ev.Issue.ID,
		completion.Type, completion.ToStatus, completion.TransitionTime)

	exists, err := e.Ledger.AwardExists(ctx, ev.TenantID, awardID)
	if err != nil {
		return EventResult{}, fmt.Errorf("check award: %w", err)
	}
	if exists {
		return EventResult{Processed: false, Reason: "duplicate delivery", AwardID: awardID, Duplicate: true}, nil
	}

	issueLedger, err := e.Ledger.GetIssueLedger(ctx, ev.TenantID, ev.Issue.ID)
	if err != nil {
		return EventResult{}, fmt.Errorf("load issue ledger: %w", err)
	}
	completion.IsReopen = issueLedger.CompletionCount > 0

	score, err := e.Scorer.Score(ctx, ev.Issue, snap.ScoringInputs(), completion)
	if err != nil {
		return EventResult{}, fmt.Errorf("score issue: %w", err)
	}
	if score.Details.Blocked {
		return EventResult{
			Processed: false,
			Reason:    score.Details.Reason,
			AwardID:   awardID,
			Blocked:   true,
		}, nil
	}

	record := ledger.AwardRecord{
		AwardID:        awardID,
		IssueID:        ev.Issue.ID,
		IssueKey:       ev.Issue.Key,
		ProjectKey:     ev.Issue.ProjectKey,
		Leaves:         score.Leaves,
		Trees:          score.Trees,
		CompletionType: completion.Type,
		ToStatus:       completion.ToStatus,
		AssigneeID:     ev.Issue.AssigneeID,
		AwardedAt:      completion.TransitionTime,
	}
	if err := e.Ledger.RecordAward(ctx, ev.TenantID, record); err != nil {
		if errors.Is(err, ledger.ErrDuplicateAward) {
			// Lost the race against a concurrent delivery.
			return EventResult{Processed: false, Reason: "duplicate delivery", AwardID: awardID, Duplicate: true}, nil
		}
		return EventResult{}, fmt.Errorf("record award: %w", err)
	}
	entry := ledger.AwardEntry{AwardID: awardID, AwardedAt: record.AwardedAt, Leaves: record.Leaves}
	if err := e.Ledger.ApplyAward(ctx, ev.TenantID, ev.Issue.ID, entry); err != nil {
		return EventResult{}, fmt.Errorf("apply award: %w", err)
	}

	applied, err := e.incrementAggregates(ctx, ev.TenantID, record, snap.Config.Scoring.Caps.PerUserPerDay)
	if err != nil {
		return EventResult{}, fmt.Errorf("increment aggregates: %w", err)
	}

	result := EventResult{
		Processed: true,
		AwardID:   awardID,
		Leaves:    applied,
		Trees:     record.Trees,
	}

	if cfg.PlantingMode.InstantEnabled && record.Trees > 0 {
		result.OrderID = e.submitInstantOrder(ctx, ev.TenantID, record, snap)
	}
	return result, nil
}

// incrementAggregates applies one award to all period/scope buckets.
// The per-user daily cap can truncate the user's daily bucket; the
// truncated amount flows through to every other bucket so they stay
// mutually consistent.
func (e *Engine) incrementAggregates(ctx context.Context, tenantID string, rec ledger.AwardRecord, dailyCap int) (int, error) {
	leaves := rec.Leaves
	applied := leaves

	if rec.AssigneeID != "" {
		inc, err := e.Aggregates.Increment(ctx, tenantID, aggregate.ScopeUser, rec.AssigneeID,
			aggregate.PeriodDaily, aggregate.PeriodKey(aggregate.PeriodDaily, rec.AwardedAt),
			leaves, rec.Trees, dailyCap)
		if err != nil {
			return 0, err
		}
		applied = inc.AppliedLeaves
	}

	type bucket struct {
		scope   aggregate.Scope
		scopeID string
		period  aggregate.PeriodType
	}
	buckets := []bucket{
		{aggregate.ScopeGlobal, "", aggregate.PeriodDaily},
		{aggregate.ScopeGlobal, "", aggregate.PeriodWeekly},
		{aggregate.ScopeGlobal, "", aggregate.PeriodMonthly},
	}
	if rec.AssigneeID != "" {
		buckets = append(buckets,
			bucket{aggregate.ScopeUser, rec.AssigneeID, aggregate.PeriodWeekly},
			bucket{aggregate.ScopeUser, rec.AssigneeID, aggregate.PeriodMonthly},
		)
	}
	if rec.ProjectKey != "" {
		buckets = append(buckets,
			bucket{aggregate.ScopeTeam, rec.ProjectKey, aggregate.PeriodDaily},
			bucket{aggregate.ScopeTeam, rec.ProjectKey, aggregate.PeriodWeekly},
			bucket{aggregate.ScopeTeam, rec.ProjectKey, aggregate.PeriodMonthly},
		)
	}
	for _, b := range buckets {
		pk := aggregate.PeriodKey(b.period, rec.AwardedAt)
		if _, err := e.Aggregates.Increment(ctx, tenantID, b.scope, b.scopeID, b.period, pk, applied, rec.Trees, 0); err != nil {
			return 0, err
		}
	}
	return applied, nil
}

// submitInstantOrder fires a single-issue planting order. Fulfillment
// failures are logged, never propagated: the award already stands.
func (e *Engine) submitInstantOrder(ctx context.Context, tenantID string, rec ledger.AwardRecord, snap tenant.Snapshot) string {
	if e.Fulfiller == nil {
		e.Log.Warnw("instant planting enabled but no fulfiller configured", "tenant", tenantID)
		return ""
	}
	req := afforestation.OrderRequest{
		TenantID:  tenantID,
		ProjectID: firstFundedProject(snap.Funding),
		Trees:     rec.Trees,
		Reference: afforestation.OrderReference{
			IssueKey: rec.IssueKey,
			IssueID:  rec.IssueID,
			AwardID:  rec.AwardID,
		},
	}
	resp, err := e.Fulfiller.CreateInstantOrder(ctx, req)
	if err != nil {
		e.Log.Errorw("instant order failed",
			"tenant", tenantID, "issue", rec.IssueKey, "award", rec.AwardID, "error", err)
		return ""
	}
	e.Log.Infow("instant order placed",
		"tenant", tenantID, "issue", rec.IssueKey, "order", resp.ID, "trees", rec.Trees)
	return resp.ID
}

// firstFundedProject picks the highest-allocation project as the
// target for instant orders (empty leaves project choice to the API).
func firstFundedProject(cfg funding.Config) string {
	best := ""
	bestPct := -1.0
	for _, p := range cfg.Projects {
		if p.Allocation.Value > bestPct {
			best = p.ProjectID
			bestPct = p.Allocation.Value
		}
	}
	return best
}

/*
reopen.go - Reopen policy decision

PURPOSE:
  Decides whether a re-completion earns a reward, and at what
  multiplier, from ledger state plus the tenant's reopen policy.
  Pure decision over stored state; mutates nothing.

DECISION ORDER:
  1. Policy disabled, or first completion      -> allowed, x1.0
  2. Re-completed inside the pause window      -> blocked
  3. Reaward disabled                          -> blocked
  4. Inside the reaward cooldown               -> blocked
  5. Otherwise                                 -> allowed, x multiplier
                                                  (default 0.5)
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/wityliti/afforestation-atlassian-plugin/impact"
)

// ReopenDecision is the outcome of the reopen policy check.
type ReopenDecision struct {
	Allowed    bool
	Multiplier float64
	Reason     string
}

// CheckReopenPolicy applies the tenant's reopen policy to the issue's
// completion history.
func (l *Ledger) CheckReopenPolicy(ctx context.Context, tenantID, issueID string, policy impact.ReopenPolicy) (ReopenDecision, error) {
	if !policy.Enabled {
		return ReopenDecision{Allowed: true, Multiplier: 1.0, Reason: "reopen policy disabled"}, nil
	}

	il, err := l.GetIssueLedger(ctx, tenantID, issueID)
	if err != nil {
		return ReopenDecision{}, err
	}

	if il.CompletionCount == 0 {
		return ReopenDecision{Allowed: true, Multiplier: 1.0, Reason: "first completion"}, nil
	}
	if il.LastCompletedAt == nil {
		return ReopenDecision{Allowed: true, Multiplier: 1.0, Reason: "no previous completion date"}, nil
	}

	daysSince := l.now().Sub(*il.LastCompletedAt).Hours() / 24

	if daysSince < float64(policy.PauseIfReopenedWithinDays) {
		return ReopenDecision{
			Multiplier: 0,
			Reason:     fmt.Sprintf("reopened within %d days", policy.PauseIfReopenedWithinDays),
		}, nil
	}

	if !policy.ReawardAllowed {
		return ReopenDecision{Multiplier: 0, Reason: "reaward not allowed"}, nil
	}

	if daysSince < float64(policy.ReawardCooldownDays) {
		return ReopenDecision{
			Multiplier: 0,
			Reason:     fmt.Sprintf("within %d day cooldown", policy.ReawardCooldownDays),
		}, nil
	}

	multiplier := policy.ReawardMultiplier
	if multiplier == 0 {
		multiplier = 0.5
	}
	return ReopenDecision{Allowed: true, Multiplier: multiplier, Reason: "reaward with multiplier"}, nil
}

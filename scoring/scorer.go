/*
Package scoring turns a detected completion into leaves and trees.

PURPOSE:
  The scorer applies the default formula

      leaves = min(perIssueMax, (basePoints + storyPoints *
               storyPointMultiplier) * issueTypeWeight)

  unless an enabled custom rule matches first, in which case the
  rule's expression (evaluated by the expr package over the same
  variables) overrides it. Reopened completions are gated and scaled
  by the ledger's reopen-policy decision. Leaves floor to a
  non-negative integer; trees are floor(leaves / leavesPerTree).

RULES:
  Rules are evaluated in order. A rule matches when it is enabled,
  its event scope (if any) matches, and all of its field conditions
  pass. A rule whose expression fails to evaluate is skipped and the
  remaining rules (and finally the default formula) still apply -
  scoring never aborts on a bad rule.

REMAINDERS:
  leaves mod leavesPerTree is reported in the details but not tracked
  here; the aggregation engine owns remainder accounting.

SEE ALSO:
  - fields.go: Typed field extraction for rule conditions
  - expr/: The expression evaluator
  - ledger/reopen.go: The reopen decision applied here
*/
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/wityliti/afforestation-atlassian-plugin/expr"
	"github.com/wityliti/afforestation-atlassian-plugin/impact"
	"github.com/wityliti/afforestation-atlassian-plugin/ledger"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config is the tenant's scoring configuration.
type Config struct {
	CurrencyName         string             `json:"currencyName"`
	BasePoints           float64            `json:"basePoints"`
	StoryPointMultiplier float64            `json:"storyPointMultiplier"`
	IssueTypeWeights     map[string]float64 `json:"issueTypeWeights"`
	Caps                 Caps               `json:"caps"`
}

type Caps struct {
	PerUserPerDay int     `json:"perUserPerDay"`
	PerIssueMax   float64 `json:"perIssueMax"`
}

// Rule is one custom scoring rule.
type Rule struct {
	RuleID  string      `json:"ruleId"`
	Enabled bool        `json:"enabled"`
	When    *RuleEvent  `json:"when,omitempty"`
	If      []Condition `json:"if,omitempty"`
	Then    RuleAction  `json:"then"`
}

// RuleEvent scopes a rule to an event kind.
type RuleEvent struct {
	Event string `json:"event"`
}

// EventIssueCompleted is the only event the pipeline emits today.
const EventIssueCompleted = "issue.completed"

// Condition is one field comparison; all conditions must hold.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// RuleAction carries the override expression.
type RuleAction struct {
	LeavesExpr string `json:"leavesExpr"`
}

// Inputs bundles everything a score needs beyond the issue itself.
type Inputs struct {
	TenantID      string
	Scoring       Config
	Rules         []Rule
	LeavesPerTree int
	ReopenPolicy  impact.ReopenPolicy
}

// =============================================================================
// RESULT
// =============================================================================

// Score is the reward for one completion.
type Score struct {
	Leaves  int     `json:"leaves"`
	Trees   int     `json:"trees"`
	Details Details `json:"details"`
}

// Details exposes the arithmetic for auditing and previews.
type Details struct {
	Base            float64 `json:"base"`
	StoryPoints     float64 `json:"storyPoints"`
	SPMultiplier    float64 `json:"spMult"`
	IssueTypeWeight float64 `json:"issueTypeWeight"`
	IssueType       string  `json:"issueType"`
	Priority        string  `json:"priority,omitempty"`
	LeavesPerTree   int     `json:"leavesPerTree"`
	RemainderLeaves int     `json:"remainderLeaves"`
	Formula         string  `json:"formula"`
	RuleID          string  `json:"ruleId,omitempty"`
	Blocked         bool    `json:"blocked,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// Fallbacks for zero-valued scoring settings; the tenant defaults
// normally provide these, but a partial config must still score.
const (
	defaultBasePoints    = 10
	defaultSPMultiplier  = 5
	defaultPerIssueMax   = 200
	defaultLeavesPerTree = 100
)

// =============================================================================
// SCORER
// =============================================================================

// Scorer computes rewards. The ledger dependency serves only the
// reopen-policy read; scoring itself persists nothing.
type Scorer struct {
	Ledger *ledger.Ledger
}

func NewScorer(l *ledger.Ledger) *Scorer {
	return &Scorer{Ledger: l}
}

// Score computes the reward for a detected completion.
func (s *Scorer) Score(ctx context.Context, issue impact.IssueSnapshot, in Inputs, completion impact.CompletionResult) (Score, error) {
	base := in.Scoring.BasePoints
	if base == 0 {
		base = defaultBasePoints
	}
	spMult := in.Scoring.StoryPointMultiplier
	if spMult == 0 {
		spMult = defaultSPMultiplier
	}
	perIssueMax := in.Scoring.Caps.PerIssueMax
	if perIssueMax == 0 {
		perIssueMax = defaultPerIssueMax
	}
	weight, ok := in.Scoring.IssueTypeWeights[issue.IssueType]
	if !ok {
		weight = 1.0
	}

	details := Details{
		Base:            base,
		StoryPoints:     issue.StoryPoints,
		SPMultiplier:    spMult,
		IssueTypeWeight: weight,
		IssueType:       issue.IssueType,
		Priority:        issue.Priority,
		Formula: fmt.Sprintf("min(%v, (%v + %v * %v) * %v)",
			perIssueMax, base, issue.StoryPoints, spMult, weight),
	}

	leaves := math.Min(perIssueMax, (base+issue.StoryPoints*spMult)*weight)

	if ruleLeaves, ruleID, matched := applyRules(in.Rules, issue, expr.Vars{
		"base":            base,
		"spMult":          spMult,
		"storyPoints":     issue.StoryPoints,
		"issueTypeWeight": weight,
	}); matched {
		leaves = ruleLeaves
		details.RuleID = ruleID
	}

	if completion.IsReopen {
		decision, err := s.Ledger.CheckReopenPolicy(ctx, in.TenantID, issue.ID, in.ReopenPolicy)
		if err != nil {
			return Score{}, err
		}
		if !decision.Allowed {
			details.Blocked = true
			details.Reason = decision.Reason
			return Score{Leaves: 0, Trees: 0, Details: details}, nil
		}
		leaves = math.Floor(leaves * decision.Multiplier)
		details.Reason = decision.Reason
	}

	intLeaves := int(math.Floor(leaves))
	if intLeaves < 0 {
		intLeaves = 0
	}

	leavesPerTree := in.LeavesPerTree
	if leavesPerTree < 1 {
		leavesPerTree = defaultLeavesPerTree
	}
	details.LeavesPerTree = leavesPerTree
	details.RemainderLeaves = intLeaves % leavesPerTree

	return Score{
		Leaves:  intLeaves,
		Trees:   intLeaves / leavesPerTree,
		Details: details,
	}, nil
}

// PreviewScore runs the same pipeline against a synthetic completion
// for dry-run display. Nothing is persisted; reopen gating is not
// applied because the preview completion is never a reopen.
func (s *Scorer) PreviewScore(ctx context.Context, issue impact.IssueSnapshot, in Inputs) (Score, error) {
	return s.Score(ctx, issue, in, impact.CompletionResult{
		Detected: true,
		Type:     "preview",
	})
}

// applyRules evaluates rules in order and returns the first full
// match's leaves. Expression failures skip the rule.
func applyRules(rules []Rule, issue impact.IssueSnapshot, vars expr.Vars) (float64, string, bool) {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.When != nil && rule.When.Event != "" && rule.When.Event != EventIssueCompleted {
			continue
		}
		if !conditionsMatch(rule.If, issue) {
			continue
		}
		if rule.Then.LeavesExpr == "" {
			continue
		}
		leaves, err := expr.Evaluate(rule.Then.LeavesExpr, vars)
		if err != nil {
			// A broken rule must not abort scoring.
			continue
		}
		return leaves, rule.RuleID, true
	}
	return 0, "", false
}

func conditionsMatch(conditions []Condition, issue impact.IssueSnapshot) bool {
	for _, c := range conditions {
		if !extractField(issue, c.Field).matches(c.Op, c.Value) {
			return false
		}
	}
	return true
}

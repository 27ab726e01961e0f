/*
rules.go - Rule validation

PURPOSE:
  Checks scoring rules before they are persisted so a broken
  expression or an unknown operator is rejected at write time, not
  discovered when the first event arrives.

SEE ALSO:
  - scorer.go: applyRules (evaluation)
  - expr/expr.go: expression validation
*/
package scoring

import (
	"fmt"

	"github.com/wityliti/afforestation-atlassian-plugin/expr"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpIn: true, OpNotIn: true,
	OpContains: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
}

// ValidateRules checks every rule's shape and expression.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.RuleID == "" {
			return fmt.Errorf("rule %d: ruleId is required", i)
		}
		if seen[r.RuleID] {
			return fmt.Errorf("rule %q: duplicate ruleId", r.RuleID)
		}
		seen[r.RuleID] = true

		if r.When != nil && r.When.Event != EventIssueCompleted {
			return fmt.Errorf("rule %q: unknown event %q", r.RuleID, r.When.Event)
		}
		for _, c := range r.If {
			if c.Field == "" {
				return fmt.Errorf("rule %q: condition field is required", r.RuleID)
			}
			if !knownOperators[c.Op] {
				return fmt.Errorf("rule %q: unknown operator %q", r.RuleID, c.Op)
			}
		}
		if r.Then.LeavesExpr == "" {
			return fmt.Errorf("rule %q: then.leavesExpr is required", r.RuleID)
		}
		if err := expr.Validate(r.Then.LeavesExpr); err != nil {
			return fmt.Errorf("rule %q: %w", r.RuleID, err)
		}
	}
	return nil
}

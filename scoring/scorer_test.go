package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wityliti/afforestation-atlassian-plugin/impact"
	"github.com/wityliti/afforestation-atlassian-plugin/ledger"
	"github.com/wityliti/afforestation-atlassian-plugin/scoring"
	"github.com/wityliti/afforestation-atlassian-plugin/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var scoreTime = time.Date(2026, time.August, 21, 10, 0, 0, 0, time.UTC)

func newTestScorer() (*scoring.Scorer, *ledger.Ledger) {
	l := ledger.New(memory.New())
	l.Now = func() time.Time { return scoreTime }
	return scoring.NewScorer(l), l
}

func defaultInputs() scoring.Inputs {
	return scoring.Inputs{
		TenantID: "tenant-1",
		Scoring: scoring.Config{
			BasePoints:           10,
			StoryPointMultiplier: 5,
			IssueTypeWeights:     map[string]float64{"Bug": 1.2, "Story": 1.0, "Task": 0.7, "Epic": 2.0},
			Caps:                 scoring.Caps{PerUserPerDay: 200, PerIssueMax: 200},
		},
		LeavesPerTree: 100,
	}
}

func scoredIssue(issueType string, storyPoints float64) impact.IssueSnapshot {
	return impact.IssueSnapshot{
		ID:          "10001",
		Key:         "PROJ-1",
		ProjectKey:  "PROJ",
		IssueType:   issueType,
		StoryPoints: storyPoints,
	}
}

func detectedCompletion() impact.CompletionResult {
	return impact.CompletionResult{
		Detected:       true,
		Type:           "statusName",
		ToStatus:       "Done",
		TransitionTime: scoreTime,
	}
}

// =============================================================================
// DEFAULT FORMULA TESTS
// =============================================================================

func TestScore_DefaultFormula(t *testing.T) {
	// GIVEN: base 10, multiplier 5, a 3 point Story at weight 1.0
	// WHEN: Scoring
	// THEN: (10 + 3*5) * 1.0 = 25 leaves, 0 whole trees at 100/tree

	s, _ := newTestScorer()

	score, err := s.Score(context.Background(), scoredIssue("Story", 3), defaultInputs(), detectedCompletion())
	require.NoError(t, err)

	assert.Equal(t, 25, score.Leaves)
	assert.Equal(t, 0, score.Trees)
	assert.Equal(t, 25, score.Details.RemainderLeaves)
}

func TestScore_IssueTypeWeight(t *testing.T) {
	// GIVEN: A 5 point Bug at weight 1.2
	// THEN: floor((10 + 5*5) * 1.2) = 42 leaves

	s, _ := newTestScorer()

	score, err := s.Score(context.Background(), scoredIssue("Bug", 5), defaultInputs(), detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 42, score.Leaves)
	assert.Equal(t, 1.2, score.Details.IssueTypeWeight)
}

func TestScore_UnknownTypeGetsWeightOne(t *testing.T) {
	s, _ := newTestScorer()

	score, err := s.Score(context.Background(), scoredIssue("Spike", 0), defaultInputs(), detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 10, score.Leaves)
	assert.Equal(t, 1.0, score.Details.IssueTypeWeight)
}

func TestScore_PerIssueCap(t *testing.T) {
	// GIVEN: An Epic at weight 2.0 with 40 story points
	// WHEN: The raw formula would give (10 + 200) * 2 = 420
	// THEN: The per-issue cap holds it at 200; 2 whole trees

	s, _ := newTestScorer()

	score, err := s.Score(context.Background(), scoredIssue("Epic", 40), defaultInputs(), detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 200, score.Leaves)
	assert.Equal(t, 2, score.Trees)
	assert.Equal(t, 0, score.Details.RemainderLeaves)
}

func TestScore_ZeroConfigFallsBackToDefaults(t *testing.T) {
	// GIVEN: An empty scoring config
	// WHEN: Scoring a 3 point issue
	// THEN: The built-in fallbacks produce 25 leaves

	s, _ := newTestScorer()
	in := scoring.Inputs{TenantID: "tenant-1"}

	score, err := s.Score(context.Background(), scoredIssue("Story", 3), in, detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 25, score.Leaves)
}

// =============================================================================
// RULE OVERRIDE TESTS
// =============================================================================

func bugRule(id, leavesExpr string) scoring.Rule {
	return scoring.Rule{
		RuleID:  id,
		Enabled: true,
		When:    &scoring.RuleEvent{Event: scoring.EventIssueCompleted},
		If: []scoring.Condition{
			{Field: "issueType", Op: scoring.OpEq, Value: "Bug"},
		},
		Then: scoring.RuleAction{LeavesExpr: leavesExpr},
	}
}

func TestScore_RuleOverridesFormula(t *testing.T) {
	// GIVEN: A rule doubling the base for Bugs
	// WHEN: Scoring a Bug
	// THEN: The rule's expression replaces the default formula

	s, _ := newTestScorer()
	in := defaultInputs()
	in.Rules = []scoring.Rule{bugRule("double-bugs", "base * 2 + storyPoints * spMult")}

	score, err := s.Score(context.Background(), scoredIssue("Bug", 4), in, detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 40, score.Leaves)
	assert.Equal(t, "double-bugs", score.Details.RuleID)
}

func TestScore_RuleConditionsMustAllMatch(t *testing.T) {
	s, _ := newTestScorer()
	in := defaultInputs()
	in.Rules = []scoring.Rule{bugRule("double-bugs", "base * 2")}

	score, err := s.Score(context.Background(), scoredIssue("Story", 3), in, detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 25, score.Leaves)
	assert.Empty(t, score.Details.RuleID)
}

func TestScore_DisabledRuleIgnored(t *testing.T) {
	s, _ := newTestScorer()
	in := defaultInputs()
	rule := bugRule("double-bugs", "base * 2")
	rule.Enabled = false
	in.Rules = []scoring.Rule{rule}

	score, err := s.Score(context.Background(), scoredIssue("Bug", 3), in, detectedCompletion())
	require.NoError(t, err)
	assert.Empty(t, score.Details.RuleID)
}

func TestScore_BrokenRuleExpressionSkipsRule(t *testing.T) {
	// GIVEN: A first rule whose expression divides by zero and a
	//        second valid rule
	// WHEN: Scoring a matching issue
	// THEN: The broken rule is skipped, the second applies

	s, _ := newTestScorer()
	in := defaultInputs()
	in.Rules = []scoring.Rule{
		bugRule("broken", "base / 0"),
		bugRule("fallback", "base * 3"),
	}

	score, err := s.Score(context.Background(), scoredIssue("Bug", 0), in, detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, 30, score.Leaves)
	assert.Equal(t, "fallback", score.Details.RuleID)
}

func TestScore_FirstMatchingRuleWins(t *testing.T) {
	s, _ := newTestScorer()
	in := defaultInputs()
	in.Rules = []scoring.Rule{
		bugRule("first", "base * 3"),
		bugRule("second", "base * 10"),
	}

	score, err := s.Score(context.Background(), scoredIssue("Bug", 0), in, detectedCompletion())
	require.NoError(t, err)
	assert.Equal(t, "first", score.Details.RuleID)
	assert.Equal(t, 30, score.Leaves)
}

// =============================================================================
// CONDITION OPERATOR TESTS
// =============================================================================

func TestScore_RuleOperators(t *testing.T) {
	s, _ := newTestScorer()

	issue := scoredIssue("Bug", 8)
	issue.Priority = "Critical"
	issue.Labels = []string{"security", "backend"}
	issue.CustomFields = map[string]any{"customfield_10020": "payments"}

	cases := []struct {
		name      string
		condition scoring.Condition
		match     bool
	}{
		{"in", scoring.Condition{Field: "priority", Op: scoring.OpIn, Value: []any{"Critical", "Blocker"}}, true},
		{"notIn", scoring.Condition{Field: "priority", Op: scoring.OpNotIn, Value: []any{"Low"}}, true},
		{"contains", scoring.Condition{Field: "labels", Op: scoring.OpContains, Value: "security"}, true},
		{"gt", scoring.Condition{Field: "storyPoints", Op: scoring.OpGt, Value: 5}, true},
		{"lte", scoring.Condition{Field: "storyPoints", Op: scoring.OpLte, Value: 5}, false},
		{"custom field", scoring.Condition{Field: "customfield_10020", Op: scoring.OpEq, Value: "payments"}, true},
		{"absent field", scoring.Condition{Field: "customfield_99999", Op: scoring.OpEq, Value: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := defaultInputs()
			in.Rules = []scoring.Rule{{
				RuleID:  "probe",
				Enabled: true,
				If:      []scoring.Condition{tc.condition},
				Then:    scoring.RuleAction{LeavesExpr: "999"},
			}}

			score, err := s.Score(context.Background(), issue, in, detectedCompletion())
			require.NoError(t, err)
			if tc.match {
				assert.Equal(t, "probe", score.Details.RuleID)
			} else {
				assert.Empty(t, score.Details.RuleID)
			}
		})
	}
}

// =============================================================================
// REOPEN GATING TESTS
// =============================================================================

func reopenInputs() scoring.Inputs {
	in := defaultInputs()
	in.ReopenPolicy = impact.ReopenPolicy{
		Enabled:                   true,
		PauseIfReopenedWithinDays: 7,
		ReawardAllowed:            true,
		ReawardCooldownDays:       14,
		ReawardMultiplier:         0.5,
	}
	return in
}

func TestScore_ReopenInsidePauseWindowBlocked(t *testing.T) {
	// GIVEN: The issue completed 2 days ago
	// WHEN: Scoring a re-completion
	// THEN: Zero leaves, blocked with a reason

	s, l := newTestScorer()
	require.NoError(t, l.ApplyAward(context.Background(), "tenant-1", "10001",
		ledger.AwardEntry{AwardID: "prior", AwardedAt: scoreTime.Add(-48 * time.Hour), Leaves: 25}))

	completion := detectedCompletion()
	completion.IsReopen = true

	score, err := s.Score(context.Background(), scoredIssue("Story", 3), reopenInputs(), completion)
	require.NoError(t, err)
	assert.Equal(t, 0, score.Leaves)
	assert.True(t, score.Details.Blocked)
	assert.NotEmpty(t, score.Details.Reason)
}

func TestScore_ReopenPastCooldownHalved(t *testing.T) {
	// GIVEN: The issue completed 30 days ago
	// WHEN: Scoring a re-completion at multiplier 0.5
	// THEN: floor(25 * 0.5) = 12 leaves

	s, l := newTestScorer()
	require.NoError(t, l.ApplyAward(context.Background(), "tenant-1", "10001",
		ledger.AwardEntry{AwardID: "prior", AwardedAt: scoreTime.Add(-30 * 24 * time.Hour), Leaves: 25}))

	completion := detectedCompletion()
	completion.IsReopen = true

	score, err := s.Score(context.Background(), scoredIssue("Story", 3), reopenInputs(), completion)
	require.NoError(t, err)
	assert.Equal(t, 12, score.Leaves)
	assert.False(t, score.Details.Blocked)
}

// =============================================================================
// PREVIEW TESTS
// =============================================================================

func TestPreviewScore_NoReopenGating(t *testing.T) {
	// GIVEN: An issue that completed yesterday (would be paused)
	// WHEN: Previewing
	// THEN: The preview scores as a first completion

	s, l := newTestScorer()
	require.NoError(t, l.ApplyAward(context.Background(), "tenant-1", "10001",
		ledger.AwardEntry{AwardID: "prior", AwardedAt: scoreTime.Add(-24 * time.Hour), Leaves: 25}))

	score, err := s.PreviewScore(context.Background(), scoredIssue("Story", 3), reopenInputs())
	require.NoError(t, err)
	assert.Equal(t, 25, score.Leaves)
	assert.False(t, score.Details.Blocked)
}

// =============================================================================
// RULE VALIDATION TESTS
// =============================================================================

func TestValidateRules(t *testing.T) {
	valid := []scoring.Rule{bugRule("r1", "base * 2")}
	assert.NoError(t, scoring.ValidateRules(valid))

	noID := []scoring.Rule{{Enabled: true, Then: scoring.RuleAction{LeavesExpr: "1"}}}
	assert.Error(t, scoring.ValidateRules(noID))

	duplicate := []scoring.Rule{bugRule("r1", "1"), bugRule("r1", "2")}
	assert.Error(t, scoring.ValidateRules(duplicate))

	badExpr := []scoring.Rule{bugRule("r1", "base +")}
	assert.Error(t, scoring.ValidateRules(badExpr))

	badOp := []scoring.Rule{{
		RuleID: "r1", Enabled: true,
		If:   []scoring.Condition{{Field: "priority", Op: "matches", Value: "x"}},
		Then: scoring.RuleAction{LeavesExpr: "1"},
	}}
	assert.Error(t, scoring.ValidateRules(badOp))
}

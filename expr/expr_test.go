package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wityliti/afforestation-atlassian-plugin/expr"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func defaultVars() expr.Vars {
	return expr.Vars{
		"base":            10,
		"spMult":          5,
		"storyPoints":     3,
		"issueTypeWeight": 1.2,
	}
}

// =============================================================================
// ARITHMETIC TESTS
// =============================================================================

func TestEvaluate_DefaultFormula(t *testing.T) {
	// GIVEN: The default scoring formula shape
	// WHEN: Evaluating with base=10, spMult=5, storyPoints=3, weight=1.2
	// THEN: (10 + 3*5) * 1.2 = 30

	got, err := expr.Evaluate("(base + storyPoints * spMult) * issueTypeWeight", defaultVars())
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got, 1e-9)
}

func TestEvaluate_Precedence(t *testing.T) {
	// GIVEN: Mixed additive and multiplicative operators
	// WHEN: Evaluating without parentheses
	// THEN: Multiplication binds tighter than addition

	got, err := expr.Evaluate("2 + 3 * 4", expr.Vars{})
	require.NoError(t, err)
	assert.InDelta(t, 14.0, got, 1e-9)
}

func TestEvaluate_UnaryMinus(t *testing.T) {
	got, err := expr.Evaluate("-base + 15", defaultVars())
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestEvaluate_MinMax(t *testing.T) {
	// GIVEN: A capped formula using min()
	// WHEN: The raw value exceeds the cap
	// THEN: The cap wins

	got, err := expr.Evaluate("min(200, base * 100)", defaultVars())
	require.NoError(t, err)
	assert.InDelta(t, 200.0, got, 1e-9)

	got, err = expr.Evaluate("max(1, storyPoints - 10)", defaultVars())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestEvaluate_Coalesce(t *testing.T) {
	// GIVEN: A variable that is zero (absent story points)
	// WHEN: Using the ?? fallback operator
	// THEN: The right operand substitutes only for zero

	got, err := expr.Evaluate("storyPoints ?? 1", expr.Vars{"storyPoints": 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)

	got, err = expr.Evaluate("storyPoints ?? 1", expr.Vars{"storyPoints": 8})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, got, 1e-9)
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestEvaluate_DivisionByZero(t *testing.T) {
	_, err := expr.Evaluate("base / 0", defaultVars())
	require.Error(t, err)
	assert.ErrorIs(t, err, expr.ErrEvaluation)
}

func TestEvaluate_UnknownIdentifier(t *testing.T) {
	// GIVEN: An expression naming a variable that does not exist
	// WHEN: Evaluating
	// THEN: Rejected as invalid, not silently treated as zero

	_, err := expr.Evaluate("base + bogus", defaultVars())
	require.Error(t, err)
	assert.ErrorIs(t, err, expr.ErrInvalidExpression)
}

func TestEvaluate_SyntaxErrors(t *testing.T) {
	cases := []string{
		"",
		"base +",
		"(base + 1",
		"base ** 2",
		"min(1,)",
		"1 2",
		"foo(1)",
	}
	for _, src := range cases {
		_, err := expr.Evaluate(src, defaultVars())
		assert.ErrorIs(t, err, expr.ErrInvalidExpression, "expression %q", src)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, expr.Validate("min(200, (base + storyPoints * spMult) * issueTypeWeight)"))
	assert.Error(t, expr.Validate("base +"))
	assert.Error(t, expr.Validate("unknownVar * 2"))
}

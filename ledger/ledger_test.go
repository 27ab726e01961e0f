package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wityliti/afforestation-atlassian-plugin/impact"
	"github.com/wityliti/afforestation-atlassian-plugin/ledger"
	"github.com/wityliti/afforestation-atlassian-plugin/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testTime = time.Date(2026, time.August, 21, 10, 0, 0, 0, time.UTC)

func newTestLedger() *ledger.Ledger {
	l := ledger.New(memory.New())
	l.Now = func() time.Time { return testTime }
	return l
}

func testAward(awardID string) ledger.AwardRecord {
	return ledger.AwardRecord{
		AwardID:        awardID,
		IssueID:        "10001",
		IssueKey:       "PROJ-1",
		ProjectKey:     "PROJ",
		Leaves:         25,
		Trees:          0,
		CompletionType: "statusName",
		ToStatus:       "Done",
		AssigneeID:     "acct-1",
		AwardedAt:      testTime,
	}
}

// =============================================================================
// AWARD ID TESTS
// =============================================================================

func TestGenerateAwardID_Deterministic(t *testing.T) {
	// GIVEN: The same completion delivered twice
	// WHEN: Deriving the award id both times
	// THEN: Ids are identical, 16 hex chars

	a := ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime)
	b := ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime)

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestGenerateAwardID_ZoneIndependent(t *testing.T) {
	// GIVEN: The same instant expressed in two zones
	// WHEN: Deriving award ids
	// THEN: They match; the producer's zone must not matter

	zone := time.FixedZone("CEST", 2*3600)
	a := ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime)
	b := ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime.In(zone))

	assert.Equal(t, a, b)
}

func TestGenerateAwardID_DistinctInputs(t *testing.T) {
	base := ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime)

	assert.NotEqual(t, base, ledger.GenerateAwardID("tenant-2", "10001", "statusName", "Done", testTime))
	assert.NotEqual(t, base, ledger.GenerateAwardID("tenant-1", "10002", "statusName", "Done", testTime))
	assert.NotEqual(t, base, ledger.GenerateAwardID("tenant-1", "10001", "resolution", "Done", testTime))
	assert.NotEqual(t, base, ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime.Add(time.Second)))
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestRecordAward_DuplicateRejected(t *testing.T) {
	// GIVEN: An award already recorded
	// WHEN: Recording the same award id again
	// THEN: ErrDuplicateAward; the stored record is unchanged

	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.RecordAward(ctx, "tenant-1", testAward("award-1")))

	second := testAward("award-1")
	second.Leaves = 999
	err := l.RecordAward(ctx, "tenant-1", second)
	require.ErrorIs(t, err, ledger.ErrDuplicateAward)

	stored, err := l.GetAward(ctx, "tenant-1", "award-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 25, stored.Leaves)
}

func TestAwardExists(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	exists, err := l.AwardExists(ctx, "tenant-1", "award-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l.RecordAward(ctx, "tenant-1", testAward("award-1")))

	exists, err = l.AwardExists(ctx, "tenant-1", "award-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAwards_TenantIsolation(t *testing.T) {
	// GIVEN: An award recorded for tenant-1
	// WHEN: Looking it up under tenant-2
	// THEN: Not found

	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.RecordAward(ctx, "tenant-1", testAward("award-1")))

	exists, err := l.AwardExists(ctx, "tenant-2", "award-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

// =============================================================================
// ISSUE LEDGER TESTS
// =============================================================================

func TestGetIssueLedger_AbsentIsZeroValued(t *testing.T) {
	l := newTestLedger()

	il, err := l.GetIssueLedger(context.Background(), "tenant-1", "10001")
	require.NoError(t, err)
	assert.Equal(t, 0, il.CompletionCount)
	assert.Nil(t, il.LastCompletedAt)
	assert.Empty(t, il.Awards)
}

func TestApplyAward_AccumulatesHistory(t *testing.T) {
	// GIVEN: Two awards applied to the same issue
	// WHEN: Reading the issue ledger back
	// THEN: Count, totals and history reflect both, newest first

	l := newTestLedger()
	ctx := context.Background()

	first := ledger.AwardEntry{AwardID: "award-1", AwardedAt: testTime, Leaves: 25}
	second := ledger.AwardEntry{AwardID: "award-2", AwardedAt: testTime.Add(48 * time.Hour), Leaves: 12}
	require.NoError(t, l.ApplyAward(ctx, "tenant-1", "10001", first))
	require.NoError(t, l.ApplyAward(ctx, "tenant-1", "10001", second))

	il, err := l.GetIssueLedger(ctx, "tenant-1", "10001")
	require.NoError(t, err)
	assert.Equal(t, 2, il.CompletionCount)
	assert.Equal(t, 37, il.TotalLeaves)
	require.NotNil(t, il.LastCompletedAt)
	assert.True(t, il.LastCompletedAt.Equal(second.AwardedAt))
	require.Len(t, il.Awards, 2)
	assert.Equal(t, "award-2", il.Awards[0].AwardID)
}

func TestApplyAward_HistoryWindowBounded(t *testing.T) {
	// GIVEN: More awards than the history window holds
	// WHEN: Applying all of them
	// THEN: Only the newest ten remain; totals still count everything

	l := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		entry := ledger.AwardEntry{
			AwardID:   ledger.GenerateAwardID("tenant-1", "10001", "statusName", "Done", testTime.Add(time.Duration(i)*time.Hour)),
			AwardedAt: testTime.Add(time.Duration(i) * time.Hour),
			Leaves:    1,
		}
		require.NoError(t, l.ApplyAward(ctx, "tenant-1", "10001", entry))
	}

	il, err := l.GetIssueLedger(ctx, "tenant-1", "10001")
	require.NoError(t, err)
	assert.Equal(t, 15, il.CompletionCount)
	assert.Equal(t, 15, il.TotalLeaves)
	assert.Len(t, il.Awards, 10)
}

func TestMarkReopened(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.MarkReopened(ctx, "tenant-1", "10001", testTime))

	il, err := l.GetIssueLedger(ctx, "tenant-1", "10001")
	require.NoError(t, err)
	require.NotNil(t, il.LastReopenedAt)
	assert.True(t, il.LastReopenedAt.Equal(testTime))
	assert.Equal(t, 0, il.CompletionCount)
}

// =============================================================================
// REOPEN POLICY TESTS
// =============================================================================

func enabledPolicy() impact.ReopenPolicy {
	return impact.ReopenPolicy{
		Enabled:                   true,
		PauseIfReopenedWithinDays: 7,
		ReawardAllowed:            true,
		ReawardCooldownDays:       14,
		ReawardMultiplier:         0.5,
	}
}

func completedDaysAgo(t *testing.T, l *ledger.Ledger, days int) {
	t.Helper()
	entry := ledger.AwardEntry{
		AwardID:   "award-prior",
		AwardedAt: testTime.Add(-time.Duration(days) * 24 * time.Hour),
		Leaves:    25,
	}
	require.NoError(t, l.ApplyAward(context.Background(), "tenant-1", "10001", entry))
}

func TestCheckReopenPolicy_DisabledAlwaysAllows(t *testing.T) {
	l := newTestLedger()
	completedDaysAgo(t, l, 1)

	decision, err := l.CheckReopenPolicy(context.Background(), "tenant-1", "10001", impact.ReopenPolicy{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1.0, decision.Multiplier)
}

func TestCheckReopenPolicy_FirstCompletion(t *testing.T) {
	l := newTestLedger()

	decision, err := l.CheckReopenPolicy(context.Background(), "tenant-1", "10001", enabledPolicy())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1.0, decision.Multiplier)
}

func TestCheckReopenPolicy_PauseWindowBlocks(t *testing.T) {
	// GIVEN: Last completed 3 days ago, pause window 7 days
	// WHEN: Checking the policy
	// THEN: Blocked

	l := newTestLedger()
	completedDaysAgo(t, l, 3)

	decision, err := l.CheckReopenPolicy(context.Background(), "tenant-1", "10001", enabledPolicy())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Multiplier)
}

func TestCheckReopenPolicy_ReawardDisallowedBlocks(t *testing.T) {
	l := newTestLedger()
	completedDaysAgo(t, l, 30)

	policy := enabledPolicy()
	policy.ReawardAllowed = false

	decision, err := l.CheckReopenPolicy(context.Background(), "tenant-1", "10001", policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckReopenPolicy_CooldownBlocks(t *testing.T) {
	// GIVEN: Last completed 10 days ago, past the pause window but
	//        inside the 14 day cooldown
	l := newTestLedger()
	completedDaysAgo(t, l, 10)

	decision, err := l.CheckReopenPolicy(context.Background(), "tenant-1", "10001", enabledPolicy())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckReopenPolicy_ReawardWithMultiplier(t *testing.T) {
	// GIVEN: Last completed 30 days ago, past pause and cooldown
	// WHEN: Checking the policy
	// THEN: Allowed at the configured multiplier

	l := newTestLedger()
	completedDaysAgo(t, l, 30)

	decision, err := l.CheckReopenPolicy(context.Background(), "tenant-1", "10001", enabledPolicy())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0.5, decision.Multiplier)
}

// =============================================================================
// BATCH RECORD TESTS
// =============================================================================

func TestBatchRecords_RoundTrip(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	record := ledger.BatchRecord{
		BatchID:    "2026-W34",
		PeriodKey:  "2026-W34",
		TotalTrees: 12,
		PledgeID:   "pledge-9",
		Status:     "completed",
	}
	require.NoError(t, l.RecordBatch(ctx, "tenant-1", record))

	got, err := l.GetBatch(ctx, "tenant-1", "2026-W34")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pledge-9", got.PledgeID)
	assert.Equal(t, 12, got.TotalTrees)

	missing, err := l.GetBatch(ctx, "tenant-1", "2026-W35")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

/*
Package ledger is the durable record of awards and the system's
idempotency mechanism.

PURPOSE:
  The event source delivers at-least-once. The ledger converges that
  to at-most-one reward per completion by deriving a deterministic
  award id from the event's content and writing the award record with
  an atomic create-if-absent. It also keeps a small rolling history
  per issue and decides the reopen policy.

CRITICAL INVARIANTS:
  1. DETERMINISM: identical (tenant, issue, completion type, target
     status, transition time) always produce the identical award id.
  2. AT-MOST-ONCE: an award record is created exactly once per id;
     RecordAward loses gracefully with ErrDuplicateAward when another
     delivery got there first.
  3. IMMUTABILITY: award records are never updated or deleted.
  4. NON-DESTRUCTIVE HISTORY: issue ledger mutations read-merge-write;
     unrelated fields are never clobbered.

AWARD ID:
  sha256("tenant|issueId|completionType|toStatus|transitionTime"),
  hex, truncated to 16 characters - collision-resistant at expected
  volumes and compact as a storage key.

SEE ALSO:
  - reopen.go: Reopen policy decision
  - store/: PutIfAbsent, the primitive RecordAward relies on
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateAward is returned when an award record already exists
	// for the id. Expected under duplicate delivery; not a failure.
	ErrDuplicateAward = errors.New("award already recorded")
)

// =============================================================================
// RECORDS
// =============================================================================

// awardHistorySize bounds the per-issue rolling award window.
const awardHistorySize = 10

// AwardRecord is the immutable idempotency record for one scored
// completion.
type AwardRecord struct {
	AwardID        string    `json:"awardId"`
	IssueID        string    `json:"issueId"`
	IssueKey       string    `json:"issueKey"`
	ProjectKey     string    `json:"projectKey"`
	Leaves         int       `json:"leaves"`
	Trees          int       `json:"trees"`
	CompletionType string    `json:"completionType"`
	ToStatus       string    `json:"toStatus"`
	AssigneeID     string    `json:"assigneeId,omitempty"`
	AwardedAt      time.Time `json:"awardedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AwardEntry is one entry in the issue ledger's rolling window.
type AwardEntry struct {
	AwardID   string    `json:"awardId"`
	AwardedAt time.Time `json:"awardedAt"`
	Leaves    int       `json:"leaves"`
}

// IssueLedger is the per-issue mutable completion history.
type IssueLedger struct {
	IssueID         string       `json:"issueId"`
	CompletionCount int          `json:"completionCount"`
	TotalLeaves     int          `json:"totalLeaves"`
	LastCompletedAt *time.Time   `json:"lastCompletedAt,omitempty"`
	LastReopenedAt  *time.Time   `json:"lastReopenedAt,omitempty"`
	Awards          []AwardEntry `json:"awards"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// BatchRecord is the audit record of one batch pledge run.
type BatchRecord struct {
	BatchID    string    `json:"batchId"`
	PeriodKey  string    `json:"periodKey"`
	TotalTrees int       `json:"totalTrees"`
	PledgeID   string    `json:"pledgeId,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// =============================================================================
// AWARD ID
// =============================================================================

// GenerateAwardID derives the deterministic idempotency key for a
// completion. transitionTime is normalized to UTC RFC3339 so the hash
// does not depend on the producer's zone representation.
func GenerateAwardID(tenantID, issueID, completionType, toStatus string, transitionTime time.Time) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s",
		tenantID, issueID, completionType, toStatus,
		transitionTime.UTC().Format(time.RFC3339))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger persists award and issue records through the KV store.
type Ledger struct {
	KV store.KV

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(kv store.KV) *Ledger {
	return &Ledger{KV: kv, Now: time.Now}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// AwardExists reports whether an award record exists for awardID.
// Callers check this before scoring to short-circuit duplicates
// cheaply; RecordAward remains the authoritative gate.
func (l *Ledger) AwardExists(ctx context.Context, tenantID, awardID string) (bool, error) {
	_, ok, err := l.KV.Get(ctx, store.AwardLedgerKey(tenantID, awardID))
	return ok, err
}

// RecordAward writes the immutable award record. Returns
// ErrDuplicateAward when the id is already recorded, including when a
// concurrent duplicate delivery wins the race after AwardExists.
func (l *Ledger) RecordAward(ctx context.Context, tenantID string, record AwardRecord) error {
	record.CreatedAt = l.now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal award %s: %w", record.AwardID, err)
	}

	created, err := l.KV.PutIfAbsent(ctx, store.AwardLedgerKey(tenantID, record.AwardID), data)
	if err != nil {
		return err
	}
	if !created {
		return ErrDuplicateAward
	}
	return nil
}

// GetAward returns the award record, or nil when absent.
func (l *Ledger) GetAward(ctx context.Context, tenantID, awardID string) (*AwardRecord, error) {
	data, ok, err := l.KV.Get(ctx, store.AwardLedgerKey(tenantID, awardID))
	if err != nil || !ok {
		return nil, err
	}
	var record AwardRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal award %s: %w", awardID, err)
	}
	return &record, nil
}

// GetIssueLedger returns the issue's history, zero-valued when the
// issue has never been awarded.
func (l *Ledger) GetIssueLedger(ctx context.Context, tenantID, issueID string) (IssueLedger, error) {
	data, ok, err := l.KV.Get(ctx, store.IssueLedgerKey(tenantID, issueID))
	if err != nil {
		return IssueLedger{}, err
	}
	if !ok {
		return IssueLedger{IssueID: issueID}, nil
	}
	var il IssueLedger
	if err := json.Unmarshal(data, &il); err != nil {
		return IssueLedger{}, fmt.Errorf("unmarshal issue ledger %s: %w", issueID, err)
	}
	return il, nil
}

// ApplyAward folds a new award into the issue ledger: bumps the
// completion count and totals, stamps lastCompletedAt, and prepends
// the award to the bounded history window.
func (l *Ledger) ApplyAward(ctx context.Context, tenantID, issueID string, award AwardEntry) error {
	current, err := l.GetIssueLedger(ctx, tenantID, issueID)
	if err != nil {
		return err
	}

	at := award.AwardedAt
	current.IssueID = issueID
	current.CompletionCount++
	current.TotalLeaves += award.Leaves
	current.LastCompletedAt = &at
	current.Awards = append([]AwardEntry{award}, current.Awards...)
	if len(current.Awards) > awardHistorySize {
		current.Awards = current.Awards[:awardHistorySize]
	}

	return l.putIssueLedger(ctx, tenantID, issueID, current)
}

// MarkReopened stamps lastReopenedAt without touching award history.
func (l *Ledger) MarkReopened(ctx context.Context, tenantID, issueID string, at time.Time) error {
	current, err := l.GetIssueLedger(ctx, tenantID, issueID)
	if err != nil {
		return err
	}
	current.IssueID = issueID
	current.LastReopenedAt = &at
	return l.putIssueLedger(ctx, tenantID, issueID, current)
}

func (l *Ledger) putIssueLedger(ctx context.Context, tenantID, issueID string, il IssueLedger) error {
	il.UpdatedAt = l.now().UTC()
	data, err := json.Marshal(il)
	if err != nil {
		return fmt.Errorf("marshal issue ledger %s: %w", issueID, err)
	}
	return l.KV.Set(ctx, store.IssueLedgerKey(tenantID, issueID), data)
}

// RecordBatch upserts the audit record for a batch run.
func (l *Ledger) RecordBatch(ctx context.Context, tenantID string, record BatchRecord) error {
	record.UpdatedAt = l.now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal batch record %s: %w", record.BatchID, err)
	}
	return l.KV.Set(ctx, store.BatchLedgerKey(tenantID, record.BatchID), data)
}

// GetBatch returns a batch run record, or nil when absent.
func (l *Ledger) GetBatch(ctx context.Context, tenantID, batchID string) (*BatchRecord, error) {
	data, ok, err := l.KV.Get(ctx, store.BatchLedgerKey(tenantID, batchID))
	if err != nil || !ok {
		return nil, err
	}
	var record BatchRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal batch record %s: %w", batchID, err)
	}
	return &record, nil
}

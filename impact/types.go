/*
Package impact contains the core event-path domain types and the two
pure detectors that gate the reward pipeline.

PURPOSE:
  An inbound work-tracker event carries an issue snapshot plus an
  ordered list of field transitions. This package decides, without
  touching storage, whether that event is in scope (scope.go) and
  whether it represents a completion or a reopen (completion.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - IssueSnapshot: The issue's current field values at event time
  - Change/ChangeDelta: Ordered field transitions from the event
  - CompletionResult: What the detector concluded, and how
  - ScopeConfig / CompletionConfig / ReopenPolicy: Tenant settings
    consumed by the detectors (owned and merged by the tenant package)

DESIGN PRINCIPLES:
  1. Purity: Nothing in this package performs I/O or raises errors;
     detectors always return a value.
  2. Fail closed: A missing project or issue type puts an issue out
     of scope rather than in.
  3. Determinism: The completion type tag is a sorted composite so
     identical events always hash to identical award ids downstream.

SEE ALSO:
  - scope.go: Scope Filter
  - completion.go: Completion and reopen detection
  - scoring/: Consumes IssueSnapshot for rule conditions
*/
package impact

import "time"

// =============================================================================
// ISSUE SNAPSHOT + CHANGE DELTA
// =============================================================================

// IssueSnapshot is the issue's field values as delivered with the event.
// Ephemeral; never persisted.
type IssueSnapshot struct {
	ID         string
	Key        string
	ProjectKey string
	IssueType  string
	Status     string
	// StatusCategory is the tracker's own category key for Status
	// (done / indeterminate / new). Empty when the event did not
	// include category metadata; detection then falls back to name
	// heuristics.
	StatusCategory string
	Resolution     string
	Priority       string
	AssigneeID     string
	Labels         []string
	EpicKey        string
	StoryPoints    float64

	// CustomFields carries tracker-specific extension fields
	// (customfield_* keys) for rule conditions.
	CustomFields map[string]any
}

// Change is one field transition from the event's change delta.
// From and To are display values; To empty means the field was cleared.
type Change struct {
	Field string
	From  string
	To    string
}

// ChangeDelta is the ordered sequence of transitions in one event.
type ChangeDelta []Change

// Event is the inbound unit of work: one issue update delivered
// at-least-once, unordered across issues.
type Event struct {
	TenantID string
	Issue    IssueSnapshot
	Delta    ChangeDelta
	// Time is the tracker's event timestamp. It participates in the
	// award id, so it must be the delivered time, not processing time.
	Time time.Time
}

// =============================================================================
// COMPLETION RESULT
// =============================================================================

// Strategy names. These appear inside award ids via the composite
// type tag, so they are permanent.
const (
	StrategyStatusName     = "statusName"
	StrategyStatusCategory = "statusCategory"
	StrategyResolution     = "resolution"
)

// CompletionResult is the detector's verdict for one event.
type CompletionResult struct {
	Detected bool
	// Type is a stable composite of the matched strategies, sorted
	// lexicographically and joined with "+" (or "custom" in CUSTOM
	// mode). Part of the award id.
	Type           string
	ToStatus       string
	TransitionTime time.Time
	// IsReopen marks a re-completion of a previously completed issue.
	// Set by the pipeline from ledger state; detection itself is pure.
	IsReopen bool
	// Matched reports the per-strategy outcome for auditing.
	Matched map[string]bool
}

// =============================================================================
// TENANT SETTINGS CONSUMED BY THE DETECTORS
// =============================================================================

// ScopeConfig narrows which issues can earn rewards.
// Empty include lists admit everything; exclusions always win.
type ScopeConfig struct {
	IncludedProjects   []string `json:"includedProjects"`
	ExcludedProjects   []string `json:"excludedProjects"`
	IncludedIssueTypes []string `json:"includedIssueTypes"`
	ExcludedIssueTypes []string `json:"excludedIssueTypes"`
	LabelExclusions    []string `json:"labelExclusions"`
	EpicExclusions     []string `json:"epicExclusions"`
}

// CompletionMode combines the enabled strategies.
type CompletionMode string

const (
	ModeAny CompletionMode = "ANY"
	ModeAll CompletionMode = "ALL"
	// ModeCustom is reserved; it behaves as ANY with type tag "custom".
	ModeCustom CompletionMode = "CUSTOM"
)

// CompletionConfig controls how "done" is recognized.
type CompletionConfig struct {
	Mode           CompletionMode       `json:"mode"`
	StatusName     StatusNameStrategy   `json:"statusName"`
	StatusCategory CategoryStrategy     `json:"statusCategory"`
	Resolution     ResolutionStrategy   `json:"resolution"`
	ReopenPolicy   ReopenPolicy         `json:"reopenPolicy"`
}

type StatusNameStrategy struct {
	Enabled         bool     `json:"enabled"`
	DoneStatusNames []string `json:"doneStatusNames"`
}

type CategoryStrategy struct {
	Enabled          bool     `json:"enabled"`
	DoneCategoryKeys []string `json:"doneCategoryKeys"`
}

type ResolutionStrategy struct {
	Enabled                 bool     `json:"enabled"`
	RequiredResolutionNames []string `json:"requiredResolutionNames"`
}

// ReopenPolicy governs rewards for issues completed more than once.
type ReopenPolicy struct {
	Enabled                   bool    `json:"enabled"`
	PauseIfReopenedWithinDays int     `json:"pauseIfReopenedWithinDays"`
	ReawardAllowed            bool    `json:"reawardAllowed"`
	ReawardCooldownDays       int     `json:"reawardCooldownDays"`
	ReawardMultiplier         float64 `json:"reawardMultiplier"`
}

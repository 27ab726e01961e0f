/*
completion.go - Completion and reopen detection

PURPOSE:
  Scans an event's change delta for status/resolution transitions and
  decides whether the issue just completed, according to the tenant's
  enabled strategies and combination mode.

STRATEGIES:
  statusName:     to-status is in the configured done-name set
  statusCategory: to-status maps to a configured done category, via
                  the issue's own category metadata or a name heuristic
  resolution:     a resolution was set (optionally from an allow-list)

MODES:
  ANY:    at least one enabled strategy matched
  ALL:    every enabled strategy matched (at least one must match;
          zero enabled strategies never detects)
  CUSTOM: reserved, ANY semantics with the distinct type tag "custom"

The composite type tag is the sorted "+"-joined list of matched
strategy names. It feeds the award id, so its ordering is permanent.
*/
package impact

import (
	"sort"
	"strings"
	"time"
)

// fallbackDonePatterns classify a status as done when neither the
// configured names nor category metadata settle it.
var fallbackDonePatterns = []string{"done", "closed", "resolved", "complete", "completed"}

var categoryDonePatterns = []string{"done", "closed", "resolved", "complete", "completed", "released", "shipped"}

var categoryInProgressPatterns = []string{"in progress", "in review", "in development", "working", "active"}

var categoryTodoPatterns = []string{"to do", "todo", "open", "new", "backlog", "pending"}

// DetectCompletion evaluates the enabled strategies against the change
// delta. eventTime becomes the result's TransitionTime; it must be the
// delivered event timestamp so duplicate deliveries stay idempotent.
func DetectCompletion(issue IssueSnapshot, delta ChangeDelta, cfg CompletionConfig, eventTime time.Time) CompletionResult {
	matched := map[string]bool{
		StrategyStatusName:     false,
		StrategyStatusCategory: false,
		StrategyResolution:     false,
	}
	toStatus := ""

	for _, change := range delta {
		if change.Field == "status" {
			if cfg.StatusName.Enabled && contains(cfg.StatusName.DoneStatusNames, change.To) {
				matched[StrategyStatusName] = true
				toStatus = change.To
			}
			if cfg.StatusCategory.Enabled {
				keys := cfg.StatusCategory.DoneCategoryKeys
				if len(keys) == 0 {
					keys = []string{"done"}
				}
				if contains(keys, statusCategoryOf(change.To, issue)) {
					matched[StrategyStatusCategory] = true
					if toStatus == "" {
						toStatus = change.To
					}
				}
			}
		}

		if change.Field == "resolution" && cfg.Resolution.Enabled && change.To != "" {
			required := cfg.Resolution.RequiredResolutionNames
			if len(required) == 0 || contains(required, change.To) {
				matched[StrategyResolution] = true
			}
		}
	}

	detected, typeTag := combine(cfg, matched)

	if toStatus == "" {
		toStatus = issue.Status
	}

	return CompletionResult{
		Detected:       detected,
		Type:           typeTag,
		ToStatus:       toStatus,
		TransitionTime: eventTime,
		Matched:        matched,
	}
}

func combine(cfg CompletionConfig, matched map[string]bool) (bool, string) {
	anyMatched := matched[StrategyStatusName] || matched[StrategyStatusCategory] || matched[StrategyResolution]

	mode := cfg.Mode
	if mode == "" {
		mode = ModeAny
	}

	switch mode {
	case ModeAll:
		var enabled []string
		if cfg.StatusName.Enabled {
			enabled = append(enabled, StrategyStatusName)
		}
		if cfg.StatusCategory.Enabled {
			enabled = append(enabled, StrategyStatusCategory)
		}
		if cfg.Resolution.Enabled {
			enabled = append(enabled, StrategyResolution)
		}
		if len(enabled) == 0 {
			return false, ""
		}
		for _, s := range enabled {
			if !matched[s] {
				return false, typeTag(matched)
			}
		}
		sort.Strings(enabled)
		return true, strings.Join(enabled, "+")

	case ModeCustom:
		return anyMatched, "custom"

	default: // ANY
		return anyMatched, typeTag(matched)
	}
}

// typeTag builds the sorted composite of matched strategy names.
func typeTag(matched map[string]bool) string {
	var names []string
	for name, ok := range matched {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// DetectReopen reports whether the delta moves the issue from a done
// status to a non-done one. Used to stamp lastReopenedAt on the issue
// ledger; the reward decision itself lives in the reopen policy.
func DetectReopen(delta ChangeDelta, cfg CompletionConfig) bool {
	for _, change := range delta {
		if change.Field != "status" {
			continue
		}
		if isDoneStatus(change.From, cfg) && !isDoneStatus(change.To, cfg) {
			return true
		}
	}
	return false
}

func isDoneStatus(statusName string, cfg CompletionConfig) bool {
	if statusName == "" {
		return false
	}
	if cfg.StatusName.Enabled && contains(cfg.StatusName.DoneStatusNames, statusName) {
		return true
	}
	lower := strings.ToLower(statusName)
	for _, pattern := range fallbackDonePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// statusCategoryOf resolves a status name to a category key, preferring
// the snapshot's own metadata when the transition landed on the
// snapshot's current status.
func statusCategoryOf(statusName string, issue IssueSnapshot) string {
	if issue.StatusCategory != "" && statusName == issue.Status {
		return issue.StatusCategory
	}

	lower := strings.ToLower(statusName)
	for _, p := range categoryDonePatterns {
		if strings.Contains(lower, p) {
			return "done"
		}
	}
	for _, p := range categoryInProgressPatterns {
		if strings.Contains(lower, p) {
			return "indeterminate"
		}
	}
	for _, p := range categoryTodoPatterns {
		if strings.Contains(lower, p) {
			return "new"
		}
	}
	return "indeterminate"
}

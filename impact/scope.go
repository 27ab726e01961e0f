/*
scope.go - Scope Filter

PURPOSE:
  Decides whether an issue is eligible for scoring at all. Runs first
  on the event path and short-circuits everything downstream.

ORDER OF CHECKS (first failure wins):
  1. Project exclusion, then project inclusion (empty list = all)
  2. Issue type exclusion, then inclusion
  3. Label exclusions (any excluded label present rejects)
  4. Epic/parent exclusions

FAIL CLOSED:
  An issue with no project or no issue type is out of scope. A nil
  scope config means no filtering: everything is in scope.
*/
package impact

// InScope reports whether the issue passes the tenant's scope rules.
// Pure; never errors.
func InScope(issue IssueSnapshot, scope *ScopeConfig) bool {
	if scope == nil {
		return true
	}

	if !scopeAdmits(issue.ProjectKey, scope.IncludedProjects, scope.ExcludedProjects) {
		return false
	}
	if !scopeAdmits(issue.IssueType, scope.IncludedIssueTypes, scope.ExcludedIssueTypes) {
		return false
	}

	for _, label := range issue.Labels {
		if contains(scope.LabelExclusions, label) {
			return false
		}
	}

	if issue.EpicKey != "" && contains(scope.EpicExclusions, issue.EpicKey) {
		return false
	}

	return true
}

// scopeAdmits applies the shared include/exclude logic: a missing
// value fails closed, an exclusion always rejects, and a non-empty
// include list requires membership.
func scopeAdmits(value string, included, excluded []string) bool {
	if value == "" {
		return false
	}
	if contains(excluded, value) {
		return false
	}
	if len(included) > 0 && !contains(included, value) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

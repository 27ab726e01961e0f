/*
fields.go - Typed field accessors for rule conditions

PURPOSE:
  Rule conditions reference issue fields by name. Instead of reaching
  into an untyped bag of tracker fields, a registry of named
  extractors returns tagged values, so each operator is checked
  against the kind it can actually apply to.

REGISTERED FIELDS:
  issueType, priority, project, status, resolution  (string)
  storyPoints                                       (number)
  labels                                            (string list)

  Names with the customfield_ prefix resolve through the snapshot's
  CustomFields map and are tagged by their dynamic type.
*/
package scoring

import (
	"strings"

	"github.com/wityliti/afforestation-atlassian-plugin/impact"
)

// =============================================================================
// TAGGED VALUES
// =============================================================================

type fieldKind int

const (
	kindAbsent fieldKind = iota
	kindString
	kindNumber
	kindStrings
)

type fieldValue struct {
	kind fieldKind
	str  string
	num  float64
	list []string
}

func stringField(s string) fieldValue  { return fieldValue{kind: kindString, str: s} }
func numberField(n float64) fieldValue { return fieldValue{kind: kindNumber, num: n} }

// =============================================================================
// EXTRACTOR REGISTRY
// =============================================================================

type extractor func(impact.IssueSnapshot) fieldValue

var extractors = map[string]extractor{
	"issueType":  func(i impact.IssueSnapshot) fieldValue { return stringField(i.IssueType) },
	"priority":   func(i impact.IssueSnapshot) fieldValue { return stringField(i.Priority) },
	"project":    func(i impact.IssueSnapshot) fieldValue { return stringField(i.ProjectKey) },
	"status":     func(i impact.IssueSnapshot) fieldValue { return stringField(i.Status) },
	"resolution": func(i impact.IssueSnapshot) fieldValue { return stringField(i.Resolution) },
	"storyPoints": func(i impact.IssueSnapshot) fieldValue {
		return numberField(i.StoryPoints)
	},
	"labels": func(i impact.IssueSnapshot) fieldValue {
		return fieldValue{kind: kindStrings, list: i.Labels}
	},
}

// extractField resolves a condition's field name against the issue.
func extractField(issue impact.IssueSnapshot, field string) fieldValue {
	if fn, ok := extractors[field]; ok {
		return fn(issue)
	}
	if strings.HasPrefix(field, "customfield_") {
		return tagDynamic(issue.CustomFields[field])
	}
	return fieldValue{kind: kindAbsent}
}

// tagDynamic classifies a custom field's dynamic value.
func tagDynamic(v any) fieldValue {
	switch t := v.(type) {
	case nil:
		return fieldValue{kind: kindAbsent}
	case string:
		return stringField(t)
	case float64:
		return numberField(t)
	case int:
		return numberField(float64(t))
	case []string:
		return fieldValue{kind: kindStrings, list: t}
	case []any:
		list := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		return fieldValue{kind: kindStrings, list: list}
	default:
		return fieldValue{kind: kindAbsent}
	}
}

// =============================================================================
// OPERATORS
// =============================================================================

// Operator is a rule condition comparator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpIn       Operator = "in"
	OpNotIn    Operator = "notIn"
	OpContains Operator = "contains"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
)

// matches applies op against the expected value from the rule.
// Kind mismatches fail the condition rather than erroring.
func (v fieldValue) matches(op Operator, expected any) bool {
	switch op {
	case OpEq:
		return v.equals(expected)
	case OpNeq:
		return !v.equals(expected)
	case OpIn:
		return containsValue(expected, v)
	case OpNotIn:
		return !containsValue(expected, v)
	case OpContains:
		if v.kind != kindStrings {
			return false
		}
		want, ok := expected.(string)
		if !ok {
			return false
		}
		for _, item := range v.list {
			if item == want {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		if v.kind != kindNumber {
			return false
		}
		want, ok := asNumber(expected)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return v.num > want
		case OpGte:
			return v.num >= want
		case OpLt:
			return v.num < want
		default:
			return v.num <= want
		}
	default:
		return false
	}
}

func (v fieldValue) equals(expected any) bool {
	switch v.kind {
	case kindString:
		s, ok := expected.(string)
		return ok && v.str == s
	case kindNumber:
		n, ok := asNumber(expected)
		return ok && v.num == n
	default:
		return false
	}
}

// containsValue checks membership of v in an expected list
// (JSON arrays arrive as []any).
func containsValue(expected any, v fieldValue) bool {
	items, ok := expected.([]any)
	if !ok {
		if strs, sok := expected.([]string); sok {
			for _, s := range strs {
				if v.kind == kindString && v.str == s {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if v.equals(item) {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WEBHOOK SHAPE:
  IssueEventRequest mirrors the tracker's webhook payload
  (issue + fields + changelog items) closely enough that the
  tracker's delivery can be forwarded with minimal reshaping.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - impact/types.go: The internal event model these map onto
*/
package api

import (
	"time"

	"github.com/wityliti/afforestation-atlassian-plugin/impact"
)

// =============================================================================
// WEBHOOK TYPES
// =============================================================================

// IssueEventRequest is the inbound webhook payload for one issue
// update.
type IssueEventRequest struct {
	TenantID  string         `json:"tenantId"`
	Timestamp time.Time      `json:"timestamp"`
	Issue     IssueDTO       `json:"issue"`
	Changelog []ChangeDTO    `json:"changelog"`
	Custom    map[string]any `json:"customFields,omitempty"`
}

// IssueDTO is the issue snapshot as delivered by the tracker.
type IssueDTO struct {
	ID             string   `json:"id"`
	Key            string   `json:"key"`
	ProjectKey     string   `json:"projectKey"`
	IssueType      string   `json:"issueType"`
	Status         string   `json:"status"`
	StatusCategory string   `json:"statusCategory,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	AssigneeID     string   `json:"assigneeId,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	EpicKey        string   `json:"epicKey,omitempty"`
	StoryPoints    float64  `json:"storyPoints,omitempty"`
}

// ChangeDTO is one changed field within the event.
type ChangeDTO struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// toEvent converts the wire payload to the internal event model.
func (req IssueEventRequest) toEvent() impact.Event {
	delta := make(impact.ChangeDelta, 0, len(req.Changelog))
	for _, c := range req.Changelog {
		delta = append(delta, impact.Change{Field: c.Field, From: c.From, To: c.To})
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return impact.Event{
		TenantID: req.TenantID,
		Issue: impact.IssueSnapshot{
			ID:             req.Issue.ID,
			Key:            req.Issue.Key,
			ProjectKey:     req.Issue.ProjectKey,
			IssueType:      req.Issue.IssueType,
			Status:         req.Issue.Status,
			StatusCategory: req.Issue.StatusCategory,
			Resolution:     req.Issue.Resolution,
			Priority:       req.Issue.Priority,
			AssigneeID:     req.Issue.AssigneeID,
			Labels:         req.Issue.Labels,
			EpicKey:        req.Issue.EpicKey,
			StoryPoints:    req.Issue.StoryPoints,
			CustomFields:   req.Custom,
		},
		Delta: delta,
		Time:  ts,
	}
}

// =============================================================================
// PREVIEW TYPES
// =============================================================================

// ScorePreviewRequest asks "what would this issue earn".
type ScorePreviewRequest struct {
	Issue  IssueDTO       `json:"issue"`
	Custom map[string]any `json:"customFields,omitempty"`
}

// AllocationPreviewRequest asks how a tree total would be split.
type AllocationPreviewRequest struct {
	TotalTrees int `json:"totalTrees"`
}

// =============================================================================
// DASHBOARD TYPES
// =============================================================================

// DashboardDTO is one period's aggregate view.
type DashboardDTO struct {
	PeriodType     string `json:"periodType"`
	PeriodKey      string `json:"periodKey"`
	Scope          string `json:"scope"`
	ScopeID        string `json:"scopeId,omitempty"`
	Leaves         int    `json:"leaves"`
	Trees          int    `json:"trees"`
	IssueCount     int    `json:"issueCount"`
	PledgedAt      string `json:"pledgedAt,omitempty"`
	RemainderTrees int    `json:"remainderTrees,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

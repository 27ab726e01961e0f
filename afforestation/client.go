/*
Package afforestation is the client for the external tree-planting
fulfillment API.

PURPOSE:
  The batch path submits pledges (a period's allocation across funded
  projects); the event path can submit instant single-issue orders.
  Status lookups and the project catalog round out the surface.

TRANSPORT DISCIPLINE:
  - 30s request timeout
  - Up to 3 attempts total, exponential backoff (2s, 4s, 8s)
  - Client errors (4xx) are never retried and surface immediately
  - Server/network errors retry up to the ceiling, then the last
    error surfaces
  - Every request carries an X-Request-Id (uuid) and declares its
    source; pledge/order payloads declare the tenant

ERRORS:
  *APIError carries status, body and request id; Transient() tells
  callers (and the retry loop) whether the failure class is worth
  retrying. Retries are this client's job - callers never retry.

SEE ALSO:
  - pipeline/batch.go: Pledge submission
  - pipeline/event.go: Instant orders
*/
package afforestation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the production fulfillment endpoint.
	DefaultBaseURL = "https://api.afforestation.org"

	requestTimeout = 30 * time.Second
	maxAttempts    = 3

	sourceName = "impact-engine"
)

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx response from the fulfillment API.
type APIError struct {
	StatusCode int
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fulfillment API HTTP %d (request %s): %s", e.StatusCode, e.RequestID, e.Body)
}

// Transient reports whether the failure class is retryable
// (5xx; 4xx is the caller's fault and never retried).
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// IsPermanent reports whether err is a non-retryable client error.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// PledgeAllocation is one project's share within a pledge.
type PledgeAllocation struct {
	ProjectID string `json:"projectId"`
	Trees     int    `json:"trees"`
}

// Evidence documents where a pledge's trees came from.
type Evidence struct {
	Source     string `json:"source"`
	Period     string `json:"period"`
	IssueCount int    `json:"issueCount"`
}

// PledgeRequest is a batched commitment of trees for one period.
type PledgeRequest struct {
	TenantID    string
	Period      string
	TotalTrees  int
	TotalLeaves int
	Allocations []PledgeAllocation
	Evidence    Evidence
}

// PledgeResponse is the API's acknowledgement of a pledge.
type PledgeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OrderReference ties an instant order back to the issue that earned it.
type OrderReference struct {
	IssueKey string `json:"issueKey"`
	IssueID  string `json:"issueId"`
	AwardID  string `json:"awardId"`
}

// OrderRequest is a single-issue immediate planting request.
type OrderRequest struct {
	TenantID  string
	ProjectID string
	Trees     int
	Reference OrderReference
}

// OrderResponse is the API's acknowledgement of an instant order.
type OrderResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ExternalRef string `json:"treeId"`
}

// PledgeStatus is the current state of a previously created pledge.
type PledgeStatus struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// OrderStatus is the current state of a planting order.
type OrderStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ExternalRef string `json:"treeId,omitempty"`
}

// CatalogProject is one plantable project from the API catalog.
type CatalogProject struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Region    string `json:"region,omitempty"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the fulfillment API.
type Client struct {
	BaseURL string
	APIKey  string

	HTTP *http.Client
	Log  *zap.SugaredLogger

	// Sleep is injectable for tests; defaults to a ctx-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client for baseURL (DefaultBaseURL when empty).
func New(baseURL, apiKey string, log *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: requestTimeout},
		Log:     log,
		Sleep:   sleepCtx,
	}
}

// CreatePledge submits a batched commitment of trees.
func (c *Client) CreatePledge(ctx context.Context, req PledgeRequest) (*PledgeResponse, error) {
	body := map[string]any{
		"source":      sourceName,
		"tenantId":    req.TenantID,
		"period":      req.Period,
		"totalTrees":  req.TotalTrees,
		"totalLeaves": req.TotalLeaves,
		"allocations": req.Allocations,
		"evidence":    req.Evidence,
		"metadata":    map[string]any{"createdAt": time.Now().UTC().Format(time.RFC3339)},
	}
	var resp PledgeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/pledges", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecutePledge triggers the actual planting order for a pledge.
func (c *Client) ExecutePledge(ctx context.Context, pledgeID string) (*PledgeStatus, error) {
	var resp PledgeStatus
	if err := c.do(ctx, http.MethodPost, "/v1/pledges/"+pledgeID+"/execute", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateInstantOrder submits a single-issue planting order.
func (c *Client) CreateInstantOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	trees := req.Trees
	if trees < 1 {
		trees = 1
	}
	body := map[string]any{
		"source":    sourceName,
		"tenantId":  req.TenantID,
		"projectId": req.ProjectID,
		"trees":     trees,
		"reference": req.Reference,
		"metadata":  map[string]any{"createdAt": time.Now().UTC().Format(time.RFC3339)},
	}
	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders/plant", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPledgeStatus fetches the state of a pledge.
func (c *Client) GetPledgeStatus(ctx context.Context, pledgeID string) (*PledgeStatus, error) {
	var resp PledgeStatus
	if err := c.do(ctx, http.MethodGet, "/v1/pledges/"+pledgeID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrderStatus fetches the state of a planting order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var resp OrderStatus
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCatalogProjects lists the plantable project catalog.
func (c *Client) GetCatalogProjects(ctx context.Context) ([]CatalogProject, error) {
	var resp []CatalogProject
	if err := c.do(ctx, http.MethodGet, "/v1/catalog/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}

		c.Log.Warnw("fulfillment request failed",
			"method", method, "path", path,
			"attempt", attempt, "maxAttempts", maxAttempts,
			"error", err)

		if attempt < maxAttempts {
			// 2s, 4s, 8s.
			backoff := time.Duration(1<<attempt) * time.Second
			if err := c.sleep(ctx, backoff); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	requestID := uuid.NewString()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Source", sourceName)
	req.Header.Set("X-Request-Id", requestID)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s (request %s): %w", method, path, requestID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyText), RequestID: requestID}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s (request %s): %w", method, path, requestID, err)
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

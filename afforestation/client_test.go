package afforestation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wityliti/afforestation-atlassian-plugin/afforestation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestClient(serverURL string) (*afforestation.Client, *[]time.Duration) {
	c := afforestation.New(serverURL, "test-key", nil)
	sleeps := &[]time.Duration{}
	c.Sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c, sleeps
}

func pledgeRequest() afforestation.PledgeRequest {
	return afforestation.PledgeRequest{
		TenantID:    "tenant-1",
		Period:      "2026-W34",
		TotalTrees:  12,
		TotalLeaves: 1250,
		Allocations: []afforestation.PledgeAllocation{
			{ProjectID: "amazon", Trees: 7},
			{ProjectID: "sahel", Trees: 5},
		},
		Evidence: afforestation.Evidence{Source: "completed issues", Period: "2026-W34", IssueCount: 31},
	}
}

// =============================================================================
// REQUEST SHAPE TESTS
// =============================================================================

func TestCreatePledge_RequestHeaders(t *testing.T) {
	// GIVEN: A pledge submission
	// WHEN: The request reaches the API
	// THEN: Auth, request id and source headers are present

	var gotAuth, gotRequestID, gotSource string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		gotSource = r.Header.Get("X-Source")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/pledges", r.URL.Path)
		w.Write([]byte(`{"id":"pledge-1","status":"pending"}`))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	resp, err := c.CreatePledge(context.Background(), pledgeRequest())
	require.NoError(t, err)

	assert.Equal(t, "pledge-1", resp.ID)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.NotEmpty(t, gotSource)
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestCreatePledge_RetriesServerErrors(t *testing.T) {
	// GIVEN: An API failing twice with 500 before succeeding
	// WHEN: Creating a pledge
	// THEN: Three attempts total; backoff 2s then 4s; final success

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "upstream down", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id":"pledge-2","status":"pending"}`))
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL)
	resp, err := c.CreatePledge(context.Background(), pledgeRequest())
	require.NoError(t, err)

	assert.Equal(t, "pledge-2", resp.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestCreatePledge_ExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL)
	_, err := c.CreatePledge(context.Background(), pledgeRequest())
	require.Error(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Len(t, *sleeps, 2)

	var apiErr *afforestation.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Transient())
}

func TestCreatePledge_ClientErrorNotRetried(t *testing.T) {
	// GIVEN: An API rejecting the payload with 400
	// WHEN: Creating a pledge
	// THEN: Exactly one attempt; the error is permanent

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "bad allocation", http.StatusBadRequest)
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL)
	_, err := c.CreatePledge(context.Background(), pledgeRequest())
	require.Error(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Empty(t, *sleeps)
	assert.True(t, afforestation.IsPermanent(err))
}

// =============================================================================
// OTHER OPERATIONS
// =============================================================================

func TestCreateInstantOrder_MinimumOneTree(t *testing.T) {
	// GIVEN: An order request for zero trees
	// WHEN: Submitting
	// THEN: The wire payload asks for at least one tree

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, decodeJSON(r, &body))
		w.Write([]byte(`{"id":"order-1","status":"processing","treeId":"t-9"}`))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	resp, err := c.CreateInstantOrder(context.Background(), afforestation.OrderRequest{
		TenantID:  "tenant-1",
		ProjectID: "amazon",
		Trees:     0,
		Reference: afforestation.OrderReference{IssueKey: "PROJ-1", IssueID: "10001", AwardID: "award-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "order-1", resp.ID)
	assert.Equal(t, "t-9", resp.ExternalRef)
	assert.Equal(t, float64(1), body["trees"])
	assert.Equal(t, "tenant-1", body["tenantId"])
}

func TestStatusAndCatalogPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/pledges/pledge-1":
			w.Write([]byte(`{"id":"pledge-1","status":"executed","orderId":"order-7"}`))
		case "/v1/pledges/pledge-1/execute":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"id":"pledge-1","status":"executing"}`))
		case "/v1/orders/order-7":
			w.Write([]byte(`{"id":"order-7","status":"planted","treeId":"t-1"}`))
		case "/v1/catalog/projects":
			w.Write([]byte(`[{"projectId":"amazon","name":"Amazon Basin","region":"BR"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	ctx := context.Background()

	pledge, err := c.GetPledgeStatus(ctx, "pledge-1")
	require.NoError(t, err)
	assert.Equal(t, "order-7", pledge.OrderID)

	executed, err := c.ExecutePledge(ctx, "pledge-1")
	require.NoError(t, err)
	assert.Equal(t, "executing", executed.Status)

	order, err := c.GetOrderStatus(ctx, "order-7")
	require.NoError(t, err)
	assert.Equal(t, "planted", order.Status)

	projects, err := c.GetCatalogProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "amazon", projects[0].ProjectID)
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

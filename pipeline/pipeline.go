/*
Package pipeline wires the event path and the batch path together.

PURPOSE:
  The event path turns a single issue event into (at most) one award:
  scope filter, completion detection, idempotent ledger record,
  scoring, aggregate increments, optional instant planting order.

  The batch path runs once per period per tenant: it takes the
  period's accumulated trees plus any carried remainder, allocates
  them across funded projects, submits one pledge, and resets the
  period counters.

DESIGN:
  - Processing failures at either boundary are logged and absorbed;
    a bad event or a failing tenant never takes down its neighbours.
  - Idempotency lives in the ledger (create-if-absent award records)
    and in the per-tenant-per-period batch lease; redelivered events
    and concurrent batch runs are both safe.

SEE ALSO:
  - event.go: ProcessIssueEvent
  - batch.go: RunBatch / runTenantBatch
  - lease.go: per-tenant-per-period batch lease
*/
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wityliti/afforestation-atlassian-plugin/afforestation"
	"github.com/wityliti/afforestation-atlassian-plugin/aggregate"
	"github.com/wityliti/afforestation-atlassian-plugin/ledger"
	"github.com/wityliti/afforestation-atlassian-plugin/scoring"
	"github.com/wityliti/afforestation-atlassian-plugin/store"
	"github.com/wityliti/afforestation-atlassian-plugin/tenant"
)

// Fulfiller is the slice of the fulfillment API the pipeline needs.
type Fulfiller interface {
	CreatePledge(ctx context.Context, req afforestation.PledgeRequest) (*afforestation.PledgeResponse, error)
	CreateInstantOrder(ctx context.Context, req afforestation.OrderRequest) (*afforestation.OrderResponse, error)
}

// Engine runs both processing paths against one backing store.
type Engine struct {
	KV         store.KV
	Tenants    *tenant.Service
	Ledger     *ledger.Ledger
	Aggregates *aggregate.Engine
	Scorer     *scoring.Scorer
	Fulfiller  Fulfiller

	Log *zap.SugaredLogger

	// Now is injectable for tests.
	Now func() time.Time
}

// New assembles an engine over kv. fulfiller may be nil; instant
// orders and pledges are then skipped with a warning.
func New(kv store.KV, fulfiller Fulfiller, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	led := ledger.New(kv)
	return &Engine{
		KV:         kv,
		Tenants:    tenant.NewService(kv),
		Ledger:     led,
		Aggregates: aggregate.NewEngine(kv),
		Scorer:     scoring.NewScorer(led),
		Fulfiller:  fulfiller,
		Log:        log,
		Now:        time.Now,
	}
}

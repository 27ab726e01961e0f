/*
runner.go - Batch scheduler

PURPOSE:
  Periodically checks whether any tenant's batch window has opened
  (weekly pledging, configured day of week) and runs the batch. The
  per-tenant lease and the period batch record make repeated fires
  harmless, so the check interval only affects latency.

CONFIGURATION:
  - CheckInterval: how often to check (default: 1 hour)
  - Enabled: whether the scheduler is active (default: true)

USAGE:
  runner := pipeline.NewRunner(engine)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - batch.go: RunBatch
  - api/handlers.go: manual batch trigger endpoint
*/
package pipeline

import (
	"context"
	"sync"
	"time"
)

// Runner drives the periodic batch check.
type Runner struct {
	Engine        *Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRunner creates a runner with the default interval.
func NewRunner(engine *Engine) *Runner {
	return &Runner{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the background checks.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Enabled {
		r.Engine.Log.Infow("batch scheduler disabled, not starting")
		return
	}

	r.ticker = time.NewTicker(r.CheckInterval)
	r.wg.Add(1)
	go r.run()

	r.Engine.Log.Infow("batch scheduler started", "interval", r.CheckInterval)
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil

	r.Engine.Log.Infow("batch scheduler stopped")
}

func (r *Runner) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.C:
			r.check()
		}
	}
}

// check runs the batch when any tenant's window is open. The window
// test is per tenant (configured day of week); tenants outside their
// window are skipped inside RunTenantBatch via the batch record, so
// a coarse day-level gate here is enough.
func (r *Runner) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := r.Engine.RunBatchDue(ctx); err != nil {
		r.Engine.Log.Errorw("scheduled batch run failed", "error", err)
	}
}

package pipeline

import "context"

// AcquireLeaseForTest exposes lease acquisition to the black-box tests.
func (e *Engine) AcquireLeaseForTest(ctx context.Context, tenantID, periodKey string) (string, bool, error) {
	return e.acquireLease(ctx, tenantID, periodKey)
}

/*
directory.go - Tenant directory

PURPOSE:
  Enumerates the tenants the batch scheduler must visit. One index
  key per tenant under a shared prefix; registration is an idempotent
  PutIfAbsent and enumeration is a prefix scan.
*/
package tenant

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

type directoryEntry struct {
	TenantID     string    `json:"tenantId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// register adds the tenant to the directory. Re-registration is a
// no-op, so every config write can call it unconditionally.
func (s *Service) register(ctx context.Context, tenantID string) error {
	entry, err := json.Marshal(directoryEntry{
		TenantID:     tenantID,
		RegisteredAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = s.KV.PutIfAbsent(ctx, store.TenantIndexKey(tenantID), entry)
	return err
}

// ListTenants returns all registered tenant ids in key order.
func (s *Service) ListTenants(ctx context.Context) ([]string, error) {
	entries, err := s.KV.Scan(ctx, store.TenantIndexPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimPrefix(e.Key, store.TenantIndexPrefix))
	}
	return ids, nil
}

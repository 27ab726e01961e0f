/*
keys.go - Storage key builders

PURPOSE:
  Centralizes every key shape so the namespace stays coherent and
  tenant-scoped. All keys follow {family}:{tenantId}:{...params}.
  No component reads outside its tenant's namespace.

KEY FAMILIES:
  cfg:         Tenant configuration (versioned)
  rules:       Scoring rule list
  funding:     Funding configuration
  issueLedger: Per-issue completion history
  awardLedger: Idempotency record per award
  batchLedger: Batch run audit record
  agg:         Tenant-global aggregate bucket
  userAgg:     Per-user aggregate bucket
  teamAgg:     Per-team aggregate bucket
  remainder:   Carried-forward trees between batch periods
  batchLease:  Per-tenant-per-period batch run lease
  tenantIdx:   Tenant directory entries (prefix-scanned)
*/
package store

import "fmt"

const configVersion = "v1"

func ConfigKey(tenantID string) string  { return fmt.Sprintf("cfg:%s:%s", tenantID, configVersion) }
func RulesKey(tenantID string) string   { return fmt.Sprintf("rules:%s:%s", tenantID, configVersion) }
func FundingKey(tenantID string) string { return fmt.Sprintf("funding:%s:%s", tenantID, configVersion) }

func IssueLedgerKey(tenantID, issueID string) string {
	return fmt.Sprintf("issueLedger:%s:%s", tenantID, issueID)
}

func AwardLedgerKey(tenantID, awardID string) string {
	return fmt.Sprintf("awardLedger:%s:%s", tenantID, awardID)
}

func BatchLedgerKey(tenantID, batchID string) string {
	return fmt.Sprintf("batchLedger:%s:%s", tenantID, batchID)
}

func AggKey(tenantID, periodType, periodKey string) string {
	return fmt.Sprintf("agg:%s:%s:%s", tenantID, periodType, periodKey)
}

func UserAggKey(tenantID, accountID, periodType, periodKey string) string {
	return fmt.Sprintf("userAgg:%s:%s:%s:%s", tenantID, accountID, periodType, periodKey)
}

func TeamAggKey(tenantID, teamID, periodType, periodKey string) string {
	return fmt.Sprintf("teamAgg:%s:%s:%s:%s", tenantID, teamID, periodType, periodKey)
}

func RemainderKey(tenantID string) string {
	return fmt.Sprintf("remainder:%s", tenantID)
}

func BatchLeaseKey(tenantID, periodKey string) string {
	return fmt.Sprintf("batchLease:%s:%s", tenantID, periodKey)
}

// TenantIndexPrefix is scanned to enumerate tenants for batch runs.
// One key per tenant avoids the read-modify-write contention a single
// shared list would have.
const TenantIndexPrefix = "tenantIdx:"

func TenantIndexKey(tenantID string) string { return TenantIndexPrefix + tenantID }

/*
Package tenant owns per-tenant configuration snapshots and the tenant
directory.

PURPOSE:
  The pipeline consumes an immutable, defaults-merged configuration
  snapshot per invocation. This package stores and loads that
  configuration (settings, scoring rules, funding config) and keeps
  the directory of known tenants that drives batch iteration.

DEFAULT MERGE:
  A partially specified stored config is always resolvable to a
  complete structure: stored JSON is unmarshaled on top of a value
  pre-populated with the defaults, so absent fields keep their
  default while present ones (including nested ones) override it.
  Lists replace wholesale.

DIRECTORY:
  One index key per tenant under a common prefix, enumerated by
  prefix scan. A single shared tenant-list blob would serialize every
  config write through one read-modify-write hot spot; per-tenant
  keys make registration contention-free.

SEE ALSO:
  - impact/types.go, scoring/scorer.go, funding/allocator.go: The
    config section types
  - directory.go: Tenant enumeration
*/
package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wityliti/afforestation-atlassian-plugin/funding"
	"github.com/wityliti/afforestation-atlassian-plugin/impact"
	"github.com/wityliti/afforestation-atlassian-plugin/scoring"
	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config is the full per-tenant settings document.
type Config struct {
	Version      int                     `json:"version"`
	Completion   impact.CompletionConfig `json:"completion"`
	Scope        impact.ScopeConfig      `json:"scope"`
	Scoring      scoring.Config          `json:"scoring"`
	PlantingMode PlantingMode            `json:"plantingMode"`
	Privacy      Privacy                 `json:"privacy"`
	UpdatedAt    time.Time               `json:"updatedAt,omitempty"`
}

// PlantingMode selects instant orders vs batched pledges and the
// leaves-to-trees conversion rate.
type PlantingMode struct {
	InstantEnabled bool           `json:"instantEnabled"`
	PledgeEnabled  bool           `json:"pledgeEnabled"`
	PledgeBatching PledgeBatching `json:"pledgeBatching"`
	Conversion     Conversion     `json:"conversion"`
}

type PledgeBatching struct {
	Frequency string `json:"frequency"`
	DayOfWeek int    `json:"dayOfWeek"`
}

type Conversion struct {
	LeavesPerTree int `json:"leavesPerTree"`
}

// Privacy controls leaderboard visibility (consumed by dashboards,
// carried here so the snapshot stays complete).
type Privacy struct {
	LeaderboardMode   string `json:"leaderboardMode"`
	UserOptInRequired bool   `json:"userOptInRequired"`
}

// Snapshot is everything one pipeline invocation reads: resolved
// config plus the rule list and funding config. Treated as immutable.
type Snapshot struct {
	TenantID string
	Config   Config
	Rules    []scoring.Rule
	Funding  funding.Config
}

const configVersion = 1

// DefaultConfig returns the complete out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		Version: configVersion,
		Completion: impact.CompletionConfig{
			Mode: impact.ModeAny,
			StatusName: impact.StatusNameStrategy{
				Enabled:         true,
				DoneStatusNames: []string{"Done", "Resolved", "Closed"},
			},
			StatusCategory: impact.CategoryStrategy{
				Enabled:          true,
				DoneCategoryKeys: []string{"done"},
			},
			Resolution: impact.ResolutionStrategy{
				Enabled: false,
			},
			ReopenPolicy: impact.ReopenPolicy{
				Enabled:                   true,
				PauseIfReopenedWithinDays: 7,
				ReawardAllowed:            true,
				ReawardCooldownDays:       14,
				ReawardMultiplier:         0.5,
			},
		},
		Scope: impact.ScopeConfig{
			IncludedIssueTypes: []string{"Story", "Bug", "Task", "Epic"},
			ExcludedIssueTypes: []string{"Sub-task"},
			LabelExclusions:    []string{"no-impact"},
		},
		Scoring: scoring.Config{
			CurrencyName:         "Leaves",
			BasePoints:           10,
			StoryPointMultiplier: 5,
			IssueTypeWeights: map[string]float64{
				"Bug":   1.2,
				"Story": 1.0,
				"Task":  0.7,
				"Epic":  2.0,
			},
			Caps: scoring.Caps{
				PerUserPerDay: 200,
				PerIssueMax:   200,
			},
		},
		PlantingMode: PlantingMode{
			// Instant planting stays off by default for cost control.
			InstantEnabled: false,
			PledgeEnabled:  true,
			PledgeBatching: PledgeBatching{
				Frequency: "weekly",
				DayOfWeek: 5,
			},
			Conversion: Conversion{LeavesPerTree: 100},
		},
		Privacy: Privacy{
			LeaderboardMode:   "TEAM_ONLY",
			UserOptInRequired: true,
		},
	}
}

// DefaultFunding returns the funding config used before any projects
// are selected.
func DefaultFunding() funding.Config {
	return funding.Config{
		Policy: funding.Policy{
			Rounding:                   funding.RoundFloor,
			MinTreesPerProjectPerBatch: 5,
			CarryForwardRemainders:     true,
		},
	}
}

// =============================================================================
// SERVICE
// =============================================================================

// Service loads and stores tenant configuration through the KV store.
type Service struct {
	KV store.KV

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewService(kv store.KV) *Service {
	return &Service{KV: kv, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GetConfig returns the tenant's configuration merged over defaults.
func (s *Service) GetConfig(ctx context.Context, tenantID string) (Config, error) {
	cfg := DefaultConfig()

	data, ok, err := s.KV.Get(ctx, store.ConfigKey(tenantID))
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return cfg, nil
	}
	// Unmarshal on top of the defaults: field-level merge.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config for %s: %w", tenantID, err)
	}
	return cfg, nil
}

// SetConfig stores the configuration and registers the tenant in the
// directory so batch runs can find it.
func (s *Service) SetConfig(ctx context.Context, tenantID string, cfg Config) error {
	cfg.Version = configVersion
	cfg.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config for %s: %w", tenantID, err)
	}
	if err := s.KV.Set(ctx, store.ConfigKey(tenantID), data); err != nil {
		return err
	}
	return s.register(ctx, tenantID)
}

// GetRules returns the tenant's scoring rules (possibly empty).
func (s *Service) GetRules(ctx context.Context, tenantID string) ([]scoring.Rule, error) {
	data, ok, err := s.KV.Get(ctx, store.RulesKey(tenantID))
	if err != nil || !ok {
		return nil, err
	}
	var rules []scoring.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules for %s: %w", tenantID, err)
	}
	return rules, nil
}

// SetRules stores the scoring rule list.
func (s *Service) SetRules(ctx context.Context, tenantID string, rules []scoring.Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules for %s: %w", tenantID, err)
	}
	return s.KV.Set(ctx, store.RulesKey(tenantID), data)
}

// GetFunding returns the tenant's funding config, defaulted when unset.
func (s *Service) GetFunding(ctx context.Context, tenantID string) (funding.Config, error) {
	data, ok, err := s.KV.Get(ctx, store.FundingKey(tenantID))
	if err != nil {
		return funding.Config{}, err
	}
	if !ok {
		return DefaultFunding(), nil
	}
	cfg := DefaultFunding()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return funding.Config{}, fmt.Errorf("unmarshal funding for %s: %w", tenantID, err)
	}
	return cfg, nil
}

// SetFunding validates and stores the funding configuration.
func (s *Service) SetFunding(ctx context.Context, tenantID string, cfg funding.Config) error {
	if err := funding.ValidateConfig(cfg); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal funding for %s: %w", tenantID, err)
	}
	return s.KV.Set(ctx, store.FundingKey(tenantID), data)
}

// Snapshot assembles the immutable view one pipeline invocation uses.
func (s *Service) Snapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	rules, err := s.GetRules(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	fundingCfg, err := s.GetFunding(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{TenantID: tenantID, Config: cfg, Rules: rules, Funding: fundingCfg}, nil
}

// ScoringInputs projects the snapshot into what the scorer needs.
func (snap Snapshot) ScoringInputs() scoring.Inputs {
	return scoring.Inputs{
		TenantID:      snap.TenantID,
		Scoring:       snap.Config.Scoring,
		Rules:         snap.Rules,
		LeavesPerTree: snap.Config.PlantingMode.Conversion.LeavesPerTree,
		ReopenPolicy:  snap.Config.Completion.ReopenPolicy,
	}
}

/*
Package funding splits a batch's accumulated trees across the
tenant's funded projects.

PURPOSE:
  Funding configuration assigns each project a percentage; allocation
  turns "137 trees this week" into whole-tree commitments per project
  under a rounding policy, with fractional remainders redistributed to
  the largest shares and sub-minimum allocations carried forward.

ALGORITHM:
  1. exact = totalTrees * percentage / 100 (decimal arithmetic)
  2. round per policy (floor | round | ceil)
  3. if the summed fractional remainder reaches >= 1, hand whole extra
     trees to the highest-percentage projects (ties keep config order)
  4. drop allocations below minTreesPerProjectPerBatch; the dropped
     trees surface as a synthetic "_remainder" entry the batch path
     carries into the next period

PRECISION:
  Percentage math uses shopspring/decimal; 33.3% of 10 trees is
  exactly 3.33, not 3.3299999....

SEE ALSO:
  - pipeline/batch.go: The caller; persists the remainder entry
*/
package funding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// RemainderProjectID marks the synthetic carry-forward entry.
const RemainderProjectID = "_remainder"

// Rounding policy for per-project tree counts.
type Rounding string

const (
	RoundFloor Rounding = "floor"
	RoundHalf  Rounding = "round"
	RoundCeil  Rounding = "ceil"
)

// AllocationType: only percentage allocations exist today.
const AllocationPercentage = "percentage"

// Project is one funded planting project.
type Project struct {
	ProjectID  string            `json:"projectId"`
	Name       string            `json:"name,omitempty"`
	Allocation ProjectAllocation `json:"allocation"`
	// Constraints are passed through to the fulfillment API untouched
	// (region, species preferences).
	Constraints map[string]any `json:"constraints,omitempty"`
}

type ProjectAllocation struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Policy controls rounding and minimums.
type Policy struct {
	Rounding                   Rounding `json:"rounding"`
	MinTreesPerProjectPerBatch int      `json:"minTreesPerProjectPerBatch"`
	CarryForwardRemainders     bool     `json:"carryForwardRemainders"`
}

// Config is the tenant's funding configuration.
type Config struct {
	Projects []Project `json:"projectCatalogSelection"`
	Policy   Policy    `json:"allocationPolicy"`
}

// Allocation is one project's share of a batch.
type Allocation struct {
	ProjectID    string         `json:"projectId"`
	Name         string         `json:"name,omitempty"`
	Percentage   float64        `json:"percentage,omitempty"`
	Trees        int            `json:"trees"`
	Constraints  map[string]any `json:"constraints,omitempty"`
	CarryForward bool           `json:"carryForward,omitempty"`
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocate distributes totalTrees across the configured percentage
// projects. No projects or totalTrees < 1 yields an empty result.
// When allocations fall below the per-project minimum their trees are
// not redistributed here; they return as a RemainderProjectID entry.
func Allocate(totalTrees int, cfg Config) []Allocation {
	if len(cfg.Projects) == 0 || totalTrees < 1 {
		return nil
	}

	rounding := cfg.Policy.Rounding
	if rounding == "" {
		rounding = RoundFloor
	}
	minTrees := cfg.Policy.MinTreesPerProjectPerBatch
	if minTrees < 1 {
		minTrees = 1
	}

	type working struct {
		Allocation
		order int
	}

	total := decimal.NewFromInt(int64(totalTrees))
	hundred := decimal.NewFromInt(100)
	totalRemainder := decimal.Zero
	var allocs []*working

	for i, project := range cfg.Projects {
		if project.Allocation.Type != AllocationPercentage {
			continue
		}
		pct := decimal.NewFromFloat(project.Allocation.Value)
		exact := total.Mul(pct).Div(hundred)

		var rounded decimal.Decimal
		switch rounding {
		case RoundHalf:
			rounded = exact.Round(0)
		case RoundCeil:
			rounded = exact.Ceil()
		default:
			rounded = exact.Floor()
		}

		totalRemainder = totalRemainder.Add(exact.Sub(rounded))
		allocs = append(allocs, &working{
			Allocation: Allocation{
				ProjectID:   project.ProjectID,
				Name:        project.Name,
				Percentage:  project.Allocation.Value,
				Trees:       int(rounded.IntPart()),
				Constraints: project.Constraints,
			},
			order: i,
		})
	}

	// Whole leftover trees go to the largest shares, ties in config order.
	if extra := int(totalRemainder.Floor().IntPart()); extra >= 1 {
		byShare := append([]*working(nil), allocs...)
		sort.SliceStable(byShare, func(i, j int) bool {
			if byShare[i].Percentage != byShare[j].Percentage {
				return byShare[i].Percentage > byShare[j].Percentage
			}
			return byShare[i].order < byShare[j].order
		})
		for i := 0; i < extra && i < len(byShare); i++ {
			byShare[i].Trees++
		}
	}

	// Ceil rounding can over-assign; trim the excess from the smallest
	// shares so we never pledge more trees than were earned.
	rounded := 0
	for _, a := range allocs {
		rounded += a.Trees
	}
	if excess := rounded - totalTrees; excess > 0 {
		bySmallest := append([]*working(nil), allocs...)
		sort.SliceStable(bySmallest, func(i, j int) bool {
			if bySmallest[i].Percentage != bySmallest[j].Percentage {
				return bySmallest[i].Percentage < bySmallest[j].Percentage
			}
			return bySmallest[i].order > bySmallest[j].order
		})
		for excess > 0 {
			took := false
			for _, a := range bySmallest {
				if excess == 0 {
					break
				}
				if a.Trees > 0 {
					a.Trees--
					excess--
					took = true
				}
			}
			if !took {
				break
			}
		}
	}

	var result []Allocation
	allocated := 0
	for _, a := range allocs {
		if a.Trees < minTrees {
			continue
		}
		allocated += a.Trees
		result = append(result, a.Allocation)
	}

	if leftover := totalTrees - allocated; leftover > 0 {
		result = append(result, Allocation{
			ProjectID:    RemainderProjectID,
			Trees:        leftover,
			CarryForward: true,
		})
	}

	return result
}

// Preview summarizes an allocation for dry-run display.
type Preview struct {
	TotalTrees     int          `json:"totalTrees"`
	AllocatedTrees int          `json:"allocatedTrees"`
	RemainderTrees int          `json:"remainderTrees"`
	Allocations    []Allocation `json:"allocations"`
	CarryForward   bool         `json:"carryForward"`
}

// PreviewAllocation runs Allocate and splits the result into the
// funded entries and the carry-forward summary.
func PreviewAllocation(totalTrees int, cfg Config) Preview {
	all := Allocate(totalTrees, cfg)

	p := Preview{TotalTrees: totalTrees}
	for _, a := range all {
		if a.ProjectID == RemainderProjectID {
			p.RemainderTrees = a.Trees
			p.CarryForward = a.CarryForward
			continue
		}
		p.AllocatedTrees += a.Trees
		p.Allocations = append(p.Allocations, a)
	}
	return p
}

// =============================================================================
// VALIDATION
// =============================================================================

// percentEpsilon tolerates float representation drift when summing
// configured percentages.
const percentEpsilon = 0.01

// ValidationError reports why a funding configuration is unusable.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid funding config: " + strings.Join(e.Problems, "; ")
}

// ValidateConfig enforces that percentage allocations sum to 100
// (within epsilon) and that every project carries an id and a
// percentage in [0,100]. Returns nil or a *ValidationError.
func ValidateConfig(cfg Config) error {
	var problems []string

	if len(cfg.Projects) == 0 {
		problems = append(problems, "projectCatalogSelection is required")
		return &ValidationError{Problems: problems}
	}

	totalPercent := decimal.Zero
	percentCount := 0
	for _, project := range cfg.Projects {
		if project.ProjectID == "" {
			problems = append(problems, "each project must have a projectId")
		}
		if project.Allocation.Type != AllocationPercentage {
			continue
		}
		percentCount++
		v := project.Allocation.Value
		if v < 0 || v > 100 {
			problems = append(problems, fmt.Sprintf("invalid percentage for project %s: %v", project.ProjectID, v))
		}
		totalPercent = totalPercent.Add(decimal.NewFromFloat(v))
	}

	if percentCount > 0 {
		diff := totalPercent.Sub(decimal.NewFromInt(100)).Abs()
		if diff.GreaterThan(decimal.NewFromFloat(percentEpsilon)) {
			problems = append(problems, fmt.Sprintf("allocation percentages must sum to 100, got %s", totalPercent))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

/*
period.go - Period bucketing

PURPOSE:
  Maps timestamps to the period keys that name aggregate buckets.

KEY FORMATS (ISO semantics):
  daily:   YYYY-MM-DD
  weekly:  YYYY-Www  (ISO 8601 week numbering; the year is the ISO
           week-year, which can differ from the calendar year at
           year boundaries)
  monthly: YYYY-MM
*/
package aggregate

import (
	"fmt"
	"time"
)

// PeriodType selects the bucketing granularity.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Valid reports whether pt is a known period type.
func (pt PeriodType) Valid() bool {
	switch pt {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// PeriodKey computes the bucket key containing t for the given
// granularity. t is normalized to UTC first so bucket boundaries are
// identical regardless of producer zone.
func PeriodKey(pt PeriodType, t time.Time) string {
	t = t.UTC()
	switch pt {
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

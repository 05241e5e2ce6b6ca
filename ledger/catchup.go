package ledger

import (
	"time"
)

// =============================================================================
// CATCH-UP PLANNER - Backfill reports that were generated but never sent
// =============================================================================

const (
	// MinCatchupSpan is the shortest gap worth a catch-up report.
	MinCatchupSpan = 60 * time.Second

	// CatchupSegments is the number of sub-periods a gap is split into.
	CatchupSegments = 3
)

// CatchupStart returns the creation time of the oldest Summary report that
// is strictly newer than lastSync (every Summary report when lastSync is
// nil). History reports and unparsable ids are ignored.
func CatchupStart(reportIDs []string, lastSync *time.Time, loc *time.Location) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, id := range reportIDs {
		t, err := ParseReportID(SummaryPrefix, id, loc)
		if err != nil {
			continue
		}
		if lastSync != nil && !t.After(*lastSync) {
			continue
		}
		if !found || t.Before(earliest) {
			earliest, found = t, true
		}
	}
	return earliest, found
}

// PlanCatchup splits [start, now] into three contiguous equal periods.
// Adjacent periods share their boundary instant; the last one ends exactly
// at now. Spans shorter than a minute yield no plan.
func PlanCatchup(start, now time.Time) []Period {
	span := now.Sub(start)
	if span < MinCatchupSpan {
		return nil
	}

	segment := span / CatchupSegments
	first := start.Add(segment)
	second := first.Add(segment)
	return []Period{
		{Start: start, End: first},
		{Start: first, End: second},
		{Start: second, End: now},
	}
}

// PlanCatchupFrom finds the catch-up start among reportIDs and plans the
// intervals up to now.
func PlanCatchupFrom(reportIDs []string, lastSync *time.Time, now time.Time, loc *time.Location) []Period {
	start, ok := CatchupStart(reportIDs, lastSync, loc)
	if !ok {
		return nil
	}
	return PlanCatchup(start, now)
}

package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
)

func TestPlanCatchup_ShortSpanYieldsNothing(t *testing.T) {
	assert.Nil(t, ledger.PlanCatchup(monday, monday.Add(59*time.Second)))
	assert.Nil(t, ledger.PlanCatchup(monday, monday))
}

func TestPlanCatchup_ThreeContiguousIntervals(t *testing.T) {
	// GIVEN: a 90 minute gap
	// THEN: exactly three 30 minute intervals covering [start, now] with
	//       each interval starting where the previous one ends

	start := monday
	now := monday.Add(90 * time.Minute)

	plan := ledger.PlanCatchup(start, now)

	require.Len(t, plan, 3)
	assert.Equal(t, start, plan[0].Start)
	assert.Equal(t, now, plan[2].End)
	for i := 1; i < len(plan); i++ {
		assert.Equal(t, plan[i-1].End, plan[i].Start, "no gap or overlap at %d", i)
	}
	for _, p := range plan {
		assert.Equal(t, 30*time.Minute, p.Duration())
	}
}

func TestPlanCatchup_ExactlyOneMinute(t *testing.T) {
	plan := ledger.PlanCatchup(monday, monday.Add(time.Minute))
	require.Len(t, plan, 3)
	assert.Equal(t, monday.Add(time.Minute), plan[2].End)
}

func TestCatchupStart(t *testing.T) {
	ids := []string{
		ledger.ReportID(ledger.SummaryPrefix, monday),
		ledger.ReportID(ledger.SummaryPrefix, monday.Add(2*time.Hour)),
		ledger.ReportID(ledger.SummaryPrefix, monday.Add(4*time.Hour)),
		ledger.ReportID(ledger.HistoryPrefix, monday.Add(time.Hour)),
		"notes.txt",
	}

	t.Run("never synced picks the oldest summary", func(t *testing.T) {
		start, ok := ledger.CatchupStart(ids, nil, time.UTC)
		require.True(t, ok)
		assert.True(t, start.Equal(monday))
	})

	t.Run("strictly newer than last sync", func(t *testing.T) {
		sync := monday.Add(2 * time.Hour)
		start, ok := ledger.CatchupStart(ids, &sync, time.UTC)
		require.True(t, ok)
		assert.True(t, start.Equal(monday.Add(4*time.Hour)))
	})

	t.Run("everything synced", func(t *testing.T) {
		sync := monday.Add(4 * time.Hour)
		_, ok := ledger.CatchupStart(ids, &sync, time.UTC)
		assert.False(t, ok)
		assert.Nil(t, ledger.PlanCatchupFrom(ids, &sync, monday.Add(5*time.Hour), time.UTC))
	})
}

func TestPlanCatchupFrom(t *testing.T) {
	ids := []string{ledger.ReportID(ledger.SummaryPrefix, monday)}
	sync := monday.Add(-time.Hour)
	now := monday.Add(3 * time.Hour)

	plan := ledger.PlanCatchupFrom(ids, &sync, now, time.UTC)

	require.Len(t, plan, 3)
	assert.True(t, plan[0].Start.Equal(monday))
	assert.True(t, plan[1].Start.Equal(monday.Add(time.Hour)))
	assert.True(t, plan[2].Start.Equal(monday.Add(2*time.Hour)))
}

package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Inclusive reporting window
// =============================================================================

// Period is an inclusive [Start, End] window used to scope aggregation.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End], both ends included.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Validate rejects a period that ends before it starts.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) Duration() time.Duration { return p.End.Sub(p.Start) }

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02 15:04") + ", " + p.End.Format("2006-01-02 15:04") + "]"
}

// =============================================================================
// MODE - How a report derives its window
// =============================================================================

type Mode string

const (
	ModeDaily    Mode = "Daily"    // Midnight of the anchor day to the anchor
	ModeWeekly   Mode = "Weekly"   // Monday midnight to the anchor
	ModeMonthly  Mode = "Monthly"  // First of the month to the anchor
	ModeAllTime  Mode = "All Time" // No filter
	ModeInterval Mode = "Interval" // Explicit window supplied by the caller
)

// Windowed reports whether the mode filters by time. Only All Time does not.
func (m Mode) Windowed() bool { return m != ModeAllTime }

// ParseMode accepts the display names and their lower-case short forms.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day":
		return ModeDaily, nil
	case "weekly", "week":
		return ModeWeekly, nil
	case "monthly", "month":
		return ModeMonthly, nil
	case "all time", "all", "alltime", "all-time":
		return ModeAllTime, nil
	case "interval":
		return ModeInterval, nil
	default:
		return "", fmt.Errorf("unknown report mode %q", s)
	}
}

// PeriodFor returns the window ending at anchor, or nil for modes without
// one (All Time, and Interval which has no derivable window).
func (m Mode) PeriodFor(anchor time.Time) *Period {
	anchor = At(anchor)
	midnight := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, anchor.Location())

	switch m {
	case ModeDaily:
		return &Period{Start: midnight, End: anchor}

	case ModeWeekly:
		// Weeks start on Monday
		offset := (int(anchor.Weekday()) + 6) % 7
		return &Period{Start: midnight.AddDate(0, 0, -offset), End: anchor}

	case ModeMonthly:
		return &Period{Start: midnight.AddDate(0, 0, 1-anchor.Day()), End: anchor}

	default:
		return nil
	}
}

// EndOfDay anchors a custom report date at 23:59:59 of that day.
func EndOfDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(year, month, day, 23, 59, 59, 0, loc)
}

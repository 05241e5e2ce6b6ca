package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIMESTAMPS - Second precision, zone-less on the wire
// =============================================================================

const (
	// TimestampLayout is the on-disk transaction timestamp format.
	TimestampLayout = "2006-01-02 15:04:05"

	// stampLayout is used inside generated receipt and report filenames.
	stampLayout = "20060102-150405"
)

// FormatTimestamp renders t in the ledger wire format.
func FormatTimestamp(t time.Time) string { return t.Format(TimestampLayout) }

// ParseTimestamp parses a ledger timestamp in loc. A nil loc means local time.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), loc)
}

// At truncates t to the second, matching what survives a round trip
// through the wire format.
func At(t time.Time) time.Time { return t.Truncate(time.Second) }

// =============================================================================
// FILENAMES - External foreign keys
// =============================================================================

const (
	SummaryPrefix = "Summary-"
	HistoryPrefix = "History-"
	CatchupPrefix = "Catchup_"
	receiptSuffix = ".pdf"
)

// ReceiptFilename returns the receipt name a transaction of kind k created
// at t is filed under.
func ReceiptFilename(k Kind, t time.Time) string {
	stamp := t.Format(stampLayout)
	switch k {
	case KindInventory:
		return "Inventory_" + stamp + receiptSuffix
	case KindCorrection:
		return "Cor_" + stamp + receiptSuffix
	default:
		return stamp + receiptSuffix
	}
}

// ReportID returns the identifier of a generated summary report. Custom
// date reports use the History prefix and never take part in catch-up.
func ReportID(prefix string, t time.Time) string {
	return prefix + t.Format(stampLayout) + receiptSuffix
}

// ParseReportID extracts the creation time from an identifier produced by
// ReportID with the given prefix.
func ParseReportID(prefix, id string, loc *time.Location) (time.Time, error) {
	if !strings.HasPrefix(id, prefix) || !strings.HasSuffix(id, receiptSuffix) {
		return time.Time{}, fmt.Errorf("not a %q report id: %q", prefix, id)
	}
	if loc == nil {
		loc = time.Local
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(id, prefix), receiptSuffix)
	return time.ParseInLocation(stampLayout, stamp, loc)
}

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/app"
	"github.com/warp/retail-ledger/ledger"
)

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"Widget 500 g=10", "GADGET=-2", "a=b=3"})
	require.NoError(t, err)
	assert.Equal(t, []app.ItemRequest{
		{Name: "Widget 500 g", Qty: 10},
		{Name: "GADGET", Qty: -2},
		{Name: "a=b", Qty: 3},
	}, items)

	for _, bad := range []string{"WIDGET", "=3", "WIDGET=", "WIDGET=x"} {
		_, err := parseItems([]string{bad})
		assert.Error(t, err, bad)
	}
	_, err = parseItems(nil)
	assert.Error(t, err)
}

func TestParseProposal(t *testing.T) {
	tests := []struct {
		line string
		want app.Proposal
	}{
		{"sell WIDGET=2 GADGET=1", app.Proposal{Source: "local", Kind: ledger.KindSales, Items: []app.ItemRequest{{Name: "WIDGET", Qty: 2}, {Name: "GADGET", Qty: 1}}}},
		{"@cart7 restock WIDGET=5", app.Proposal{Source: "cart7", Kind: ledger.KindInventory, Items: []app.ItemRequest{{Name: "WIDGET", Qty: 5}}}},
		{"correct 20250310-090000.pdf WIDGET=-1", app.Proposal{Source: "local", Kind: ledger.KindCorrection, RefFilename: "20250310-090000.pdf", Items: []app.ItemRequest{{Name: "WIDGET", Qty: -1}}}},
		{"   ", app.Proposal{}},
		{"# comment", app.Proposal{}},
	}
	for _, tt := range tests {
		got, err := parseProposal(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, bad := range []string{"refund WIDGET=1", "@cart7", "correct WIDGET=1", "sell"} {
		_, err := parseProposal(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveReportWindow(t *testing.T) {
	loc := time.UTC

	// --date anchors a windowed mode at the end of that day
	w, err := resolveReportWindow(ledger.ModeWeekly, "2025-03-12", "", "", false, loc)
	require.NoError(t, err)
	assert.True(t, w.custom)
	assert.True(t, w.anchor.Equal(time.Date(2025, time.March, 12, 23, 59, 59, 0, loc)))
	require.NotNil(t, w.period)
	assert.True(t, w.period.Start.Equal(time.Date(2025, time.March, 10, 0, 0, 0, 0, loc)), "week starts Monday")

	// --from/--to switch to an interval ending at the last second of --to
	w, err = resolveReportWindow(ledger.ModeDaily, "", "2025-03-01", "2025-03-10", false, loc)
	require.NoError(t, err)
	assert.Equal(t, ledger.ModeInterval, w.mode)
	assert.False(t, w.custom)
	assert.True(t, w.period.End.Equal(time.Date(2025, time.March, 10, 23, 59, 59, 0, loc)))

	// no flags leaves the current period to the service
	w, err = resolveReportWindow(ledger.ModeAllTime, "", "", "", true, loc)
	require.NoError(t, err)
	assert.Nil(t, w.period)
	assert.False(t, w.custom)

	bad := []struct {
		mode           ledger.Mode
		date, from, to string
		finalize       bool
	}{
		{ledger.ModeAllTime, "2025-03-12", "", "", false},
		{ledger.ModeAllTime, "2025-03-12", "", "", true},
		{ledger.ModeInterval, "2025-03-12", "", "", false},
		{ledger.ModeDaily, "", "2025-03-01", "", false},
		{ledger.ModeDaily, "", "2025-03-01", "2025-03-10", true},
		{ledger.ModeDaily, "2025-03-12", "2025-03-01", "2025-03-10", false},
		{ledger.ModeDaily, "12/03/2025", "", "", false},
	}
	for _, tt := range bad {
		_, err := resolveReportWindow(tt.mode, tt.date, tt.from, tt.to, tt.finalize, loc)
		assert.Error(t, err, "%+v", tt)
	}
}

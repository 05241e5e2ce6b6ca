package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Amoxicillin 500 mg\n caps", "AMOXICILLIN 500MG CAPS"},
		{"  kid's   shampoo 250 ML ", "KIDS SHAMPOO 250ML"},
		{"bolt 10 m", "BOLT 10M"},
		{"plain", "PLAIN"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.NormalizeName(tt.in))
		})
	}
}

func TestTruncateName(t *testing.T) {
	assert.Equal(t, "SHORT", ledger.TruncateName("SHORT"))
	long := "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" // 36 chars
	assert.Equal(t, "ABCDEFGHIJKLMNO"+"VWXYZ0123456789", ledger.TruncateName(long))
}

func TestNewCatalog_RejectionReasons(t *testing.T) {
	records := []ledger.CatalogRecord{
		{Business: "Corner Shop", Category: "Tools", Name: "Free Thing", Price: "0"},
		{Category: "Tools", Name: "Widget", Price: "5"},
		{Category: "", Name: "No Category", Price: "1"},
		{Category: "Tools", Name: "nan", Price: "1"},
		{Category: "Tools", Name: "widget", Price: "7"},
		{Category: "Tools", Name: "Broken Price", Price: "abc"},
	}

	c, report := ledger.NewCatalog(records, "", []string{"WIDGET", "RETIRED"})

	assert.Equal(t, "Corner Shop", c.Business())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 5, report.Rejected)
	assert.Equal(t, 0, report.New)
	assert.Equal(t, 1, report.PhasedOut)

	reasons := make([]string, len(report.RejectedDetails))
	for i, r := range report.RejectedDetails {
		reasons[i] = r.Reason
	}
	assert.Equal(t, []string{"Price <= 0", "Invalid Category", "Invalid Name", "Duplicate Name", "Price <= 0"}, reasons)

	p, ok := c.Lookup("WIDGET")
	require.True(t, ok)
	assert.Equal(t, "Corner Shop", p.Business, "empty business falls back to the list's")
	assert.True(t, p.Price.Equal(dec("5")), "first occurrence wins")
}

func TestCatalog_DisplayNamesDisambiguate(t *testing.T) {
	// Both names truncate to the same 30 characters
	a := "PARACETAMOL TABLETS EXTRA A 500MG BLISTER PACK"
	b := "PARACETAMOL TABLETS EXTRA B 500MG BLISTER PACK"
	require.Equal(t, ledger.TruncateName(a), ledger.TruncateName(b))

	c := testCatalog(t, rec("Pharmacy", a, "3"), rec("Pharmacy", b, "4"), rec("Pharmacy", "Short", "1"))

	da, db := c.DisplayName(a), c.DisplayName(b)
	assert.NotEqual(t, da, db)
	assert.Equal(t, "SHORT", c.DisplayName("SHORT"))

	p, ok := c.LookupDisplay(db)
	require.True(t, ok)
	assert.Equal(t, b, p.Name)

	p, ok = c.LookupDisplay("SHORT (1.00)")
	require.True(t, ok)
	assert.Equal(t, "SHORT", p.Name)

	_, ok = c.LookupDisplay("MISSING")
	assert.False(t, ok)
}

func TestAppendHistory_CapsAndSkipsDuplicates(t *testing.T) {
	var history []ledger.CatalogSnapshot
	var changed bool

	for i, price := range []string{"1", "2", "3", "4", "5"} {
		c := testCatalog(t, rec("Tools", "Widget", price))
		history, changed = ledger.AppendHistory(history, c.Snapshot(ledger.FormatTimestamp(monday.AddDate(0, 0, i))))
		assert.True(t, changed)
	}
	require.Len(t, history, ledger.MaxCatalogHistory)
	assert.True(t, history[0].Items[0].Price.Equal(dec("2")), "oldest evicted")

	same := testCatalog(t, rec("Tools", "Widget", "5"))
	history, changed = ledger.AppendHistory(history, same.Snapshot("later"))
	assert.False(t, changed)
	assert.Len(t, history, ledger.MaxCatalogHistory)

	_, changed = ledger.AppendHistory(history, ledger.EmptyCatalog().Snapshot("empty"))
	assert.False(t, changed)

	candidates := ledger.RestoreCandidates(history)
	require.Len(t, candidates, 3)
	assert.True(t, candidates[0].Items[0].Price.Equal(dec("4")), "newest past version first")
}

func TestCatalogFromSnapshot(t *testing.T) {
	c := testCatalog(t, rec("Tools", "Widget", "5"), rec("Fruit", "Apple", "1"))
	snap := c.Snapshot("2025-03-10 09:00:00")

	restored, _ := ledger.CatalogFromSnapshot(snap, nil)

	assert.Equal(t, c.Names(), restored.Names())
	assert.Equal(t, "Test Shop", restored.Business())
}

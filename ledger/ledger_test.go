package ledger_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func openLedger(t *testing.T, s ledger.Store) *ledger.Ledger {
	t.Helper()
	return ledger.Open(context.Background(), s,
		ledger.WithLogger(quietLogger()),
		ledger.WithClock(func() time.Time { return monday }),
		ledger.WithLocation(time.UTC),
	)
}

// assertStockMatchesFold checks that the cached stock equals a fresh fold
// of the whole log for every product.
func assertStockMatchesFold(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	fresh := l.Aggregator().Aggregate(l.Transactions(), nil)
	for name, ps := range fresh.ByName {
		assert.Equal(t, ps.In-ps.Out, l.StockLevel(name), "stock of %s", name)
	}
}

// =============================================================================
// APPEND
// =============================================================================

func TestLedger_RestockSellCorrect(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := openLedger(t, mem)

	// GIVEN: 10 WIDGET restocked, 3 sold
	require.NoError(t, l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 10, "5.00")})))
	sale := ledger.NewSales(monday.Add(time.Minute), []ledger.LineItem{line("WIDGET", 3, "5.00")})
	require.NoError(t, l.Append(ctx, sale))
	assert.Equal(t, 7, l.StockLevel("WIDGET"))
	assertStockMatchesFold(t, l)

	// WHEN: the sale is corrected by one unit
	cor, err := ledger.NewCorrection(sale, []ledger.LineItem{line("WIDGET", -1, "5.00")}, monday.Add(2*time.Minute))
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, cor))

	// THEN: stock is 8 and the original sale is untouched
	assert.Equal(t, 8, l.StockLevel("WIDGET"))
	assertStockMatchesFold(t, l)

	found, ok := l.Find(sale.Filename)
	require.True(t, ok)
	assert.Equal(t, 3, found.Head().Items[0].Qty)
	assert.Equal(t, 3, l.Len())

	// AND: everything was persisted
	env, err := mem.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, env.Transactions, 3)
}

func TestLedger_RejectsOversell(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())
	require.NoError(t, l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 2, "5")})))

	err := l.Append(ctx, ledger.NewSales(monday, []ledger.LineItem{line("WIDGET", 3, "5")}))

	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	assert.Equal(t, "WIDGET", stockErr.Name)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	assert.True(t, ledger.IsValidation(err))
	assert.Equal(t, 1, l.Len(), "rejected sale not recorded")
	assert.Equal(t, 2, l.StockLevel("WIDGET"))
}

func TestLedger_RejectsCorrectionBelowZero(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())
	inv := ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 5, "5")})
	require.NoError(t, l.Append(ctx, inv))
	require.NoError(t, l.Append(ctx, ledger.NewSales(monday, []ledger.LineItem{line("WIDGET", 4, "5")})))

	cor, err := ledger.NewCorrection(inv, []ledger.LineItem{line("WIDGET", -2, "5")}, monday)
	require.NoError(t, err)

	err = l.Append(ctx, cor)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	assert.Equal(t, 1, l.StockLevel("WIDGET"))
}

func TestLedger_Validation(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())

	tests := []struct {
		name string
		tx   ledger.Transaction
		want error
	}{
		{"nil", nil, ledger.ErrEmptyTransaction},
		{"no items", ledger.NewInventory(monday, nil), ledger.ErrEmptyTransaction},
		{"nameless line", ledger.NewInventory(monday, []ledger.LineItem{line("", 1, "1")}), ledger.ErrInvalidLineItem},
		{"negative price", ledger.NewInventory(monday, []ledger.LineItem{line("A", 1, "-1")}), ledger.ErrInvalidLineItem},
		{"zero restock", ledger.NewInventory(monday, []ledger.LineItem{line("A", 0, "1")}), ledger.ErrInvalidLineItem},
		{"negative sale", ledger.NewSales(monday, []ledger.LineItem{line("A", -1, "1")}), ledger.ErrInvalidLineItem},
		{"correction of correction", ledger.Correction{
			Header:  ledger.Header{Timestamp: ledger.FormatTimestamp(monday), Filename: "Cor_x.pdf", Items: []ledger.LineItem{line("A", 1, "1")}},
			RefKind: ledger.KindCorrection,
		}, ledger.ErrInvalidReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Append(ctx, tt.tx)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ledger.IsValidation(err))
		})
	}
	assert.Zero(t, l.Len())
}

func TestNewCorrection_Rules(t *testing.T) {
	inv := ledger.NewInventory(monday, []ledger.LineItem{line("A", 1, "1")})

	_, err := ledger.NewCorrection(inv, []ledger.LineItem{line("A", 0, "1")}, monday)
	assert.ErrorIs(t, err, ledger.ErrEmptyTransaction)

	_, err = ledger.NewCorrection(nil, []ledger.LineItem{line("A", 1, "1")}, monday)
	assert.ErrorIs(t, err, ledger.ErrInvalidReference)

	cor, err := ledger.NewCorrection(inv, []ledger.LineItem{line("A", 0, "1"), line("A", 2, "1")}, monday)
	require.NoError(t, err)
	assert.Len(t, cor.Items, 1)
	assert.Equal(t, "Cor_20250310-090000.pdf", cor.Filename)
	assert.Equal(t, inv.Filename, cor.RefFilename)
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

func TestLedger_PersistFailureKeepsEntryInMemory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := openLedger(t, mem)
	mem.SaveErr = errors.New("disk full")

	err := l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 4, "5")}))

	require.ErrorIs(t, err, ledger.ErrPersist)
	var perr *ledger.PersistError
	require.ErrorAs(t, err, &perr)
	assert.EqualError(t, perr.Err, "disk full")
	assert.False(t, ledger.IsValidation(err))
	assert.Equal(t, 4, l.StockLevel("WIDGET"), "in-memory log stays authoritative")

	// WHEN: the disk recovers, the next write carries both entries
	mem.SaveErr = nil
	require.NoError(t, l.Append(ctx, ledger.NewSales(monday, []ledger.LineItem{line("WIDGET", 1, "5")})))
	env, _ := mem.Load(ctx)
	assert.Len(t, env.Transactions, 2)
}

func TestLedger_BackupFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.BackupErr = errors.New("read-only backup dir")
	l := openLedger(t, mem)

	require.NoError(t, l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 1, "5")})))
	assert.Equal(t, 1, mem.Saves())
}

func TestLedger_BackupBeforeEachMutation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := openLedger(t, mem)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 1, "5")})))
	}

	// nothing persisted before the first append, so only two backups
	backups := mem.Backups()
	require.Len(t, backups, 2)
	assert.Len(t, backups[0].Transactions, 1)
	assert.Len(t, backups[1].Transactions, 2)
}

// =============================================================================
// ENVELOPE METADATA
// =============================================================================

func TestLedger_OpenLoadsEnvelope(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryWith(ledger.Envelope{
		Transactions:   []ledger.Transaction{ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 6, "5")})},
		SummaryCount:   2,
		ShortcutsAsked: true,
	})

	l := openLedger(t, mem)

	assert.Equal(t, 6, l.StockLevel("WIDGET"))
	assert.Equal(t, 2, l.SummaryCount())
	assert.True(t, l.ShortcutsAsked())

	n, err := l.IncrementSummaryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, l.MarkShortcutsAsked(ctx))

	env, _ := mem.Load(ctx)
	assert.Equal(t, 3, env.SummaryCount)
}

func TestLedger_RecordCatalog(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())
	c := testCatalog(t, rec("Tools", "Widget", "5"))

	changed, err := l.RecordCatalog(ctx, c.Snapshot("2025-03-10 09:00:00"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = l.RecordCatalog(ctx, c.Snapshot("2025-03-10 10:00:00"))
	require.NoError(t, err)
	assert.False(t, changed, "identical catalog is not recorded twice")
	assert.Len(t, l.ProductHistory(), 1)
}

func TestLedger_Restore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := openLedger(t, mem)
	require.NoError(t, l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 1, "5")})))

	external := ledger.Envelope{
		Transactions: []ledger.Transaction{ledger.NewInventory(monday, []ledger.LineItem{line("GADGET", 9, "20")})},
		SummaryCount: 7,
	}
	require.NoError(t, l.Restore(ctx, external))

	assert.Equal(t, 0, l.StockLevel("WIDGET"))
	assert.Equal(t, 9, l.StockLevel("GADGET"))
	assert.Equal(t, 7, l.SummaryCount())
	require.NotEmpty(t, mem.Backups(), "state before the restore is backed up")
	assert.Len(t, mem.Backups()[len(mem.Backups())-1].Transactions, 1)
}

func TestLedger_StatsAndSummarize(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())
	require.NoError(t, l.Append(ctx, ledger.NewInventory(monday, []ledger.LineItem{line("WIDGET", 10, "5")})))
	require.NoError(t, l.Append(ctx, ledger.NewSales(monday, []ledger.LineItem{line("WIDGET", 3, "5")})))

	stats := l.Stats(&ledger.Period{Start: monday, End: monday})
	assert.Equal(t, 10, stats.Get("WIDGET").In)

	report := l.Summarize(testCatalog(t, rec("Tools", "Widget", "5")), ledger.ModeDaily, nil)
	require.Len(t, report.Rows, 1)
	assert.True(t, report.TotalSales().Equal(dec("15")))
}

// =============================================================================
// UNREADABLE RECORDS
// =============================================================================

func TestLedger_UnreadableRecordsStayInTheLog(t *testing.T) {
	ctx := context.Background()

	// GIVEN: a stored log with a restock and a record of unknown type
	env, warnings, err := ledger.UnmarshalEnvelope([]byte(`[
	  {"type": "inventory", "timestamp": "2025-03-10 09:00:00", "filename": "i.pdf",
	   "items": [{"name": "WIDGET", "price": 5, "qty": 10}]},
	  {"type": "refund", "timestamp": "2025-03-10 09:01:00", "filename": "r1.pdf",
	   "items": [{"name": "WIDGET", "price": 5, "qty": 4}]}
	]`))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	mem := store.NewMemoryWith(env)
	l := openLedger(t, mem)

	// THEN: the unknown record changes no stock and counts toward nothing
	assert.Equal(t, 10, l.StockLevel("WIDGET"))
	stats := l.Stats(nil)
	assert.Equal(t, 1, stats.InCount)
	assert.Zero(t, stats.OutCount)

	// WHEN: a sale is appended
	require.NoError(t, l.Append(ctx, ledger.NewSales(monday.Add(time.Hour), []ledger.LineItem{line("WIDGET", 2, "5")})))

	// THEN: the unknown record is still persisted in position
	saved, err := mem.Load(ctx)
	require.NoError(t, err)
	require.Len(t, saved.Transactions, 3)
	assert.Equal(t, "r1.pdf", saved.Transactions[1].Head().Filename)
	assert.IsType(t, ledger.Opaque{}, saved.Transactions[1])

	// AND: it can be neither appended again nor corrected
	err = l.Append(ctx, saved.Transactions[1])
	assert.ErrorIs(t, err, ledger.ErrMalformedRecord)
	_, err = ledger.NewCorrection(saved.Transactions[1], []ledger.LineItem{line("WIDGET", 1, "5")}, monday)
	assert.ErrorIs(t, err, ledger.ErrInvalidReference)
}

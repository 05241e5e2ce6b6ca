package sqlite_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/store/sqlite"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newMemoryStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:", sqlite.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func widget(qty int) []ledger.LineItem {
	return []ledger.LineItem{{Name: "WIDGET", Category: "TOOLS", Price: decimal.RequireFromString("5.50"), Qty: qty}}
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	inv := ledger.NewInventory(t0, widget(10))
	sale := ledger.NewSales(t0.Add(time.Minute), widget(3))
	cor, err := ledger.NewCorrection(sale, widget(-1), t0.Add(2*time.Minute))
	require.NoError(t, err)

	catalog, _ := ledger.NewCatalog([]ledger.CatalogRecord{{Business: "Shop", Category: "Tools", Name: "Widget", Price: "5.50"}}, "", nil)
	env := ledger.Envelope{
		Transactions:   []ledger.Transaction{inv, sale, cor},
		SummaryCount:   3,
		ShortcutsAsked: true,
		ProductHistory: []ledger.CatalogSnapshot{catalog.Snapshot("2025-03-01 08:00:00")},
	}
	require.NoError(t, s.Save(ctx, env))

	got, err := s.Load(ctx)
	require.NoError(t, err)

	require.Len(t, got.Transactions, 3)
	gotCor, ok := got.Transactions[2].(ledger.Correction)
	require.True(t, ok)
	assert.Equal(t, sale.Filename, gotCor.RefFilename)
	assert.Equal(t, 3, got.SummaryCount)
	assert.True(t, got.ShortcutsAsked)
	require.Len(t, got.ProductHistory, 1)
	assert.True(t, got.ProductHistory[0].Equal(env.ProductHistory[0]))

	stats := ledger.Aggregator{Location: time.UTC}.Aggregate(got.Transactions, nil)
	assert.Equal(t, 8, stats.Get("WIDGET").Remaining())
}

func TestSQLite_SaveAppendsSuffixOnly(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	first := ledger.NewInventory(t0, widget(10))
	second := ledger.NewSales(t0.Add(time.Minute), widget(1))

	require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: []ledger.Transaction{first}}))
	require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: []ledger.Transaction{first, second}}))
	// saving the same envelope again is a no-op
	require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: []ledger.Transaction{first, second}}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Transactions, 2)
}

func TestSQLite_RefusesRewrittenHistory(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	first := ledger.NewInventory(t0, widget(10))
	other := ledger.NewInventory(t0.Add(time.Hour), widget(2))

	require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: []ledger.Transaction{first}}))

	err := s.Save(ctx, ledger.Envelope{Transactions: []ledger.Transaction{other}})
	assert.ErrorIs(t, err, sqlite.ErrHistoryRewritten)

	err = s.Save(ctx, ledger.Envelope{})
	assert.ErrorIs(t, err, sqlite.ErrHistoryRewritten, "shrinking the log is a rewrite too")

	// Replace is the explicit restore path
	require.NoError(t, s.Replace(ctx, ledger.Envelope{Transactions: []ledger.Transaction{other}}))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, other.Filename, got.Transactions[0].Head().Filename)
}

func TestSQLite_UnreadableRowsKeepHistoryAligned(t *testing.T) {
	// GIVEN: a persisted log whose second row has a type this build cannot read
	// WHEN: it is loaded and saved again with one more transaction
	// THEN: the save succeeds and the unreadable row is still there

	ctx := context.Background()
	s := newMemoryStore(t)
	first := ledger.NewInventory(t0, widget(10))
	unknown, problems := ledger.UnmarshalTransaction([]byte(
		`{"type": "refund", "timestamp": "2025-03-10 09:01:00", "filename": "r1.pdf", "items": [{"name": "WIDGET", "qty": 2}]}`))
	require.Len(t, problems, 1)
	require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: []ledger.Transaction{first, unknown}}))

	env, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, env.Transactions, 2)
	assert.IsType(t, ledger.Opaque{}, env.Transactions[1])

	env.Transactions = append(env.Transactions, ledger.NewSales(t0.Add(time.Hour), widget(1)))
	require.NoError(t, s.Save(ctx, env))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 3)
	assert.Equal(t, "r1.pdf", got.Transactions[1].Head().Filename)
	record, err := ledger.MarshalTransaction(got.Transactions[1])
	require.NoError(t, err)
	assert.Contains(t, string(record), `"refund"`)

	stats := ledger.Aggregator{Location: time.UTC}.Aggregate(got.Transactions, nil)
	assert.Equal(t, 9, stats.Get("WIDGET").Remaining())
}

func TestSQLite_BackupsUseVacuumInto(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	n := 0
	clock := func() time.Time { n++; return t0.Add(time.Duration(n) * time.Second) }

	s, err := sqlite.New(filepath.Join(dir, "ledger.db"),
		sqlite.WithBackupDir(filepath.Join(dir, "backups"), 2),
		sqlite.WithLogger(log.New(io.Discard)),
		sqlite.WithClock(clock),
	)
	require.NoError(t, err)
	defer s.Close()

	// nothing persisted yet
	require.NoError(t, s.Backup(ctx))
	backups, err := s.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	var txs []ledger.Transaction
	for i := 0; i < 3; i++ {
		txs = append(txs, ledger.NewInventory(t0.Add(time.Duration(i)*time.Minute), widget(1)))
		require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: txs}))
		require.NoError(t, s.Backup(ctx))
	}

	backups, err = s.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	// a backup is a complete database
	restored, err := sqlite.New(backups[len(backups)-1], sqlite.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	defer restored.Close()
	env, err := restored.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, env.Transactions, 3)
}

func TestSQLite_ReportsAndSync(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	for _, at := range []time.Time{t0.Add(time.Hour), t0} {
		require.NoError(t, s.RecordReport(ctx, ledger.ReportRecord{
			ID:        ledger.ReportID(ledger.SummaryPrefix, at),
			Mode:      ledger.ModeAllTime,
			CreatedAt: at,
		}))
	}
	ids, err := s.ReportIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		ledger.ReportID(ledger.SummaryPrefix, t0),
		ledger.ReportID(ledger.SummaryPrefix, t0.Add(time.Hour)),
	}, ids)

	last, err := s.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.SetLastSync(ctx, t0))
	last, err = s.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(t0))
}

func TestLedgerOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	opts := []ledger.Option{ledger.WithLogger(log.New(io.Discard)), ledger.WithLocation(time.UTC)}

	l := ledger.Open(ctx, s, opts...)
	require.NoError(t, l.Append(ctx, ledger.NewInventory(t0, widget(5))))
	require.NoError(t, l.Append(ctx, ledger.NewSales(t0, widget(2))))
	_, err := l.IncrementSummaryCount(ctx)
	require.NoError(t, err)

	reopened := ledger.Open(ctx, s, opts...)
	assert.Equal(t, 3, reopened.StockLevel("WIDGET"))
	assert.Equal(t, 1, reopened.SummaryCount())
}

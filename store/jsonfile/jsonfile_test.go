package jsonfile_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/store/jsonfile"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newStore(t *testing.T) (*jsonfile.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := jsonfile.New(jsonfile.Options{
		Dir:    dir,
		Logger: log.New(io.Discard),
		Now:    tickingClock(),
	})
	require.NoError(t, err)
	return s, dir
}

func widget(qty int) []ledger.LineItem {
	return []ledger.LineItem{{Name: "WIDGET", Category: "TOOLS", Price: decimal.NewFromInt(5), Qty: qty}}
}

// =============================================================================
// LOAD
// =============================================================================

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, _ := newStore(t)

	env, err := s.Load(context.Background())

	require.NoError(t, err)
	assert.Empty(t, env.Transactions)
}

func TestLoad_CorruptFileIsEmpty(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"transactions": [`), 0o644))

	env, err := s.Load(context.Background())

	require.NoError(t, err)
	assert.Empty(t, env.Transactions)
}

func TestLoad_LegacyBareList(t *testing.T) {
	s, _ := newStore(t)
	legacy := `[{"type": "inventory", "timestamp": "2025-03-10 09:00:00",
	  "filename": "Inventory_20250310-090000.pdf",
	  "items": [{"name": "WIDGET", "price": "5", "qty": 10}]}]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

	env, err := s.Load(context.Background())

	require.NoError(t, err)
	require.Len(t, env.Transactions, 1)
	assert.Equal(t, 10, env.Transactions[0].Head().Items[0].Qty)
	assert.Zero(t, env.SummaryCount)
}

// =============================================================================
// SAVE
// =============================================================================

func TestSave_RoundTripAndNoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	s, dir := newStore(t)
	env := ledger.Envelope{
		Transactions:   []ledger.Transaction{ledger.NewInventory(t0, widget(10)), ledger.NewSales(t0, widget(3))},
		SummaryCount:   5,
		ShortcutsAsked: true,
	}

	require.NoError(t, s.Save(ctx, env))
	got, err := s.Load(ctx)
	require.NoError(t, err)

	require.Len(t, got.Transactions, 2)
	assert.Equal(t, ledger.KindSales, got.Transactions[1].Kind())
	assert.True(t, got.Transactions[1].Head().Items[0].Subtotal.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 5, got.SummaryCount)
	assert.True(t, got.ShortcutsAsked)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// =============================================================================
// BACKUPS
// =============================================================================

func TestBackup_NothingToCopyYet(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, s.Backup(context.Background()))

	backups, err := s.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestBackup_RetainsNewestTen(t *testing.T) {
	// GIVEN: 12 save + backup cycles
	// THEN: only the 10 newest backups remain, oldest evicted first

	ctx := context.Background()
	s, _ := newStore(t)
	var txs []ledger.Transaction

	for i := 0; i < 12; i++ {
		txs = append(txs, ledger.NewInventory(t0.Add(time.Duration(i)*time.Minute), widget(1)))
		require.NoError(t, s.Save(ctx, ledger.Envelope{Transactions: txs}))
		require.NoError(t, s.Backup(ctx))
	}

	backups, err := s.Backups()
	require.NoError(t, err)
	require.Len(t, backups, jsonfile.DefaultKeep)

	// the oldest surviving backup holds the third save
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	env, _, err := ledger.UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Len(t, env.Transactions, 3)
}

// =============================================================================
// REPORTS + SYNC
// =============================================================================

func TestReportIndex(t *testing.T) {
	ctx := context.Background()
	s, dir := newStore(t)
	id := ledger.ReportID(ledger.SummaryPrefix, t0)

	require.NoError(t, s.RecordReport(ctx, ledger.ReportRecord{
		ID:        id,
		Mode:      ledger.ModeDaily,
		Period:    ledger.ModeDaily.PeriodFor(t0),
		CreatedAt: t0,
	}))
	// a report rendered by something else
	external := ledger.ReportID(ledger.SummaryPrefix, t0.Add(time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reports", external), []byte("%PDF"), 0o644))

	ids, err := s.ReportIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id, external}, ids)
}

func TestSyncState(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	last, err := s.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.SetLastSync(ctx, t0))
	last, err = s.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(t0))
}

func TestLedgerOverJSONFile(t *testing.T) {
	// The ledger reopened from disk sees the same stock
	ctx := context.Background()
	s, _ := newStore(t)
	opts := []ledger.Option{ledger.WithLogger(log.New(io.Discard)), ledger.WithLocation(time.UTC)}

	l := ledger.Open(ctx, s, opts...)
	require.NoError(t, l.Append(ctx, ledger.NewInventory(t0, widget(10))))
	require.NoError(t, l.Append(ctx, ledger.NewSales(t0.Add(time.Minute), widget(4))))

	reopened := ledger.Open(ctx, s, opts...)
	assert.Equal(t, 6, reopened.StockLevel("WIDGET"))

	backups, err := s.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1, "first append had nothing to back up")
}

func TestLedgerOverJSONFile_KeepsUnreadableRecords(t *testing.T) {
	// GIVEN: a legacy file with a record of unknown type and a sales line
	//        whose price does not parse
	// WHEN: the ledger is opened and one restock appended
	// THEN: both are still on disk after the write

	ctx := context.Background()
	s, _ := newStore(t)
	legacy := `[
	  {"type": "inventory", "timestamp": "2025-03-10 09:00:00", "filename": "i.pdf",
	   "items": [{"name": "WIDGET", "price": 5, "qty": 10}, {"name": "GADGET", "price": 20, "qty": 3}]},
	  {"type": "refund", "timestamp": "2025-03-10 09:01:00", "filename": "r1.pdf", "items": []},
	  {"type": "sales", "timestamp": "2025-03-10 09:02:00", "filename": "s1.pdf",
	   "items": [{"name": "WIDGET", "price": 5, "qty": 1, "subtotal": 5}, {"name": "GADGET", "price": "N/A", "qty": 1}]}
	]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

	l := ledger.Open(ctx, s, ledger.WithLogger(log.New(io.Discard)), ledger.WithLocation(time.UTC))
	assert.Equal(t, 9, l.StockLevel("WIDGET"))
	assert.Equal(t, 3, l.StockLevel("GADGET"), "unreadable line ignored")

	require.NoError(t, l.Append(ctx, ledger.NewInventory(t0.Add(time.Hour), widget(5))))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"r1.pdf"`)
	assert.Contains(t, string(data), `"refund"`)
	assert.Contains(t, string(data), `"N/A"`)

	reopened := ledger.Open(ctx, s, ledger.WithLogger(log.New(io.Discard)), ledger.WithLocation(time.UTC))
	assert.Equal(t, 4, reopened.Len())
	assert.Equal(t, 14, reopened.StockLevel("WIDGET"))
}

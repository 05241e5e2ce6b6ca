/*
store.go - Persistence ports for the ledger envelope

PURPOSE:
  Defines the interface between the ledger and wherever it is persisted.
  The ledger owns the in-memory log; a Store only loads it once and writes
  the whole envelope after each mutation.

KEY INTERFACES:
  Store:       Load / Save the envelope
  BackupStore: Store that can snapshot its persisted state before a write
  ReportIndex: Identifiers of generated summary reports (catch-up input)
  SyncState:   When reports were last delivered

APPEND-ONLY CONTRACT:
  Save always receives the previously saved transactions as a prefix.
  Implementations may rewrite the file wholesale (jsonfile) or insert only
  the new suffix (sqlite), but never edit a transaction in place.

IMPLEMENTATIONS:
  - store/jsonfile: JSON file with atomic replace and rolling backups
  - store/sqlite:   SQLite tables, backups via VACUUM INTO
  - ledger/store:   In-memory, for tests
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENVELOPE - The persisted unit
// =============================================================================

// Envelope is everything the ledger persists in one write.
type Envelope struct {
	Transactions   []Transaction
	SummaryCount   int
	ShortcutsAsked bool
	ProductHistory []CatalogSnapshot
}

// Clone copies the slices so the caller cannot alias ledger state.
func (e Envelope) Clone() Envelope {
	out := e
	out.Transactions = append([]Transaction(nil), e.Transactions...)
	out.ProductHistory = append([]CatalogSnapshot(nil), e.ProductHistory...)
	return out
}

// =============================================================================
// STORE
// =============================================================================

// Store persists the envelope.
type Store interface {
	// Load returns the persisted envelope. Missing or corrupt data yields an
	// empty envelope and no error; errors are for real I/O failures.
	Load(ctx context.Context) (Envelope, error)

	// Save persists env atomically: readers see the old or the new state.
	Save(ctx context.Context, env Envelope) error
}

// BackupStore can copy its persisted state aside before a mutation.
type BackupStore interface {
	Store

	// Backup snapshots the current persisted state and evicts the oldest
	// backups beyond the retention limit. Nothing persisted yet is not an error.
	Backup(ctx context.Context) error
}

// Replacer is implemented by stores whose Save refuses to rewrite history.
// Restoring from an external backup goes through Replace instead.
type Replacer interface {
	Replace(ctx context.Context, env Envelope) error
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportRecord describes one generated summary report.
type ReportRecord struct {
	ID          string
	Mode        Mode
	Period      *Period
	CreatedAt   time.Time
	TotalSales  string
	Rows        int
	Corrections []string
}

// ReportIndex remembers which summary reports were generated.
type ReportIndex interface {
	RecordReport(ctx context.Context, rec ReportRecord) error
	ReportIDs(ctx context.Context) ([]string, error)
}

// SyncState tracks the last successful delivery of reports.
type SyncState interface {
	// LastSync returns nil when reports were never delivered.
	LastSync(ctx context.Context) (*time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error
}

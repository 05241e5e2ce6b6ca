/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the single source of truth for stock and sales. Every
  restock, sale and correction is recorded here. Stock levels are always
  computed by folding transactions; there is no stored quantity that can
  drift from the log.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. Corrections are new entries.
  2. NON-NEGATIVE STOCK: a sale or stock-reducing correction that would
     take any product below zero is rejected before it is recorded.
  3. FRESH CACHE: the stock snapshot is refolded after every append.

MUTATION PIPELINE:
  validate -> check stock -> backup (fail-open) -> append in memory
  -> persist envelope -> refold stock

  A failed backup is logged and the mutation continues. A failed persist
  is logged and returned as *PersistError; the entry stays in memory and
  the next successful Save writes it.

EXAMPLE FLOW:
  1. Restock 10 WIDGET:           Inventory +10       stock 10
  2. Sell 3 WIDGET:               Sales -3            stock 7
  3. Restock was really 8:        Correction(inv) -2  stock 5
  4. Sale was really 4:           Correction(sale) +1 stock 4

SEE ALSO:
  - store.go: Persistence ports
  - stats.go: The fold
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// =============================================================================
// OPTIONS
// =============================================================================

type Option func(*Ledger)

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(led *Ledger) { led.log = l }
}

// WithClock sets the time source used for unparsable timestamps and
// generated report ids.
func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

// WithLocation sets the zone stored timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(led *Ledger) { led.loc = loc }
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger owns the in-memory envelope and writes it through a Store.
// It is safe for concurrent use; mutations are serialized.
type Ledger struct {
	mu    sync.RWMutex
	store Store
	log   *log.Logger
	now   func() time.Time
	loc   *time.Location
	env   Envelope
	stock *StockResolver
}

// Open loads the envelope from store. A load failure is logged and the
// ledger starts empty; it never prevents startup.
func Open(ctx context.Context, store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = log.Default()
	}
	l.stock = NewStockResolver(l.Aggregator())

	env, err := store.Load(ctx)
	if err != nil {
		l.log.Error("ledger load failed, starting empty", "error", err)
		env = Envelope{}
	}
	l.env = env
	l.stock.Refresh(l.env.Transactions)
	l.log.Debug("ledger opened", "transactions", len(env.Transactions), "summaries", env.SummaryCount)
	return l
}

// Aggregator returns the fold configured with the ledger's clock and zone.
func (l *Ledger) Aggregator() Aggregator {
	return Aggregator{Now: l.now, Location: l.loc}
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// Location returns the zone timestamps are interpreted in.
func (l *Ledger) Location() *time.Location { return l.loc }

// =============================================================================
// WRITE - The only way transactions enter the log
// =============================================================================

// Append validates tx, checks stock and records it.
func (l *Ledger) Append(ctx context.Context, tx Transaction) error {
	if err := l.validate(tx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := checkDelta(l.stock.Snapshot(), tx); err != nil {
		return err
	}
	if c, ok := tx.(Correction); ok && l.findLocked(c.RefFilename) == nil {
		l.log.Warn("correction references unknown receipt", "ref", c.RefFilename, "kind", c.RefKind)
	}

	return l.mutateLocked(ctx, "append "+tx.Head().Filename, func(env *Envelope) {
		env.Transactions = append(env.Transactions, tx)
	})
}

func (l *Ledger) validate(tx Transaction) error {
	if tx == nil {
		return ErrEmptyTransaction
	}
	if !tx.Kind().Valid() {
		return fmt.Errorf("%w: cannot append a %s record", ErrMalformedRecord, tx.Kind())
	}
	h := tx.Head()
	if len(h.Items) == 0 {
		return ErrEmptyTransaction
	}
	for _, li := range h.Items {
		if !li.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLineItem, li.Name)
		}
		switch tx.Kind() {
		case KindInventory, KindSales:
			if li.Qty <= 0 {
				return fmt.Errorf("%w: %s qty %d must be positive", ErrInvalidLineItem, li.Name, li.Qty)
			}
		case KindCorrection:
			if li.Qty == 0 {
				return fmt.Errorf("%w: %s zero delta", ErrInvalidLineItem, li.Name)
			}
		}
	}
	if c, ok := tx.(Correction); ok {
		if c.RefKind != KindInventory && c.RefKind != KindSales {
			return ErrInvalidReference
		}
	}
	return nil
}

// mutateLocked runs the backup -> apply -> persist -> refold pipeline.
// Caller holds l.mu.
func (l *Ledger) mutateLocked(ctx context.Context, op string, apply func(env *Envelope)) error {
	if b, ok := l.store.(BackupStore); ok {
		if err := b.Backup(ctx); err != nil {
			l.log.Warn("backup failed, continuing", "op", op, "error", err)
		}
	}

	apply(&l.env)
	l.stock.Refresh(l.env.Transactions)

	if err := l.store.Save(ctx, l.env.Clone()); err != nil {
		l.log.Error("persist failed, change kept in memory", "op", op, "error", err)
		return &PersistError{Op: op, Err: err}
	}
	return nil
}

// =============================================================================
// READ
// =============================================================================

// Transactions returns a copy of the log in append order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Transaction(nil), l.env.Transactions...)
}

// Len returns the number of recorded transactions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.env.Transactions)
}

// Find returns the transaction whose receipt filename matches. When a
// filename was reused, the newest entry wins.
func (l *Ledger) Find(filename string) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx := l.findLocked(filename)
	return tx, tx != nil
}

func (l *Ledger) findLocked(filename string) Transaction {
	for i := len(l.env.Transactions) - 1; i >= 0; i-- {
		if l.env.Transactions[i].Head().Filename == filename {
			return l.env.Transactions[i]
		}
	}
	return nil
}

// Stats folds the log, optionally restricted to period.
func (l *Ledger) Stats(period *Period) Stats {
	return l.Aggregator().Aggregate(l.Transactions(), period)
}

// Summarize builds a report against catalog for mode and period.
func (l *Ledger) Summarize(catalog ProductSource, mode Mode, period *Period) Report {
	return l.Aggregator().Summarize(catalog, l.Transactions(), mode, period, l.now())
}

// StockLevel returns the current stock of name.
func (l *Ledger) StockLevel(name string) int {
	return l.stock.Level(name)
}

// Snapshot returns the All Time stats behind StockLevel.
func (l *Ledger) Snapshot() Stats {
	return l.stock.Snapshot()
}

// Envelope returns a copy of everything the ledger persists.
func (l *Ledger) Envelope() Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.env.Clone()
}

// =============================================================================
// ENVELOPE METADATA
// =============================================================================

func (l *Ledger) SummaryCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.env.SummaryCount
}

// IncrementSummaryCount bumps the finalized-summary counter and persists.
// The returned count is valid even when persisting failed.
func (l *Ledger) IncrementSummaryCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.mutateLocked(ctx, "summary count", func(env *Envelope) { env.SummaryCount++ })
	return l.env.SummaryCount, err
}

func (l *Ledger) ShortcutsAsked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.env.ShortcutsAsked
}

func (l *Ledger) MarkShortcutsAsked(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.env.ShortcutsAsked {
		return nil
	}
	return l.mutateLocked(ctx, "shortcuts asked", func(env *Envelope) { env.ShortcutsAsked = true })
}

// ProductHistory returns the retained catalog snapshots, oldest first.
func (l *Ledger) ProductHistory() []CatalogSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CatalogSnapshot(nil), l.env.ProductHistory...)
}

// RecordCatalog appends snap to the catalog history when it differs from
// the newest version. It reports whether anything changed.
func (l *Ledger) RecordCatalog(ctx context.Context, snap CatalogSnapshot) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history, changed := AppendHistory(l.env.ProductHistory, snap)
	if !changed {
		return false, nil
	}
	return true, l.mutateLocked(ctx, "catalog history", func(env *Envelope) { env.ProductHistory = history })
}

// =============================================================================
// RESTORE
// =============================================================================

// Restore replaces the whole envelope with env, typically read from an
// external backup. The current state is backed up first.
func (l *Ledger) Restore(ctx context.Context, env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.store.(BackupStore); ok {
		if err := b.Backup(ctx); err != nil {
			l.log.Warn("backup before restore failed, continuing", "error", err)
		}
	}

	l.env = env.Clone()
	l.stock.Refresh(l.env.Transactions)

	var err error
	if r, ok := l.store.(Replacer); ok {
		err = r.Replace(ctx, l.env.Clone())
	} else {
		err = l.store.Save(ctx, l.env.Clone())
	}
	if err != nil {
		l.log.Error("persist after restore failed", "error", err)
		return &PersistError{Op: "restore", Err: err}
	}
	l.log.Info("ledger restored", "transactions", len(l.env.Transactions))
	return nil
}

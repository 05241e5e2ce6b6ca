/*
Package app is the command and query surface over the ledger.

PURPOSE:
  Service joins the ledger with the active catalog, the report index and
  the notifier. Everything a front end (CLI, desktop, remote cart) needs
  goes through it:

    Stock:    GetStockLevel, GetProductList, GetInventory, ValidateSalesRequest
    Reports:  GetSumData, GetCatchupIntervals, FinalizeSummary, BeginningInventory
    Commands: Restock, Checkout, Correct
    Catalog:  ReloadCatalog, CatalogRollbackCandidates, RollbackCatalog
    Recovery: Restore

CATALOG:
  The active catalog is swapped atomically on reload. Readers always see
  a complete catalog, never one under construction.

NAMES:
  Requests may name a product by its full name, its display name, or a
  picker selection like "WIDGET (5.00)". Names not in the catalog are
  normalized and looked up in the log, so phased-out stock stays
  reachable for corrections.

SEE ALSO:
  - dispatcher.go: Single-writer queue for proposals from other goroutines
  - notifier.go:   Asynchronous summary delivery
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/warp/retail-ledger/ledger"
)

// ReportStore is the report index plus sync state; both stores implement it.
type ReportStore interface {
	ledger.ReportIndex
	ledger.SyncState
}

// ItemRequest is one product and quantity as entered by a user. For
// corrections Qty is a signed delta.
type ItemRequest struct {
	Name string
	Qty  int
}

// ProductStock is a catalog product with its current stock, as served to
// remote carts.
type ProductStock struct {
	ledger.Product
	Display string
	Stock   int
}

// SummaryResult is what FinalizeSummary produced.
type SummaryResult struct {
	ID           string
	Report       ledger.Report
	Catchup      []ledger.Report
	SummaryCount int
}

// =============================================================================
// SERVICE
// =============================================================================

type ServiceOption func(*Service)

func WithServiceLogger(l *log.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// WithCatalog sets the initial catalog. Without it the newest catalog
// version from the ledger history is used.
func WithCatalog(c *ledger.Catalog) ServiceOption {
	return func(s *Service) { s.catalog.Store(c) }
}

// WithNotifier delivers finalized summaries through n, each with timeout.
func WithNotifier(n Notifier, timeout time.Duration) ServiceOption {
	return func(s *Service) { s.notify, s.notifyTimeout = n, timeout }
}

func WithRecipient(recipient string) ServiceOption {
	return func(s *Service) { s.recipient = recipient }
}

// WithFallbackBusiness names the business when a catalog does not.
func WithFallbackBusiness(name string) ServiceOption {
	return func(s *Service) { s.business = name }
}

type Service struct {
	ledger   *ledger.Ledger
	reports  ReportStore
	catalog  atomic.Pointer[ledger.Catalog]
	notifier *AsyncNotifier
	log      *log.Logger

	notify        Notifier
	notifyTimeout time.Duration

	business  string
	recipient string
}

func NewService(l *ledger.Ledger, reports ReportStore, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:   l,
		reports:  reports,
		log:      log.Default(),
		business: ledger.DefaultBusinessName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notify != nil {
		s.notifier = NewAsyncNotifier(s.notify, s.notifyTimeout, s.log)
	}

	if s.catalog.Load() == nil {
		s.catalog.Store(s.catalogFromHistory())
	}
	return s
}

func (s *Service) catalogFromHistory() *ledger.Catalog {
	history := s.ledger.ProductHistory()
	if len(history) == 0 {
		return ledger.EmptyCatalog()
	}
	c, _ := ledger.CatalogFromSnapshot(history[len(history)-1], nil)
	s.log.Info("catalog restored from history", "version", history[len(history)-1].Timestamp, "products", c.Len())
	return c
}

func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Catalog returns the active catalog.
func (s *Service) Catalog() *ledger.Catalog { return s.catalog.Load() }

// Wait blocks until pending notifications are delivered.
func (s *Service) Wait() {
	if s.notifier != nil {
		s.notifier.Wait()
	}
}

// resolve maps a user-entered name to a product name. The product is the
// catalog entry when there is one.
func (s *Service) resolve(name string) (string, ledger.Product, bool) {
	c := s.Catalog()
	if p, ok := c.LookupDisplay(name); ok {
		return p.Name, p, true
	}
	norm := ledger.NormalizeName(name)
	if p, ok := c.Lookup(norm); ok {
		return norm, p, true
	}
	return norm, ledger.Product{}, false
}

// =============================================================================
// STOCK QUERIES
// =============================================================================

func (s *Service) GetStockLevel(name string) int {
	resolved, _, _ := s.resolve(name)
	return s.ledger.StockLevel(resolved)
}

// GetProductList returns the active catalog products.
func (s *Service) GetProductList() []ledger.Product {
	return s.Catalog().Products()
}

// GetInventory returns every catalog product with its stock level.
func (s *Service) GetInventory() []ProductStock {
	c := s.Catalog()
	snap := s.ledger.Snapshot()
	products := c.Products()
	out := make([]ProductStock, len(products))
	for i, p := range products {
		out[i] = ProductStock{
			Product: p,
			Display: c.DisplayName(p.Name),
			Stock:   snap.Get(p.Name).Remaining(),
		}
	}
	return out
}

// ValidateSalesRequest checks a proposed sale against the catalog and the
// current stock. A shortfall is returned as *ledger.InsufficientStockError.
func (s *Service) ValidateSalesRequest(items []ItemRequest) error {
	if len(items) == 0 {
		return ledger.ErrEmptyTransaction
	}
	reqs := make([]ledger.Requested, 0, len(items))
	for _, it := range items {
		name, _, ok := s.resolve(it.Name)
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownProduct, it.Name)
		}
		if it.Qty <= 0 {
			return fmt.Errorf("%w: %s qty %d must be positive", ledger.ErrInvalidLineItem, name, it.Qty)
		}
		reqs = append(reqs, ledger.Requested{Name: name, Qty: it.Qty})
	}
	return ledger.CheckSale(s.ledger.Snapshot(), reqs)
}

// catalogLines prices items from the active catalog.
func (s *Service) catalogLines(items []ItemRequest) ([]ledger.LineItem, error) {
	if len(items) == 0 {
		return nil, ledger.ErrEmptyTransaction
	}
	lines := make([]ledger.LineItem, 0, len(items))
	for _, it := range items {
		_, p, ok := s.resolve(it.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownProduct, it.Name)
		}
		lines = append(lines, ledger.LineItem{Name: p.Name, Category: p.Category, Price: p.Price, Qty: it.Qty})
	}
	return lines, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// Restock records an inventory receipt at catalog prices. A returned
// ledger.ErrPersist means the receipt is recorded in memory only.
func (s *Service) Restock(ctx context.Context, items []ItemRequest) (ledger.Inventory, error) {
	lines, err := s.catalogLines(items)
	if err != nil {
		return ledger.Inventory{}, err
	}
	tx := ledger.NewInventory(ledger.At(s.ledger.Now()), lines)
	err = s.ledger.Append(ctx, tx)
	if err != nil && !errors.Is(err, ledger.ErrPersist) {
		return ledger.Inventory{}, err
	}
	s.log.Info("restocked", "receipt", tx.Filename, "lines", len(lines))
	return tx, err
}

// Checkout validates and records a sale at catalog prices.
func (s *Service) Checkout(ctx context.Context, items []ItemRequest) (ledger.Sales, error) {
	if err := s.ValidateSalesRequest(items); err != nil {
		return ledger.Sales{}, err
	}
	lines, err := s.catalogLines(items)
	if err != nil {
		return ledger.Sales{}, err
	}
	tx := ledger.NewSales(ledger.At(s.ledger.Now()), lines)
	err = s.ledger.Append(ctx, tx)
	if err != nil && !errors.Is(err, ledger.ErrPersist) {
		return ledger.Sales{}, err
	}
	s.log.Info("sale recorded", "receipt", tx.Filename, "lines", len(lines))
	return tx, err
}

// Correct records signed deltas against the receipt named refFilename.
// Each delta keeps the price the product had on that receipt; products the
// receipt did not contain take the catalog price.
func (s *Service) Correct(ctx context.Context, refFilename string, deltas []ItemRequest) (ledger.Correction, error) {
	target, ok := s.ledger.Find(refFilename)
	if !ok {
		return ledger.Correction{}, fmt.Errorf("%w: receipt %s not found", ledger.ErrInvalidReference, refFilename)
	}

	onReceipt := make(map[string]ledger.LineItem)
	for _, li := range target.Head().Items {
		onReceipt[li.Name] = li
	}

	lines := make([]ledger.LineItem, 0, len(deltas))
	for _, d := range deltas {
		name, p, inCatalog := s.resolve(d.Name)
		if li, ok := onReceipt[name]; ok {
			lines = append(lines, ledger.LineItem{Name: name, Category: li.Category, Price: li.Price, Qty: d.Qty})
			continue
		}
		if !inCatalog {
			return ledger.Correction{}, fmt.Errorf("%w: %s", ledger.ErrUnknownProduct, d.Name)
		}
		lines = append(lines, ledger.LineItem{Name: p.Name, Category: p.Category, Price: p.Price, Qty: d.Qty})
	}

	tx, err := ledger.NewCorrection(target, lines, ledger.At(s.ledger.Now()))
	if err != nil {
		return ledger.Correction{}, err
	}
	err = s.ledger.Append(ctx, tx)
	if err != nil && !errors.Is(err, ledger.ErrPersist) {
		return ledger.Correction{}, err
	}
	s.log.Info("correction recorded", "receipt", tx.Filename, "ref", refFilename, "lines", len(tx.Items))
	return tx, err
}

// =============================================================================
// REPORTS
// =============================================================================

// GetSumData builds the report for mode. A nil period on a windowed mode
// is derived from the ledger clock.
func (s *Service) GetSumData(period *ledger.Period, mode ledger.Mode) (ledger.Report, error) {
	if period != nil {
		if err := period.Validate(); err != nil {
			return ledger.Report{}, err
		}
	}
	if mode == ledger.ModeInterval && period == nil {
		return ledger.Report{}, fmt.Errorf("%w: interval report needs a period", ledger.ErrInvalidPeriod)
	}
	return s.ledger.Summarize(s.Catalog(), mode, period), nil
}

// GetCatchupIntervals plans the intervals covering summaries generated
// after lastSync.
func (s *Service) GetCatchupIntervals(ctx context.Context, lastSync *time.Time, now time.Time) ([]ledger.Period, error) {
	ids, err := s.reports.ReportIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return ledger.PlanCatchupFrom(ids, lastSync, now, s.ledger.Location()), nil
}

// FinalizeSummary builds the report for mode anchored at anchor, records
// it, and hands it to the notifier.
//
// Regular summaries bump the summary counter and carry catch-up reports
// for summaries generated since the last delivery. Custom (History)
// reports do neither. Last sync is set only when delivery succeeds.
func (s *Service) FinalizeSummary(ctx context.Context, mode ledger.Mode, anchor time.Time, custom bool) (SummaryResult, error) {
	now := ledger.At(s.ledger.Now())
	if anchor.IsZero() {
		anchor = now
	}

	report, err := s.GetSumData(mode.PeriodFor(anchor), mode)
	if err != nil {
		return SummaryResult{}, err
	}

	prefix := ledger.SummaryPrefix
	if custom {
		prefix = ledger.HistoryPrefix
	}
	result := SummaryResult{ID: ledger.ReportID(prefix, now), Report: report}

	var errs []error
	if !custom {
		result.Catchup = s.catchupReports(ctx, now)
	}

	rec := ledger.ReportRecord{
		ID:          result.ID,
		Mode:        report.Mode,
		Period:      report.Period,
		CreatedAt:   now,
		TotalSales:  report.TotalSales().StringFixed(2),
		Rows:        len(report.Rows),
		Corrections: report.Corrections,
	}
	if err := s.reports.RecordReport(ctx, rec); err != nil {
		s.log.Error("recording report failed", "report", rec.ID, "error", err)
		errs = append(errs, fmt.Errorf("record report: %w", err))
	}

	if custom {
		result.SummaryCount = s.ledger.SummaryCount()
	} else {
		count, err := s.ledger.IncrementSummaryCount(ctx)
		result.SummaryCount = count
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s.notifier != nil {
		notice := SummaryNotice{
			ReportID:     result.ID,
			Business:     s.Catalog().Business(),
			Recipient:    s.recipient,
			Report:       report,
			Catchup:      result.Catchup,
			SummaryCount: result.SummaryCount,
			Custom:       custom,
			CreatedAt:    now,
		}
		s.notifier.Send(notice, func(err error) {
			if err != nil {
				return
			}
			if err := s.reports.SetLastSync(context.Background(), now); err != nil {
				s.log.Error("saving last sync failed", "error", err)
			}
		})
	}

	s.log.Info("summary finalized", "report", result.ID, "mode", mode, "rows", len(report.Rows), "catchup", len(result.Catchup))
	return result, errors.Join(errs...)
}

func (s *Service) catchupReports(ctx context.Context, now time.Time) []ledger.Report {
	lastSync, err := s.reports.LastSync(ctx)
	if err != nil {
		s.log.Warn("reading last sync failed, skipping catch-up", "error", err)
		return nil
	}
	periods, err := s.GetCatchupIntervals(ctx, lastSync, now)
	if err != nil {
		s.log.Warn("planning catch-up failed", "error", err)
		return nil
	}

	out := make([]ledger.Report, 0, len(periods))
	for i := range periods {
		p := periods[i]
		out = append(out, s.ledger.Summarize(s.Catalog(), ledger.ModeInterval, &p))
	}
	return out
}

// BeginningInventory lists products with stock on hand.
func (s *Service) BeginningInventory() []ledger.StockRow {
	return ledger.BeginningInventory(s.Catalog(), s.ledger.Snapshot())
}

// SalesTotal is the All Time sales amount, for status lines.
func (s *Service) SalesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, ps := range s.ledger.Snapshot().ByName {
		total = total.Add(ps.SalesTotal())
	}
	return total
}

// =============================================================================
// CATALOG
// =============================================================================

// ReloadCatalog replaces the active catalog with records and appends the
// new version to the history when it changed.
func (s *Service) ReloadCatalog(ctx context.Context, records []ledger.CatalogRecord) (ledger.LoadReport, error) {
	prev := s.Catalog().Names()
	c, report := ledger.NewCatalog(records, s.business, prev)
	s.catalog.Store(c)

	s.log.Info("catalog loaded",
		"products", c.Len(),
		"new", report.New,
		"rejected", report.Rejected,
		"phased_out", report.PhasedOut,
	)
	for _, r := range report.RejectedDetails {
		s.log.Warn("catalog row rejected", "name", r.Name, "reason", r.Reason)
	}

	_, err := s.ledger.RecordCatalog(ctx, c.Snapshot(ledger.FormatTimestamp(s.ledger.Now())))
	return report, err
}

// CatalogRollbackCandidates lists past catalog versions, newest first.
func (s *Service) CatalogRollbackCandidates() []ledger.CatalogSnapshot {
	return ledger.RestoreCandidates(s.ledger.ProductHistory())
}

// RollbackCatalog reactivates the past version stamped timestamp. The
// restored list becomes the newest history entry.
func (s *Service) RollbackCatalog(ctx context.Context, timestamp string) (ledger.LoadReport, error) {
	for _, snap := range s.CatalogRollbackCandidates() {
		if snap.Timestamp != timestamp {
			continue
		}
		c, report := ledger.CatalogFromSnapshot(snap, s.Catalog().Names())
		s.catalog.Store(c)
		s.log.Info("catalog rolled back", "version", timestamp, "products", c.Len())

		_, err := s.ledger.RecordCatalog(ctx, c.Snapshot(ledger.FormatTimestamp(s.ledger.Now())))
		return report, err
	}
	return ledger.LoadReport{}, fmt.Errorf("%w: %s", ledger.ErrCatalogVersionNotFound, timestamp)
}

// =============================================================================
// RECOVERY
// =============================================================================

// Restore replaces the ledger with env from an external backup. When env
// carries catalog history, its newest version becomes active.
func (s *Service) Restore(ctx context.Context, env ledger.Envelope) error {
	err := s.ledger.Restore(ctx, env)
	if len(env.ProductHistory) > 0 {
		s.catalog.Store(s.catalogFromHistory())
	}
	return err
}

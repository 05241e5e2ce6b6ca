package ledger

import (
	"sort"
	"sync/atomic"
)

// =============================================================================
// STOCK RESOLVER - Owns the latest full-refold snapshot
// =============================================================================

// StockResolver holds the All Time stats of the whole log. Refresh replaces
// the snapshot wholesale; a reader never sees a half-built map.
//
// Corrections change historical totals, so the snapshot is always rebuilt
// from the full log rather than patched.
type StockResolver struct {
	agg  Aggregator
	snap atomic.Pointer[Stats]
}

func NewStockResolver(agg Aggregator) *StockResolver {
	r := &StockResolver{agg: agg}
	empty := agg.Aggregate(nil, nil)
	r.snap.Store(&empty)
	return r
}

// Refresh folds txs without a period filter and swaps the snapshot.
func (r *StockResolver) Refresh(txs []Transaction) {
	stats := r.agg.Aggregate(txs, nil)
	r.snap.Store(&stats)
}

// Snapshot returns the current stats. Callers must treat it as read-only.
func (r *StockResolver) Snapshot() Stats {
	return *r.snap.Load()
}

// Level returns in - out for name, 0 when the name has never moved.
func (r *StockResolver) Level(name string) int {
	return r.Snapshot().Get(name).Remaining()
}

// =============================================================================
// VALIDATION - Stock checks before a mutation
// =============================================================================

// Requested is one product/quantity pair of a proposed sale.
type Requested struct {
	Name string
	Qty  int
}

// CheckSale verifies that every requested quantity is available in snap.
// Quantities for the same name are summed first. The first shortfall in
// request order is returned.
func CheckSale(snap Stats, items []Requested) error {
	totals := make(map[string]int, len(items))
	var order []string
	for _, it := range items {
		if _, seen := totals[it.Name]; !seen {
			order = append(order, it.Name)
		}
		totals[it.Name] += it.Qty
	}

	for _, name := range order {
		avail := snap.Get(name).Remaining()
		if totals[name] > avail {
			return &InsufficientStockError{Name: name, Requested: totals[name], Available: avail}
		}
	}
	return nil
}

// checkDelta verifies that applying tx to snap leaves no product that it
// reduces below zero. Names are checked in sorted order for stable errors.
func checkDelta(snap Stats, tx Transaction) error {
	delta := stockDelta(tx)
	names := make([]string, 0, len(delta))
	for name := range delta {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := delta[name]
		if d >= 0 {
			continue
		}
		avail := snap.Get(name).Remaining()
		if avail+d < 0 {
			return &InsufficientStockError{Name: name, Requested: -d, Available: avail}
		}
	}
	return nil
}

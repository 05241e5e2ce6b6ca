/*
stats.go - Fold the transaction log into per-product statistics

PURPOSE:
  Stock levels and summaries are derived, never stored. The Aggregator walks
  the log in append order and accumulates, per product name, the units that
  came in, the units that went out, and the per-line detail reports need to
  split activity by price point.

RULES:
  - inventory:  in  += qty, record {price, qty} in InLines
  - sales:      out += qty, record {price, qty, subtotal} in SalesLines
                (the stored subtotal is trusted, not recomputed)
  - correction: dispatched on RefKind
                sales     -> behaves as a sales line, amount = qty * price
                inventory -> behaves as an inventory line
  - InCount / OutCount count transactions, not units
  - With a period, only transactions whose timestamp is inside [start, end]
    are folded, and corrections in the window are listed by filename

LENIENCY:
  A timestamp that does not parse is treated as Now(). Such a record always
  counts toward All Time and drifts into whatever window contains "now".
  A line without a name, or a correction with an unknown RefKind, is skipped
  on its own; the rest of the log is still folded.

PURITY:
  Aggregate never mutates its input. With a fixed clock it returns identical
  output for identical input.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATS
// =============================================================================

type SalesLine struct {
	Price  decimal.Decimal
	Qty    int
	Amount decimal.Decimal
}

type InLine struct {
	Price decimal.Decimal
	Qty   int
}

// ProductStats are the folded totals for one product name.
type ProductStats struct {
	Name       string
	In         int
	Out        int
	SalesLines []SalesLine
	InLines    []InLine
}

// Remaining is the stock left: In - Out.
func (p ProductStats) Remaining() int { return p.In - p.Out }

// SalesTotal sums the amounts of every sales line.
func (p ProductStats) SalesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.SalesLines {
		total = total.Add(l.Amount)
	}
	return total
}

// Stats is the result of one fold.
type Stats struct {
	ByName      map[string]ProductStats
	InCount     int
	OutCount    int
	Corrections []string
}

// Get returns the stats for name, zero-valued when the name never appeared.
func (s Stats) Get(name string) ProductStats {
	if ps, ok := s.ByName[name]; ok {
		return ps
	}
	return ProductStats{Name: name}
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator folds transactions. The zero value uses time.Now and local time.
type Aggregator struct {
	// Now substitutes for timestamps that fail to parse.
	Now func() time.Time

	// Location the zone-less wire timestamps are read in.
	Location *time.Location
}

// Aggregate folds txs with the default Aggregator.
func Aggregate(txs []Transaction, period *Period) Stats {
	return Aggregator{}.Aggregate(txs, period)
}

// Aggregate folds txs, keeping only those inside period when it is non-nil.
func (a Aggregator) Aggregate(txs []Transaction, period *Period) Stats {
	f := &fold{stats: make(map[string]*ProductStats)}

	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if period != nil {
			if !period.Contains(a.timeOf(tx)) {
				continue
			}
			if tx.Kind() == KindCorrection {
				f.corrections = append(f.corrections, tx.Head().Filename)
			}
		}
		Visit(tx, f)
	}

	out := Stats{
		ByName:      make(map[string]ProductStats, len(f.stats)),
		InCount:     f.inCount,
		OutCount:    f.outCount,
		Corrections: f.corrections,
	}
	if out.Corrections == nil {
		out.Corrections = []string{}
	}
	for name, ps := range f.stats {
		out.ByName[name] = *ps
	}
	return out
}

func (a Aggregator) timeOf(tx Transaction) time.Time {
	t, err := ParseTimestamp(tx.Head().Timestamp, a.Location)
	if err != nil {
		if a.Now != nil {
			return a.Now()
		}
		return time.Now()
	}
	return t
}

// =============================================================================
// FOLD - Visitor accumulating one pass
// =============================================================================

type fold struct {
	stats       map[string]*ProductStats
	inCount     int
	outCount    int
	corrections []string
}

func (f *fold) entry(name string) *ProductStats {
	ps, ok := f.stats[name]
	if !ok {
		ps = &ProductStats{Name: name}
		f.stats[name] = ps
	}
	return ps
}

func (f *fold) addIn(li LineItem) {
	ps := f.entry(li.Name)
	ps.In += li.Qty
	ps.InLines = append(ps.InLines, InLine{Price: li.Price, Qty: li.Qty})
}

func (f *fold) addOut(li LineItem, amount decimal.Decimal) {
	ps := f.entry(li.Name)
	ps.Out += li.Qty
	ps.SalesLines = append(ps.SalesLines, SalesLine{Price: li.Price, Qty: li.Qty, Amount: amount})
}

func (f *fold) Inventory(tx Inventory) {
	f.inCount++
	for _, li := range tx.Items {
		if !li.Valid() {
			continue
		}
		f.addIn(li)
	}
}

func (f *fold) Sales(tx Sales) {
	f.outCount++
	for _, li := range tx.Items {
		if !li.Valid() {
			continue
		}
		f.addOut(li, li.Subtotal)
	}
}

func (f *fold) Correction(tx Correction) {
	for _, li := range tx.Items {
		if !li.Valid() {
			continue
		}
		switch tx.RefKind {
		case KindSales:
			f.addOut(li, li.Price.Mul(decimal.NewFromInt(int64(li.Qty))))
		case KindInventory:
			f.addIn(li)
		}
	}
}

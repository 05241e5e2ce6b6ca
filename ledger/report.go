/*
report.go - Period summary rows

PURPOSE:
  Joins two folds (the whole log, and the log inside a reporting window)
  against the active catalog to produce display-ready rows.

ALGORITHM:
  1. Candidates = catalog names ∪ names in the All Time fold. The second
     set brings back products that were dropped from the catalog.
  2. remaining = All Time in - out.
  3. Current price/category come from the catalog. Names missing from it
     get category "Phased Out" and a " (Old)" suffix.
  4. The windowed fold is split into price buckets, one per distinct unit
     price seen in that window. No activity at all -> one empty bucket at
     the current price.
  5. remaining is attributed only to the bucket at the current catalog
     price, every other bucket reports 0. Stock is never double counted
     across historical prices.
  6. Bucket filter:
       windowed modes: drop buckets with in == 0 and out == 0
       All Time:       keep movement, non-zero remaining, or catalog names
  7. Row filter: in > 0, out > 0, remaining > 0, or the row name is in the
     catalog.
  8. Sort: category ("Phased Out" last), name, price.

EXAMPLE:
  WIDGET at 5.00 sold 3 last week, repriced to 6.00 and restocked 10 today.
  Weekly report:
    WIDGET 5.00  in 0  out 3 remaining 0  sales 15.00
    WIDGET 6.00  in 10 out 0 remaining 17 sales 0.00
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// phasedOutSortKey forces Phased Out after every real category.
const phasedOutSortKey = "zzz_" + CategoryPhasedOut

// ProductSource is the catalog view reports need.
type ProductSource interface {
	Lookup(name string) (Product, bool)
	Names() []string
}

// =============================================================================
// REPORT
// =============================================================================

// Row is one product at one price point.
type Row struct {
	Category  string
	Name      string
	Price     decimal.Decimal
	In        int
	Out       int
	Remaining int
	Sales     decimal.Decimal
	PhasedOut bool
}

// Report is the output of BuildReport plus the window's transaction counts.
type Report struct {
	Mode        Mode
	Period      *Period
	Rows        []Row
	InCount     int
	OutCount    int
	Corrections []string
}

// TotalSales sums the Sales column.
func (r Report) TotalSales() decimal.Decimal {
	total := decimal.Zero
	for _, row := range r.Rows {
		total = total.Add(row.Sales)
	}
	return total
}

// CategoryTotal holds per-category subtotals in report order.
type CategoryTotal struct {
	Category string
	In       int
	Out      int
	Sales    decimal.Decimal
}

// CategoryTotals groups rows (already sorted) by category.
func (r Report) CategoryTotals() []CategoryTotal {
	var out []CategoryTotal
	for _, row := range r.Rows {
		if n := len(out); n == 0 || out[n-1].Category != row.Category {
			out = append(out, CategoryTotal{Category: row.Category, Sales: decimal.Zero})
		}
		ct := &out[len(out)-1]
		ct.In += row.In
		ct.Out += row.Out
		ct.Sales = ct.Sales.Add(row.Sales)
	}
	return out
}

// =============================================================================
// BUILD
// =============================================================================

type bucket struct {
	price decimal.Decimal
	in    int
	out   int
	sales decimal.Decimal
}

// BuildReport produces sorted summary rows. global must be the All Time
// fold; period the fold for the report window (the same fold for All Time).
//
// Remaining stock is shown only on the bucket at the product's current
// price. A phased-out product's current price is 0, and its buckets carry
// the prices it was traded at, so its leftover stock appears on no row and
// its rows read Remaining 0. This is intended: the beginning inventory
// listing is where phased-out stock is reported.
func BuildReport(catalog ProductSource, global, period Stats, mode Mode) []Row {
	names := make(map[string]bool)
	for _, n := range catalog.Names() {
		names[n] = true
	}
	for n := range global.ByName {
		names[n] = true
	}

	var rows []Row
	for name := range names {
		g := global.Get(name)
		remaining := g.Remaining()

		product, inCatalog := catalog.Lookup(name)
		category, price := product.Category, product.Price
		if !inCatalog {
			category, price = CategoryPhasedOut, decimal.Zero
		}

		displayName := name
		if !inCatalog {
			displayName = name + PhasedOutSuffix
		}

		for _, b := range priceBuckets(period.Get(name), price) {
			// phased-out stock lands here only on a zero-price bucket
			showRemaining := 0
			if b.price.Equal(price) {
				showRemaining = remaining
			}

			moved := b.in != 0 || b.out != 0
			if mode.Windowed() {
				if !moved {
					continue
				}
			} else if !moved && showRemaining == 0 && !inCatalog {
				continue
			}

			rows = append(rows, Row{
				Category:  category,
				Name:      displayName,
				Price:     b.price,
				In:        b.in,
				Out:       b.out,
				Remaining: showRemaining,
				Sales:     b.sales,
				PhasedOut: !inCatalog,
			})
		}
	}

	kept := rows[:0]
	for _, r := range rows {
		// Phased-out rows carry the suffixed name, so only movement or stock keeps them.
		if r.In > 0 || r.Out > 0 || r.Remaining > 0 || !r.PhasedOut {
			kept = append(kept, r)
		}
	}

	SortRows(kept)
	return kept
}

// priceBuckets splits a product's window activity by unit price. Buckets
// are returned in ascending price order.
func priceBuckets(ps ProductStats, current decimal.Decimal) []bucket {
	byPrice := make(map[string]*bucket)
	get := func(p decimal.Decimal) *bucket {
		key := p.String()
		b, ok := byPrice[key]
		if !ok {
			b = &bucket{price: p, sales: decimal.Zero}
			byPrice[key] = b
		}
		return b
	}

	for _, l := range ps.SalesLines {
		b := get(l.Price)
		b.out += l.Qty
		b.sales = b.sales.Add(l.Amount)
	}
	for _, l := range ps.InLines {
		get(l.Price).in += l.Qty
	}
	if len(byPrice) == 0 {
		get(current)
	}

	out := make([]bucket, 0, len(byPrice))
	for _, b := range byPrice {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].price.LessThan(out[j].price) })
	return out
}

// SortRows orders rows by category (Phased Out last), name, then price.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := sortCategory(rows[i].Category), sortCategory(rows[j].Category)
		if ci != cj {
			return ci < cj
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Price.LessThan(rows[j].Price)
	})
}

func sortCategory(c string) string {
	if c == CategoryPhasedOut {
		return phasedOutSortKey
	}
	return c
}

// =============================================================================
// REPORT BUILDER - Folds + join in one call
// =============================================================================

// Summarize folds txs for the whole log and for period, then builds the
// report. A nil period with a windowed mode is derived from now.
func (a Aggregator) Summarize(catalog ProductSource, txs []Transaction, mode Mode, period *Period, now time.Time) Report {
	if period == nil && mode.Windowed() {
		period = mode.PeriodFor(now)
	}
	if !mode.Windowed() {
		period = nil
	}

	global := a.Aggregate(txs, nil)
	windowed := global
	if period != nil {
		windowed = a.Aggregate(txs, period)
	}

	return Report{
		Mode:        mode,
		Period:      period,
		Rows:        BuildReport(catalog, global, windowed, mode),
		InCount:     windowed.InCount,
		OutCount:    windowed.OutCount,
		Corrections: windowed.Corrections,
	}
}

// =============================================================================
// BEGINNING INVENTORY - Start-of-day stock listing
// =============================================================================

// StockRow is one line of a beginning-of-day stock listing.
type StockRow struct {
	Category string
	Name     string
	Qty      int
}

// BeginningInventory lists products with positive stock: catalog products
// first, then names that only survive in the log as "(Old)" entries.
func BeginningInventory(catalog ProductSource, snap Stats) []StockRow {
	var rows []StockRow
	known := make(map[string]bool)
	for _, name := range catalog.Names() {
		known[name] = true
		p, _ := catalog.Lookup(name)
		if qty := snap.Get(name).Remaining(); qty > 0 {
			rows = append(rows, StockRow{Category: p.Category, Name: name, Qty: qty})
		}
	}

	var old []string
	for name := range snap.ByName {
		if !known[name] {
			old = append(old, name)
		}
	}
	sort.Strings(old)
	for _, name := range old {
		if qty := snap.Get(name).Remaining(); qty > 0 {
			rows = append(rows, StockRow{Category: CategoryPhasedOut, Name: name + PhasedOutSuffix, Qty: qty})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := sortCategory(rows[i].Category), sortCategory(rows[j].Category)
		if ci != cj {
			return ci < cj
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

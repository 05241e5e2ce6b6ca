/*
Package ledger provides the stock and sales ledger engine.

PURPOSE:
  This package contains the data model and algorithms for a single-location
  retail ledger. Products come in through restocks, go out through sales,
  and are fixed through signed corrections. Stock levels and period
  summaries are never stored: they are always folded from the transaction
  log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: inventory, sales or correction
  - Transaction: sealed variant with one concrete type per kind
  - LineItem: denormalized product line (name, price, qty, subtotal)
  - Visitor: exhaustive dispatch over the three transaction kinds
  - Opaque: a persisted record that could not be decoded, kept verbatim

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, corrections append deltas
  2. Precision: Prices and amounts use decimal.Decimal
  3. Exhaustiveness: Every consumer of a Transaction implements Visitor,
     so a new kind fails compilation everywhere it is not handled
  4. Weak references: a Correction points at its target by receipt filename

USAGE:
  tx := ledger.NewSales(ledger.At(now), []ledger.LineItem{
      {Name: "WIDGET", Price: decimal.NewFromInt(5), Qty: 3},
  })
  err := l.Append(ctx, tx)

SEE ALSO:
  - stats.go: Aggregation of transactions into per-product statistics
  - ledger.go: Append-only log with persistence and stock refresh
  - report.go: Period summary rows
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND - Transaction discriminator
// =============================================================================

type Kind string

const (
	KindInventory  Kind = "inventory"  // Restock, adds to "in"
	KindSales      Kind = "sales"      // Sale, adds to "out"
	KindCorrection Kind = "correction" // Signed delta against an inventory or sales receipt

	// KindUnknown is reported by Opaque records. It is never written.
	KindUnknown Kind = "unknown"
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k == KindInventory || k == KindSales || k == KindCorrection
}

// =============================================================================
// LINE ITEM
// =============================================================================

// LineItem is one product line on a receipt. Name and Price are copied at
// the time of the transaction and never follow later catalog changes.
type LineItem struct {
	Name     string
	Category string
	Price    decimal.Decimal
	Qty      int

	// Subtotal is only meaningful on sales lines. Aggregation trusts the
	// stored value instead of recomputing it.
	Subtotal decimal.Decimal
}

// Valid reports whether the line can take part in aggregation.
func (li LineItem) Valid() bool {
	return li.Name != "" && !li.Price.IsNegative()
}

func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// =============================================================================
// TRANSACTION - Sealed variant
// =============================================================================

// Header holds the fields shared by every transaction kind.
type Header struct {
	Timestamp string
	Filename  string
	Items     []LineItem

	// raw is the record as it was stored, set only by the codec. It is
	// written back instead of re-encoding Items.
	raw []byte
}

// Transaction is implemented only by Inventory, Sales, Correction and Opaque.
type Transaction interface {
	Kind() Kind
	Head() Header
	sealed()
}

type Inventory struct{ Header }

type Sales struct{ Header }

// Correction applies signed quantity deltas against the receipt named by
// RefFilename, interpreted according to RefKind.
type Correction struct {
	Header
	RefKind     Kind
	RefFilename string
}

// Opaque is a persisted record whose type is unknown or whose JSON does not
// fit the wire format. It takes no part in aggregation or stock and is
// written back byte for byte, so the log never loses history it cannot read.
type Opaque struct {
	Header

	// Type is the record's "type" field as stored, when it could be read.
	Type string
}

func (Inventory) Kind() Kind  { return KindInventory }
func (Sales) Kind() Kind      { return KindSales }
func (Correction) Kind() Kind { return KindCorrection }
func (Opaque) Kind() Kind     { return KindUnknown }

func (t Inventory) Head() Header  { return t.Header }
func (t Sales) Head() Header      { return t.Header }
func (t Correction) Head() Header { return t.Header }
func (t Opaque) Head() Header     { return t.Header }

func (Inventory) sealed()  {}
func (Sales) sealed()      {}
func (Correction) sealed() {}
func (Opaque) sealed()     {}

// Visitor handles every transaction kind that carries stock. Implementations
// get a compile error when a kind is added. Opaque records are never visited.
type Visitor interface {
	Inventory(tx Inventory)
	Sales(tx Sales)
	Correction(tx Correction)
}

// Visit dispatches tx to the matching Visitor method.
func Visit(tx Transaction, v Visitor) {
	switch t := tx.(type) {
	case Inventory:
		v.Inventory(t)
	case Sales:
		v.Sales(t)
	case Correction:
		v.Correction(t)
	}
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewInventory builds a restock transaction with a generated filename.
func NewInventory(at time.Time, items []LineItem) Inventory {
	return Inventory{Header{
		Timestamp: FormatTimestamp(at),
		Filename:  ReceiptFilename(KindInventory, at),
		Items:     cloneItems(items),
	}}
}

// NewSales builds a sale. Each line's Subtotal is set to Price*Qty.
func NewSales(at time.Time, items []LineItem) Sales {
	lines := cloneItems(items)
	for i := range lines {
		lines[i].Subtotal = lines[i].Price.Mul(decimal.NewFromInt(int64(lines[i].Qty)))
	}
	return Sales{Header{
		Timestamp: FormatTimestamp(at),
		Filename:  ReceiptFilename(KindSales, at),
		Items:     lines,
	}}
}

// NewCorrection builds a correction against target. Zero deltas are
// dropped; the remaining lines carry the delta as Qty, never the new total.
func NewCorrection(target Transaction, deltas []LineItem, at time.Time) (Correction, error) {
	if target == nil || (target.Kind() != KindInventory && target.Kind() != KindSales) {
		return Correction{}, ErrInvalidReference
	}

	var lines []LineItem
	for _, d := range deltas {
		if d.Qty == 0 {
			continue
		}
		d.Subtotal = decimal.Zero
		lines = append(lines, d)
	}
	if len(lines) == 0 {
		return Correction{}, ErrEmptyTransaction
	}

	return Correction{
		Header: Header{
			Timestamp: FormatTimestamp(at),
			Filename:  ReceiptFilename(KindCorrection, at),
			Items:     lines,
		},
		RefKind:     target.Kind(),
		RefFilename: target.Head().Filename,
	}, nil
}

// stockDelta returns the signed stock change a transaction causes per
// product name. Corrections with an unknown reference change nothing.
func stockDelta(tx Transaction) map[string]int {
	d := &deltaVisitor{out: make(map[string]int)}
	Visit(tx, d)
	return d.out
}

type deltaVisitor struct {
	out map[string]int
}

func (d *deltaVisitor) Inventory(tx Inventory) {
	for _, li := range tx.Items {
		d.out[li.Name] += li.Qty
	}
}

func (d *deltaVisitor) Sales(tx Sales) {
	for _, li := range tx.Items {
		d.out[li.Name] -= li.Qty
	}
}

func (d *deltaVisitor) Correction(tx Correction) {
	for _, li := range tx.Items {
		switch tx.RefKind {
		case KindInventory:
			d.out[li.Name] += li.Qty
		case KindSales:
			d.out[li.Name] -= li.Qty
		}
	}
}

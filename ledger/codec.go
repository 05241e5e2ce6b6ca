package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WIRE FORMAT
// =============================================================================
//
// Envelope:    {"transactions": [...], "summary_count": 3,
//               "shortcuts_asked": true, "product_history": [...]}
// Legacy:      [...]   (bare transaction list)
// Transaction: {"type": "sales", "timestamp": "2025-01-31 18:04:11",
//               "filename": "20250131-180411.pdf",
//               "items": [{"name": "WIDGET", "price": 5, "qty": 3, "subtotal": 15}]}
// Corrections add "ref_type" and "ref_filename".
//
// Numbers are accepted as JSON numbers or numeric strings.

type wireItem struct {
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Price    number  `json:"price"`
	Qty      number  `json:"qty"`
	Subtotal *number `json:"subtotal,omitempty"`
}

type wireTransaction struct {
	Type        Kind       `json:"type"`
	Timestamp   string     `json:"timestamp"`
	Filename    string     `json:"filename"`
	Items       []wireItem `json:"items"`
	RefType     Kind       `json:"ref_type,omitempty"`
	RefFilename string     `json:"ref_filename,omitempty"`
}

type wireProduct struct {
	Business string `json:"Business Name"`
	Category string `json:"Product Category"`
	Name     string `json:"Product Name"`
	Price    number `json:"Price"`
}

type wireSnapshot struct {
	Timestamp string        `json:"timestamp"`
	Items     []wireProduct `json:"items"`
}

type wireEnvelope struct {
	Transactions   []json.RawMessage `json:"transactions"`
	SummaryCount   int               `json:"summary_count"`
	ShortcutsAsked bool              `json:"shortcuts_asked"`
	ProductHistory []wireSnapshot    `json:"product_history"`
}

type wireEnvelopeOut struct {
	Transactions   []json.RawMessage `json:"transactions"`
	SummaryCount   int               `json:"summary_count"`
	ShortcutsAsked bool              `json:"shortcuts_asked"`
	ProductHistory []wireSnapshot    `json:"product_history"`
}

// number holds the textual form of a JSON number or numeric string.
type number string

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*n = number(strings.TrimSpace(s))
		return nil
	}
	*n = number(data)
	return nil
}

func (n number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

func (n number) decimal() (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(n))
}

func fromDecimal(d decimal.Decimal) number { return number(d.String()) }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// ErrMalformedRecord marks a persisted record that could not be decoded.
var ErrMalformedRecord = errors.New("malformed ledger record")

// MarshalTransaction encodes tx in the wire format. A transaction decoded
// from storage is returned exactly as it was stored.
func MarshalTransaction(tx Transaction) ([]byte, error) {
	if raw := tx.Head().raw; raw != nil {
		return raw, nil
	}
	if o, ok := tx.(Opaque); ok {
		return nil, fmt.Errorf("%w: opaque record %q has no stored form", ErrMalformedRecord, o.Filename)
	}
	return json.Marshal(toWire(tx))
}

func toWire(tx Transaction) wireTransaction {
	h := tx.Head()
	w := wireTransaction{
		Type:      tx.Kind(),
		Timestamp: h.Timestamp,
		Filename:  h.Filename,
		Items:     make([]wireItem, len(h.Items)),
	}
	for i, li := range h.Items {
		w.Items[i] = wireItem{
			Name:     li.Name,
			Category: li.Category,
			Price:    fromDecimal(li.Price),
			Qty:      number(strconv.Itoa(li.Qty)),
		}
		if tx.Kind() == KindSales {
			st := fromDecimal(li.Subtotal)
			w.Items[i].Subtotal = &st
		}
	}
	if c, ok := tx.(Correction); ok {
		w.RefType = c.RefKind
		w.RefFilename = c.RefFilename
	}
	return w
}

// UnmarshalTransaction decodes one wire record. It never drops data: lines
// whose numbers do not parse are left out of Items but kept in the stored
// form, and a record that does not decode or has an unknown type comes back
// as Opaque. Each problem is reported in the returned slice.
func UnmarshalTransaction(data []byte) (Transaction, []error) {
	raw := bytes.Clone(bytes.TrimSpace(data))

	var w wireTransaction
	if err := json.Unmarshal(raw, &w); err != nil {
		return opaque(raw, w), []error{fmt.Errorf("%w: %s: %v", ErrMalformedRecord, w.Filename, err)}
	}

	var problems []error
	items := make([]LineItem, 0, len(w.Items))
	for i, wi := range w.Items {
		li, err := fromWireItem(wi)
		if err != nil {
			problems = append(problems, fmt.Errorf("%w: %s line %d: %v", ErrMalformedRecord, w.Filename, i, err))
			continue
		}
		items = append(items, li)
	}

	h := Header{Timestamp: w.Timestamp, Filename: w.Filename, Items: items, raw: raw}
	switch w.Type {
	case KindInventory:
		return Inventory{h}, problems
	case KindSales:
		return Sales{h}, problems
	case KindCorrection:
		return Correction{Header: h, RefKind: w.RefType, RefFilename: w.RefFilename}, problems
	default:
		problems = append(problems, fmt.Errorf("%w: unknown type %q (%s)", ErrMalformedRecord, w.Type, w.Filename))
		return opaque(raw, w), problems
	}
}

func opaque(raw []byte, w wireTransaction) Opaque {
	return Opaque{
		Header: Header{Timestamp: w.Timestamp, Filename: w.Filename, raw: raw},
		Type:   string(w.Type),
	}
}

func fromWireItem(wi wireItem) (LineItem, error) {
	price, err := wi.Price.decimal()
	if err != nil {
		return LineItem{}, fmt.Errorf("price: %v", err)
	}
	qty, err := wi.Qty.decimal()
	if err != nil {
		return LineItem{}, fmt.Errorf("qty: %v", err)
	}
	li := LineItem{
		Name:     wi.Name,
		Category: wi.Category,
		Price:    price,
		Qty:      int(qty.IntPart()),
		Subtotal: decimal.Zero,
	}
	if wi.Subtotal != nil {
		st, err := wi.Subtotal.decimal()
		if err != nil {
			return LineItem{}, fmt.Errorf("subtotal: %v", err)
		}
		li.Subtotal = st
	}
	return li, nil
}

// =============================================================================
// ENVELOPE
// =============================================================================

// MarshalEnvelope encodes env in the envelope shape, indented.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	out := wireEnvelopeOut{
		Transactions:   make([]json.RawMessage, len(env.Transactions)),
		SummaryCount:   env.SummaryCount,
		ShortcutsAsked: env.ShortcutsAsked,
		ProductHistory: make([]wireSnapshot, len(env.ProductHistory)),
	}
	for i, tx := range env.Transactions {
		record, err := MarshalTransaction(tx)
		if err != nil {
			return nil, err
		}
		if !json.Valid(record) {
			// stored text that was never JSON survives as a string
			if record, err = json.Marshal(string(record)); err != nil {
				return nil, err
			}
		}
		out.Transactions[i] = record
	}
	for i, s := range env.ProductHistory {
		out.ProductHistory[i] = snapshotToWire(s)
	}
	return json.MarshalIndent(out, "", "  ")
}

// UnmarshalEnvelope accepts the envelope object or a legacy bare list and
// normalizes both to an Envelope. Undecodable records stay in position as
// Opaque and are returned as warnings; only a document that is neither
// shape is an error.
func UnmarshalEnvelope(data []byte) (Envelope, []error, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{}, nil, nil
	}

	var raw []json.RawMessage
	var env Envelope

	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode legacy ledger: %w", err)
		}
	case '{':
		var w wireEnvelope
		if err := json.Unmarshal(data, &w); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode ledger envelope: %w", err)
		}
		raw = w.Transactions
		env.SummaryCount = w.SummaryCount
		env.ShortcutsAsked = w.ShortcutsAsked
		for _, ws := range w.ProductHistory {
			env.ProductHistory = append(env.ProductHistory, snapshotFromWire(ws))
		}
	default:
		return Envelope{}, nil, fmt.Errorf("decode ledger: unexpected leading byte %q", data[0])
	}

	var warnings []error
	for i, r := range raw {
		tx, problems := UnmarshalTransaction(r)
		for _, p := range problems {
			warnings = append(warnings, fmt.Errorf("record %d: %w", i, p))
		}
		env.Transactions = append(env.Transactions, tx)
	}
	return env, warnings, nil
}

func snapshotToWire(s CatalogSnapshot) wireSnapshot {
	w := wireSnapshot{Timestamp: s.Timestamp, Items: make([]wireProduct, len(s.Items))}
	for i, p := range s.Items {
		w.Items[i] = wireProduct{Business: p.Business, Category: p.Category, Name: p.Name, Price: fromDecimal(p.Price)}
	}
	return w
}

func snapshotFromWire(w wireSnapshot) CatalogSnapshot {
	s := CatalogSnapshot{Timestamp: w.Timestamp}
	for _, wp := range w.Items {
		price, err := wp.Price.decimal()
		if err != nil {
			continue
		}
		s.Items = append(s.Items, Product{Business: wp.Business, Category: wp.Category, Name: wp.Name, Price: price})
	}
	return s
}

// MarshalSnapshot and UnmarshalSnapshot expose the catalog history wire
// form to stores that persist snapshots individually.
func MarshalSnapshot(s CatalogSnapshot) ([]byte, error) {
	return json.Marshal(snapshotToWire(s))
}

func UnmarshalSnapshot(data []byte) (CatalogSnapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return CatalogSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return snapshotFromWire(w), nil
}

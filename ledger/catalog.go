/*
catalog.go - Active product catalog and its version history

PURPOSE:
  The catalog supplies the current price, category and business name of
  each product. It is rebuilt wholesale on every reload and never mutated.
  Reports join the folded statistics against it; names that have history
  but are no longer listed become "Phased Out".

NORMALIZATION:
  Names are the unique key, so they are normalized before comparison:
    "Amoxicillin 500 mg\n caps" -> "AMOXICILLIN 500MG CAPS"
  Categories get the same treatment without the unit rule.

REJECTION (first matching reason wins):
  "Price <= 0", "Invalid Category", "Invalid Name", "Duplicate Name"

DISPLAY NAMES:
  Long names are shortened to first 15 + last 15 characters. When two
  products shorten to the same text, longer limits (45, 60, 100, 200) are
  tried for that group until every member is distinct.

HISTORY:
  At most MaxCatalogHistory snapshots are retained. A snapshot is appended
  only when the item list differs from the newest one.
*/
package ledger

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxCatalogHistory is the number of retained catalog snapshots
	// (the current one plus three to roll back to).
	MaxCatalogHistory = 4

	// CategoryPhasedOut is the category of names with history but no
	// catalog entry.
	CategoryPhasedOut = "Phased Out"

	// PhasedOutSuffix is appended to phased-out names on reports.
	PhasedOutSuffix = " (Old)"

	DefaultBusinessName = "My Business"

	truncateAt = 30
)

var (
	spaceRun = regexp.MustCompile(`\s+`)
	unitGap  = regexp.MustCompile(`(\d+)\s+(MG|G|KG|ML|L|OZ|LB|CM|M|MM|PCS)\b`)

	displayLimits = []int{45, 60, 100, 200}
)

// =============================================================================
// PRODUCT
// =============================================================================

type Product struct {
	Business string
	Category string
	Name     string
	Price    decimal.Decimal
}

// CatalogRecord is one raw entry handed over by a catalog source.
type CatalogRecord struct {
	Business string
	Category string
	Name     string
	Price    string
}

// NormalizeText upper-cases s, drops apostrophes and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeName is NormalizeText plus joining numbers to their unit.
func NormalizeName(s string) string {
	s = NormalizeText(s)
	s = unitGap.ReplaceAllString(s, "${1}${2}")
	return strings.TrimSpace(s)
}

// TruncateName shortens names over 30 characters to first 15 + last 15.
func TruncateName(name string) string {
	return shorten(name, truncateAt)
}

func shorten(name string, limit int) string {
	r := []rune(name)
	if len(r) <= limit {
		return name
	}
	half := limit / 2
	return string(r[:half]) + string(r[len(r)-half:])
}

// =============================================================================
// CATALOG
// =============================================================================

// Rejection explains why a record did not make it into the catalog.
type Rejection struct {
	Name   string
	Reason string
}

// LoadReport summarizes a catalog build against the previous product names.
type LoadReport struct {
	Business        string
	Total           int
	New             int
	Rejected        int
	PhasedOut       int
	CleanedNames    int
	RejectedDetails []Rejection
}

// Catalog is an immutable set of products keyed by normalized name.
type Catalog struct {
	business string
	products []Product
	byName   map[string]Product
	lookup   map[string]Product
	display  map[string]string
}

// EmptyCatalog returns a catalog without products.
func EmptyCatalog() *Catalog {
	c, _ := NewCatalog(nil, DefaultBusinessName, nil)
	return c
}

// NewCatalog validates and normalizes records. previous holds the names of
// the catalog being replaced and only feeds the New/PhasedOut counts.
func NewCatalog(records []CatalogRecord, fallbackBusiness string, previous []string) (*Catalog, LoadReport) {
	business := fallbackBusiness
	for _, r := range records {
		if b := strings.TrimSpace(r.Business); b != "" && !strings.EqualFold(b, "nan") {
			business = b
			break
		}
	}
	if business == "" {
		business = DefaultBusinessName
	}

	c := &Catalog{
		business: business,
		byName:   make(map[string]Product),
		lookup:   make(map[string]Product),
		display:  make(map[string]string),
	}
	report := LoadReport{Business: business}

	for _, r := range records {
		name := NormalizeName(r.Name)
		if name != "" && name != strings.TrimSpace(r.Name) {
			report.CleanedNames++
		}
		category := NormalizeText(r.Category)
		price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
		if err != nil {
			price = decimal.Zero
		}

		reason := ""
		switch {
		case !price.IsPositive():
			reason = "Price <= 0"
		case category == "" || category == "NAN":
			reason = "Invalid Category"
		case name == "" || name == "NAN":
			reason = "Invalid Name"
		default:
			if _, dup := c.byName[name]; dup {
				reason = "Duplicate Name"
			}
		}
		if reason != "" {
			report.RejectedDetails = append(report.RejectedDetails, Rejection{Name: name, Reason: reason})
			continue
		}

		b := strings.TrimSpace(r.Business)
		if b == "" || strings.EqualFold(b, "nan") {
			b = business
		}
		p := Product{Business: b, Category: category, Name: name, Price: price}
		c.products = append(c.products, p)
		c.byName[name] = p
		c.lookup[name] = p
		c.lookup[TruncateName(name)] = p
	}

	sort.SliceStable(c.products, func(i, j int) bool {
		if c.products[i].Category != c.products[j].Category {
			return c.products[i].Category < c.products[j].Category
		}
		return c.products[i].Name < c.products[j].Name
	})
	c.resolveDisplayNames()

	prev := make(map[string]bool, len(previous))
	for _, n := range previous {
		prev[n] = true
	}
	for name := range c.byName {
		if !prev[name] {
			report.New++
		}
	}
	for n := range prev {
		if _, ok := c.byName[n]; !ok {
			report.PhasedOut++
		}
	}
	report.Total = len(c.products)
	report.Rejected = len(report.RejectedDetails)
	return c, report
}

// CatalogFromSnapshot rebuilds a catalog from a retained history entry.
func CatalogFromSnapshot(s CatalogSnapshot, previous []string) (*Catalog, LoadReport) {
	records := make([]CatalogRecord, len(s.Items))
	for i, p := range s.Items {
		records[i] = CatalogRecord{Business: p.Business, Category: p.Category, Name: p.Name, Price: p.Price.String()}
	}
	return NewCatalog(records, DefaultBusinessName, previous)
}

func (c *Catalog) resolveDisplayNames() {
	groups := make(map[string][]Product)
	var keys []string
	for _, p := range c.products {
		k := TruncateName(p.Name)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], p)
	}

	for _, k := range keys {
		group := groups[k]
		if len(group) == 1 {
			c.setDisplay(group[0], k)
			continue
		}

		resolved := false
		for _, limit := range displayLimits {
			seen := make(map[string]int, len(group))
			for _, p := range group {
				seen[shorten(p.Name, limit)]++
			}
			distinct := true
			for _, n := range seen {
				if n > 1 {
					distinct = false
					break
				}
			}
			if distinct {
				for _, p := range group {
					c.setDisplay(p, shorten(p.Name, limit))
				}
				resolved = true
				break
			}
		}
		if !resolved {
			for _, p := range group {
				c.setDisplay(p, p.Name)
			}
		}
	}
}

func (c *Catalog) setDisplay(p Product, display string) {
	c.display[p.Name] = display
	c.lookup[display] = p
}

// Business is the business name the catalog belongs to.
func (c *Catalog) Business() string { return c.business }

// Products returns the products sorted by category then name.
func (c *Catalog) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Names returns every product name in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.products))
	for i, p := range c.products {
		out[i] = p.Name
	}
	return out
}

func (c *Catalog) Len() int { return len(c.products) }

// Has reports whether name is an active product.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Lookup finds a product by its normalized full name.
func (c *Catalog) Lookup(name string) (Product, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// LookupDisplay resolves what a picker shows: a full, truncated or
// disambiguated name, optionally followed by " (price)".
func (c *Catalog) LookupDisplay(selection string) (Product, bool) {
	if selection == "" {
		return Product{}, false
	}
	if p, ok := c.lookup[selection]; ok {
		return p, true
	}
	if i := strings.LastIndex(selection, " ("); i > 0 {
		if p, ok := c.lookup[selection[:i]]; ok {
			return p, true
		}
	}
	return Product{}, false
}

// DisplayName returns the short, unambiguous name for a product, or the
// name itself when it is not in the catalog.
func (c *Catalog) DisplayName(name string) string {
	if d, ok := c.display[name]; ok {
		return d
	}
	return name
}

// Snapshot captures the catalog for the version history.
func (c *Catalog) Snapshot(timestamp string) CatalogSnapshot {
	return CatalogSnapshot{Timestamp: timestamp, Items: c.Products()}
}

// =============================================================================
// HISTORY - Bounded catalog versions for rollback
// =============================================================================

type CatalogSnapshot struct {
	Timestamp string
	Items     []Product
}

// Equal compares item lists in order.
func (s CatalogSnapshot) Equal(o CatalogSnapshot) bool {
	if len(s.Items) != len(o.Items) {
		return false
	}
	for i := range s.Items {
		a, b := s.Items[i], o.Items[i]
		if a.Business != b.Business || a.Category != b.Category || a.Name != b.Name || !a.Price.Equal(b.Price) {
			return false
		}
	}
	return true
}

// AppendHistory adds snap when it differs from the newest entry and trims
// the oldest entries beyond MaxCatalogHistory. Empty snapshots are ignored.
func AppendHistory(history []CatalogSnapshot, snap CatalogSnapshot) ([]CatalogSnapshot, bool) {
	if len(snap.Items) == 0 {
		return history, false
	}
	if n := len(history); n > 0 && history[n-1].Equal(snap) {
		return history, false
	}
	out := append(append([]CatalogSnapshot(nil), history...), snap)
	if len(out) > MaxCatalogHistory {
		out = out[len(out)-MaxCatalogHistory:]
	}
	return out, true
}

// RestoreCandidates returns the past versions a user can roll back to:
// everything but the newest entry, newest first, at most three.
func RestoreCandidates(history []CatalogSnapshot) []CatalogSnapshot {
	if len(history) < 2 {
		return nil
	}
	past := append([]CatalogSnapshot(nil), history[:len(history)-1]...)
	sort.SliceStable(past, func(i, j int) bool { return past[i].Timestamp > past[j].Timestamp })
	if len(past) > MaxCatalogHistory-1 {
		past = past[:MaxCatalogHistory-1]
	}
	return past
}

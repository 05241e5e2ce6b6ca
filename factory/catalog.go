/*
Package factory provides catalog file to Go conversion.

PURPOSE:
  Converts catalog definitions (YAML, or JSON since YAML is a superset)
  into ledger.CatalogRecord lists. The ledger itself never reads files;
  normalization and rejection happen in ledger.NewCatalog.

FILE SHAPES:
  Mapping with a business name and a product list:

    business: Corner Shop
    products:
      - category: Tools
        name: Widget 500 g
        price: 5.00

  Or a bare list. Keys may also use the spreadsheet column headers
  ("Business Name", "Product Category", "Product Name", "Price"), which is
  the shape catalog snapshots are exported in, so an exported version can be
  loaded back as a catalog.

USAGE:
  f := factory.NewCatalogFactory("My Business")
  records, err := f.LoadFile("catalog.yaml")
  catalog, report := f.Build(records, previous.Names())

SEE ALSO:
  - ledger/catalog.go: Normalization, rejection, history
*/
package factory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// CatalogFile is the mapping form of a catalog file.
type CatalogFile struct {
	Business string        `yaml:"business,omitempty"`
	Products []ProductYAML `yaml:"products"`
}

// ProductYAML accepts both the short keys and the column header keys.
type ProductYAML struct {
	Business string `yaml:"business,omitempty"`
	Category string `yaml:"category,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Price    scalar `yaml:"price,omitempty"`

	BusinessName    string `yaml:"Business Name,omitempty"`
	ProductCategory string `yaml:"Product Category,omitempty"`
	ProductName     string `yaml:"Product Name,omitempty"`
	PriceColumn     scalar `yaml:"Price,omitempty"`
}

// scalar keeps the literal text of a YAML scalar (number or string).
type scalar string

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	*s = scalar(strings.TrimSpace(n.Value))
	return nil
}

func (p ProductYAML) record() ledger.CatalogRecord {
	return ledger.CatalogRecord{
		Business: firstNonEmpty(p.Business, p.BusinessName),
		Category: firstNonEmpty(p.Category, p.ProductCategory),
		Name:     firstNonEmpty(p.Name, p.ProductName),
		Price:    firstNonEmpty(string(p.Price), string(p.PriceColumn)),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// FACTORY
// =============================================================================

// CatalogFactory turns catalog files into catalogs.
type CatalogFactory struct {
	// FallbackBusiness is used when neither the file nor any record names
	// the business.
	FallbackBusiness string
}

func NewCatalogFactory(fallbackBusiness string) *CatalogFactory {
	return &CatalogFactory{FallbackBusiness: fallbackBusiness}
}

// ErrEmptyCatalogFile is returned when a file holds no document.
var ErrEmptyCatalogFile = errors.New("catalog file is empty")

// LoadFile reads and parses a catalog file.
func (f *CatalogFactory) LoadFile(path string) ([]ledger.CatalogRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	records, err := f.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return records, nil
}

// Parse decodes a catalog document. A file-level business name is applied
// to records that do not carry their own.
func (f *CatalogFactory) Parse(data []byte) ([]ledger.CatalogRecord, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrEmptyCatalogFile
	}
	root := doc.Content[0]

	var file CatalogFile
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&file.Products); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		if err := root.Decode(&file); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("line %d: expected a mapping or a list", root.Line)
	}

	records := make([]ledger.CatalogRecord, 0, len(file.Products))
	for _, p := range file.Products {
		r := p.record()
		if strings.TrimSpace(r.Business) == "" {
			r.Business = file.Business
		}
		records = append(records, r)
	}
	return records, nil
}

// Build validates records into a catalog. previous are the names of the
// catalog being replaced.
func (f *CatalogFactory) Build(records []ledger.CatalogRecord, previous []string) (*ledger.Catalog, ledger.LoadReport) {
	return ledger.NewCatalog(records, f.FallbackBusiness, previous)
}

// Marshal renders a catalog snapshot as a catalog file that Parse accepts.
func (f *CatalogFactory) Marshal(snap ledger.CatalogSnapshot) ([]byte, error) {
	file := CatalogFile{Products: make([]ProductYAML, len(snap.Items))}
	for i, p := range snap.Items {
		if file.Business == "" {
			file.Business = p.Business
		}
		file.Products[i] = ProductYAML{
			Category: p.Category,
			Name:     p.Name,
			Price:    scalar(p.Price.StringFixed(2)),
		}
		if p.Business != file.Business {
			file.Products[i].Business = p.Business
		}
	}
	return yaml.Marshal(file)
}

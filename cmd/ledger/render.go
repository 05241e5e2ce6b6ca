package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/k0kubun/pp/v3"

	"github.com/warp/retail-ledger/app"
	"github.com/warp/retail-ledger/ledger"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	oldStyle    = cellStyle.Foreground(lipgloss.Color("8"))
	totalStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// newTable builds a bordered table. Columns listed in numeric are right
// aligned; rows flagged in dim are grayed out.
func newTable(headers []string, rows [][]string, numeric map[int]bool, dim map[int]bool) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case dim[row]:
				return oldStyle
			case numeric[col]:
				return numberStyle
			default:
				return cellStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)
}

// dump prints v as a Go value when --debug is set.
func dump(w io.Writer, v any) {
	if debug {
		pp.Fprintln(w, v)
	}
}

func renderInventory(w io.Writer, inv []app.ProductStock) {
	rows := make([][]string, len(inv))
	for i, p := range inv {
		rows[i] = []string{p.Category, p.Display, p.Price.StringFixed(2), strconv.Itoa(p.Stock)}
	}
	fmt.Fprintln(w, newTable([]string{"Category", "Product", "Price", "Stock"}, rows, map[int]bool{2: true, 3: true}, nil).Render())
}

func renderProducts(w io.Writer, products []ledger.Product, display func(string) string) {
	rows := make([][]string, len(products))
	for i, p := range products {
		rows[i] = []string{p.Category, p.Name, display(p.Name), p.Price.StringFixed(2)}
	}
	fmt.Fprintln(w, newTable([]string{"Category", "Name", "Display", "Price"}, rows, map[int]bool{3: true}, nil).Render())
}

func renderReport(w io.Writer, r ledger.Report) {
	title := string(r.Mode)
	if r.Period != nil {
		title += " " + r.Period.String()
	}
	fmt.Fprintln(w, headerStyle.Render(title))

	rows := make([][]string, len(r.Rows))
	dim := make(map[int]bool)
	for i, row := range r.Rows {
		rows[i] = []string{
			row.Category,
			row.Name,
			row.Price.StringFixed(2),
			strconv.Itoa(row.In),
			strconv.Itoa(row.Out),
			strconv.Itoa(row.Remaining),
			row.Sales.StringFixed(2),
		}
		if row.PhasedOut {
			dim[i] = true
		}
	}
	numeric := map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true}
	fmt.Fprintln(w, newTable([]string{"Category", "Product", "Price", "In", "Out", "Remaining", "Sales"}, rows, numeric, dim).Render())

	totals := r.CategoryTotals()
	if len(totals) > 1 {
		trows := make([][]string, len(totals))
		for i, ct := range totals {
			trows[i] = []string{ct.Category, strconv.Itoa(ct.In), strconv.Itoa(ct.Out), ct.Sales.StringFixed(2)}
		}
		fmt.Fprintln(w, newTable([]string{"Category", "In", "Out", "Sales"}, trows, map[int]bool{1: true, 2: true, 3: true}, nil).Render())
	}

	fmt.Fprintln(w, totalStyle.Render(fmt.Sprintf("Total sales: %s  (%d restocks, %d sales)",
		r.TotalSales().StringFixed(2), r.InCount, r.OutCount)))
	for _, c := range r.Corrections {
		fmt.Fprintln(w, "  correction:", c)
	}
}

func renderStockRows(w io.Writer, rows []ledger.StockRow) {
	out := make([][]string, len(rows))
	dim := make(map[int]bool)
	for i, r := range rows {
		out[i] = []string{r.Category, r.Name, strconv.Itoa(r.Qty)}
		if r.Category == ledger.CategoryPhasedOut {
			dim[i] = true
		}
	}
	fmt.Fprintln(w, newTable([]string{"Category", "Product", "Qty"}, out, map[int]bool{2: true}, dim).Render())
}

func renderPeriods(w io.Writer, periods []ledger.Period) {
	rows := make([][]string, len(periods))
	for i, p := range periods {
		rows[i] = []string{strconv.Itoa(i + 1), ledger.FormatTimestamp(p.Start), ledger.FormatTimestamp(p.End)}
	}
	fmt.Fprintln(w, newTable([]string{"#", "From", "To"}, rows, nil, nil).Render())
}

func renderLoadReport(w io.Writer, r ledger.LoadReport) {
	fmt.Fprintf(w, "%s: %d products, %d new, %d rejected, %d phased out, %d names cleaned\n",
		r.Business, r.Total, r.New, r.Rejected, r.PhasedOut, r.CleanedNames)
	if len(r.RejectedDetails) == 0 {
		return
	}
	rows := make([][]string, len(r.RejectedDetails))
	for i, d := range r.RejectedDetails {
		rows[i] = []string{d.Name, d.Reason}
	}
	fmt.Fprintln(w, newTable([]string{"Rejected", "Reason"}, rows, nil, nil).Render())
}

func renderHistory(w io.Writer, history []ledger.CatalogSnapshot) {
	rows := make([][]string, len(history))
	for i := range history {
		// newest first
		s := history[len(history)-1-i]
		label := ""
		if i == 0 {
			label = "current"
		}
		rows[i] = []string{s.Timestamp, strconv.Itoa(len(s.Items)), label}
	}
	fmt.Fprintln(w, newTable([]string{"Version", "Products", ""}, rows, map[int]bool{1: true}, nil).Render())
}

func renderReceipt(w io.Writer, tx ledger.Transaction) {
	h := tx.Head()
	fmt.Fprintf(w, "%s %s at %s\n", tx.Kind(), h.Filename, h.Timestamp)
	rows := make([][]string, len(h.Items))
	for i, li := range h.Items {
		rows[i] = []string{li.Name, li.Price.StringFixed(2), strconv.Itoa(li.Qty), li.Subtotal.StringFixed(2)}
	}
	fmt.Fprintln(w, newTable([]string{"Product", "Price", "Qty", "Subtotal"}, rows, map[int]bool{1: true, 2: true, 3: true}, nil).Render())
}

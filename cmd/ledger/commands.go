package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/retail-ledger/app"
	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// ARGUMENTS
// =============================================================================

// parseItems reads NAME=QTY arguments. The last '=' separates the name.
func parseItems(args []string) ([]app.ItemRequest, error) {
	if len(args) == 0 {
		return nil, errors.New("expected at least one NAME=QTY argument")
	}
	items := make([]app.ItemRequest, 0, len(args))
	for _, arg := range args {
		i := strings.LastIndex(arg, "=")
		if i <= 0 || i == len(arg)-1 {
			return nil, fmt.Errorf("invalid item %q: want NAME=QTY", arg)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(arg[i+1:]))
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q: %w", arg, err)
		}
		items = append(items, app.ItemRequest{Name: strings.TrimSpace(arg[:i]), Qty: qty})
	}
	return items, nil
}

// parseDay reads a YYYY-MM-DD date in loc.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// persistOK turns a persist failure into a warning: the entry is recorded
// in memory and the next successful write carries it.
func persistOK(err error) error {
	if errors.Is(err, ledger.ErrPersist) {
		rt.log.Warn("change recorded but not saved", "error", err)
		return nil
	}
	return err
}

// =============================================================================
// STOCK
// =============================================================================

var stockCmd = &cobra.Command{
	Use:   "stock [name]",
	Short: "Show stock levels",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			fmt.Fprintf(out, "%s: %d\n", args[0], rt.svc.GetStockLevel(args[0]))
			return nil
		}
		inv := rt.svc.GetInventory()
		dump(out, inv)
		renderInventory(out, inv)
		return nil
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the active catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := rt.svc.Catalog()
		dump(cmd.OutOrStdout(), c.Products())
		renderProducts(cmd.OutOrStdout(), c.Products(), c.DisplayName)
		return nil
	},
}

// =============================================================================
// COMMANDS
// =============================================================================

var restockCmd = &cobra.Command{
	Use:   "restock NAME=QTY...",
	Short: "Record an inventory receipt",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(args)
		if err != nil {
			return err
		}
		tx, err := rt.svc.Restock(cmd.Context(), items)
		if err := persistOK(err); err != nil {
			return err
		}
		dump(cmd.OutOrStdout(), tx)
		renderReceipt(cmd.OutOrStdout(), tx)
		return nil
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell NAME=QTY...",
	Short: "Record a sale",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(args)
		if err != nil {
			return err
		}
		tx, err := rt.svc.Checkout(cmd.Context(), items)
		if err := persistOK(err); err != nil {
			return err
		}
		dump(cmd.OutOrStdout(), tx)
		renderReceipt(cmd.OutOrStdout(), tx)
		return nil
	},
}

var correctCmd = &cobra.Command{
	Use:   "correct RECEIPT NAME=DELTA...",
	Short: "Record a signed correction against a receipt",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(args[1:])
		if err != nil {
			return err
		}
		tx, err := rt.svc.Correct(cmd.Context(), args[0], items)
		if err := persistOK(err); err != nil {
			return err
		}
		dump(cmd.OutOrStdout(), tx)
		renderReceipt(cmd.OutOrStdout(), tx)
		return nil
	},
}

// =============================================================================
// REPORTS
// =============================================================================

// reportWindow is what the report flags select.
type reportWindow struct {
	mode   ledger.Mode
	period *ledger.Period
	anchor time.Time
	custom bool
}

// resolveReportWindow turns the report flags into a mode and period.
// --date picks a past day for daily, weekly or monthly reports only.
func resolveReportWindow(mode ledger.Mode, date, from, to string, finalize bool, loc *time.Location) (reportWindow, error) {
	w := reportWindow{mode: mode}
	switch {
	case from != "" || to != "":
		if finalize {
			return w, errors.New("--finalize does not apply to --from/--to")
		}
		if from == "" || to == "" {
			return w, errors.New("--from and --to go together")
		}
		if date != "" {
			return w, errors.New("--date does not apply to --from/--to")
		}
		start, err := parseDay(from, loc)
		if err != nil {
			return w, err
		}
		end, err := parseDay(to, loc)
		if err != nil {
			return w, err
		}
		w.mode = ledger.ModeInterval
		w.period = &ledger.Period{Start: start, End: ledger.EndOfDay(end.Year(), end.Month(), end.Day(), loc)}
	case date != "":
		d, err := parseDay(date, loc)
		if err != nil {
			return w, err
		}
		w.anchor = ledger.EndOfDay(d.Year(), d.Month(), d.Day(), loc)
		if w.period = mode.PeriodFor(w.anchor); w.period == nil {
			return reportWindow{mode: mode}, fmt.Errorf("--date does not apply to %s reports", mode)
		}
		w.custom = true
	}
	return w, nil
}

var reportCmd = &cobra.Command{
	Use:   "report [daily|weekly|monthly|all]",
	Short: "Show a period summary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := ledger.ModeDaily
		if len(args) == 1 {
			m, err := ledger.ParseMode(args[0])
			if err != nil {
				return err
			}
			mode = m
		}
		date, _ := cmd.Flags().GetString("date")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		finalize, _ := cmd.Flags().GetBool("finalize")
		out := cmd.OutOrStdout()

		w, err := resolveReportWindow(mode, date, from, to, finalize, rt.ledger.Location())
		if err != nil {
			return err
		}
		mode, period, anchor, custom := w.mode, w.period, w.anchor, w.custom

		if finalize {
			res, err := rt.svc.FinalizeSummary(cmd.Context(), mode, anchor, custom)
			if err := persistOK(err); err != nil {
				return err
			}
			dump(out, res)
			renderReport(out, res.Report)
			fmt.Fprintf(out, "recorded %s (summary #%d)\n", res.ID, res.SummaryCount)
			for _, r := range res.Catchup {
				renderReport(out, r)
			}
			return nil
		}

		report, err := rt.svc.GetSumData(period, mode)
		if err != nil {
			return err
		}
		dump(out, report)
		renderReport(out, report)
		return nil
	},
}

var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "List intervals generated since the last delivery",
	RunE: func(cmd *cobra.Command, _ []string) error {
		last, err := rt.store.LastSync(cmd.Context())
		if err != nil {
			return err
		}
		periods, err := rt.svc.GetCatchupIntervals(cmd.Context(), last, ledger.At(rt.ledger.Now()))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(periods) == 0 {
			fmt.Fprintln(out, "nothing to catch up")
			return nil
		}
		dump(out, periods)
		renderPeriods(out, periods)
		return nil
	},
}

var beginningCmd = &cobra.Command{
	Use:   "beginning",
	Short: "List stock on hand at the start of the day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rows := rt.svc.BeginningInventory()
		dump(cmd.OutOrStdout(), rows)
		renderStockRows(cmd.OutOrStdout(), rows)
		return nil
	},
}

// =============================================================================
// CATALOG
// =============================================================================

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product catalog",
}

var catalogReloadCmd = &cobra.Command{
	Use:   "reload [file]",
	Short: "Load a catalog file (YAML or JSON)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := rt.cfg.CatalogPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return errors.New("no catalog file given and catalog_path is not set")
		}
		records, err := rt.catalog.LoadFile(path)
		if err != nil {
			return err
		}
		report, err := rt.svc.ReloadCatalog(cmd.Context(), records)
		if err := persistOK(err); err != nil {
			return err
		}
		renderLoadReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var catalogHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List retained catalog versions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		renderHistory(cmd.OutOrStdout(), rt.ledger.ProductHistory())
		return nil
	},
}

var catalogRollbackCmd = &cobra.Command{
	Use:   "rollback VERSION",
	Short: "Reactivate a past catalog version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := rt.svc.RollbackCatalog(cmd.Context(), args[0])
		if err := persistOK(err); err != nil {
			return err
		}
		renderLoadReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active catalog as a catalog file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		snap := rt.svc.Catalog().Snapshot(ledger.FormatTimestamp(rt.ledger.Now()))
		data, err := rt.catalog.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	reportCmd.Flags().String("date", "", "Custom report for this day (YYYY-MM-DD), anchored at 23:59:59; not valid with all")
	reportCmd.Flags().String("from", "", "Interval start day (YYYY-MM-DD)")
	reportCmd.Flags().String("to", "", "Interval end day (YYYY-MM-DD), inclusive")
	reportCmd.Flags().Bool("finalize", false, "Record the report, count it and deliver it")

	catalogCmd.AddCommand(catalogReloadCmd, catalogHistoryCmd, catalogRollbackCmd, catalogExportCmd)
}

// =============================================================================
// RECOVERY
// =============================================================================

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Replace the ledger with a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		env, warnings, err := ledger.UnmarshalEnvelope(data)
		if err != nil {
			return fmt.Errorf("read backup %s: %w", args[0], err)
		}
		for _, w := range warnings {
			rt.log.Warn("skipped record in backup", "error", w)
		}
		if err := persistOK(rt.svc.Restore(cmd.Context(), env)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d transactions\n", len(env.Transactions))
		return nil
	},
}

// =============================================================================
// RUN - Proposal queue fed from stdin
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply proposals read from stdin until interrupted",
	Long: `Reads one proposal per line and queues it on the dispatcher:

  sell WIDGET=2 GADGET=1
  restock WIDGET=10
  correct RECEIPT WIDGET=-1

An optional "@source " prefix tags the proposal (default "local").
Stops on EOF, SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		d := app.NewDispatcher(rt.svc,
			app.WithQueueSize(rt.cfg.QueueSize),
			app.WithDispatcherLogger(rt.log.WithPrefix("dispatch")),
			app.WithOutcomeHook(func(o app.Outcome) {
				if o.Applied() {
					fmt.Fprintf(out, "%s applied: %s\n", o.Proposal.ID, o.Tx.Head().Filename)
				}
			}),
		)
		d.Start()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		lines := make(chan string)
		go readLines(cmd.InOrStdin(), lines)

	loop:
		for {
			select {
			case <-ctx.Done():
				rt.log.Info("shutting down")
				break loop
			case line, ok := <-lines:
				if !ok {
					break loop
				}
				p, err := parseProposal(line)
				if err != nil {
					fmt.Fprintln(out, "error:", err)
					continue
				}
				if p.Kind == "" {
					continue
				}
				id, err := d.Submit(p)
				if err != nil {
					fmt.Fprintln(out, "rejected:", err)
					continue
				}
				fmt.Fprintln(out, "queued", id)
			}
		}

		// let queued proposals drain before stopping
		deadline := time.Now().Add(rt.cfg.NotifyTimeout)
		for d.Pending() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		d.Stop()

		for source, c := range d.Counts() {
			rt.log.Info("proposals", "source", source, "submitted", c.Submitted, "applied", c.Applied, "rejected", c.Rejected)
		}
		return nil
	},
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// parseProposal reads one "[@source] verb args..." line. Blank lines and
// lines starting with '#' yield a zero proposal.
func parseProposal(line string) (app.Proposal, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return app.Proposal{}, nil
	}

	p := app.Proposal{Source: "local"}
	if strings.HasPrefix(fields[0], "@") {
		p.Source = strings.TrimPrefix(fields[0], "@")
		fields = fields[1:]
		if len(fields) == 0 {
			return app.Proposal{}, errors.New("missing command after source")
		}
	}

	verb, args := fields[0], fields[1:]
	switch verb {
	case "sell":
		p.Kind = ledger.KindSales
	case "restock":
		p.Kind = ledger.KindInventory
	case "correct":
		if len(args) < 2 {
			return app.Proposal{}, errors.New("correct needs RECEIPT NAME=DELTA...")
		}
		p.Kind = ledger.KindCorrection
		p.RefFilename, args = args[0], args[1:]
	default:
		return app.Proposal{}, fmt.Errorf("unknown command %q", verb)
	}

	items, err := parseItems(args)
	if err != nil {
		return app.Proposal{}, err
	}
	p.Items = items
	return p, nil
}

/*
main.go - Command-line entry point for the retail ledger

PURPOSE:
  Opens the configured store, loads the catalog, and runs one command
  against the ledger service.

STARTUP SEQUENCE:
  1. Load .env, config file, LEDGER_* env and flags (config package)
  2. Open the store (JSON file or SQLite) and the ledger
  3. Load the catalog file, falling back to the newest catalog version
     kept in the ledger
  4. Run the command, wait for pending notifications, close the store

COMMANDS:
  stock [name]                   stock levels
  products                       active catalog
  restock NAME=QTY...            record an inventory receipt
  sell NAME=QTY...               record a sale
  correct RECEIPT NAME=DELTA...  signed correction against a receipt
  report [mode]                  period summary (--finalize to record it)
  catchup                        intervals not yet delivered
  beginning                      beginning-of-day stock listing
  catalog reload|history|rollback|export
  restore FILE                   replace the ledger from a backup file
  run                            queue proposals from stdin until SIGINT/SIGTERM

EXAMPLES:
  ledger restock "Widget 500 g=10"
  ledger sell WIDGET=2 GADGET=1
  ledger report weekly --finalize
  ledger --backend sqlite report --from 2025-03-01 --to 2025-03-10
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/retail-ledger/config"
)

var (
	cfgFile string
	debug   bool

	rt *runtime
)

var rootCmd = &cobra.Command{
	Use:           "ledger",
	Short:         "Retail stock and sales ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Show help when no subcommand is provided
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd == cmd.Root() || cmd.Name() == "help" {
			return nil
		}
		var err error
		rt, err = openRuntime(cmd.Context(), cfgFile, cmd.Flags())
		return err
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default is ./ledger.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Dump results as Go values")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		stockCmd,
		productsCmd,
		restockCmd,
		sellCmd,
		correctCmd,
		reportCmd,
		catchupCmd,
		beginningCmd,
		catalogCmd,
		restoreCmd,
		runCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

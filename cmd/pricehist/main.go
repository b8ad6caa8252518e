package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/cmd/pricehist/commands"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pricehist",
	Short: "pricehist - daily price archive ingestion",
	Long: `pricehist - daily price archive ingestion.

Downloads dated price archives, normalizes every product record inside and
loads them into a (product, date) keyed price history.

Available commands:
  ingest  - Ingest one date, a date range or the last N days
  locate  - Show where a date's archive lives
  db      - Inspect the price store
  am      - Manage configuration
  daemon  - Ingest on a schedule and serve metrics
  version - Show version information

Examples:
  pricehist ingest 2025-10-17              # One date
  pricehist ingest 2025-10-01 2025-10-17   # Inclusive range
  pricehist ingest --last 7 --workers 4    # Last week, four dates at a time
  pricehist db stats                       # Row and date counts
  pricehist daemon                         # Keep the store current`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		configPath, _ := cmd.Flags().GetString("config")

		if configPath != "" {
			am.SetConfigPath(configPath)
		}
		if !jsonLogs {
			if cfg, err := am.Load(); err == nil {
				jsonLogs = cfg.Log.JSON
			}
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs on stdout")
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default: search for "+am.ConfigFileName+")")

	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.LocateCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(commands.ExitCode(err))
	}
}

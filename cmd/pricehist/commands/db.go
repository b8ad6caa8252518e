package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/price"
	"github.com/teranos/pricehist/store"
)

// DbCmd represents the db (price store) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the price store",
	Long: `Inspect the price store.

Examples:
  pricehist db stats                       # Row, date and product counts
  pricehist db get 12345 2025-10-17        # One observation
  pricehist db purge 2025-10-17            # Drop a date so the next run reloads it`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show price store statistics",
	RunE:  runDbStats,
}

var dbGetCmd = &cobra.Command{
	Use:   "get PRODUCT DATE",
	Short: "Show the stored observation for a product and date",
	Args:  cobra.ExactArgs(2),
	RunE:  runDbGet,
}

var dbPurgeCmd = &cobra.Command{
	Use:   "purge DATE",
	Short: "Delete every observation for a date",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbPurge,
}

var dbJSON bool

func init() {
	DbCmd.PersistentFlags().BoolVar(&dbJSON, "json", false, "Output as JSON")

	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbGetCmd)
	DbCmd.AddCommand(dbPurgeCmd)
}

func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cmd.Context(), cfg.Database, logger.ComponentLogger("store"))
	if err != nil {
		return errors.Wrap(err, "failed to open price store")
	}
	defer st.Close()
	return fn(st)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(st store.Store) error {
		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "failed to query store stats")
		}
		if dbJSON {
			return printJSON(cmd, stats)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Price Store Statistics\n")
		fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
		fmt.Fprintf(out, "Backend:      %s\n", stats.Backend)
		if stats.Schema != "" {
			fmt.Fprintf(out, "Schema:       %s\n", stats.Schema)
		}
		fmt.Fprintf(out, "Observations: %d\n", stats.Rows)
		fmt.Fprintf(out, "Dates:        %d\n", stats.Dates)
		fmt.Fprintf(out, "Products:     %d\n", stats.Products)
		if stats.Dates > 0 {
			fmt.Fprintf(out, "First date:   %s\n", stats.FirstDate)
			fmt.Fprintf(out, "Last date:    %s\n", stats.LastDate)
		}
		return nil
	})
}

func runDbGet(cmd *cobra.Command, args []string) error {
	d, err := price.ParseDate(args[1])
	if err != nil {
		return err
	}
	return withStore(cmd, func(st store.Store) error {
		o, err := st.Get(cmd.Context(), args[0], d)
		if err != nil {
			return err
		}
		if dbJSON {
			return printJSON(cmd, o)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s price=%s volume=%d\n", o.ProductID, o.Date, o.Price, o.Volume)
		return nil
	})
}

func runDbPurge(cmd *cobra.Command, args []string) error {
	d, err := price.ParseDate(args[0])
	if err != nil {
		return err
	}
	return withStore(cmd, func(st store.Store) error {
		start := time.Now()
		n, err := st.DeleteDate(cmd.Context(), d)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d observations for %s (%s)\n", n, d, time.Since(start).Round(time.Millisecond))
		return nil
	})
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/pricehist/archive"
	"github.com/teranos/pricehist/price"
)

// LocateCmd prints where a date's archive is fetched from and cached.
var LocateCmd = &cobra.Command{
	Use:   "locate DATE",
	Short: "Show the remote URL and cache path for a date",
	Long: `Resolve a date to its archive without downloading anything.

Examples:
  pricehist locate 2025-10-17`,
	Args: cobra.ExactArgs(1),
	RunE: runLocate,
}

func runLocate(cmd *cobra.Command, args []string) error {
	d, err := price.ParseDate(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	locator := archive.NewLocator(cfg.Archive)
	loc := locator.Locate(d)
	cached, err := locator.Cached(d)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Date:    %s\n", loc.Date)
	fmt.Fprintf(out, "Remote:  %s\n", loc.RemoteURL)
	fmt.Fprintf(out, "Cache:   %s\n", loc.CachePath)
	fmt.Fprintf(out, "Cached:  %t\n", cached)
	return nil
}

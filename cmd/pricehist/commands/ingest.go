package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// IngestCmd runs one ingestion over a set of dates
var IngestCmd = &cobra.Command{
	Use:   "ingest [DATE | START END]",
	Short: "Ingest price archives for one date or a date range",
	Long: `Fetch, normalize and load the price archives for the requested dates.

Dates already present in the store are skipped without a download. Dates with
no published archive are reported as unavailable. A failed date never leaves
partial rows behind and is retried by the next run.

Examples:
  pricehist ingest 2025-10-17
  pricehist ingest 2025-10-01 2025-10-17 --workers 4
  pricehist ingest --last 30 --format json
  pricehist ingest --last 7 --report run.yaml --fail-on-error`,
	Args: cobra.MaximumNArgs(2),
	RunE: runIngest,
}

var (
	ingestLast        int
	ingestWorkers     int
	ingestBatchSize   int
	ingestFormat      string
	ingestReport      string
	ingestFailOnError bool
)

func init() {
	IngestCmd.Flags().IntVar(&ingestLast, "last", 0, "Ingest the last N days ending today (UTC)")
	IngestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "Dates processed concurrently (default from config)")
	IngestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "Observations per store write (default from config)")
	IngestCmd.Flags().StringVar(&ingestFormat, "format", formatTable, "Output format: table, json, yaml")
	IngestCmd.Flags().StringVar(&ingestReport, "report", "", "Also write the run report to FILE (.json or .yaml)")
	IngestCmd.Flags().BoolVar(&ingestFailOnError, "fail-on-error", false, "Exit non-zero when any date failed")
}

// resolveDates turns positional arguments or --last into the requested dates.
func resolveDates(args []string, last int, today price.Date) ([]price.Date, error) {
	if last > 0 {
		if len(args) > 0 {
			return nil, errors.NewInvalidRequestError("--last cannot be combined with explicit dates")
		}
		return price.LastNDays(today, last)
	}

	switch len(args) {
	case 1:
		d, err := price.ParseDate(args[0])
		if err != nil {
			return nil, err
		}
		return []price.Date{d}, nil
	case 2:
		start, err := price.ParseDate(args[0])
		if err != nil {
			return nil, err
		}
		end, err := price.ParseDate(args[1])
		if err != nil {
			return nil, err
		}
		return price.Range(start, end)
	}
	return nil, errors.WithHint(
		errors.NewInvalidRequestError("no dates given"),
		"pass DATE, START END or --last N")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := checkFormat(ingestFormat); err != nil {
		return err
	}
	dates, err := resolveDates(args, ingestLast, price.Today(time.Now))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestWorkers > 0 {
		cfg.Ingest.Workers = ingestWorkers
	}
	if ingestBatchSize > 0 {
		cfg.Ingest.BatchSize = ingestBatchSize
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	summary, runErr := p.coordinator.Run(ctx, dates)
	if summary != nil {
		if err := writeSummary(cmd.OutOrStdout(), summary, ingestFormat); err != nil {
			return err
		}
		if ingestReport != "" {
			if err := writeReportFile(ingestReport, summary); err != nil {
				return err
			}
		}
	}
	if runErr != nil {
		return runErr
	}
	if ctx.Err() != nil {
		return errors.Wrap(context.Cause(ctx), "ingestion interrupted")
	}
	if ingestFailOnError && summary.HasFailures() {
		return errDateFailures
	}
	return nil
}

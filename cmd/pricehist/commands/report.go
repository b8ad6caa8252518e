package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/ingest"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return errors.NewInvalidRequestError("unsupported format: %s (supported: table, json, yaml)", format)
}

// writeSummary renders a run report in the requested format.
func writeSummary(w io.Writer, s *ingest.Summary, format string) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal report to JSON")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		data, err := yaml.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "failed to marshal report to YAML")
		}
		_, err = w.Write(data)
		return err
	}
	return writeTable(w, s)
}

func writeTable(w io.Writer, s *ingest.Summary) error {
	rows := pterm.TableData{{"Date", "Status", "Imported", "Errors", "Duration", "Reason"}}
	for _, o := range s.Dates {
		rows = append(rows, []string{
			o.Date.String(),
			statusLabel(o.Status),
			strconv.Itoa(o.Imported),
			strconv.Itoa(o.Errors),
			fmt.Sprintf("%dms", o.DurationMS),
			o.Reason,
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render report table")
	}
	fmt.Fprintln(w, table)

	t := s.Totals
	fmt.Fprintf(w, "\nRun %s: %d dates in %s\n", s.RunID, t.Dates, s.Duration().Round(1e6))
	fmt.Fprintf(w, "  imported %d, errors %d, fetched %d\n", t.Imported, t.Errors, t.Fetched)
	fmt.Fprintf(w, "  completed %d, skipped %d, unavailable %d, failed %d, cancelled %d\n",
		t.Completed, t.Skipped, t.Unavailable, t.Failed, t.Cancelled)
	if s.Aborted {
		fmt.Fprintln(w, pterm.Red("  aborted: "+s.AbortReason))
	}
	return nil
}

func statusLabel(st ingest.Status) string {
	switch st {
	case ingest.StatusCompleted:
		return pterm.LightGreen(string(st))
	case ingest.StatusFailed:
		return pterm.Red(string(st))
	case ingest.StatusCancelled, ingest.StatusUnavailable:
		return pterm.Yellow(string(st))
	}
	return string(st)
}

// writeReportFile writes s to path, JSON or YAML by extension.
func writeReportFile(path string, s *ingest.Summary) error {
	format := formatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = formatYAML
	case ".json":
	default:
		return errors.WithHint(
			errors.NewInvalidRequestError("unsupported report extension: %s", path),
			"use .json, .yaml or .yml")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, am.DefaultFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "failed to create report %s", path)
	}
	if err := writeSummary(f, s, format); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to write report %s", path)
}

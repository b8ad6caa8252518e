package ingest

import (
	"time"

	"github.com/teranos/pricehist/price"
)

// Status is the terminal state of one date.
type Status string

const (
	StatusSkipped     Status = "skipped_already_loaded"
	StatusUnavailable Status = "unavailable"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// DateOutcome is the report line for one date.
type DateOutcome struct {
	Date       price.Date `json:"date" yaml:"date"`
	Status     Status     `json:"status" yaml:"status"`
	Imported   int        `json:"imported" yaml:"imported"`
	Errors     int        `json:"errors" yaml:"errors"`
	Entries    int        `json:"entries,omitempty" yaml:"entries,omitempty"`
	Malformed  int        `json:"malformed,omitempty" yaml:"malformed,omitempty"`
	Fetched    bool       `json:"fetched,omitempty" yaml:"fetched,omitempty"`
	Reason     string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	DurationMS int64      `json:"duration_ms" yaml:"duration_ms"`
}

// Totals aggregates a run.
type Totals struct {
	Dates       int `json:"dates" yaml:"dates"`
	Imported    int `json:"imported" yaml:"imported"`
	Errors      int `json:"errors" yaml:"errors"`
	Completed   int `json:"completed" yaml:"completed"`
	Skipped     int `json:"skipped" yaml:"skipped"`
	Unavailable int `json:"unavailable" yaml:"unavailable"`
	Failed      int `json:"failed" yaml:"failed"`
	Cancelled   int `json:"cancelled" yaml:"cancelled"`
	Fetched     int `json:"fetched" yaml:"fetched"`
}

// Summary is the result of one run: every requested date in ascending
// order, plus totals.
type Summary struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time     `json:"finished_at" yaml:"finished_at"`
	Aborted     bool          `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	AbortReason string        `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	Totals      Totals        `json:"totals" yaml:"totals"`
	Dates       []DateOutcome `json:"dates" yaml:"dates"`
}

func newSummary(runID string, started, finished time.Time, outcomes []DateOutcome) *Summary {
	s := &Summary{RunID: runID, StartedAt: started, FinishedAt: finished, Dates: outcomes}
	for _, o := range outcomes {
		s.Totals.Dates++
		s.Totals.Imported += o.Imported
		s.Totals.Errors += o.Errors
		if o.Fetched {
			s.Totals.Fetched++
		}
		switch o.Status {
		case StatusCompleted:
			s.Totals.Completed++
		case StatusSkipped:
			s.Totals.Skipped++
		case StatusUnavailable:
			s.Totals.Unavailable++
		case StatusFailed:
			s.Totals.Failed++
		case StatusCancelled:
			s.Totals.Cancelled++
		}
	}
	return s
}

// Retryable lists the dates a later run should retry: failed and cancelled.
func (s *Summary) Retryable() []DateOutcome {
	var out []DateOutcome
	for _, o := range s.Dates {
		if o.Status == StatusFailed || o.Status == StatusCancelled {
			out = append(out, o)
		}
	}
	return out
}

// HasFailures reports whether any date failed or the run was aborted.
func (s *Summary) HasFailures() bool {
	return s.Aborted || s.Totals.Failed > 0
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

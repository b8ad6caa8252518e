// Package price holds the value types that flow through ingestion: calendar
// dates, raw archive entries and normalized observations.
package price

import (
	"time"

	"github.com/teranos/pricehist/errors"
)

// DateLayout is the canonical textual form used in archive names, entry paths
// and the store.
const DateLayout = "2006-01-02"

// Date is a calendar day with no time component. The zero value is not a
// valid date; construct with ParseDate or DateOf.
type Date struct {
	t time.Time
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, errors.NewInvalidRequestError("invalid date %q, expected YYYY-MM-DD", s)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current UTC day according to now.
func Today(now func() time.Time) Date {
	if now == nil {
		now = time.Now
	}
	return DateOf(now())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// IsZero reports whether d was never set.
func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

func (d Date) After(o Date) bool { return d.t.After(o.t) }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// MarshalText implements encoding.TextMarshaler so dates render as YYYY-MM-DD
// in JSON and YAML reports.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range returns every date from start to end inclusive, ascending.
func Range(start, end Date) ([]Date, error) {
	if start.IsZero() || end.IsZero() {
		return nil, errors.NewInvalidRequestError("date range needs both ends")
	}
	if end.Before(start) {
		return nil, errors.NewInvalidRequestError("end date %s is before start date %s", end, start)
	}
	var dates []Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates, nil
}

// LastNDays returns the n dates ending at today, ascending.
func LastNDays(today Date, n int) ([]Date, error) {
	if n <= 0 {
		return nil, errors.NewInvalidRequestError("day count must be positive, got %d", n)
	}
	return Range(today.AddDays(-(n - 1)), today)
}

package am

import (
	"net/url"
	"strings"
	"time"

	"github.com/teranos/pricehist/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path cannot be empty for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.WithHint(
				errors.New("database.dsn cannot be empty for the postgres driver"),
				"set PRICEHIST_DATABASE_DSN or DATABASE_URL",
			)
		}
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.MaxConns < 1 {
		return errors.Newf("database.max_conns must be >= 1, got %d", c.Database.MaxConns)
	}

	if c.Archive.BaseURL == "" {
		return errors.New("archive.base_url cannot be empty")
	}
	if strings.HasPrefix(c.Archive.BaseURL, "http://") || strings.HasPrefix(c.Archive.BaseURL, "https://") {
		if _, err := url.Parse(c.Archive.BaseURL); err != nil {
			return errors.Wrapf(err, "archive.base_url %q", c.Archive.BaseURL)
		}
	}
	if c.Archive.Dir == "" {
		return errors.New("archive.dir cannot be empty")
	}
	if c.Archive.Suffix == "" {
		return errors.New("archive.suffix cannot be empty")
	}
	if c.Archive.FirstDate != "" {
		if _, err := time.Parse("2006-01-02", c.Archive.FirstDate); err != nil {
			return errors.Newf("archive.first_date must be YYYY-MM-DD, got %q", c.Archive.FirstDate)
		}
	}

	if c.Fetch.TimeoutSeconds <= 0 {
		return errors.Newf("fetch.timeout_seconds must be > 0, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Fetch.MaxAttempts < 1 {
		return errors.Newf("fetch.max_attempts must be >= 1, got %d", c.Fetch.MaxAttempts)
	}
	if c.Fetch.InitialBackoffMS < 0 {
		return errors.Newf("fetch.initial_backoff_ms must be >= 0, got %d", c.Fetch.InitialBackoffMS)
	}
	if c.Fetch.MaxBackoffMS < c.Fetch.InitialBackoffMS {
		return errors.Newf("fetch.max_backoff_ms (%d) must be >= fetch.initial_backoff_ms (%d)", c.Fetch.MaxBackoffMS, c.Fetch.InitialBackoffMS)
	}
	if c.Fetch.RequestsPerMinute < 0 {
		return errors.Newf("fetch.requests_per_minute must be >= 0, got %f", c.Fetch.RequestsPerMinute)
	}
	if c.Fetch.MinFreeDiskMB < 0 {
		return errors.Newf("fetch.min_free_disk_mb must be >= 0, got %d", c.Fetch.MinFreeDiskMB)
	}

	if c.Ingest.BatchSize < 1 {
		return errors.Newf("ingest.batch_size must be >= 1, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.SplitFactor < 2 {
		return errors.Newf("ingest.split_factor must be >= 2, got %d", c.Ingest.SplitFactor)
	}
	if c.Ingest.Workers < 1 {
		return errors.Newf("ingest.workers must be >= 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.MaxEntryErrorRatio <= 0 || c.Ingest.MaxEntryErrorRatio > 1 {
		return errors.Newf("ingest.max_entry_error_ratio must be in (0, 1], got %f", c.Ingest.MaxEntryErrorRatio)
	}
	if c.Ingest.MaxEntryBytes < 1 {
		return errors.Newf("ingest.max_entry_bytes must be >= 1, got %d", c.Ingest.MaxEntryBytes)
	}
	if len(c.Ingest.PriceFields) == 0 {
		return errors.New("ingest.price_fields cannot be empty")
	}
	for _, f := range c.Ingest.PriceFields {
		if strings.TrimSpace(f) == "" {
			return errors.New("ingest.price_fields cannot contain empty names")
		}
	}

	if c.Schedule.IntervalMinutes < 1 {
		return errors.Newf("schedule.interval_minutes must be >= 1, got %d", c.Schedule.IntervalMinutes)
	}
	if c.Schedule.WindowDays < 1 {
		return errors.Newf("schedule.window_days must be >= 1, got %d", c.Schedule.WindowDays)
	}

	return nil
}

// FetchTimeout is the per-attempt download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ScheduleInterval is the daemon tick period.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}

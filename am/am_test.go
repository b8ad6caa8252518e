package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "prices.db", cfg.Database.Path)
	assert.Equal(t, DefaultBaseURL, cfg.Archive.BaseURL)
	assert.Equal(t, "prices-", cfg.Archive.FilePrefix)
	assert.Equal(t, ".ppmd.7z", cfg.Archive.Suffix)
	assert.Equal(t, "2024-02-08", cfg.Archive.FirstDate)
	assert.Equal(t, "7z", cfg.Archive.Extractor)
	assert.Equal(t, 10000, cfg.Ingest.BatchSize)
	assert.Equal(t, 0.5, cfg.Ingest.MaxEntryErrorRatio)
	assert.Equal(t, []string{"midPrice", "lowPrice"}, cfg.Ingest.PriceFields)
	assert.Equal(t, -2, cfg.Ingest.PathRule.ProductSegment)
	assert.Equal(t, []string{"prices"}, cfg.Ingest.PathRule.Kinds)
	assert.Equal(t, int64(8<<20), cfg.Ingest.MaxEntryBytes)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	content := `
[database]
path = "/var/lib/pricehist/prices.db"

[ingest]
batch_size = 500
workers = 4
price_fields = ["marketPrice", "midPrice"]
categories = ["3", "68"]

[ingest.path_rule]
product_segment = 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/pricehist/prices.db", cfg.Database.Path)
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, []string{"marketPrice", "midPrice"}, cfg.Ingest.PriceFields)
	assert.Equal(t, []string{"3", "68"}, cfg.Ingest.Categories)
	assert.Equal(t, 2, cfg.Ingest.PathRule.ProductSegment)
	assert.Equal(t, -3, cfg.Ingest.PathRule.CategorySegment, "unset keys keep defaults")
	assert.Equal(t, DefaultBaseURL, cfg.Archive.BaseURL)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_ExplicitPathAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[fetch]\nmax_attempts = 7\n"), 0644))

	t.Setenv("PRICEHIST_INGEST_WORKERS", "3")
	t.Setenv("DATABASE_URL", "postgres://prices@db/prices")
	SetConfigPath(path)
	t.Cleanup(func() { SetConfigPath(""); Reset() })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, "postgres://prices@db/prices", cfg.Database.DSN)
	assert.Equal(t, []string{path}, Sources())

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again, "Load caches until Reset")
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	SetConfigPath(filepath.Join(t.TempDir(), "nope.toml"))
	t.Cleanup(func() { SetConfigPath(""); Reset() })

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"postgres with dsn", func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.Database.DSN = "postgres://localhost/prices"
		}, ""},
		{"empty base url", func(c *Config) { c.Archive.BaseURL = "" }, "archive.base_url"},
		{"bad first date", func(c *Config) { c.Archive.FirstDate = "08/02/2024" }, "archive.first_date"},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "fetch.max_attempts"},
		{"backoff cap below start", func(c *Config) { c.Fetch.MaxBackoffMS = 10 }, "fetch.max_backoff_ms"},
		{"zero batch size", func(c *Config) { c.Ingest.BatchSize = 0 }, "ingest.batch_size"},
		{"split factor one", func(c *Config) { c.Ingest.SplitFactor = 1 }, "ingest.split_factor"},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }, "ingest.workers"},
		{"ratio above one", func(c *Config) { c.Ingest.MaxEntryErrorRatio = 1.5 }, "ingest.max_entry_error_ratio"},
		{"no price fields", func(c *Config) { c.Ingest.PriceFields = nil }, "ingest.price_fields"},
		{"blank price field", func(c *Config) { c.Ingest.PriceFields = []string{"midPrice", " "} }, "ingest.price_fields"},
		{"zero window", func(c *Config) { c.Schedule.WindowDays = 0 }, "schedule.window_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "5m0s", cfg.FetchTimeout().String())
	assert.Equal(t, "24h0m0s", cfg.ScheduleInterval().String())
}

package am

import (
	"github.com/spf13/viper"

	"github.com/teranos/pricehist/version"
)

// Upstream archive defaults
const (
	DefaultBaseURL   = "https://tcgcsv.com/archive/tcgplayer"
	DefaultPrefix    = "prices-"
	DefaultSuffix    = ".ppmd.7z"
	DefaultFirstDate = "2024-02-08"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "prices.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("archive.base_url", DefaultBaseURL)
	v.SetDefault("archive.file_prefix", DefaultPrefix)
	v.SetDefault("archive.suffix", DefaultSuffix)
	v.SetDefault("archive.dir", "archives")
	v.SetDefault("archive.first_date", DefaultFirstDate)
	v.SetDefault("archive.keep_archives", true)
	v.SetDefault("archive.extractor", "7z")

	v.SetDefault("fetch.timeout_seconds", 300)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.initial_backoff_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 30000)
	v.SetDefault("fetch.requests_per_minute", 30.0)
	v.SetDefault("fetch.min_free_disk_mb", 256)
	v.SetDefault("fetch.allow_private_hosts", false)
	v.SetDefault("fetch.user_agent", version.UserAgent())

	v.SetDefault("ingest.batch_size", 10000)
	v.SetDefault("ingest.split_factor", 10)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.max_entry_error_ratio", 0.5)
	v.SetDefault("ingest.max_entry_bytes", 8<<20)
	v.SetDefault("ingest.price_fields", []string{"midPrice", "lowPrice"})
	v.SetDefault("ingest.product_field", "productId")
	v.SetDefault("ingest.volume_field", "volume")
	v.SetDefault("ingest.categories", []string{})
	v.SetDefault("ingest.path_rule.product_segment", -2)
	v.SetDefault("ingest.path_rule.category_segment", -3)
	v.SetDefault("ingest.path_rule.kind_segment", -1)
	v.SetDefault("ingest.path_rule.kinds", []string{"prices"})

	v.SetDefault("schedule.interval_minutes", 24*60)
	v.SetDefault("schedule.window_days", 3)
	v.SetDefault("schedule.run_on_start", true)

	v.SetDefault("metrics.listen", "")

	v.SetDefault("log.json", false)
}

// DefaultConfig returns the configuration produced by defaults alone.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

package commands

import (
	"context"
	"path/filepath"
	"time"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/archive"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/ingest"
	"github.com/teranos/pricehist/internal/httpclient"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/normalize"
	"github.com/teranos/pricehist/price"
	"github.com/teranos/pricehist/store"
)

// Exit codes
const (
	exitFailure      = 1
	exitDateFailures = 2
	exitFatal        = 3
)

// errDateFailures is returned by ingest --fail-on-error when any date failed.
var errDateFailures = errors.New("one or more dates failed")

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case errors.IsFatal(err):
		return exitFatal
	case errors.Is(err, errDateFailures):
		return exitDateFailures
	}
	return exitFailure
}

// pipeline is everything one ingestion needs.
type pipeline struct {
	store       store.Store
	locator     *archive.Locator
	fetcher     *archive.Fetcher
	coordinator *ingest.Coordinator
}

func (p *pipeline) Close() error { return p.store.Close() }

// loadConfig loads and validates the configuration. The result is a copy
// that flags may override.
func loadConfig() (*am.Config, error) {
	loaded, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := loaded.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	cfg := *loaded
	return &cfg, nil
}

// newFetcher builds the fetcher for cfg.
func newFetcher(cfg *am.Config, locator *archive.Locator) (*archive.Fetcher, error) {
	firstDate, err := price.ParseDate(cfg.Archive.FirstDate)
	if err != nil {
		return nil, errors.Wrap(err, "archive.first_date")
	}
	client := httpclient.NewSaferClientWithOptions(0, httpclient.Options{
		AllowPrivate: cfg.Fetch.AllowPrivateHosts,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	return archive.NewFetcher(locator, client, archive.FetchOptions{
		FirstDate:         firstDate,
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		AttemptTimeout:    cfg.FetchTimeout(),
		InitialBackoff:    time.Duration(cfg.Fetch.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Fetch.MaxBackoffMS) * time.Millisecond,
		RequestsPerMinute: cfg.Fetch.RequestsPerMinute,
		MinFreeBytes:      uint64(cfg.Fetch.MinFreeDiskMB) << 20,
	}, logger.ComponentLogger("archive.fetch")), nil
}

// openPipeline opens the store and wires the ingestion stages. metrics may
// be nil.
func openPipeline(ctx context.Context, cfg *am.Config, metrics *ingest.Metrics) (*pipeline, error) {
	locator := archive.NewLocator(cfg.Archive)
	fetcher, err := newFetcher(cfg, locator)
	if err != nil {
		return nil, err
	}
	if metrics != nil {
		fetcher.OnAttempt(metrics.FetchAttempt)
	}

	st, err := store.Open(ctx, cfg.Database, logger.ComponentLogger("store"))
	if err != nil {
		return nil, err
	}

	coordinator := ingest.NewCoordinator(st, fetcher, normalize.New(cfg.Ingest), ingest.Options{
		Workers:            cfg.Ingest.Workers,
		BatchSize:          cfg.Ingest.BatchSize,
		SplitFactor:        cfg.Ingest.SplitFactor,
		MaxEntryErrorRatio: cfg.Ingest.MaxEntryErrorRatio,
		MaxEntryBytes:      cfg.Ingest.MaxEntryBytes,
		KeepArchives:       cfg.Archive.KeepArchives,
	}, logger.ComponentLogger("ingest.coordinator")).WithMetrics(metrics)

	extractor := archive.NewExtractor(cfg.Archive.Extractor, filepath.Join(cfg.Archive.Dir, ".scratch"), logger.ComponentLogger("archive.extract"))
	coordinator.WithOpener(extractor.Open)

	return &pipeline{store: st, locator: locator, fetcher: fetcher, coordinator: coordinator}, nil
}

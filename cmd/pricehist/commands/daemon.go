package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/ingest"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/schedule"
)

// DaemonCmd keeps the store current on a schedule
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Ingest on a schedule and serve metrics",
	Long: `Run as a long-lived process: every schedule.interval_minutes the last
schedule.window_days days are ingested. Already loaded dates are skipped, so
the window only costs downloads for new or previously failed dates.

Edits to the schedule section of the config file apply without a restart.
When metrics.listen is set, /metrics and /healthz are served there.`,
	RunE: runDaemon,
}

var daemonListen string

func init() {
	DaemonCmd.Flags().StringVar(&daemonListen, "listen", "", "Metrics listen address (overrides metrics.listen)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonListen != "" {
		cfg.Metrics.Listen = daemonListen
	}
	log := logger.ComponentLogger("daemon")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(reg)

	p, err := openPipeline(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer p.Close()

	ticker := schedule.NewTicker(ctx, p.coordinator, schedule.ConfigFrom(cfg), logger.ComponentLogger("schedule"))
	ticker.Start()
	defer ticker.Stop()

	if sources := am.Sources(); len(sources) > 0 {
		watcher, err := watchConfig(sources[len(sources)-1], ticker, log)
		if err != nil {
			log.Warnw("Config hot reload disabled", logger.FieldError, err)
		} else {
			defer watcher.Stop()
		}
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.Metrics.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           newDaemonMux(reg, ticker),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infow("Serving metrics", "listen", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- errors.Wrapf(err, "metrics server on %s", cfg.Metrics.Listen)
			}
		}()
	}

	log.Infow("Daemon started",
		"interval", cfg.ScheduleInterval().String(),
		"window_days", cfg.Schedule.WindowDays)

	select {
	case <-ctx.Done():
		log.Infow("Shutting down")
	case err = <-serveErr:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Warnw("Metrics server shutdown", logger.FieldError, serr)
		}
	}
	return err
}

// watchConfig applies schedule changes from path to ticker.
func watchConfig(path string, ticker *schedule.Ticker, log *zap.SugaredLogger) (*am.ConfigWatcher, error) {
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		return nil, err
	}
	watcher.OnReload(func(c *am.Config) error {
		next := schedule.ConfigFrom(c)
		ticker.Update(next)
		log.Infow("Schedule reloaded", logger.FieldPath, path, "interval", next.Interval.String(), "window_days", next.WindowDays)
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()
	return watcher, nil
}

// healthReport is served on /healthz.
type healthReport struct {
	Status  string          `json:"status"`
	Runs    int64           `json:"runs"`
	LastRun *ingest.Summary `json:"last_run,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func newDaemonMux(reg *prometheus.Registry, ticker *schedule.Ticker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		summary, runs, err := ticker.LastRun()
		report := healthReport{Status: "ok", Runs: runs, LastRun: summary}
		code := http.StatusOK
		if err != nil {
			report.Error = err.Error()
			if errors.IsFatal(err) {
				report.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}

package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes ingestion counters. A nil *Metrics records nothing.
type Metrics struct {
	datesTotal         *prometheus.CounterVec
	observationsTotal  *prometheus.CounterVec
	entryErrorsTotal   *prometheus.CounterVec
	fetchAttemptsTotal *prometheus.CounterVec
	dateDuration       prometheus.Histogram
	lastRun            prometheus.Gauge
}

// NewMetrics registers the ingestion metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		datesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricehist",
			Name:      "dates_total",
			Help:      "Dates processed, by terminal status.",
		}, []string{"status"}),
		observationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricehist",
			Name:      "observations_total",
			Help:      "Observations written to or dropped by the store.",
		}, []string{"result"}),
		entryErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricehist",
			Name:      "entry_errors_total",
			Help:      "Archive entries or records that produced no observation.",
		}, []string{"kind"}),
		fetchAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricehist",
			Name:      "fetch_attempts_total",
			Help:      "Archive download attempts, by outcome.",
		}, []string{"outcome"}),
		dateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricehist",
			Name:      "date_duration_seconds",
			Help:      "Time to process one date end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricehist",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// FetchAttempt counts one download attempt. Suitable for Fetcher.OnAttempt.
func (m *Metrics) FetchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDate(o DateOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.datesTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status != StatusSkipped {
		m.dateDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeWrites(stats BatchStats) {
	if m == nil {
		return
	}
	m.observationsTotal.WithLabelValues("written").Add(float64(stats.Written))
	m.observationsTotal.WithLabelValues("failed").Add(float64(stats.Failed))
}

func (m *Metrics) observeEntryErrors(malformed, rejected int) {
	if m == nil {
		return
	}
	m.entryErrorsTotal.WithLabelValues("malformed").Add(float64(malformed))
	m.entryErrorsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

func (m *Metrics) observeRun(finished time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(finished.Unix()))
}

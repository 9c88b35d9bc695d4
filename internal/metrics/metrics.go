// Package metrics exposes per-run Prometheus metrics. A batch run has no
// scrape window, so the registry is pushed to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "bribemeter"

// Round outcomes.
const (
	RoundCached   = "cached"
	RoundComputed = "computed"
	RoundFailed   = "failed"
	RoundPending  = "pending"
)

// Run holds the metrics of one pipeline run on its own registry.
type Run struct {
	registry *prometheus.Registry

	rounds       *prometheus.CounterVec
	prices       *prometheus.CounterVec
	lookups      *prometheus.CounterVec
	ledgerEvents *prometheus.CounterVec
	duration     prometheus.Gauge
	lastSuccess  prometheus.Gauge
	currentRound prometheus.Gauge
}

// New registers the run metrics on a fresh registry.
func New() *Run {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	return &Run{
		registry: reg,
		rounds: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Rounds handled in this run by outcome.",
		}, []string{"outcome"}),
		prices: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "priced_rows_total",
			Help:      "Priced incentive rows by price status.",
		}, []string{"status"}),
		lookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_lookups_total",
			Help:      "External lookups made by memoized directories.",
		}, []string{"kind"}),
		ledgerEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events",
			Help:      "Cached event records per contract version after the ledger fetch.",
		}, []string{"version"}),
		duration: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastSuccess: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without round failures.",
		}),
		currentRound: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_round",
			Help:      "Open round at run time, 0 when none.",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Run) Registry() *prometheus.Registry { return r.registry }

func (r *Run) Round(outcome string) { r.rounds.WithLabelValues(outcome).Inc() }

// Prices records a round's priced rows split by status.
func (r *Run) Prices(ok, missing, errored int) {
	r.prices.WithLabelValues("ok").Add(float64(ok))
	r.prices.WithLabelValues("missing").Add(float64(missing))
	r.prices.WithLabelValues("error").Add(float64(errored))
}

func (r *Run) Lookups(kind string, n int) { r.lookups.WithLabelValues(kind).Add(float64(n)) }

func (r *Run) LedgerEvents(version string, n int) {
	r.ledgerEvents.WithLabelValues(version).Add(float64(n))
}

func (r *Run) CurrentRound(round int) { r.currentRound.Set(float64(round)) }

// Finish records the run duration, and the success timestamp when ok.
func (r *Run) Finish(started, now time.Time, ok bool) {
	r.duration.Set(now.Sub(started).Seconds())
	if ok {
		r.lastSuccess.Set(float64(now.Unix()))
	}
}

// Push sends the registry to a Pushgateway under job. An empty url is a no-op.
func (r *Run) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push: %w", err)
	}
	return nil
}

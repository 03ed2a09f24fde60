// Package telemetry exposes pipeline counters over a dedicated Prometheus
// registry so the metrics endpoint only serves what this service emits.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Listing outcome labels.
const (
	OutcomeMatched   = "matched"
	OutcomeUnchanged = "unchanged"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	CatalogGames    prometheus.Gauge
	RefreshTotal    prometheus.Counter
	RunsTotal       prometheus.Counter
	ListingOutcomes *prometheus.CounterVec
	SoftFailures    prometheus.Counter
	MatchScores     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.CatalogGames = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamepricer",
		Name:      "catalog_games",
		Help:      "Canonical games currently known to the catalog table.",
	})
	m.RefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gamepricer",
		Name:      "catalog_refreshes_total",
		Help:      "Completed catalog refresh runs.",
	})
	m.RunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gamepricer",
		Name:      "price_runs_total",
		Help:      "Completed price scraping runs.",
	})
	m.ListingOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamepricer",
		Name:      "listing_outcomes_total",
		Help:      "Ingested listings by outcome.",
	}, []string{"outcome"})
	m.SoftFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gamepricer",
		Name:      "scrape_soft_failures_total",
		Help:      "Queries that timed out or failed without killing the session.",
	})
	m.MatchScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gamepricer",
		Name:      "match_score",
		Help:      "Similarity scores of accepted matches.",
		Buckets:   prometheus.LinearBuckets(0.5, 0.05, 11),
	})

	m.registry.MustRegister(
		m.CatalogGames,
		m.RefreshTotal,
		m.RunsTotal,
		m.ListingOutcomes,
		m.SoftFailures,
		m.MatchScores,
	)
	return m
}

// Handler serves the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

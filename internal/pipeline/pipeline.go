// Package pipeline orchestrates the price runs: pick games worth scraping,
// search them, match every listing back to the canonical catalog and apply
// the best-price replace policy.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/gamepricer/internal/match"
	"github.com/mohammad-safakhou/gamepricer/internal/scraper"
	"github.com/mohammad-safakhou/gamepricer/internal/store"
	"github.com/mohammad-safakhou/gamepricer/internal/telemetry"
)

// Storage is the slice of the store the pipeline needs.
type Storage interface {
	UpsertGames(ctx context.Context, games []store.GameRecord) error
	ListGames(ctx context.Context) ([]store.GameRecord, error)
	GamesNeedingPrice(ctx context.Context, limit int, rescoreFloor float64) ([]store.GameRecord, error)
	GamesByIDs(ctx context.Context, ids []string) ([]store.GameRecord, error)
	UpsertBestPrice(ctx context.Context, rec store.BestPriceRecord, epsilon float64) (bool, error)
}

// Extractor pulls the canonical catalog.
type Extractor interface {
	Extract(ctx context.Context) ([]store.GameRecord, error)
}

// Searcher runs scrape sessions against the price site.
type Searcher interface {
	Scrape(ctx context.Context, queries []string) (scraper.Result, error)
}

// Outcome classifies what ingesting one listing did.
type Outcome string

const (
	OutcomeMatched   Outcome = telemetry.OutcomeMatched
	OutcomeUnchanged Outcome = telemetry.OutcomeUnchanged
	OutcomeRejected  Outcome = telemetry.OutcomeRejected
	OutcomeFailed    Outcome = telemetry.OutcomeFailed
)

// Summary reports one price run.
type Summary struct {
	Games        int `json:"games"`
	Queried      int `json:"queried"`
	Listings     int `json:"listings"`
	Matched      int `json:"matched"`
	Unchanged    int `json:"unchanged"`
	Rejected     int `json:"rejected"`
	Failed       int `json:"failed"`
	SoftFailures int `json:"soft_failures"`
}

// Options tune run sizing and matching behaviour around the core matcher.
type Options struct {
	Epsilon        float64
	PrefilterLimit int
	RescoreFloor   float64
	RunLimit       int
}

type Pipeline struct {
	store   Storage
	catalog Extractor
	prices  Searcher
	matcher *match.Matcher
	metrics *telemetry.Metrics
	opts    Options
	logger  *log.Logger
}

func New(st Storage, catalog Extractor, prices Searcher, matcher *match.Matcher, metrics *telemetry.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		store:   st,
		catalog: catalog,
		prices:  prices,
		matcher: matcher,
		metrics: metrics,
		opts:    opts,
		logger:  log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// Refresh pulls the catalog and upserts it. When extraction dies partway the
// records gathered so far are still written, so repeated refreshes converge,
// and the failure is reported to the caller.
func (p *Pipeline) Refresh(ctx context.Context) (int, error) {
	games, extractErr := p.catalog.Extract(ctx)
	if len(games) > 0 {
		if err := p.store.UpsertGames(ctx, games); err != nil {
			return 0, fmt.Errorf("store catalog: %w", err)
		}
	}
	if p.metrics != nil {
		p.metrics.CatalogGames.Set(float64(len(games)))
		p.metrics.RefreshTotal.Inc()
	}
	p.logger.Printf("refresh stored %d games", len(games))
	if extractErr != nil {
		return len(games), fmt.Errorf("refresh incomplete: %w", extractErr)
	}
	return len(games), nil
}

// Run scrapes prices for the given game ids, or for the games most in need
// of a price when ids is empty. Listings are matched against the whole
// catalog, so a listing the shop filed under a different title still lands
// on the right game. One bad listing or one failed write never stops the
// batch. A scrape session that dies partway still has its gathered listings
// ingested before the error is returned.
func (p *Pipeline) Run(ctx context.Context, ids []string) (Summary, error) {
	var sum Summary
	runID := uuid.New().String()

	var targets []store.GameRecord
	var err error
	if len(ids) > 0 {
		targets, err = p.store.GamesByIDs(ctx, ids)
	} else {
		targets, err = p.store.GamesNeedingPrice(ctx, p.opts.RunLimit, p.opts.RescoreFloor)
	}
	if err != nil {
		return sum, fmt.Errorf("select games: %w", err)
	}
	sum.Games = len(targets)
	if len(targets) == 0 {
		p.logger.Printf("run %s: nothing to price", runID)
		return sum, nil
	}
	p.logger.Printf("run %s: pricing %d games", runID, len(targets))

	catalog, err := p.store.ListGames(ctx)
	if err != nil {
		return sum, fmt.Errorf("load catalog: %w", err)
	}
	candidates := make([]match.Candidate, 0, len(catalog))
	for _, g := range catalog {
		candidates = append(candidates, match.Candidate{ID: g.ID, NormalizedTitle: g.NormalizedTitle})
	}

	var pf *match.Prefilter
	if p.opts.PrefilterLimit > 0 && len(candidates) > p.opts.PrefilterLimit {
		pf, err = match.NewPrefilter(candidates)
		if err != nil {
			p.logger.Printf("prefilter unavailable, scoring full catalog: %v", err)
			pf = nil
		} else {
			defer pf.Close()
		}
	}

	queries := make([]string, 0, len(targets))
	for _, g := range targets {
		queries = append(queries, g.Title)
	}
	res, scrapeErr := p.prices.Scrape(ctx, queries)
	sum.Queried = res.Queried
	sum.SoftFailures = res.SoftFailures

	for _, q := range queries {
		for _, l := range res.Listings[q] {
			sum.Listings++
			cands := candidates
			if pf != nil {
				cands = pf.Select(l.RawTitle, p.opts.PrefilterLimit)
			}
			outcome, err := p.Ingest(ctx, l, cands)
			if err != nil {
				p.logger.Printf("listing %q: %v", l.RawTitle, err)
			}
			sum.count(outcome)
			if p.metrics != nil {
				p.metrics.ListingOutcomes.WithLabelValues(string(outcome)).Inc()
			}
		}
	}

	if p.metrics != nil {
		p.metrics.RunsTotal.Inc()
		p.metrics.SoftFailures.Add(float64(res.SoftFailures))
	}
	p.logger.Printf("run %s finished: %+v", runID, sum)
	if scrapeErr != nil {
		return sum, fmt.Errorf("price run incomplete: %w", scrapeErr)
	}
	return sum, nil
}

// Ingest matches one listing against the candidate set and applies the
// replace policy. The write is a single conditional upsert, so re-ingesting
// the same listing is a no-op and two concurrent runs cannot clobber a
// better match.
func (p *Pipeline) Ingest(ctx context.Context, l scraper.Listing, candidates []match.Candidate) (Outcome, error) {
	m, ok := p.matcher.Match(l.RawTitle, candidates)
	if !ok {
		return OutcomeRejected, nil
	}

	matchedAt := l.ScrapedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now().UTC()
	}
	written, err := p.store.UpsertBestPrice(ctx, store.BestPriceRecord{
		GameID:          m.GameID,
		Price:           l.Price.Amount,
		Currency:        l.Price.Currency,
		Shop:            l.Shop,
		SourceURL:       l.SourceURL,
		SimilarityScore: &m.Score,
		MatchedAt:       matchedAt,
	}, p.opts.Epsilon)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("upsert best price for %s: %w", m.GameID, err)
	}
	if p.metrics != nil {
		p.metrics.MatchScores.Observe(m.Score)
	}
	if written {
		return OutcomeMatched, nil
	}
	return OutcomeUnchanged, nil
}

func (s *Summary) count(o Outcome) {
	switch o {
	case OutcomeMatched:
		s.Matched++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeFailed:
		s.Failed++
	}
}

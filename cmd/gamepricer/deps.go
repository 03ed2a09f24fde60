package main

import (
	"context"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/catalog"
	"github.com/mohammad-safakhou/gamepricer/internal/match"
	"github.com/mohammad-safakhou/gamepricer/internal/pipeline"
	"github.com/mohammad-safakhou/gamepricer/internal/ratelimit"
	"github.com/mohammad-safakhou/gamepricer/internal/scraper"
	"github.com/mohammad-safakhou/gamepricer/internal/store"
	"github.com/mohammad-safakhou/gamepricer/internal/telemetry"
)

// buildPipeline wires the shared dependency graph used by every command
// that touches the database.
func buildPipeline(ctx context.Context, cfg *config.Config) (*store.Store, *pipeline.Pipeline, *telemetry.Metrics, error) {
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, nil, nil, err
	}

	metrics := telemetry.New()
	cat := catalog.NewClient(cfg.Catalog, ratelimit.NewLimiter(cfg.Catalog.RequestDelay))
	scr := scraper.New(cfg.Scraper)
	matcher := match.NewMatcher(cfg.Matcher.AcceptanceThreshold, cfg.Matcher.Epsilon)

	pipe := pipeline.New(st, cat, scr, matcher, metrics, pipeline.Options{
		Epsilon:        cfg.Matcher.Epsilon,
		PrefilterLimit: cfg.Matcher.PrefilterLimit,
		RescoreFloor:   cfg.Matcher.RescoreFloor,
		RunLimit:       cfg.Scheduler.RunLimit,
	})
	return st, pipe, metrics, nil
}

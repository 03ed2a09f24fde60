// Package scraper drives a headless browser against the price comparison
// site and turns its search results into structured listings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/ratelimit"
)

// Listing is one storefront offer found for a search query. RawTitle is the
// listing title exactly as the site renders it; matching against the canonical
// catalog happens downstream.
type Listing struct {
	RawTitle  string
	Price     Price
	Shop      string
	SourceURL string
	ScrapedAt time.Time
}

// SessionError reports a browser session that died before finishing its
// queries. Listings gathered before the failure accompany it in the Result.
type SessionError struct {
	Query string
	Err   error
}

func (e *SessionError) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("scrape session: %v", e.Err)
	}
	return fmt.Sprintf("scrape session died on %q: %v", e.Query, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Result summarises one scraping session. SoftFailures counts queries that
// timed out or returned garbage without killing the session.
type Result struct {
	Listings     map[string][]Listing
	Queried      int
	SoftFailures int
}

type fetchFunc func(ctx context.Context, query string) ([]Listing, error)

// Scraper runs search queries through a single browser session at a time.
type Scraper struct {
	cfg     config.ScraperConfig
	limiter *ratelimit.Limiter
	logger  *log.Logger

	// fetch overrides the chromedp path in tests; nil means real browsing.
	fetch fetchFunc
}

func New(cfg config.ScraperConfig) *Scraper {
	return &Scraper{
		cfg:     cfg,
		limiter: ratelimit.NewLimiter(cfg.QueryDelay),
		logger:  log.New(log.Writer(), "[SCRAPER] ", log.LstdFlags),
	}
}

// Scrape runs the given queries inside one browser session, pacing them with
// the configured delay. Queries beyond the session limit are dropped so a
// single run cannot hold a browser forever. A query that times out counts as
// a soft failure and the session moves on; only a dead session or a cancelled
// parent context aborts the run, returning what was gathered plus a
// *SessionError.
func (s *Scraper) Scrape(ctx context.Context, queries []string) (Result, error) {
	res := Result{Listings: make(map[string][]Listing)}
	if len(queries) == 0 {
		return res, nil
	}
	if s.cfg.SessionLimit > 0 && len(queries) > s.cfg.SessionLimit {
		s.logger.Printf("capping session at %d of %d queries", s.cfg.SessionLimit, len(queries))
		queries = queries[:s.cfg.SessionLimit]
	}

	fetch := s.fetch
	sctx := ctx
	if fetch == nil {
		bctx, cancel, err := newBrowser(ctx, s.cfg)
		if err != nil {
			return res, &SessionError{Err: err}
		}
		defer cancel()
		sctx = bctx
		fetch = s.browse
	}

	for _, q := range queries {
		if err := s.limiter.Throttle(ctx); err != nil {
			return res, &SessionError{Query: q, Err: err}
		}

		qctx, qcancel := context.WithTimeout(sctx, s.cfg.QueryTimeout)
		listings, err := fetch(qctx, q)
		qcancel()
		res.Queried++

		switch {
		case err == nil:
			res.Listings[q] = listings
			s.logger.Printf("query %q: %d listings", q, len(listings))
		case sctx.Err() != nil || sourceUnreachable(err):
			return res, &SessionError{Query: q, Err: err}
		case errors.Is(err, context.DeadlineExceeded):
			res.SoftFailures++
			s.logger.Printf("query %q timed out, moving on", q)
		default:
			res.SoftFailures++
			s.logger.Printf("query %q failed: %v", q, err)
		}
	}
	return res, nil
}

// Connection-class navigation errors mean the source itself is unreachable
// or blocking us, not that one query went bad. Burning the remaining queries
// through the limiter would only delay the inevitable, so these kill the
// session.
var unreachableMarkers = []string{
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_CONNECTION_REFUSED",
	"net::ERR_CONNECTION_RESET",
	"net::ERR_CONNECTION_TIMED_OUT",
	"net::ERR_CONNECTION_CLOSED",
	"net::ERR_INTERNET_DISCONNECTED",
	"net::ERR_ADDRESS_UNREACHABLE",
	"net::ERR_PROXY_CONNECTION_FAILED",
	"net::ERR_BLOCKED_BY_RESPONSE",
}

func sourceUnreachable(err error) bool {
	msg := err.Error()
	for _, m := range unreachableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// newBrowser starts one headless browser for the whole session. Running an
// empty task list forces the process to launch now, so startup failures
// surface before the first query instead of inside it.
func newBrowser(ctx context.Context, cfg config.ScraperConfig) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserAgent(cfg.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	bctx, cancelBrowser := chromedp.NewContext(actx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return bctx, cancel, nil
}

type rawListing struct {
	Title string `json:"title"`
	Price string `json:"price"`
	Shop  string `json:"shop"`
	URL   string `json:"url"`
}

// listingJS pulls one entry per search result; selectors follow the
// comparison site's result grid.
const listingJS = `Array.from(document.querySelectorAll('.search-results .game-item')).map(function (e) {
	function text(sel) { var n = e.querySelector(sel); return n ? n.textContent.trim() : ''; }
	var a = e.querySelector('a.game-link') || e.querySelector('a');
	return {
		title: text('.game-name'),
		price: text('.price'),
		shop:  text('.shop-name'),
		url:   a ? a.href : ''
	};
})`

func (s *Scraper) browse(ctx context.Context, query string) ([]Listing, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s", strings.TrimRight(s.cfg.BaseURL, "/"), url.QueryEscape(query))

	var raws []rawListing
	err := chromedp.Run(ctx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(listingJS, &raws),
	)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	listings := make([]Listing, 0, len(raws))
	for _, r := range raws {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		price, err := ParsePrice(r.Price)
		if err != nil {
			s.logger.Printf("dropping listing %q: %v", r.Title, err)
			continue
		}
		listings = append(listings, Listing{
			RawTitle:  strings.TrimSpace(r.Title),
			Price:     price,
			Shop:      strings.TrimSpace(r.Shop),
			SourceURL: r.URL,
			ScrapedAt: now,
		})
	}
	return listings, nil
}

// Package catalog pulls canonical game records from the paginated catalog
// API and normalizes them at the boundary before anything downstream sees
// them.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/match"
	"github.com/mohammad-safakhou/gamepricer/internal/ratelimit"
	"github.com/mohammad-safakhou/gamepricer/internal/store"
)

// FetchError reports a catalog page that stayed unreachable after retries.
// Extraction surfaces it together with the records gathered before the
// failing page, so callers decide whether partial results are acceptable.
type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string { return fmt.Sprintf("catalog page %d: %v", e.Page, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Client extracts games from the catalog API.
type Client struct {
	cfg     config.CatalogConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	policy  ratelimit.Policy
	logger  *log.Logger
}

// NewClient builds a catalog client sharing the given limiter for request
// pacing.
func NewClient(cfg config.CatalogConfig, limiter *ratelimit.Limiter) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		policy:  ratelimit.NewPolicy(cfg.MaxAttempts, 500*time.Millisecond),
		logger:  log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

type rawGame struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Released string  `json:"released"`
	Rating   float64 `json:"rating"`
	Genres   []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Platforms []struct {
		Platform struct {
			Name string `json:"name"`
		} `json:"platform"`
	} `json:"platforms"`
}

type pageResponse struct {
	Count   int       `json:"count"`
	Results []rawGame `json:"results"`
}

// Extract walks catalog pages until a short page, the configured page cap,
// or a page that stays unreachable after retries. Records already gathered
// are always returned; a failed page additionally yields a *FetchError.
// Duplicate ids across pages (the catalog mutates under us) keep the most
// recently seen copy. Extraction is stateless and restartable.
func (c *Client) Extract(ctx context.Context) ([]store.GameRecord, error) {
	var games []store.GameRecord
	index := make(map[string]int)

	for page := 1; page <= c.cfg.MaxPages; page++ {
		if err := c.limiter.Throttle(ctx); err != nil {
			return games, &FetchError{Page: page, Err: err}
		}
		resp, err := c.fetchPage(ctx, page)
		if err != nil {
			c.logger.Printf("page %d failed after retries: %v", page, err)
			return games, &FetchError{Page: page, Err: err}
		}

		for _, raw := range resp.Results {
			rec, ok := c.normalize(raw)
			if !ok {
				continue
			}
			if i, seen := index[rec.ID]; seen {
				games[i] = rec
				continue
			}
			index[rec.ID] = len(games)
			games = append(games, rec)
		}

		c.logger.Printf("page %d: %d records (%d total)", page, len(resp.Results), len(games))
		if len(resp.Results) < c.cfg.PageSize {
			break
		}
	}
	return games, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) (pageResponse, error) {
	var out pageResponse
	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		params := url.Values{}
		params.Set("key", c.cfg.APIKey)
		params.Set("page", strconv.Itoa(page))
		params.Set("page_size", strconv.Itoa(c.cfg.PageSize))
		reqURL := fmt.Sprintf("%s/games?%s", strings.TrimRight(c.cfg.BaseURL, "/"), params.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return ratelimit.Fatal(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return ratelimit.Transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return ratelimit.Transient(fmt.Errorf("catalog responded %s", resp.Status))
		default:
			return ratelimit.Fatal(fmt.Errorf("catalog responded %s", resp.Status))
		}

		out = pageResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ratelimit.Fatal(fmt.Errorf("decode catalog page: %w", err))
		}
		return nil
	})
	return out, err
}

// normalize converts a raw catalog record into the canonical shape. Records
// missing an id or title are dropped here rather than propagated untyped.
func (c *Client) normalize(raw rawGame) (store.GameRecord, bool) {
	if raw.ID == 0 || strings.TrimSpace(raw.Name) == "" {
		c.logger.Printf("dropping malformed record id=%d name=%q", raw.ID, raw.Name)
		return store.GameRecord{}, false
	}

	var release *time.Time
	if raw.Released != "" {
		if t, err := time.Parse("2006-01-02", raw.Released); err == nil {
			release = &t
		}
	}
	genres := make([]string, 0, len(raw.Genres))
	for _, g := range raw.Genres {
		genres = append(genres, g.Name)
	}
	platforms := make([]string, 0, len(raw.Platforms))
	for _, p := range raw.Platforms {
		platforms = append(platforms, p.Platform.Name)
	}

	title := strings.TrimSpace(raw.Name)
	return store.GameRecord{
		ID:              strconv.FormatInt(raw.ID, 10),
		Title:           title,
		NormalizedTitle: match.NormalizeTitle(title),
		Platform:        strings.Join(platforms, ", "),
		Genres:          strings.Join(genres, ", "),
		Rating:          raw.Rating,
		ReleaseDate:     release,
		LastRefreshedAt: time.Now().UTC(),
	}, true
}

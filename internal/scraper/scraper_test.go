package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/ratelimit"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in       string
		amount   string
		currency string
		wantErr  bool
	}{
		{"19,99€", "19.99", "EUR", false},
		{"$59.99", "59.99", "USD", false},
		{"£4.99", "4.99", "GBP", false},
		{"4.99 GBP", "4.99", "GBP", false},
		{"  29.95  ", "29.95", "EUR", false},
		{"1,5€", "1.5", "EUR", false},
		{"1.234,56€", "1234.56", "EUR", false},
		{"$1,234.56", "1234.56", "USD", false},
		{"1 299,95€", "1299.95", "EUR", false},
		{"1.234€", "1234", "EUR", false},
		{"Sold out", "", "", true},
		{"", "", "", true},
	}
	for _, c := range cases {
		p, err := ParsePrice(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParsePrice(%q) expected error, got %v", c.in, p)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePrice(%q): %v", c.in, err)
			continue
		}
		if p.Amount.String() != c.amount || p.Currency != c.currency {
			t.Errorf("ParsePrice(%q) = %s %s, want %s %s", c.in, p.Amount, p.Currency, c.amount, c.currency)
		}
	}
}

func testScraper(fetch fetchFunc) *Scraper {
	s := New(config.ScraperConfig{
		BaseURL:      "https://prices.example.com",
		SessionLimit: 3,
		QueryTimeout: time.Second,
	})
	s.limiter = ratelimit.NewLimiter(0)
	s.fetch = fetch
	return s
}

func TestScrapeCapsAtSessionLimit(t *testing.T) {
	var seen []string
	s := testScraper(func(ctx context.Context, query string) ([]Listing, error) {
		seen = append(seen, query)
		return []Listing{{RawTitle: query}}, nil
	})

	res, err := s.Scrape(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Queried != 3 || len(seen) != 3 {
		t.Fatalf("expected 3 queries, got %d (seen %v)", res.Queried, seen)
	}
	if len(res.Listings) != 3 {
		t.Fatalf("expected 3 listing sets, got %d", len(res.Listings))
	}
}

func TestScrapeCountsTimeoutsAsSoftFailures(t *testing.T) {
	s := testScraper(func(ctx context.Context, query string) ([]Listing, error) {
		if query == "slow" {
			return nil, context.DeadlineExceeded
		}
		return []Listing{{RawTitle: query}}, nil
	})

	res, err := s.Scrape(context.Background(), []string{"a", "slow", "b"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.SoftFailures != 1 {
		t.Fatalf("expected 1 soft failure, got %d", res.SoftFailures)
	}
	if len(res.Listings) != 2 {
		t.Fatalf("expected 2 listing sets, got %d", len(res.Listings))
	}
	if res.Queried != 3 {
		t.Fatalf("expected all 3 queries attempted, got %d", res.Queried)
	}
}

func TestScrapeQueryErrorDoesNotAbortSession(t *testing.T) {
	s := testScraper(func(ctx context.Context, query string) ([]Listing, error) {
		if query == "broken" {
			return nil, errors.New("selector vanished")
		}
		return []Listing{{RawTitle: query}}, nil
	})

	res, err := s.Scrape(context.Background(), []string{"broken", "ok"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.SoftFailures != 1 || len(res.Listings) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestScrapeAbortsWhenSessionDies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := testScraper(func(qctx context.Context, query string) ([]Listing, error) {
		if query == "killer" {
			cancel()
			return nil, errors.New("browser gone")
		}
		return []Listing{{RawTitle: query}}, nil
	})

	res, err := s.Scrape(ctx, []string{"a", "killer", "c"})
	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SessionError, got %v", err)
	}
	if se.Query != "killer" {
		t.Fatalf("expected failing query recorded, got %q", se.Query)
	}
	if len(res.Listings) != 1 {
		t.Fatalf("expected partial listings from before the failure, got %d", len(res.Listings))
	}
}

func TestScrapeAbortsWhenSourceUnreachable(t *testing.T) {
	var calls int
	s := testScraper(func(ctx context.Context, query string) ([]Listing, error) {
		calls++
		return nil, errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
	})

	res, err := s.Scrape(context.Background(), []string{"a", "b", "c"})
	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SessionError for unreachable source, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("unreachable source must not burn remaining queries, got %d calls", calls)
	}
	if res.SoftFailures != 0 {
		t.Fatalf("session failure must not count as soft, got %d", res.SoftFailures)
	}
}

func TestScrapeEmptyQueries(t *testing.T) {
	s := testScraper(func(ctx context.Context, query string) ([]Listing, error) {
		t.Fatal("fetch must not run")
		return nil, nil
	})
	res, err := s.Scrape(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Queried != 0 {
		t.Fatalf("expected no queries, got %d", res.Queried)
	}
}

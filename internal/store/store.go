// Package store persists canonical games and the best-price table in
// Postgres. All writes are single-statement upserts so a crashed run can
// never leave a partially applied row behind.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Store struct {
	DB *sql.DB
}

// GameRecord is a canonical catalog entry. ID is the stable external
// identifier and never changes once assigned; NormalizedTitle is recomputed
// by the extractor whenever Title changes.
type GameRecord struct {
	ID              string
	Title           string
	NormalizedTitle string
	Platform        string
	Genres          string
	Rating          float64
	ReleaseDate     *time.Time
	LastRefreshedAt time.Time
}

// BestPriceRecord is the single retained price observation for a game.
type BestPriceRecord struct {
	GameID          string
	Price           decimal.Decimal
	Currency        string
	Shop            string
	SourceURL       string
	SimilarityScore *float64
	MatchedAt       time.Time
}

// Stats summarises table contents and match quality for the status API.
type Stats struct {
	TotalGames    int        `json:"total_games"`
	TotalPrices   int        `json:"total_prices"`
	LastRefresh   *time.Time `json:"last_refresh,omitempty"`
	AvgSimilarity float64    `json:"avg_similarity"`
	HighQuality   int        `json:"high_quality"`   // score >= 0.8
	MediumQuality int        `json:"medium_quality"` // 0.6 <= score < 0.8
	LowQuality    int        `json:"low_quality"`    // score < 0.6
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// UpsertGames writes catalog records, replacing previously refreshed copies.
func (s *Store) UpsertGames(ctx context.Context, games []GameRecord) error {
	if len(games) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO games (id, title, normalized_title, platform, genres, rating, release_date, last_refreshed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  normalized_title = EXCLUDED.normalized_title,
  platform = EXCLUDED.platform,
  genres = EXCLUDED.genres,
  rating = EXCLUDED.rating,
  release_date = EXCLUDED.release_date,
  last_refreshed_at = EXCLUDED.last_refreshed_at
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range games {
		var release sql.NullTime
		if g.ReleaseDate != nil {
			release = sql.NullTime{Time: *g.ReleaseDate, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, g.ID, g.Title, g.NormalizedTitle, g.Platform, g.Genres, g.Rating, release, g.LastRefreshedAt); err != nil {
			return fmt.Errorf("upsert game %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// ListGames returns every canonical game, ordered by id for stable output.
func (s *Store) ListGames(ctx context.Context) ([]GameRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, normalized_title, platform, genres, rating, release_date, last_refreshed_at
FROM games
ORDER BY id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGames(rows)
}

// GamesNeedingPrice selects games with no best-price row, or whose stored
// match score fell below rescoreFloor, best-rated first. These are the
// titles worth spending scrape budget on.
func (s *Store) GamesNeedingPrice(ctx context.Context, limit int, rescoreFloor float64) ([]GameRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT g.id, g.title, g.normalized_title, g.platform, g.genres, g.rating, g.release_date, g.last_refreshed_at
FROM games g
LEFT JOIN best_prices p ON g.id = p.game_id
WHERE p.game_id IS NULL
   OR (p.similarity_score IS NOT NULL AND p.similarity_score < $1)
ORDER BY g.rating DESC, g.id
LIMIT $2
`, rescoreFloor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGames(rows)
}

// GamesByIDs returns the named games; unknown ids are silently absent.
func (s *Store) GamesByIDs(ctx context.Context, ids []string) ([]GameRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, normalized_title, platform, genres, rating, release_date, last_refreshed_at
FROM games
WHERE id = ANY($1)
ORDER BY id
`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGames(rows)
}

// UpsertBestPrice applies the replace policy for a single game in one atomic
// statement: insert when absent, replace when the new score is strictly
// better (beyond epsilon), or when scores tie within epsilon and the new
// observation is fresher. The condition is evaluated against the row's
// current state at write time, so concurrent runs cannot interleave a stale
// replace. Returns false when the row was left untouched.
func (s *Store) UpsertBestPrice(ctx context.Context, rec BestPriceRecord, epsilon float64) (bool, error) {
	var score sql.NullFloat64
	if rec.SimilarityScore != nil {
		score = sql.NullFloat64{Float64: *rec.SimilarityScore, Valid: true}
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO best_prices (game_id, price, currency, shop, source_url, similarity_score, matched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (game_id) DO UPDATE SET
  price = EXCLUDED.price,
  currency = EXCLUDED.currency,
  shop = EXCLUDED.shop,
  source_url = EXCLUDED.source_url,
  similarity_score = EXCLUDED.similarity_score,
  matched_at = EXCLUDED.matched_at
WHERE COALESCE(EXCLUDED.similarity_score, -1) > COALESCE(best_prices.similarity_score, -1) + $8
   OR (ABS(COALESCE(EXCLUDED.similarity_score, -1) - COALESCE(best_prices.similarity_score, -1)) <= $8
       AND EXCLUDED.matched_at > best_prices.matched_at)
`, rec.GameID, rec.Price, rec.Currency, rec.Shop, rec.SourceURL, score, rec.MatchedAt, epsilon)
	if err != nil {
		return false, fmt.Errorf("upsert best price %s: %w", rec.GameID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetBestPrice returns the retained price for a game, ok=false when none.
func (s *Store) GetBestPrice(ctx context.Context, gameID string) (BestPriceRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT game_id, price, currency, shop, source_url, similarity_score, matched_at
FROM best_prices
WHERE game_id = $1
`, gameID)
	rec, err := scanBestPrice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BestPriceRecord{}, false, nil
	}
	if err != nil {
		return BestPriceRecord{}, false, err
	}
	return rec, true, nil
}

// ListBestPrices pages through the best-price table, freshest first.
func (s *Store) ListBestPrices(ctx context.Context, limit, offset int) ([]BestPriceRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT game_id, price, currency, shop, source_url, similarity_score, matched_at
FROM best_prices
ORDER BY matched_at DESC, game_id
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BestPriceRecord
	for rows.Next() {
		rec, err := scanBestPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetStats reports table sizes and match-quality buckets.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	var lastRefresh sql.NullTime
	var avg sql.NullFloat64
	err := s.DB.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM games),
  (SELECT COUNT(*) FROM best_prices),
  (SELECT MAX(last_refreshed_at) FROM games),
  (SELECT AVG(similarity_score) FROM best_prices WHERE similarity_score IS NOT NULL),
  (SELECT COUNT(*) FROM best_prices WHERE similarity_score >= 0.8),
  (SELECT COUNT(*) FROM best_prices WHERE similarity_score >= 0.6 AND similarity_score < 0.8),
  (SELECT COUNT(*) FROM best_prices WHERE similarity_score < 0.6)
`).Scan(&st.TotalGames, &st.TotalPrices, &lastRefresh, &avg, &st.HighQuality, &st.MediumQuality, &st.LowQuality)
	if err != nil {
		return Stats{}, err
	}
	if lastRefresh.Valid {
		st.LastRefresh = &lastRefresh.Time
	}
	if avg.Valid {
		st.AvgSimilarity = avg.Float64
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBestPrice(row rowScanner) (BestPriceRecord, error) {
	var rec BestPriceRecord
	var score sql.NullFloat64
	if err := row.Scan(&rec.GameID, &rec.Price, &rec.Currency, &rec.Shop, &rec.SourceURL, &score, &rec.MatchedAt); err != nil {
		return BestPriceRecord{}, err
	}
	if score.Valid {
		rec.SimilarityScore = &score.Float64
	}
	return rec, nil
}

func scanGames(rows *sql.Rows) ([]GameRecord, error) {
	var out []GameRecord
	for rows.Next() {
		var g GameRecord
		var release sql.NullTime
		if err := rows.Scan(&g.ID, &g.Title, &g.NormalizedTitle, &g.Platform, &g.Genres, &g.Rating, &release, &g.LastRefreshedAt); err != nil {
			return nil, err
		}
		if release.Valid {
			g.ReleaseDate = &release.Time
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

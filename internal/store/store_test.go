package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func TestUpsertGames(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	release := time.Date(2004, 11, 16, 0, 0, 0, 0, time.UTC)
	games := []GameRecord{{
		ID:              "3498",
		Title:           "Half-Life 2",
		NormalizedTitle: "half life 2",
		Platform:        "PC",
		Genres:          "Shooter",
		Rating:          4.6,
		ReleaseDate:     &release,
		LastRefreshedAt: time.Now(),
	}}

	query := regexp.QuoteMeta(`
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
	mock.ExpectBegin()
	mock.ExpectPrepare(query).ExpectExec().
		WithArgs("3498", "Half-Life 2", "half life 2", "PC", "Shooter", 4.6, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.UpsertGames(context.Background(), games); err != nil {
		t.Fatalf("UpsertGames: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertBestPriceWritten(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	score := 0.91
	rec := BestPriceRecord{
		GameID:          "3498",
		Price:           decimal.RequireFromString("9.99"),
		Currency:        "EUR",
		Shop:            "Steam",
		SourceURL:       "https://example.com/half-life-2",
		SimilarityScore: &score,
		MatchedAt:       time.Now(),
	}

	query := regexp.QuoteMeta(`
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
`)
	mock.ExpectExec(query).
		WithArgs("3498", sqlmock.AnyArg(), "EUR", "Steam", rec.SourceURL, 0.91, sqlmock.AnyArg(), 1e-9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	written, err := st.UpsertBestPrice(context.Background(), rec, 1e-9)
	if err != nil {
		t.Fatalf("UpsertBestPrice: %v", err)
	}
	if !written {
		t.Fatal("expected write to be reported")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertBestPriceUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	score := 0.7
	rec := BestPriceRecord{
		GameID:          "3498",
		Price:           decimal.RequireFromString("14.99"),
		Currency:        "EUR",
		SimilarityScore: &score,
		MatchedAt:       time.Now(),
	}

	// the CAS condition did not hold: zero rows affected
	mock.ExpectExec("INSERT INTO best_prices").
		WillReturnResult(sqlmock.NewResult(0, 0))

	written, err := st.UpsertBestPrice(context.Background(), rec, 1e-9)
	if err != nil {
		t.Fatalf("UpsertBestPrice: %v", err)
	}
	if written {
		t.Fatal("expected no-op to be reported")
	}
}

func TestGetBestPriceMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery("SELECT game_id, price, currency, shop, source_url, similarity_score, matched_at").
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows([]string{"game_id", "price", "currency", "shop", "source_url", "similarity_score", "matched_at"}))

	_, ok, err := st.GetBestPrice(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("GetBestPrice: %v", err)
	}
	if ok {
		t.Fatal("expected no row")
	}
}

func TestGamesNeedingPrice(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "title", "normalized_title", "platform", "genres", "rating", "release_date", "last_refreshed_at"}).
		AddRow("1", "Portal", "portal", "PC", "Puzzle", 4.5, nil, now).
		AddRow("2", "Portal 2", "portal 2", "PC", "Puzzle", 4.6, now, now)
	mock.ExpectQuery("LEFT JOIN best_prices").
		WithArgs(0.6, 10).
		WillReturnRows(rows)

	games, err := st.GamesNeedingPrice(context.Background(), 10, 0.6)
	if err != nil {
		t.Fatalf("GamesNeedingPrice: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 games, got %d", len(games))
	}
	if games[0].ReleaseDate != nil {
		t.Fatal("expected nil release date for first row")
	}
	if games[1].ReleaseDate == nil {
		t.Fatal("expected release date for second row")
	}
}

func TestGetStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"games", "prices", "refresh", "avg", "high", "medium", "low"}).
			AddRow(500, 120, now, 0.82, 70, 40, 10))

	stats, err := st.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalGames != 500 || stats.TotalPrices != 120 || stats.HighQuality != 70 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastRefresh == nil {
		t.Fatal("expected last refresh timestamp")
	}
}

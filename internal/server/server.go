// Package server exposes the price pipeline over HTTP: read access to the
// best-price table plus endpoints to trigger refreshes and price runs.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/pipeline"
	"github.com/mohammad-safakhou/gamepricer/internal/store"
	"github.com/mohammad-safakhou/gamepricer/internal/telemetry"
)

type Server struct {
	cfg     *config.Config
	store   *store.Store
	pipe    *pipeline.Pipeline
	metrics *telemetry.Metrics
	logger  *log.Logger

	// runMu serialises refreshes and price runs; the scraper holds a real
	// browser and two concurrent sessions would double-hit the price site.
	runMu sync.Mutex
}

func New(cfg *config.Config, st *store.Store, pipe *pipeline.Pipeline, metrics *telemetry.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		pipe:    pipe,
		metrics: metrics,
		logger:  log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
}

// Echo assembles the router. Split from Run so tests can drive handlers
// without binding a port.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api")
	api.GET("/bestprices", s.listBestPrices)
	api.GET("/bestprices/:game_id", s.getBestPrice)
	api.GET("/stats", s.getStats)
	api.POST("/refresh", s.triggerRefresh)
	api.POST("/runs", s.triggerRun)
	return e
}

// Run starts the HTTP listener and, when given, the scheduler. The scheduler
// shares runMu so a cron-fired run and an API-triggered one cannot hold two
// browser sessions at once.
func (s *Server) Run(sched *Scheduler) error {
	if sched != nil {
		sched.gate = &s.runMu
		sched.Start()
		defer sched.Close()
	}
	addr := s.cfg.Server.Address
	s.logger.Printf("listening on %s", addr)
	return s.Echo().Start(addr)
}

type priceView struct {
	GameID          string    `json:"game_id"`
	Price           string    `json:"price"`
	Currency        string    `json:"currency"`
	Shop            string    `json:"shop,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	SimilarityScore *float64  `json:"similarity_score,omitempty"`
	MatchedAt       time.Time `json:"matched_at"`
}

func viewOf(rec store.BestPriceRecord) priceView {
	return priceView{
		GameID:          rec.GameID,
		Price:           rec.Price.StringFixed(2),
		Currency:        rec.Currency,
		Shop:            rec.Shop,
		SourceURL:       rec.SourceURL,
		SimilarityScore: rec.SimilarityScore,
		MatchedAt:       rec.MatchedAt,
	}
}

func (s *Server) listBestPrices(c echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1..1000")
		}
		limit = n
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be >= 0")
		}
		offset = n
	}

	recs, err := s.store.ListBestPrices(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	out := make([]priceView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewOf(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getBestPrice(c echo.Context) error {
	rec, ok, err := s.store.GetBestPrice(c.Request().Context(), c.Param("game_id"))
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no price for game")
	}
	return c.JSON(http.StatusOK, viewOf(rec))
}

func (s *Server) getStats(c echo.Context) error {
	stats, err := s.store.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// triggerRefresh pulls the catalog synchronously. A partial extraction still
// answers 200 with what was stored, plus the failure detail.
func (s *Server) triggerRefresh(c echo.Context) error {
	if !s.runMu.TryLock() {
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer s.runMu.Unlock()

	n, err := s.pipe.Refresh(c.Request().Context())
	resp := map[string]interface{}{"games": n}
	if err != nil {
		resp["incomplete"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

type runRequest struct {
	GameIDs []string `json:"game_ids"`
}

type runResponse struct {
	pipeline.Summary
	Incomplete string `json:"incomplete,omitempty"`
}

func (s *Server) triggerRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if !s.runMu.TryLock() {
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer s.runMu.Unlock()

	sum, err := s.pipe.Run(c.Request().Context(), req.GameIDs)
	resp := runResponse{Summary: sum}
	if err != nil {
		resp.Incomplete = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// Package api exposes backtest runs over HTTP.
package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"huginn/internal/backtest"
	. "huginn/internal/common"
	"huginn/internal/marketdata"
	"huginn/internal/store"
	"huginn/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Server struct {
	addr     string
	source   marketdata.Source
	results  *store.Store
	risk     backtest.Risk
	lookback string
	router   *gin.Engine
}

type Config struct {
	Addr    string
	Source  marketdata.Source
	Results *store.Store

	// Risk fills in whatever a request leaves unset.
	Risk     backtest.Risk
	Lookback string
}

// RunRequest is the body of POST /api/backtest/runs.
type RunRequest struct {
	Strategy   string          `json:"strategy"`
	Params     strategy.Params `json:"params"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Lookback   string          `json:"lookback"`
	Risk       *backtest.Risk  `json:"risk"`
	MaxSignals int             `json:"max_signals"`
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("market data source must be set")
	}
	if cfg.Results == nil {
		return nil, errors.New("result store must be set")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		source:   cfg.Source,
		results:  cfg.Results,
		risk:     cfg.Risk,
		lookback: cfg.Lookback,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunCreate)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/fills", s.handleRunFills)
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRunCreate(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	strat, err := strategy.New(req.Strategy, req.Params)
	if err != nil {
		s.fail(c, err)
		return
	}
	lookback := req.Lookback
	if lookback == "" {
		lookback = s.lookback
	}
	start, end, err := marketdata.Range(lookback, req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := marketdata.LoadFrame(ctx, s.source, start, end, strategy.Symbols(strat)...)
	if err != nil {
		s.fail(c, err)
		return
	}

	risk := s.risk
	if req.Risk != nil {
		risk = mergeRisk(s.risk, *req.Risk)
	}
	result, err := backtest.Run(ctx, backtest.Request{
		Strategy:   strat,
		Frame:      frame,
		Risk:       risk,
		MaxSignals: req.MaxSignals,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.results.SaveRun(ctx, result); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run": result})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunFills(c *gin.Context) {
	fills, err := s.results.Fills(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, marketdata.ErrNoData),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest
	case errors.Is(err, marketdata.ErrProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// mergeRisk takes each non-zero field of override.
func mergeRisk(base, override backtest.Risk) backtest.Risk {
	if !override.StartingCash.IsZero() {
		base.StartingCash = override.StartingCash
	}
	if !override.PositionFraction.IsZero() {
		base.PositionFraction = override.PositionFraction
	}
	if !override.TransactionCost.IsZero() {
		base.TransactionCost = override.TransactionCost
	}
	return base
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info().Str("addr", s.addr).Msg("http api listening")

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

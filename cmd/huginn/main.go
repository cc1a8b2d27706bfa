package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"huginn/internal/api"
	"huginn/internal/backtest"
	"huginn/internal/config"
	"huginn/internal/marketdata"
	"huginn/internal/store"
	"huginn/internal/strategy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	// 1. CLI Parameter Parsing
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML configuration")
	envPath := flag.String("env", "", "Path to a .env file (default ./.env)")
	action := flag.String("action", "run", "Action to perform: ['run', 'sweep', 'serve']")

	// Run Parameters, overriding the configuration when set
	strategyName := flag.String("strategy", "", "Strategy: trend_following, mean_reversion or arbitrage")
	symbols := flag.String("symbols", "", "Comma-separated symbols in leg order (e.g. AAPL,MSFT)")
	cash := flag.String("cash", "", "Starting cash")
	fraction := flag.String("fraction", "", "Position fraction in (0, 1]")
	cost := flag.String("cost", "", "Flat transaction cost per fill")
	lookback := flag.String("lookback", "", "Lookback period (e.g. 1y, 6mo, 30d)")
	startStr := flag.String("start", "", "Replay start date (YYYY-MM-DD)")
	endStr := flag.String("end", "", "Replay end date (YYYY-MM-DD)")
	save := flag.Bool("save", false, "Persist run results to the store")

	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if err := applyOverrides(cfg, *strategyName, *symbols, *cash, *fraction, *cost, *lookback); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}
	start, end, err := parseRange(*startStr, *endStr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid date range")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	source, closeSource, err := cfg.Source()
	if err != nil {
		log.Fatal().Err(err).Msg("building market data source")
	}
	defer closeSource()

	switch *action {
	case "run":
		err = runOne(ctx, cfg, source, start, end, *save)
	case "sweep":
		err = runSweep(ctx, cfg, source, start, end, *save)
	case "serve":
		err = serve(ctx, cfg, source)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown action %q\n", *action)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Str("action", *action).Msg("failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func applyOverrides(cfg *config.Config, name, symbols, cash, fraction, cost, lookback string) error {
	if name != "" {
		cfg.Strategy.Name = strings.ToLower(name)
	}
	if symbols != "" {
		cfg.Strategy.Params.Symbols = nil
		for _, symbol := range strings.Split(symbols, ",") {
			if symbol = strings.TrimSpace(symbol); symbol != "" {
				cfg.Strategy.Params.Symbols = append(cfg.Strategy.Params.Symbols, strings.ToUpper(symbol))
			}
		}
	}
	for _, o := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{cash, &cfg.Risk.StartingCash},
		{fraction, &cfg.Risk.PositionFraction},
		{cost, &cfg.Risk.TransactionCost},
	} {
		if o.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(o.raw)
		if err != nil {
			return err
		}
		*o.dst = v
	}
	if lookback != "" {
		cfg.Data.Lookback = lookback
	}
	return cfg.RiskParams().Validate()
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if startStr != "" {
		if start, err = time.Parse(time.DateOnly, startStr); err != nil {
			return start, end, err
		}
	}
	if endStr != "" {
		if end, err = time.Parse(time.DateOnly, endStr); err != nil {
			return start, end, err
		}
		// Inclusive of the whole end day.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}

func request(ctx context.Context, cfg *config.Config, sc config.StrategyConfig, source marketdata.Source, start, end time.Time) (backtest.Request, error) {
	strat, err := strategy.New(sc.Name, sc.Params)
	if err != nil {
		return backtest.Request{}, err
	}
	start, end, err = marketdata.Range(cfg.Data.Lookback, start, end)
	if err != nil {
		return backtest.Request{}, err
	}
	frame, err := marketdata.LoadFrame(ctx, source, start, end, strategy.Symbols(strat)...)
	if err != nil {
		return backtest.Request{}, err
	}
	return backtest.Request{Strategy: strat, Frame: frame, Risk: cfg.RiskParams()}, nil
}

func runOne(ctx context.Context, cfg *config.Config, source marketdata.Source, start, end time.Time, save bool) error {
	req, err := request(ctx, cfg, cfg.Strategy, source, start, end)
	if err != nil {
		return err
	}
	result, err := backtest.Run(ctx, req)
	if err != nil {
		return err
	}
	summarize(result)
	if save {
		return persist(ctx, cfg, result)
	}
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, source marketdata.Source, start, end time.Time, save bool) error {
	entries := cfg.Sweep.Jobs
	if len(entries) == 0 {
		entries = []config.StrategyConfig{cfg.Strategy}
	}
	jobs := make([]backtest.Job, 0, len(entries))
	for i, sc := range entries {
		req, err := request(ctx, cfg, sc, source, start, end)
		if err != nil {
			return fmt.Errorf("sweep job %d (%s): %w", i, sc.Name, err)
		}
		jobs = append(jobs, backtest.Job{Name: fmt.Sprintf("%d:%s", i, sc.Name), Request: req})
	}

	results, err := backtest.Sweep(ctx, jobs, cfg.Sweep.Workers)
	if err != nil {
		return err
	}
	for _, result := range results {
		summarize(result)
		if save {
			if err := persist(ctx, cfg, result); err != nil {
				return err
			}
		}
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, source marketdata.Source) error {
	results, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer results.Close()

	srv, err := api.NewServer(api.Config{
		Addr:     cfg.HTTP.Addr,
		Source:   source,
		Results:  results,
		Risk:     cfg.RiskParams(),
		Lookback: cfg.Data.Lookback,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

func persist(ctx context.Context, cfg *config.Config, result backtest.Result) error {
	results, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer results.Close()
	return results.SaveRun(ctx, result)
}

func summarize(result backtest.Result) {
	m := result.Metrics
	log.Info().
		Str("run", result.ID).
		Str("strategy", result.Strategy).
		Strs("symbols", result.Symbols).
		Int("signals", len(result.Signals)).
		Int("num_trades", m.NumTrades).
		Float64("total_return", m.TotalReturn).
		Float64("max_drawdown", m.MaxDrawdown).
		Float64("sharpe_ratio", m.SharpeRatio).
		Str("total_pnl", m.TotalPnL.StringFixed(2)).
		Str("final_cash", m.FinalCash.StringFixed(2)).
		Interface("final_positions", m.FinalPositions).
		Msg("summary")
}

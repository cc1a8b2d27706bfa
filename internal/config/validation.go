package config

import (
	"fmt"

	"huginn/internal/backtest"
	. "huginn/internal/common"
	"huginn/internal/marketdata"

	"github.com/rs/zerolog"
)

func validate(c *Config) error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return NewConfigurationError("log.level", err.Error())
	}
	if err := c.RiskParams().Validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if c.Store.Path == "" {
		return NewConfigurationError("store.path", "must not be empty")
	}
	if c.Sweep.Workers < 1 {
		return NewConfigurationError("sweep.workers", "must be at least 1")
	}
	return nil
}

func (d *DataConfig) validate() error {
	switch d.Provider {
	case "csv":
		if d.Dir == "" {
			return NewConfigurationError("data.dir", "must be set for the csv provider")
		}
	case "alphavantage":
		// The key is checked when the source is built, so csv-only runs
		// never need it.
	default:
		return NewConfigurationError("data.provider", fmt.Sprintf("unknown provider %q", d.Provider))
	}
	if d.Lookback == "" {
		return nil
	}
	if _, err := marketdata.ParseLookback(d.Lookback); err != nil {
		return NewConfigurationError("data.lookback", err.Error())
	}
	return nil
}

// RiskParams converts the risk section for the orchestrator.
func (c *Config) RiskParams() backtest.Risk {
	return backtest.Risk{
		StartingCash:     c.Risk.StartingCash,
		PositionFraction: c.Risk.PositionFraction,
		TransactionCost:  c.Risk.TransactionCost,
	}
}

// Source builds the configured market data source, behind the SQLite cache
// when a cache path is set. The returned close function releases the cache.
func (c *Config) Source() (marketdata.Source, func() error, error) {
	var (
		source marketdata.Source
		err    error
	)
	switch c.Data.Provider {
	case "alphavantage":
		source, err = marketdata.NewAlphaVantageSource(c.Data.APIKey, c.Data.BaseURL, c.Data.Interval)
		if err != nil {
			return nil, nil, err
		}
	default:
		source = marketdata.NewCSVSource(c.Data.Dir)
	}
	if c.Data.CachePath == "" {
		return source, func() error { return nil }, nil
	}
	cache, err := marketdata.NewCache(c.Data.CachePath, source)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}

package config

import "github.com/spf13/viper"

const (
	defaultLogLevel         = "info"
	defaultStartingCash     = "100000"
	defaultPositionFraction = "0.1"
	defaultTransactionCost  = "0"
	defaultStrategy         = "trend_following"
	defaultShortWindow      = 20
	defaultLongWindow       = 50
	defaultWindow           = 20
	defaultNumStd           = 2.0
	defaultThreshold        = 2.0
	defaultHedgeWindow      = 60
	defaultProvider         = "csv"
	defaultDataDir          = "data"
	defaultBaseURL          = "https://www.alphavantage.co"
	defaultInterval         = "1d"
	defaultLookback         = "1y"
	defaultStorePath        = "data/runs.db"
	defaultHTTPAddr         = ":8080"
	defaultSweepWorkers     = 4
	DefaultPath             = "configs/huginn.yaml"
)

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.console", true)

	v.SetDefault("risk.starting_cash", defaultStartingCash)
	v.SetDefault("risk.position_fraction", defaultPositionFraction)
	v.SetDefault("risk.transaction_cost", defaultTransactionCost)

	v.SetDefault("strategy.name", defaultStrategy)
	v.SetDefault("strategy.symbols", []string{})
	v.SetDefault("strategy.short_window", defaultShortWindow)
	v.SetDefault("strategy.long_window", defaultLongWindow)
	v.SetDefault("strategy.window", defaultWindow)
	v.SetDefault("strategy.num_std", defaultNumStd)
	v.SetDefault("strategy.threshold", defaultThreshold)
	v.SetDefault("strategy.hedge_window", defaultHedgeWindow)

	v.SetDefault("data.provider", defaultProvider)
	v.SetDefault("data.dir", defaultDataDir)
	v.SetDefault("data.cache_path", "")
	v.SetDefault("data.base_url", defaultBaseURL)
	v.SetDefault("data.interval", defaultInterval)
	v.SetDefault("data.lookback", defaultLookback)

	v.SetDefault("store.path", defaultStorePath)
	v.SetDefault("http.addr", defaultHTTPAddr)
	v.SetDefault("sweep.workers", defaultSweepWorkers)
}

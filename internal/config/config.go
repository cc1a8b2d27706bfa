// Package config loads huginn's settings from a YAML file, a .env file and
// HUGINN_ prefixed environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"huginn/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "HUGINN"
	// APIKeyEnv is read from the environment only, never from the YAML file.
	APIKeyEnv = "ALPHAVANTAGE_API_KEY"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Data     DataConfig     `mapstructure:"data"`
	Store    StoreConfig    `mapstructure:"store"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type RiskConfig struct {
	StartingCash     decimal.Decimal `mapstructure:"starting_cash"`
	PositionFraction decimal.Decimal `mapstructure:"position_fraction"`
	TransactionCost  decimal.Decimal `mapstructure:"transaction_cost"`
}

type StrategyConfig struct {
	Name   string          `mapstructure:"name"`
	Params strategy.Params `mapstructure:",squash"`
}

type DataConfig struct {
	Provider  string `mapstructure:"provider"` // csv | alphavantage
	Dir       string `mapstructure:"dir"`
	CachePath string `mapstructure:"cache_path"`
	BaseURL   string `mapstructure:"base_url"`
	Interval  string `mapstructure:"interval"`
	Lookback  string `mapstructure:"lookback"`
	APIKey    string `mapstructure:"-"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type SweepConfig struct {
	Workers int              `mapstructure:"workers"`
	Jobs    []StrategyConfig `mapstructure:"jobs"`
}

// Load reads the configuration. A missing file at path is not an error:
// defaults and the environment still apply. envPath names the .env file;
// empty means ./.env.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			decimalHook,
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Data.APIKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	cfg.normalize()

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decimalHook decodes numbers and numeric strings into decimal.Decimal.
func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch val := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(val))
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	}
	return data, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Data.Provider = strings.ToLower(strings.TrimSpace(c.Data.Provider))
	c.Strategy.normalize()
	for i := range c.Sweep.Jobs {
		c.Sweep.Jobs[i].normalize()
	}
}

func (s *StrategyConfig) normalize() {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	for i, symbol := range s.Params.Symbols {
		s.Params.Symbols[i] = strings.ToUpper(strings.TrimSpace(symbol))
	}
}

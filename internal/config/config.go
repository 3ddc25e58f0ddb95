// Package config loads pipeline configuration from an optional YAML file and
// the environment. Every setting has a working default; broker credentials
// come from the environment only and never from the config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// AlpacaCredentials holds Alpaca API access settings
type AlpacaCredentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Config is the full runtime configuration of the gate
type Config struct {
	LogLevel    string
	MetricsAddr string

	// ExecutionEnabled is the environment safety guard for live order
	// submission. Off unless explicitly enabled.
	ExecutionEnabled bool

	Quality    types.QualityConfig
	Backtest   types.BacktestConfig
	Validation types.ValidationConfig
	Risk       types.RiskConfig
	Orders     types.OrderConfig
	Broker     types.BrokerConfig

	Alpaca AlpacaCredentials
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		MetricsAddr: ":9090",
		Quality:     types.DefaultQualityConfig(),
		Backtest:    types.DefaultBacktestConfig(),
		Validation:  types.DefaultValidationConfig(),
		Risk:        types.DefaultRiskConfig(),
		Orders:      types.DefaultOrderConfig(),
		Broker:      types.DefaultBrokerConfig(),
	}
}

// Load reads configuration from the given YAML file, falling back to
// ./config.yaml when path is empty. A missing file is not an error; a
// malformed one is. Environment variables override credentials and the
// execution guard after the file is applied.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			cfg.loadFromEnv()
			return cfg, nil
		}
		if path != "" {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				return nil, fmt.Errorf("config file %s does not exist", path)
			}
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyFile(v)
	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) applyFile(v *viper.Viper) {
	if v.IsSet("log_level") {
		c.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("metrics_addr") {
		c.MetricsAddr = v.GetString("metrics_addr")
	}
	if v.IsSet("execution_enabled") {
		c.ExecutionEnabled = v.GetBool("execution_enabled")
	}

	if v.IsSet("quality.gap_threshold_days") {
		c.Quality.GapThresholdDays = v.GetInt("quality.gap_threshold_days")
	}
	if v.IsSet("quality.outlier_threshold_pct") {
		c.Quality.OutlierThresholdPct = v.GetFloat64("quality.outlier_threshold_pct")
	}
	if v.IsSet("quality.volume_spike_multiple") {
		c.Quality.VolumeSpikeMultiple = v.GetFloat64("quality.volume_spike_multiple")
	}

	if v.IsSet("backtest.initial_cash") {
		c.Backtest.InitialCash = decimal.NewFromFloat(v.GetFloat64("backtest.initial_cash"))
	}
	if v.IsSet("backtest.commission") {
		c.Backtest.Commission = decimal.NewFromFloat(v.GetFloat64("backtest.commission"))
	}
	if v.IsSet("backtest.slippage_pct") {
		c.Backtest.SlippagePct = decimal.NewFromFloat(v.GetFloat64("backtest.slippage_pct"))
	}
	if v.IsSet("backtest.fixed_notional") {
		c.Backtest.FixedNotional = decimal.NewFromFloat(v.GetFloat64("backtest.fixed_notional"))
	}

	if v.IsSet("validation.walk_forward") {
		c.Validation.WalkForward = v.GetBool("validation.walk_forward")
	}
	if v.IsSet("validation.train_split") {
		c.Validation.TrainSplit = v.GetFloat64("validation.train_split")
	}
	if v.IsSet("validation.validation_split") {
		c.Validation.ValidationSplit = v.GetFloat64("validation.validation_split")
	}
	if v.IsSet("validation.holdout_split") {
		c.Validation.HoldoutSplit = v.GetFloat64("validation.holdout_split")
	}
	if v.IsSet("validation.window_size") {
		c.Validation.WindowSize = v.GetInt("validation.window_size")
	}
	if v.IsSet("validation.expanding") {
		c.Validation.Expanding = v.GetBool("validation.expanding")
	}
	if v.IsSet("validation.step_size") {
		c.Validation.StepSize = v.GetInt("validation.step_size")
	}
	if v.IsSet("validation.min_train_days") {
		c.Validation.MinTrainDays = v.GetInt("validation.min_train_days")
	}

	if v.IsSet("risk.max_trade_notional") {
		c.Risk.MaxTradeNotional = decimal.NewFromFloat(v.GetFloat64("risk.max_trade_notional"))
	}
	if v.IsSet("risk.max_portfolio_exposure") {
		c.Risk.MaxPortfolioExposure = decimal.NewFromFloat(v.GetFloat64("risk.max_portfolio_exposure"))
	}
	if v.IsSet("risk.max_position_per_symbol") {
		c.Risk.MaxPositionPerSymbol = decimal.NewFromFloat(v.GetFloat64("risk.max_position_per_symbol"))
	}
	if v.IsSet("risk.max_drawdown_threshold") {
		c.Risk.MaxDrawdownThreshold = decimal.NewFromFloat(v.GetFloat64("risk.max_drawdown_threshold"))
	}
	if v.IsSet("risk.fallback_price") {
		c.Risk.FallbackPrice = decimal.NewFromFloat(v.GetFloat64("risk.fallback_price"))
	}
	if v.IsSet("risk.blacklist_symbols") {
		c.Risk.BlacklistSymbols = v.GetStringSlice("risk.blacklist_symbols")
	}

	if v.IsSet("orders.dust_threshold") {
		c.Orders.DustThreshold = decimal.NewFromFloat(v.GetFloat64("orders.dust_threshold"))
	}
	if v.IsSet("orders.quantity_precision") {
		c.Orders.QuantityPrecision = int32(v.GetInt("orders.quantity_precision"))
	}

	if v.IsSet("broker.primary") {
		c.Broker.Primary = v.GetString("broker.primary")
	}
	if v.IsSet("broker.failover_enabled") {
		c.Broker.FailoverEnabled = v.GetBool("broker.failover_enabled")
	}
	if v.IsSet("broker.failovers") {
		c.Broker.Failovers = v.GetStringSlice("broker.failovers")
	}
	if v.IsSet("broker.verify_fills") {
		c.Broker.VerifyFills = v.GetBool("broker.verify_fills")
	}
	if v.IsSet("broker.fill_timeout") {
		c.Broker.FillTimeout = v.GetDuration("broker.fill_timeout")
	}
	if v.IsSet("broker.poll_interval") {
		c.Broker.PollInterval = v.GetDuration("broker.poll_interval")
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("ALPACA_API_KEY"); val != "" {
		c.Alpaca.APIKey = val
	}
	if val := os.Getenv("ALPACA_SECRET_KEY"); val != "" {
		c.Alpaca.APISecret = val
	}
	if val := os.Getenv("ALPACA_BASE_URL"); val != "" {
		c.Alpaca.BaseURL = val
	}
	if val := os.Getenv("GATE_EXECUTION_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.ExecutionEnabled = enabled
		}
	}
	if val := os.Getenv("GATE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("GATE_METRICS_ADDR"); val != "" {
		c.MetricsAddr = val
	}
}

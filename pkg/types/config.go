// Package types provides configuration types for the strategy gate pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// QualityConfig configures the data quality checker
type QualityConfig struct {
	GapThresholdDays    int     `json:"gapThresholdDays"`
	OutlierThresholdPct float64 `json:"outlierThresholdPct"`
	VolumeSpikeMultiple float64 `json:"volumeSpikeMultiple"`
	VolumeSpikeLookback int     `json:"volumeSpikeLookback"`
}

// DefaultQualityConfig returns quality checker defaults for daily equity bars.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		GapThresholdDays:    3,
		OutlierThresholdPct: 0.10,
		VolumeSpikeMultiple: 10.0,
		VolumeSpikeLookback: 5,
	}
}

// BacktestConfig configures the backtest engine
type BacktestConfig struct {
	InitialCash   decimal.Decimal `json:"initialCash"`
	Commission    decimal.Decimal `json:"commission"`  // fraction of fill value
	SlippagePct   decimal.Decimal `json:"slippagePct"` // fraction of fill price
	FixedNotional decimal.Decimal `json:"fixedNotional"`
}

// DefaultBacktestConfig returns backtest defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCash:   decimal.NewFromInt(100_000),
		Commission:    decimal.NewFromFloat(0.001),
		SlippagePct:   decimal.NewFromFloat(0.0005),
		FixedNotional: decimal.NewFromInt(1000),
	}
}

// ValidationConfig configures walk-forward validation.
// When all three split fractions are zero, window-based walk-forward is used.
type ValidationConfig struct {
	WalkForward     bool    `json:"walkForward"`
	TrainSplit      float64 `json:"trainSplit"`
	ValidationSplit float64 `json:"validationSplit"`
	HoldoutSplit    float64 `json:"holdoutSplit"`
	WindowSize      int     `json:"windowSize"` // days; 0 derives from range
	Expanding       bool    `json:"expanding"`
	StepSize        int     `json:"stepSize"` // days between windows
	MinTrainDays    int     `json:"minTrainDays"`
}

// DefaultValidationConfig returns walk-forward defaults with expanding windows.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		WalkForward:  true,
		Expanding:    true,
		StepSize:     1,
		MinTrainDays: 30,
	}
}

// RiskConfig configures the deterministic risk engine
type RiskConfig struct {
	MaxTradeNotional     decimal.Decimal `json:"maxTradeNotional"`
	MaxPortfolioExposure decimal.Decimal `json:"maxPortfolioExposure"` // fraction of portfolio value
	MaxPositionPerSymbol decimal.Decimal `json:"maxPositionPerSymbol"` // fraction of portfolio value
	MaxDrawdownThreshold decimal.Decimal `json:"maxDrawdownThreshold"` // circuit breaker
	// FallbackPrice is used for notional checks when no quote is available.
	// It is an approximation, not a real quote, and materially affects the
	// notional checks when price data is missing.
	FallbackPrice    decimal.Decimal `json:"fallbackPrice"`
	BlacklistSymbols []string        `json:"blacklistSymbols"`
}

// DefaultRiskConfig returns risk engine defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxTradeNotional:     decimal.NewFromInt(10_000),
		MaxPortfolioExposure: decimal.NewFromFloat(0.5),
		MaxPositionPerSymbol: decimal.NewFromFloat(0.2),
		MaxDrawdownThreshold: decimal.NewFromFloat(0.25),
		FallbackPrice:        decimal.NewFromInt(100),
	}
}

// OrderConfig configures order generation
type OrderConfig struct {
	DustThreshold     decimal.Decimal `json:"dustThreshold"` // minimum order quantity
	QuantityPrecision int32           `json:"quantityPrecision"`
}

// DefaultOrderConfig returns order generation defaults.
func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		DustThreshold:     decimal.NewFromFloat(0.01),
		QuantityPrecision: 2,
	}
}

// BrokerConfig configures broker selection and failover
type BrokerConfig struct {
	Primary         string        `json:"primary"`
	FailoverEnabled bool          `json:"failoverEnabled"`
	Failovers       []string      `json:"failovers"`
	VerifyFills     bool          `json:"verifyFills"`
	FillTimeout     time.Duration `json:"fillTimeout"`
	PollInterval    time.Duration `json:"pollInterval"`
}

// DefaultBrokerConfig returns broker defaults with the paper broker primary.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Primary:         "paper",
		FailoverEnabled: true,
		VerifyFills:     true,
		FillTimeout:     30 * time.Second,
		PollInterval:    time.Second,
	}
}

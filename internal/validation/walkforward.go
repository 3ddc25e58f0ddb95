// Package validation provides chronological data splitting and walk-forward
// backtesting for out-of-sample strategy evaluation.
package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBadSplit is returned when split fractions do not sum to 1.0.
var ErrBadSplit = errors.New("split fractions must sum to 1.0")

// Backtester runs one backtest over the supplied bars.
type Backtester interface {
	Run(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.BacktestResult, error)
}

// Splits holds chronological train/validation/holdout partitions of the data.
// Each symbol's bars are partitioned without overlap and in order.
type Splits struct {
	Train      map[string][]types.Bar
	Validation map[string][]types.Bar
	Holdout    map[string][]types.Bar
}

// SplitData partitions each symbol's bars chronologically by the given
// fractions. The fractions must sum to 1.0 within 0.01.
func SplitData(barsBySymbol map[string][]types.Bar, trainSplit, validationSplit, holdoutSplit float64) (*Splits, error) {
	total := trainSplit + validationSplit + holdoutSplit
	if math.Abs(total-1.0) > 0.01 {
		return nil, fmt.Errorf("%w: got %.4f", ErrBadSplit, total)
	}

	splits := &Splits{
		Train:      make(map[string][]types.Bar),
		Validation: make(map[string][]types.Bar),
		Holdout:    make(map[string][]types.Bar),
	}

	for symbol, bars := range barsBySymbol {
		if len(bars) == 0 {
			continue
		}

		sorted := make([]types.Bar, len(bars))
		copy(sorted, bars)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		n := len(sorted)
		trainEnd := int(float64(n) * trainSplit)
		validationEnd := int(float64(n) * (trainSplit + validationSplit))

		splits.Train[symbol] = sorted[:trainEnd]
		splits.Validation[symbol] = sorted[trainEnd:validationEnd]
		splits.Holdout[symbol] = sorted[validationEnd:]
	}

	return splits, nil
}

// Window is one walk-forward train/test period pair
type Window struct {
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// Windows generates walk-forward windows over [start, end]. Expanding windows
// train from the range start; rolling windows use a fixed training span.
// Windows whose training span falls below the minimum are skipped.
func Windows(start, end time.Time, cfg types.ValidationConfig) []Window {
	totalDays := int(end.Sub(start).Hours() / 24)

	initialTrainDays := cfg.WindowSize
	if initialTrainDays <= 0 {
		initialTrainDays = int(float64(totalDays) * 0.7)
	}

	minTrainDays := cfg.MinTrainDays
	if minTrainDays <= 0 {
		minTrainDays = 30
	}
	if initialTrainDays < minTrainDays {
		initialTrainDays = minTrainDays
	}

	testWindowDays := int(float64(totalDays) * 0.15)
	if testWindowDays < 10 {
		testWindowDays = 10
	}

	stepSize := cfg.StepSize
	if stepSize <= 0 {
		stepSize = 1
	}

	var windows []Window
	testStart := start

	for testStart.Before(end) {
		var trainStart, trainEnd time.Time
		if cfg.Expanding {
			trainStart = start
			trainEnd = testStart
		} else {
			trainStart = testStart.AddDate(0, 0, -initialTrainDays)
			trainEnd = testStart
		}

		testEnd := testStart.AddDate(0, 0, testWindowDays)
		if testEnd.After(end) {
			testEnd = end
		}

		if !trainEnd.After(trainStart) || !testEnd.After(testStart) ||
			int(trainEnd.Sub(trainStart).Hours()/24) < minTrainDays {
			testStart = testStart.AddDate(0, 0, stepSize)
			continue
		}

		windows = append(windows, Window{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})

		testStart = testStart.AddDate(0, 0, stepSize)
		if !testEnd.Before(end) {
			break
		}
	}

	return windows
}

// Validator runs walk-forward evaluation on top of a backtest engine
type Validator struct {
	logger *zap.Logger
	engine Backtester
	cfg    types.ValidationConfig
}

// NewValidator creates a walk-forward validator.
func NewValidator(logger *zap.Logger, engine Backtester, cfg types.ValidationConfig) *Validator {
	return &Validator{
		logger: logger.Named("validation"),
		engine: engine,
		cfg:    cfg,
	}
}

// Run evaluates the strategy out of sample. With split fractions configured
// it backtests each split; otherwise it backtests the test slice of each
// walk-forward window. When walk-forward is disabled or no windows can be
// generated, a single full-range backtest fills every field.
func (v *Validator) Run(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.WalkForwardResult, error) {
	if !v.cfg.WalkForward {
		return v.singleBacktest(ctx, strategy, barsBySymbol)
	}

	if v.cfg.TrainSplit > 0 || v.cfg.ValidationSplit > 0 || v.cfg.HoldoutSplit > 0 {
		return v.runSplits(ctx, strategy, barsBySymbol)
	}

	return v.runWindows(ctx, strategy, barsBySymbol)
}

func (v *Validator) singleBacktest(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.WalkForwardResult, error) {
	result, err := v.engine.Run(ctx, strategy, barsBySymbol)
	if err != nil {
		return nil, err
	}
	return &types.WalkForwardResult{
		Windows:           []types.BacktestResult{*result},
		AggregateMetrics:  result.Metrics,
		TrainMetrics:      result.Metrics,
		ValidationMetrics: result.Metrics,
		Robustness:        robustness([]types.BacktestResult{*result}),
	}, nil
}

func (v *Validator) runSplits(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.WalkForwardResult, error) {
	splits, err := SplitData(barsBySymbol, v.cfg.TrainSplit, v.cfg.ValidationSplit, v.cfg.HoldoutSplit)
	if err != nil {
		return nil, err
	}

	trainResult, err := v.engine.Run(ctx, strategy, splits.Train)
	if err != nil {
		return nil, err
	}
	validationResult, err := v.engine.Run(ctx, strategy, splits.Validation)
	if err != nil {
		return nil, err
	}

	results := []types.BacktestResult{*trainResult, *validationResult}
	out := &types.WalkForwardResult{
		Windows:           results,
		TrainMetrics:      trainResult.Metrics,
		ValidationMetrics: validationResult.Metrics,
	}

	if hasBars(splits.Holdout) {
		holdoutResult, err := v.engine.Run(ctx, strategy, splits.Holdout)
		if err != nil {
			return nil, err
		}
		out.HoldoutMetrics = &holdoutResult.Metrics
		results = append(results, *holdoutResult)
	}

	out.AggregateMetrics = aggregateMetrics(results)
	out.Robustness = robustness(results)
	return out, nil
}

func (v *Validator) runWindows(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.WalkForwardResult, error) {
	start, end, ok := dataRange(barsBySymbol)
	if !ok {
		v.logger.Warn("No timestamps in data, falling back to single backtest")
		return v.singleBacktest(ctx, strategy, barsBySymbol)
	}

	windows := Windows(start, end, v.cfg)
	if len(windows) == 0 {
		v.logger.Warn("No walk-forward windows generated, falling back to single backtest",
			zap.Time("start", start), zap.Time("end", end))
		return v.singleBacktest(ctx, strategy, barsBySymbol)
	}

	var results []types.BacktestResult
	for _, window := range windows {
		testData := filterRange(barsBySymbol, window.TestStart, window.TestEnd)
		if !hasBars(testData) {
			continue
		}
		result, err := v.engine.Run(ctx, strategy, testData)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	if len(results) == 0 {
		v.logger.Warn("No window produced results, falling back to single backtest")
		return v.singleBacktest(ctx, strategy, barsBySymbol)
	}

	out := &types.WalkForwardResult{
		Windows:          results,
		AggregateMetrics: aggregateMetrics(results),
		TrainMetrics:     results[0].Metrics,
		Robustness:       robustness(results),
	}
	if len(results) > 1 {
		out.ValidationMetrics = results[len(results)-1].Metrics
	} else {
		out.ValidationMetrics = results[0].Metrics
	}

	v.logger.Info("Walk-forward validation complete",
		zap.String("strategy_id", strategy.StrategyID),
		zap.Int("windows", len(results)),
		zap.String("aggregate_sharpe", out.AggregateMetrics.Sharpe.StringFixed(2)))

	return out, nil
}

// aggregateMetrics averages metrics across windows without weighting.
func aggregateMetrics(results []types.BacktestResult) types.BacktestMetrics {
	if len(results) == 0 {
		return types.BacktestMetrics{
			Sharpe:      decimal.Zero,
			MaxDrawdown: decimal.Zero,
			TotalReturn: decimal.Zero,
			WinRate:     decimal.Zero,
		}
	}

	var sharpe, maxDD, totalReturn, winRate decimal.Decimal
	var totalTrades int
	for _, r := range results {
		sharpe = sharpe.Add(r.Metrics.Sharpe)
		maxDD = maxDD.Add(r.Metrics.MaxDrawdown)
		totalReturn = totalReturn.Add(r.Metrics.TotalReturn)
		winRate = winRate.Add(r.Metrics.WinRate)
		totalTrades += r.Metrics.TotalTrades
	}

	n := decimal.NewFromInt(int64(len(results)))
	return types.BacktestMetrics{
		Sharpe:      sharpe.Div(n),
		MaxDrawdown: maxDD.Div(n),
		TotalReturn: totalReturn.Div(n),
		WinRate:     winRate.Div(n),
		TotalTrades: totalTrades,
	}
}

// robustness is the share of windows with a positive total return.
func robustness(results []types.BacktestResult) decimal.Decimal {
	if len(results) == 0 {
		return decimal.Zero
	}
	positive := 0
	for _, r := range results {
		if r.Metrics.TotalReturn.GreaterThan(decimal.Zero) {
			positive++
		}
	}
	return decimal.NewFromInt(int64(positive)).Div(decimal.NewFromInt(int64(len(results))))
}

// filterRange keeps bars with start <= timestamp <= end. Symbols left with no
// bars are dropped.
func filterRange(barsBySymbol map[string][]types.Bar, start, end time.Time) map[string][]types.Bar {
	filtered := make(map[string][]types.Bar)
	for symbol, bars := range barsBySymbol {
		var kept []types.Bar
		for _, bar := range bars {
			if !bar.Timestamp.Before(start) && !bar.Timestamp.After(end) {
				kept = append(kept, bar)
			}
		}
		if len(kept) > 0 {
			filtered[symbol] = kept
		}
	}
	return filtered
}

func dataRange(barsBySymbol map[string][]types.Bar) (time.Time, time.Time, bool) {
	var start, end time.Time
	found := false
	for _, bars := range barsBySymbol {
		for _, bar := range bars {
			if !found {
				start, end = bar.Timestamp, bar.Timestamp
				found = true
				continue
			}
			if bar.Timestamp.Before(start) {
				start = bar.Timestamp
			}
			if bar.Timestamp.After(end) {
				end = bar.Timestamp
			}
		}
	}
	return start, end, found
}

func hasBars(barsBySymbol map[string][]types.Bar) bool {
	for _, bars := range barsBySymbol {
		if len(bars) > 0 {
			return true
		}
	}
	return false
}

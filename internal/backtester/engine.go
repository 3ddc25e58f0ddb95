package backtester

import (
	"context"
	"math"
	"time"

	"github.com/quantpipe/strategy-gate/internal/indicators"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine runs event-driven backtests of rule-based strategies. Each Run is
// independent; the engine holds no per-run state and is safe for concurrent use.
type Engine struct {
	logger      *zap.Logger
	config      types.BacktestConfig
	metricsCalc *MetricsCalculator
}

// NewEngine creates a backtest engine.
func NewEngine(logger *zap.Logger, config types.BacktestConfig) *Engine {
	return &Engine{
		logger:      logger.Named("backtester"),
		config:      config,
		metricsCalc: NewMetricsCalculator(),
	}
}

// Run backtests the strategy on its primary universe symbol. A symbol with no
// bars produces a zero-metric result rather than an error; the quality stage
// is responsible for rejecting bad data before it gets here.
func (e *Engine) Run(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.BacktestResult, error) {
	startedAt := time.Now()

	symbol := primarySymbol(strategy, barsBySymbol)
	bars := barsBySymbol[symbol]

	result := &types.BacktestResult{
		StrategyID:    strategy.StrategyID,
		Symbol:        symbol,
		BarsProcessed: len(bars),
		StartedAt:     startedAt,
	}

	if len(bars) == 0 {
		e.logger.Warn("No bars for primary symbol", zap.String("symbol", symbol))
		result.Metrics = e.metricsCalc.Calculate(nil, e.config.InitialCash, strategy.Params.Timeframe, nil)
		result.CompletedAt = time.Now()
		return result, nil
	}

	prices := make([]float64, len(bars))
	for i, bar := range bars {
		prices[i] = bar.Close.InexactFloat64()
	}

	portfolio := NewPortfolio(e.config.InitialCash)
	equityCurve := make([]types.EquityPoint, 0, len(bars))
	var trades []types.Trade
	inPosition := false

	for i := 1; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		price := bars[i].Close
		timestamp := bars[i].Timestamp

		entrySignal := evaluateRules(strategy.Rules, types.RuleKindEntry, prices, i)
		exitSignal := evaluateAnyRule(strategy.Rules, types.RuleKindExit, prices, i)

		// Equity is recorded at the bar's close, before any trade on that bar
		portfolio.UpdatePrice(symbol, price)
		equityCurve = append(equityCurve, types.EquityPoint{Timestamp: timestamp, Equity: portfolio.Equity()})

		if entrySignal && !inPosition {
			if trade, ok := e.enter(portfolio, strategy.Params, symbol, price, timestamp); ok {
				trades = append(trades, trade)
				inPosition = true
			}
		} else if inPosition && (exitSignal || !entrySignal) {
			if trade, ok := e.exit(portfolio, symbol, price, timestamp, "signal"); ok {
				trades = append(trades, trade)
				inPosition = false
			}
		}
	}

	// Liquidate at the last close so final equity is all cash
	if inPosition {
		lastBar := bars[len(bars)-1]
		if trade, ok := e.exit(portfolio, symbol, lastBar.Close, lastBar.Timestamp, "end_of_data"); ok {
			trades = append(trades, trade)
		}
	}

	equityCurve = append(equityCurve, types.EquityPoint{
		Timestamp: bars[len(bars)-1].Timestamp,
		Equity:    portfolio.Equity(),
	})

	result.Trades = trades
	result.EquityCurve = equityCurve
	result.Metrics = e.metricsCalc.Calculate(equityCurve, e.config.InitialCash, strategy.Params.Timeframe, trades)
	result.CompletedAt = time.Now()

	e.logger.Info("Backtest complete",
		zap.String("strategy_id", strategy.StrategyID),
		zap.String("symbol", symbol),
		zap.Int("trades", len(trades)),
		zap.String("sharpe", result.Metrics.Sharpe.StringFixed(2)),
		zap.String("total_return", result.Metrics.TotalReturn.StringFixed(4)))

	return result, nil
}

// enter opens a long position sized by the strategy's position sizing rule.
// Returns false when the position is unaffordable or rounds to zero.
func (e *Engine) enter(portfolio *Portfolio, params types.StrategyParams, symbol string, price decimal.Decimal, timestamp time.Time) (types.Trade, bool) {
	if price.LessThanOrEqual(decimal.Zero) {
		return types.Trade{}, false
	}

	var targetValue decimal.Decimal
	if params.PositionSizing == "fixed_fraction" && params.Fraction > 0 {
		targetValue = portfolio.Equity().Mul(decimal.NewFromFloat(params.Fraction))
	} else {
		targetValue = e.config.FixedNotional
	}

	quantity := targetValue.Div(price).Round(2)
	if quantity.LessThanOrEqual(decimal.Zero) || portfolio.Cash().LessThan(targetValue) {
		return types.Trade{}, false
	}

	fillPrice := price.Mul(decimal.NewFromInt(1).Add(e.config.SlippagePct))
	cost := quantity.Mul(fillPrice)
	commission := cost.Mul(e.config.Commission)

	if portfolio.Cash().LessThan(cost.Add(commission)) {
		return types.Trade{}, false
	}

	portfolio.Buy(symbol, quantity, fillPrice, commission)

	return types.Trade{
		Timestamp: timestamp,
		Symbol:    symbol,
		Side:      types.OrderSideBuy,
		Quantity:  quantity,
		Price:     fillPrice,
	}, true
}

// exit closes the full position at the bar's close less slippage.
func (e *Engine) exit(portfolio *Portfolio, symbol string, price decimal.Decimal, timestamp time.Time, reason string) (types.Trade, bool) {
	quantity := portfolio.Quantity(symbol)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return types.Trade{}, false
	}

	fillPrice := price.Mul(decimal.NewFromInt(1).Sub(e.config.SlippagePct))
	proceeds := quantity.Mul(fillPrice)
	commission := proceeds.Mul(e.config.Commission)

	portfolio.Sell(symbol, quantity, fillPrice, commission)

	return types.Trade{
		Timestamp: timestamp,
		Symbol:    symbol,
		Side:      types.OrderSideSell,
		Quantity:  quantity,
		Price:     fillPrice,
		Reason:    reason,
	}, true
}

// primarySymbol picks the strategy's first universe symbol, falling back to
// any symbol with data.
func primarySymbol(strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) string {
	if len(strategy.Universe) > 0 {
		return strategy.Universe[0]
	}
	for symbol := range barsBySymbol {
		return symbol
	}
	return ""
}

// evaluateRules reports whether every rule of the given kind holds at index
// idx (AND logic). Rules with no kind are treated as entry rules. No rules of
// the kind means no signal.
func evaluateRules(rules []types.StrategyRule, kind types.RuleKind, prices []float64, idx int) bool {
	matched := false
	for _, rule := range rules {
		ruleKind := rule.Kind
		if ruleKind == "" {
			ruleKind = types.RuleKindEntry
		}
		if ruleKind != kind {
			continue
		}
		matched = true
		if !evaluateRule(rule, prices, idx) {
			return false
		}
	}
	return matched
}

// evaluateAnyRule reports whether any rule of the given kind holds (OR logic).
func evaluateAnyRule(rules []types.StrategyRule, kind types.RuleKind, prices []float64, idx int) bool {
	for _, rule := range rules {
		if rule.Kind == kind && evaluateRule(rule, prices, idx) {
			return true
		}
	}
	return false
}

// evaluateRule evaluates one rule at a bar index. A rule that cannot be
// computed (warmup period, NaN indicator) is false, never an error.
func evaluateRule(rule types.StrategyRule, prices []float64, idx int) bool {
	if idx < 1 || idx >= len(prices) {
		return false
	}

	switch rule.Type {
	case types.RuleTypeSignal:
		return evaluateSignal(rule, prices, idx)
	case types.RuleTypeCrossover:
		return evaluateCrossover(rule, prices, idx)
	case types.RuleTypeMomentum:
		return evaluateMomentum(rule, prices, idx)
	case types.RuleTypeMeanReversion:
		return evaluateMeanReversion(rule, prices, idx)
	default:
		return false
	}
}

func evaluateSignal(rule types.StrategyRule, prices []float64, idx int) bool {
	values, err := indicators.Evaluate(rule.Indicator, prices, rule.Params)
	if err != nil || idx >= len(values) || math.IsNaN(values[idx]) {
		return false
	}

	if rule.Params.Direction == "below" {
		return values[idx] < rule.Params.Threshold
	}
	return values[idx] > rule.Params.Threshold
}

func evaluateCrossover(rule types.StrategyRule, prices []float64, idx int) bool {
	fastWindow := rule.Params.FastWindow
	if fastWindow <= 0 {
		fastWindow = 10
	}
	slowWindow := rule.Params.SlowWindow
	if slowWindow <= 0 {
		slowWindow = 20
	}

	if idx < slowWindow-1 {
		return false
	}

	fast := indicators.SMA(prices, fastWindow)
	slow := indicators.SMA(prices, slowWindow)

	if math.IsNaN(fast[idx]) || math.IsNaN(slow[idx]) ||
		math.IsNaN(fast[idx-1]) || math.IsNaN(slow[idx-1]) {
		return false
	}

	if rule.Params.Direction == "below" {
		return fast[idx-1] >= slow[idx-1] && fast[idx] < slow[idx]
	}
	return fast[idx-1] <= slow[idx-1] && fast[idx] > slow[idx]
}

func evaluateMomentum(rule types.StrategyRule, prices []float64, idx int) bool {
	window := rule.Params.Window
	if window <= 0 {
		window = 20
	}
	if idx < window {
		return false
	}

	ma := indicators.SMA(prices, window)
	if math.IsNaN(ma[idx]) {
		return false
	}

	priceAboveMA := prices[idx] > ma[idx]

	lookback := rule.Params.Lookback
	if lookback <= 0 {
		lookback = 5
	}
	if idx < lookback {
		return priceAboveMA
	}

	returnThreshold := rule.Params.ReturnThreshold
	if returnThreshold == 0 {
		returnThreshold = 0.02
	}

	past := prices[idx-lookback]
	var recentReturn float64
	if past > 0 {
		recentReturn = (prices[idx] - past) / past
	}
	return priceAboveMA && recentReturn > returnThreshold
}

func evaluateMeanReversion(rule types.StrategyRule, prices []float64, idx int) bool {
	window := rule.Params.Window
	if window <= 0 {
		window = 20
	}
	threshold := rule.Params.Threshold
	if threshold == 0 {
		threshold = 2.0
	}

	zscores := indicators.ZScore(indicators.Returns(prices), window)
	if idx >= len(zscores) || math.IsNaN(zscores[idx]) {
		return false
	}

	if rule.Params.Direction == "above" {
		return zscores[idx] > threshold
	}
	return zscores[idx] < -threshold
}

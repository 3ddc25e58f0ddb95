// Package backtester simulates rule-based strategies over historical bars
// and derives the performance metrics the gating and risk stages consume.
package backtester

import (
	"math"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
)

// annualizationFactor returns the number of periods per year for a timeframe.
// Unknown timeframes fall back to daily.
func annualizationFactor(timeframe string) float64 {
	switch timeframe {
	case "1d", "":
		return 252
	case "1h":
		return 1638 // 252 trading days * 6.5 market hours
	case "1w":
		return 52
	default:
		return 252
	}
}

// MetricsCalculator derives performance metrics from an equity curve.
// Statistics run on float64; results are converted to decimal for storage.
type MetricsCalculator struct{}

// NewMetricsCalculator creates a metrics calculator.
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes the metric set for one backtest. An equity curve with
// fewer than two points, or one yielding no returns, produces zero metrics.
func (mc *MetricsCalculator) Calculate(
	equityCurve []types.EquityPoint,
	initialCash decimal.Decimal,
	timeframe string,
	trades []types.Trade,
) types.BacktestMetrics {
	metrics := types.BacktestMetrics{
		Sharpe:      decimal.Zero,
		MaxDrawdown: decimal.Zero,
		TotalReturn: decimal.Zero,
		WinRate:     decimal.Zero,
		TotalTrades: len(trades),
	}

	if len(equityCurve) < 2 || initialCash.IsZero() {
		return metrics
	}

	finalEquity := equityCurve[len(equityCurve)-1].Equity
	metrics.TotalReturn = finalEquity.Sub(initialCash).Div(initialCash)

	returns := mc.periodReturns(equityCurve)
	if len(returns) > 0 {
		avg := mean(returns)
		std := popStdDev(returns)
		if std > 0 {
			metrics.Sharpe = decimal.NewFromFloat(avg / std * math.Sqrt(annualizationFactor(timeframe)))
		}
	}

	metrics.MaxDrawdown = decimal.NewFromFloat(maxDrawdown(equityCurve, initialCash))
	metrics.WinRate = winRate(trades)

	return metrics
}

// periodReturns derives period-over-period returns from the equity curve.
func (mc *MetricsCalculator) periodReturns(equityCurve []types.EquityPoint) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		ret := equityCurve[i].Equity.Sub(prev).Div(prev)
		returns = append(returns, ret.InexactFloat64())
	}
	return returns
}

// maxDrawdown computes the maximum peak-to-trough decline. The peak starts at
// initial cash so a curve that only falls still registers a drawdown.
func maxDrawdown(equityCurve []types.EquityPoint, initialCash decimal.Decimal) float64 {
	peak := initialCash.InexactFloat64()
	var maxDD float64

	for _, point := range equityCurve {
		equity := point.Equity.InexactFloat64()
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// winRate pairs buys with the following sell per symbol and counts profitable
// round trips.
func winRate(trades []types.Trade) decimal.Decimal {
	entries := make(map[string]decimal.Decimal)
	var wins, roundTrips int

	for _, trade := range trades {
		switch trade.Side {
		case types.OrderSideBuy:
			entries[trade.Symbol] = trade.Price
		case types.OrderSideSell:
			entry, ok := entries[trade.Symbol]
			if !ok {
				continue
			}
			roundTrips++
			if trade.Price.GreaterThan(entry) {
				wins++
			}
			delete(entries, trade.Symbol)
		}
	}

	if roundTrips == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(roundTrips)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// popStdDev is the population standard deviation.
func popStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

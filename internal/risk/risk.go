package risk

import "sort"

// Drawdown returns the current and maximum drawdown of a value series as
// fractions. Current drawdown measures the last value against the global
// peak; max drawdown is the largest decline from any running peak.
func Drawdown(values []float64) (current, max float64) {
	if len(values) < 2 {
		return 0, 0
	}

	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0, 0
	}
	current = (peak - values[len(values)-1]) / peak

	runningPeak := values[0]
	for _, v := range values[1:] {
		if v > runningPeak {
			runningPeak = v
			continue
		}
		if runningPeak > 0 {
			dd := (runningPeak - v) / runningPeak
			if dd > max {
				max = dd
			}
		}
	}
	return current, max
}

// HistoricalVaR estimates value at risk by historical simulation: the loss at
// the (1 - confidence) percentile of observed returns, in dollars. Fewer than
// 10 observations yields 0.
func HistoricalVaR(returns []float64, confidence, portfolioValue float64) float64 {
	if len(returns) < 10 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * (1.0 - confidence))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	varReturn := sorted[idx]
	if varReturn < 0 {
		varReturn = -varReturn
	}
	return varReturn * portfolioValue
}

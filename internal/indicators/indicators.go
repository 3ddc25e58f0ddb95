// Package indicators provides pure technical indicator functions consumed by
// the backtest engine. All functions return a series the same length as the
// input, with NaN where a value is undefined.
package indicators

import (
	"fmt"
	"math"

	"github.com/quantpipe/strategy-gate/pkg/types"
)

// SMA computes the simple moving average over the given window.
// The first window-1 values are NaN.
func SMA(values []float64, window int) []float64 {
	result := make([]float64, len(values))
	if window <= 0 || len(values) < window {
		for i := range result {
			result[i] = math.NaN()
		}
		return result
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i < window-1 {
			result[i] = math.NaN()
		} else {
			result[i] = sum / float64(window)
		}
	}
	return result
}

// EMA computes the exponential moving average. The first value is seeded with
// the SMA of the initial window; earlier values are NaN.
func EMA(values []float64, window int) []float64 {
	result := make([]float64, len(values))
	if window <= 0 || len(values) < window {
		for i := range result {
			result[i] = math.NaN()
		}
		return result
	}

	multiplier := 2.0 / float64(window+1)

	var seed float64
	for i := 0; i < window; i++ {
		result[i] = math.NaN()
		seed += values[i]
	}
	result[window-1] = seed / float64(window)

	for i := window; i < len(values); i++ {
		result[i] = (values[i]-result[i-1])*multiplier + result[i-1]
	}
	return result
}

// Returns computes simple period-over-period returns. The first value is NaN,
// as is any value following a zero price.
func Returns(values []float64) []float64 {
	result := make([]float64, len(values))
	if len(values) == 0 {
		return result
	}
	result[0] = math.NaN()
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			result[i] = (values[i] - values[i-1]) / values[i-1]
		} else {
			result[i] = math.NaN()
		}
	}
	return result
}

// ZScore standardizes each value against a rolling window mean and population
// standard deviation. Values where the window std is zero are 0, and the
// first window-1 values are NaN.
func ZScore(values []float64, window int) []float64 {
	result := make([]float64, len(values))
	if window <= 0 || len(values) < window {
		for i := range result {
			result[i] = math.NaN()
		}
		return result
	}

	for i := range values {
		if i < window-1 {
			result[i] = math.NaN()
			continue
		}

		slice := values[i-window+1 : i+1]
		var sum float64
		for _, v := range slice {
			sum += v
		}
		mean := sum / float64(window)

		var variance float64
		for _, v := range slice {
			diff := v - mean
			variance += diff * diff
		}
		std := math.Sqrt(variance / float64(window))

		if std > 0 {
			result[i] = (values[i] - mean) / std
		} else {
			result[i] = 0
		}
	}
	return result
}

// Evaluate computes a named indicator series over closing prices.
func Evaluate(name string, prices []float64, params types.RuleParams) ([]float64, error) {
	window := params.Window
	if window <= 0 {
		window = 20
	}

	switch name {
	case "sma":
		return SMA(prices, window), nil
	case "ema":
		return EMA(prices, window), nil
	case "returns":
		return Returns(prices), nil
	case "zscore":
		return ZScore(Returns(prices), window), nil
	default:
		return nil, fmt.Errorf("unknown indicator: %s", name)
	}
}

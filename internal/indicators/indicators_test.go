package indicators

import (
	"math"
	"testing"

	"github.com/quantpipe/strategy-gate/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	result := SMA(prices, 3)

	if len(result) != len(prices) {
		t.Fatalf("Expected length %d, got %d", len(prices), len(result))
	}

	if !math.IsNaN(result[0]) || !math.IsNaN(result[1]) {
		t.Error("First window-1 values should be NaN")
	}

	expected := []float64{2, 3, 4}
	for i, want := range expected {
		if !almostEqual(result[i+2], want) {
			t.Errorf("SMA[%d]: expected %f, got %f", i+2, want, result[i+2])
		}
	}
}

func TestSMAShortSeries(t *testing.T) {
	result := SMA([]float64{1, 2}, 5)
	for i, v := range result {
		if !math.IsNaN(v) {
			t.Errorf("SMA[%d] should be NaN for series shorter than window, got %f", i, v)
		}
	}
}

func TestEMA(t *testing.T) {
	prices := []float64{10, 10, 10, 10, 10}
	result := EMA(prices, 3)

	if !math.IsNaN(result[0]) || !math.IsNaN(result[1]) {
		t.Error("Values before the seed should be NaN")
	}

	// Constant series: EMA equals the constant from the seed onward
	for i := 2; i < len(result); i++ {
		if !almostEqual(result[i], 10) {
			t.Errorf("EMA[%d]: expected 10, got %f", i, result[i])
		}
	}

	// Seed is the SMA of the first window
	rising := []float64{1, 2, 3, 4}
	result = EMA(rising, 3)
	if !almostEqual(result[2], 2) {
		t.Errorf("EMA seed: expected 2, got %f", result[2])
	}
	// Next value: (4 - 2) * 0.5 + 2 = 3
	if !almostEqual(result[3], 3) {
		t.Errorf("EMA[3]: expected 3, got %f", result[3])
	}
}

func TestReturns(t *testing.T) {
	prices := []float64{100, 110, 99}
	result := Returns(prices)

	if !math.IsNaN(result[0]) {
		t.Error("First return should be NaN")
	}
	if !almostEqual(result[1], 0.10) {
		t.Errorf("Expected 0.10, got %f", result[1])
	}
	if !almostEqual(result[2], -0.10) {
		t.Errorf("Expected -0.10, got %f", result[2])
	}
}

func TestReturnsZeroPrice(t *testing.T) {
	result := Returns([]float64{0, 5})
	if !math.IsNaN(result[1]) {
		t.Errorf("Return after zero price should be NaN, got %f", result[1])
	}
}

func TestZScore(t *testing.T) {
	// Constant window has zero std: z-score is defined as 0
	result := ZScore([]float64{5, 5, 5, 5}, 3)
	if !math.IsNaN(result[0]) || !math.IsNaN(result[1]) {
		t.Error("First window-1 values should be NaN")
	}
	if result[2] != 0 || result[3] != 0 {
		t.Errorf("Z-score over constant window should be 0, got %f, %f", result[2], result[3])
	}

	// Window {1, 2, 3}: mean 2, population std sqrt(2/3)
	result = ZScore([]float64{1, 2, 3}, 3)
	want := (3.0 - 2.0) / math.Sqrt(2.0/3.0)
	if !almostEqual(result[2], want) {
		t.Errorf("Expected %f, got %f", want, result[2])
	}
}

func TestEvaluate(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}

	for _, name := range []string{"sma", "ema", "returns", "zscore"} {
		values, err := Evaluate(name, prices, types.RuleParams{Window: 3})
		if err != nil {
			t.Errorf("Evaluate(%s) failed: %v", name, err)
		}
		if len(values) != len(prices) {
			t.Errorf("Evaluate(%s): expected length %d, got %d", name, len(prices), len(values))
		}
	}

	if _, err := Evaluate("macd", prices, types.RuleParams{}); err == nil {
		t.Error("Expected error for unknown indicator")
	}
}

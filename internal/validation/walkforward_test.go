package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fakeBacktester records how it was invoked and returns canned metrics.
type fakeBacktester struct {
	calls   []map[string][]types.Bar
	sharpes []float64
}

func (f *fakeBacktester) Run(_ context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.BacktestResult, error) {
	f.calls = append(f.calls, barsBySymbol)
	sharpe := 1.0
	if len(f.sharpes) >= len(f.calls) {
		sharpe = f.sharpes[len(f.calls)-1]
	}
	var bars int
	for _, b := range barsBySymbol {
		bars += len(b)
	}
	return &types.BacktestResult{
		StrategyID: strategy.StrategyID,
		Metrics: types.BacktestMetrics{
			Sharpe:      decimal.NewFromFloat(sharpe),
			TotalReturn: decimal.NewFromFloat(sharpe / 10),
		},
		BarsProcessed: bars,
	}, nil
}

func barsOverDays(days int) []types.Bar {
	bars := make([]types.Bar, days)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		price := decimal.NewFromInt(100)
		bars[i] = types.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price, High: price, Low: price, Close: price,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func testStrategy() types.StrategySpec {
	return types.StrategySpec{StrategyID: "strat-1", Universe: []string{"AAPL"}}
}

func TestSplitDataPartition(t *testing.T) {
	bars := barsOverDays(100)
	splits, err := SplitData(map[string][]types.Bar{"AAPL": bars}, 0.7, 0.15, 0.15)
	if err != nil {
		t.Fatalf("SplitData failed: %v", err)
	}

	train := splits.Train["AAPL"]
	validation := splits.Validation["AAPL"]
	holdout := splits.Holdout["AAPL"]

	if len(train) != 70 || len(validation) != 15 || len(holdout) != 15 {
		t.Fatalf("Unexpected split sizes: %d/%d/%d", len(train), len(validation), len(holdout))
	}
	if len(train)+len(validation)+len(holdout) != len(bars) {
		t.Error("Splits should partition all bars")
	}

	// Chronological and non-overlapping
	if !train[len(train)-1].Timestamp.Before(validation[0].Timestamp) {
		t.Error("Train must end before validation begins")
	}
	if !validation[len(validation)-1].Timestamp.Before(holdout[0].Timestamp) {
		t.Error("Validation must end before holdout begins")
	}
}

func TestSplitDataBadFractions(t *testing.T) {
	_, err := SplitData(map[string][]types.Bar{"AAPL": barsOverDays(10)}, 0.5, 0.2, 0.2)
	if !errors.Is(err, ErrBadSplit) {
		t.Fatalf("Expected ErrBadSplit, got %v", err)
	}
}

func TestWindowsExpanding(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 100)

	windows := Windows(start, end, types.ValidationConfig{
		Expanding:    true,
		StepSize:     10,
		MinTrainDays: 30,
	})

	if len(windows) == 0 {
		t.Fatal("Expected windows over a 100 day range")
	}
	for i, w := range windows {
		if !w.TrainStart.Equal(start) {
			t.Errorf("Window %d: expanding windows train from range start", i)
		}
		if !w.TrainEnd.Equal(w.TestStart) {
			t.Errorf("Window %d: training must end where testing begins", i)
		}
		trainDays := int(w.TrainEnd.Sub(w.TrainStart).Hours() / 24)
		if trainDays < 30 {
			t.Errorf("Window %d: training span %d below minimum", i, trainDays)
		}
		if !w.TestEnd.After(w.TestStart) {
			t.Errorf("Window %d: empty test span", i)
		}
	}
}

func TestWindowsShortRange(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	if windows := Windows(start, end, types.DefaultValidationConfig()); len(windows) != 0 {
		t.Errorf("A 10 day range cannot satisfy the minimum training span, got %d windows", len(windows))
	}
}

func TestRunWalkForwardDisabled(t *testing.T) {
	engine := &fakeBacktester{}
	validator := NewValidator(zap.NewNop(), engine, types.ValidationConfig{WalkForward: false})

	result, err := validator.Run(context.Background(), testStrategy(), map[string][]types.Bar{"AAPL": barsOverDays(50)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("Expected a single backtest, got %d", len(engine.calls))
	}
	if len(result.Windows) != 1 {
		t.Errorf("Expected 1 window, got %d", len(result.Windows))
	}
	if !result.AggregateMetrics.Sharpe.Equal(result.TrainMetrics.Sharpe) {
		t.Error("Single backtest should fill all metric fields identically")
	}
}

func TestRunSplitsMode(t *testing.T) {
	engine := &fakeBacktester{sharpes: []float64{2.0, 1.0, 0.5}}
	validator := NewValidator(zap.NewNop(), engine, types.ValidationConfig{
		WalkForward:     true,
		TrainSplit:      0.7,
		ValidationSplit: 0.15,
		HoldoutSplit:    0.15,
	})

	result, err := validator.Run(context.Background(), testStrategy(), map[string][]types.Bar{"AAPL": barsOverDays(100)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(engine.calls) != 3 {
		t.Fatalf("Expected train, validation and holdout backtests, got %d", len(engine.calls))
	}
	if result.HoldoutMetrics == nil {
		t.Fatal("Expected holdout metrics")
	}
	if !result.TrainMetrics.Sharpe.Equal(decimal.NewFromFloat(2.0)) {
		t.Errorf("Expected train sharpe 2.0, got %s", result.TrainMetrics.Sharpe)
	}
	if !result.ValidationMetrics.Sharpe.Equal(decimal.NewFromFloat(1.0)) {
		t.Errorf("Expected validation sharpe 1.0, got %s", result.ValidationMetrics.Sharpe)
	}

	// Aggregate is the unweighted mean over all three splits
	want := decimal.NewFromFloat(3.5).Div(decimal.NewFromInt(3))
	if !result.AggregateMetrics.Sharpe.Equal(want) {
		t.Errorf("Expected aggregate sharpe %s, got %s", want, result.AggregateMetrics.Sharpe)
	}

	// All three splits returned positive, so every window counts as robust
	if !result.Robustness.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected robustness 1, got %s", result.Robustness)
	}
}

func TestRunRobustnessCountsPositiveWindows(t *testing.T) {
	engine := &fakeBacktester{sharpes: []float64{2.0, -1.0}}
	validator := NewValidator(zap.NewNop(), engine, types.ValidationConfig{
		WalkForward:     true,
		TrainSplit:      0.8,
		ValidationSplit: 0.2,
	})

	result, err := validator.Run(context.Background(), testStrategy(), map[string][]types.Bar{"AAPL": barsOverDays(100)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := decimal.NewFromInt(1).Div(decimal.NewFromInt(2))
	if !result.Robustness.Equal(want) {
		t.Errorf("Expected robustness %s with one positive window of two, got %s", want, result.Robustness)
	}
}

func TestRunWindowMode(t *testing.T) {
	engine := &fakeBacktester{}
	validator := NewValidator(zap.NewNop(), engine, types.ValidationConfig{
		WalkForward:  true,
		Expanding:    true,
		StepSize:     15,
		MinTrainDays: 30,
	})

	result, err := validator.Run(context.Background(), testStrategy(), map[string][]types.Bar{"AAPL": barsOverDays(120)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Windows) < 2 {
		t.Fatalf("Expected multiple walk-forward windows, got %d", len(result.Windows))
	}

	// Each window backtests only its test slice, never the whole range
	for i, call := range engine.calls {
		if len(call["AAPL"]) >= 120 {
			t.Errorf("Call %d received the full data range", i)
		}
	}
	if !result.TrainMetrics.Sharpe.Equal(result.Windows[0].Metrics.Sharpe) {
		t.Error("Train metrics should come from the first window")
	}
	if !result.ValidationMetrics.Sharpe.Equal(result.Windows[len(result.Windows)-1].Metrics.Sharpe) {
		t.Error("Validation metrics should come from the last window")
	}
}

func TestRunWindowModeEmptyData(t *testing.T) {
	engine := &fakeBacktester{}
	validator := NewValidator(zap.NewNop(), engine, types.DefaultValidationConfig())

	result, err := validator.Run(context.Background(), testStrategy(), map[string][]types.Bar{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Windows) != 1 {
		t.Errorf("Empty data should fall back to a single backtest, got %d windows", len(result.Windows))
	}
}

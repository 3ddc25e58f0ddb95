package scenario

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fakeBacktester returns fixed metrics and records the data it saw.
type fakeBacktester struct {
	metrics types.BacktestMetrics
	calls   []map[string][]types.Bar
}

func (f *fakeBacktester) Run(_ context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.BacktestResult, error) {
	f.calls = append(f.calls, barsBySymbol)
	return &types.BacktestResult{StrategyID: strategy.StrategyID, Metrics: f.metrics}, nil
}

func metricsOf(sharpe, maxDD, totalReturn float64) types.BacktestMetrics {
	return types.BacktestMetrics{
		Sharpe:      decimal.NewFromFloat(sharpe),
		MaxDrawdown: decimal.NewFromFloat(maxDD),
		TotalReturn: decimal.NewFromFloat(totalReturn),
	}
}

func barsInRange(start time.Time, days int) []types.Bar {
	bars := make([]types.Bar, days)
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

func crisisScenario() types.Scenario {
	return types.Scenario{
		ScenarioID: "test_crisis",
		Name:       "Test Crisis",
		StartDate:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC),
		Tags:       []string{"crisis"},
	}
}

func TestEvaluatePassing(t *testing.T) {
	engine := &fakeBacktester{metrics: metricsOf(1.2, 0.1, 0.05)}
	gating := NewGatingEngine(zap.NewNop(), engine)

	data := map[string][]types.Bar{"AAPL": barsInRange(crisisScenario().StartDate, 60)}
	result, err := gating.Evaluate(context.Background(), types.StrategySpec{StrategyID: "s1"},
		[]types.Scenario{crisisScenario()}, data, DefaultGatingRules())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !result.OverallPassed {
		t.Fatalf("Expected pass, got violations %v", result.BlockingViolations)
	}
	if len(result.BlockingViolations) != 0 {
		t.Errorf("Expected no blocking violations, got %v", result.BlockingViolations)
	}
}

func TestEvaluateLowSharpeFails(t *testing.T) {
	engine := &fakeBacktester{metrics: metricsOf(0.1, 0.1, 0.05)}
	gating := NewGatingEngine(zap.NewNop(), engine)

	data := map[string][]types.Bar{"AAPL": barsInRange(crisisScenario().StartDate, 60)}
	result, err := gating.Evaluate(context.Background(), types.StrategySpec{StrategyID: "s1"},
		[]types.Scenario{crisisScenario()}, data, DefaultGatingRules())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.OverallPassed {
		t.Fatal("Low sharpe should fail the gate")
	}
	if len(result.BlockingViolations) == 0 {
		t.Fatal("Expected blocking violations")
	}
	if !strings.Contains(result.BlockingViolations[0], "sharpe") {
		t.Errorf("Violation should name the metric: %s", result.BlockingViolations[0])
	}
}

func TestEvaluateNoDataFails(t *testing.T) {
	engine := &fakeBacktester{metrics: metricsOf(2.0, 0.05, 0.2)}
	gating := NewGatingEngine(zap.NewNop(), engine)

	// Data entirely outside the scenario window
	data := map[string][]types.Bar{
		"AAPL": barsInRange(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 60),
	}
	result, err := gating.Evaluate(context.Background(), types.StrategySpec{StrategyID: "s1"},
		[]types.Scenario{crisisScenario()}, data, DefaultGatingRules())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.OverallPassed {
		t.Fatal("Scenario with no data must fail, not be skipped")
	}
	if len(engine.calls) != 0 {
		t.Error("No backtest should run without scenario data")
	}
	if !strings.Contains(result.BlockingViolations[0], "No data available") {
		t.Errorf("Expected no-data violation, got %s", result.BlockingViolations[0])
	}
}

func TestEvaluateDefaultsWhenNil(t *testing.T) {
	engine := &fakeBacktester{metrics: metricsOf(1.2, 0.1, 0.05)}
	gating := NewGatingEngine(zap.NewNop(), engine)

	result, err := gating.Evaluate(context.Background(), types.StrategySpec{StrategyID: "s1"},
		nil, map[string][]types.Bar{}, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.ScenarioResults) != len(Predefined()) {
		t.Errorf("Nil scenarios should use the predefined set, got %d results", len(result.ScenarioResults))
	}
}

func TestCheckRuleTagFilter(t *testing.T) {
	rule := types.GatingRule{
		Metric:       "max_drawdown",
		Operator:     "<",
		Threshold:    0.5,
		ScenarioTags: []string{"crisis"},
	}
	calm := types.Scenario{ScenarioID: "calm", Name: "Calm", Tags: []string{"bull_market"}}

	// Drawdown violates the threshold, but the rule does not apply to this scenario
	if _, violated := checkRule(rule, calm, metricsOf(1.0, 0.9, 0.1)); violated {
		t.Error("Rule with non-matching tags should not apply")
	}
	if _, violated := checkRule(rule, crisisScenario(), metricsOf(1.0, 0.9, 0.1)); !violated {
		t.Error("Rule should apply to a scenario sharing a tag")
	}
}

func TestCheckRuleOperators(t *testing.T) {
	cases := []struct {
		operator  string
		threshold float64
		value     float64
		violated  bool
	}{
		{"<", 0.5, 0.4, false},
		{"<", 0.5, 0.5, true},
		{"<=", 0.5, 0.5, false},
		{">", 0.5, 0.6, false},
		{">", 0.5, 0.5, true},
		{">=", 0.5, 0.4, true},
		{"==", 0.5, 0.50005, false},
		{"==", 0.5, 0.51, true},
	}

	scenario := crisisScenario()
	for _, tc := range cases {
		rule := types.GatingRule{Metric: "sharpe", Operator: tc.operator, Threshold: tc.threshold}
		metrics := metricsOf(tc.value, 0, 0)
		if _, violated := checkRule(rule, scenario, metrics); violated != tc.violated {
			t.Errorf("sharpe=%v %s %v: expected violated=%v", tc.value, tc.operator, tc.threshold, tc.violated)
		}
	}
}

func TestListByTags(t *testing.T) {
	crisis := List([]string{"crisis"})
	if len(crisis) != 2 {
		t.Errorf("Expected 2 crisis scenarios, got %d", len(crisis))
	}
	if len(List(nil)) != 3 {
		t.Error("Nil tags should list all predefined scenarios")
	}
	if _, ok := Get("2008_crisis"); !ok {
		t.Error("Expected 2008_crisis to be predefined")
	}
}

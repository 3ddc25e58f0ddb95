package scenario

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"go.uber.org/zap"
)

// equalityTolerance bounds the "==" operator on float metrics.
const equalityTolerance = 0.0001

// Backtester runs one backtest over the supplied bars.
type Backtester interface {
	Run(ctx context.Context, strategy types.StrategySpec, barsBySymbol map[string][]types.Bar) (*types.BacktestResult, error)
}

// GatingEngine backtests a strategy across crisis scenarios and applies
// metric thresholds to decide whether it may trade
type GatingEngine struct {
	logger *zap.Logger
	engine Backtester
}

// NewGatingEngine creates a gating engine.
func NewGatingEngine(logger *zap.Logger, engine Backtester) *GatingEngine {
	return &GatingEngine{
		logger: logger.Named("gating"),
		engine: engine,
	}
}

// Evaluate backtests the strategy on each scenario's date window and applies
// the gating rules. Nil scenarios or rules fall back to the predefined sets.
// A scenario with no data in its window fails with a violation rather than
// being skipped. The strategy passes overall only if every scenario passes.
func (g *GatingEngine) Evaluate(
	ctx context.Context,
	strategy types.StrategySpec,
	scenarios []types.Scenario,
	barsBySymbol map[string][]types.Bar,
	rules []types.GatingRule,
) (*types.GatingResult, error) {
	if scenarios == nil {
		scenarios = Predefined()
	}
	if rules == nil {
		rules = DefaultGatingRules()
	}

	g.logger.Info("Evaluating gates",
		zap.String("strategy_id", strategy.StrategyID),
		zap.Int("scenarios", len(scenarios)),
		zap.Int("rules", len(rules)))

	results := make([]types.ScenarioResult, 0, len(scenarios))
	var blocking []string

	for _, scenario := range scenarios {
		result, err := g.evaluateScenario(ctx, strategy, scenario, barsBySymbol, rules)
		if err != nil {
			return nil, err
		}
		if !result.Passed {
			blocking = append(blocking, result.Violations...)
		}
		results = append(results, *result)
	}

	overallPassed := true
	for _, r := range results {
		if !r.Passed {
			overallPassed = false
			break
		}
	}

	g.logger.Info("Gating evaluation complete",
		zap.String("strategy_id", strategy.StrategyID),
		zap.Bool("overall_passed", overallPassed),
		zap.Int("blocking_violations", len(blocking)))

	return &types.GatingResult{
		Passed:             overallPassed,
		ScenarioResults:    results,
		OverallPassed:      overallPassed,
		BlockingViolations: blocking,
	}, nil
}

func (g *GatingEngine) evaluateScenario(
	ctx context.Context,
	strategy types.StrategySpec,
	scenario types.Scenario,
	barsBySymbol map[string][]types.Bar,
	rules []types.GatingRule,
) (*types.ScenarioResult, error) {
	scenarioData := filterScenarioRange(barsBySymbol, scenario.StartDate, scenario.EndDate)

	if len(scenarioData) == 0 {
		g.logger.Warn("No data for scenario",
			zap.String("scenario_id", scenario.ScenarioID))
		return &types.ScenarioResult{
			Scenario:   scenario,
			Passed:     false,
			Violations: []string{"No data available for scenario date range"},
		}, nil
	}

	backtest, err := g.engine.Run(ctx, strategy, scenarioData)
	if err != nil {
		return nil, fmt.Errorf("scenario %s backtest: %w", scenario.ScenarioID, err)
	}

	var violations []string
	for _, rule := range rules {
		if msg, violated := checkRule(rule, scenario, backtest.Metrics); violated {
			violations = append(violations, msg)
		}
	}

	return &types.ScenarioResult{
		Scenario:   scenario,
		Backtest:   backtest,
		Passed:     len(violations) == 0,
		Violations: violations,
	}, nil
}

// checkRule evaluates one gating rule against scenario metrics. Rules with
// tags apply only to scenarios sharing at least one tag. Unknown metrics or
// operators never gate.
func checkRule(rule types.GatingRule, scenario types.Scenario, metrics types.BacktestMetrics) (string, bool) {
	if len(rule.ScenarioTags) > 0 && !hasAnyTag(scenario.Tags, rule.ScenarioTags) {
		return "", false
	}

	var value float64
	switch rule.Metric {
	case "max_drawdown":
		value = metrics.MaxDrawdown.InexactFloat64()
	case "sharpe":
		value = metrics.Sharpe.InexactFloat64()
	case "total_return":
		value = metrics.TotalReturn.InexactFloat64()
	default:
		return "", false
	}

	var violated bool
	switch rule.Operator {
	case "<":
		violated = value >= rule.Threshold
	case "<=":
		violated = value > rule.Threshold
	case ">":
		violated = value <= rule.Threshold
	case ">=":
		violated = value < rule.Threshold
	case "==":
		violated = math.Abs(value-rule.Threshold) > equalityTolerance
	default:
		return "", false
	}

	if !violated {
		return "", false
	}
	return fmt.Sprintf("Scenario %s: %s = %.4f violates rule %s %s %v",
		scenario.Name, rule.Metric, value, rule.Metric, rule.Operator, rule.Threshold), true
}

func filterScenarioRange(barsBySymbol map[string][]types.Bar, start, end time.Time) map[string][]types.Bar {
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

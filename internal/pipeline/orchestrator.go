// Package pipeline orchestrates the full strategy evaluation flow: data
// quality screening, backtest, walk-forward validation, scenario gating, risk
// assessment, order generation, and broker execution. Downstream stage
// failures never erase results already computed upstream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantpipe/strategy-gate/internal/backtester"
	"github.com/quantpipe/strategy-gate/internal/broker"
	"github.com/quantpipe/strategy-gate/internal/data"
	"github.com/quantpipe/strategy-gate/internal/orders"
	"github.com/quantpipe/strategy-gate/internal/risk"
	"github.com/quantpipe/strategy-gate/internal/scenario"
	"github.com/quantpipe/strategy-gate/internal/telemetry"
	"github.com/quantpipe/strategy-gate/internal/validation"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrKillSwitchActive is returned when a new run is requested while the kill
// switch is tripped. No stage executes.
var ErrKillSwitchActive = errors.New("kill switch is active")

// Persister stores completed run results. Persistence is best effort: a save
// failure is logged and never fails the run.
type Persister interface {
	SaveResult(ctx context.Context, result *types.CandidateResult) error
}

// Config controls orchestrator behavior. Scenarios and GatingRules override
// the predefined sets when non-nil.
type Config struct {
	Scenarios   []types.Scenario
	GatingRules []types.GatingRule

	// ExecutionEnabled is the environment safety guard. When false, execution
	// requests are recorded as an execution error instead of reaching a broker.
	ExecutionEnabled bool
	VerifyFills      bool
}

// Deps are the stage implementations the orchestrator wires together.
// Persister and Metrics are optional.
type Deps struct {
	Quality   *data.Checker
	Engine    *backtester.Engine
	Validator *validation.Validator
	Gating    *scenario.GatingEngine
	Risk      *risk.Engine
	Orders    *orders.Generator
	Brokers   *broker.Manager
	Persister Persister
	Metrics   *telemetry.Metrics
}

// Orchestrator runs strategy candidates through the evaluation pipeline
type Orchestrator struct {
	logger     *zap.Logger
	cfg        Config
	deps       Deps
	killSwitch *KillSwitch
	runs       *RunRegistry
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(logger *zap.Logger, cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		logger:     logger.Named("pipeline"),
		cfg:        cfg,
		deps:       deps,
		killSwitch: NewKillSwitch(logger),
		runs:       NewRunRegistry(),
	}
	if deps.Metrics != nil && deps.Brokers != nil {
		deps.Brokers.OnFailover(func(from, to string) {
			deps.Metrics.BrokerFailovers.Inc()
		})
	}
	return o
}

// KillSwitch returns the orchestrator's kill switch.
func (o *Orchestrator) KillSwitch() *KillSwitch { return o.killSwitch }

// ActiveRuns returns a snapshot of in-flight runs.
func (o *Orchestrator) ActiveRuns() []RunInfo { return o.runs.Snapshot() }

// EvaluateAndExecute runs one strategy candidate through every stage. With
// shouldExecute set, risk-approved orders are submitted to the selected
// broker; execution failures are recorded on the result, never returned as an
// error, so upstream results survive. Fails fast with ErrKillSwitchActive
// when the kill switch is tripped.
func (o *Orchestrator) EvaluateAndExecute(
	ctx context.Context,
	strategy types.StrategySpec,
	barsBySymbol map[string][]types.Bar,
	portfolio types.PortfolioState,
	shouldExecute bool,
) (*types.CandidateResult, error) {
	if o.killSwitch.Active() {
		return nil, fmt.Errorf("%w: %s", ErrKillSwitchActive, o.killSwitch.State().Reason)
	}

	runID := uuid.New().String()
	result := &types.CandidateResult{
		RunID:     runID,
		Strategy:  strategy,
		Status:    types.CandidateStatusEvaluated,
		StartedAt: time.Now().UTC(),
	}

	o.runs.Add(runID, strategy.StrategyID)
	defer o.runs.Remove(runID)

	if m := o.deps.Metrics; m != nil {
		m.RunsStarted.Inc()
		m.ActiveRuns.Inc()
		defer func() {
			m.ActiveRuns.Dec()
			m.RunDuration.Observe(time.Since(result.StartedAt).Seconds())
			m.RunsCompleted.WithLabelValues(string(result.Status)).Inc()
		}()
	}
	defer func() {
		result.CompletedAt = time.Now().UTC()
		o.persist(ctx, result)
	}()

	o.logger.Info("Run started",
		zap.String("run_id", runID),
		zap.String("strategy_id", strategy.StrategyID),
		zap.Bool("execute", shouldExecute))

	// Stage 1: data quality
	o.runs.SetStage(runID, "quality")
	result.Quality = o.deps.Quality.ValidateUniverse(barsBySymbol)
	if result.Quality.OverallStatus == types.QualityStatusFail {
		result.Status = types.CandidateStatusRejectedQuality
		o.logger.Warn("Run rejected on data quality",
			zap.String("run_id", runID),
			zap.Int("issues", len(result.Quality.Issues)))
		return result, nil
	}

	// Stage 2: full-range backtest
	o.runs.SetStage(runID, "backtest")
	backtest, err := o.deps.Engine.Run(ctx, strategy, barsBySymbol)
	if err != nil {
		return o.fail(result, "backtest", err)
	}
	result.Backtest = backtest

	// Stage 3: walk-forward validation
	o.runs.SetStage(runID, "validation")
	wf, err := o.deps.Validator.Run(ctx, strategy, barsBySymbol)
	if err != nil {
		return o.fail(result, "validation", err)
	}
	result.Validation = wf

	// Stage 4: scenario gating
	o.runs.SetStage(runID, "gating")
	gating, err := o.deps.Gating.Evaluate(ctx, strategy, o.cfg.Scenarios, barsBySymbol, o.cfg.GatingRules)
	if err != nil {
		return o.fail(result, "gating", err)
	}
	result.Gating = gating
	if !gating.OverallPassed {
		result.Status = types.CandidateStatusRejectedGate
		if m := o.deps.Metrics; m != nil {
			m.GatingRejections.Inc()
		}
		o.logger.Warn("Run rejected by scenario gating",
			zap.String("run_id", runID),
			zap.Strings("violations", gating.BlockingViolations))
		return result, nil
	}

	// Stage 5: order generation and risk assessment
	o.runs.SetStage(runID, "risk")
	latestPrices := latestCloses(barsBySymbol)
	proposed := o.deps.Orders.Generate(strategy, portfolio, latestPrices, backtest.Trades)
	assessment := o.deps.Risk.Assess(portfolio, proposed, latestPrices, equityFloats(backtest.EquityCurve))
	result.Risk = &assessment

	if len(proposed) > 0 && len(assessment.ApprovedTrades) == 0 {
		result.Status = types.CandidateStatusRejectedRisk
		if m := o.deps.Metrics; m != nil {
			m.RiskRejections.Inc()
		}
		o.logger.Warn("Run rejected by risk engine",
			zap.String("run_id", runID),
			zap.Strings("violations", assessment.Violations))
		return result, nil
	}

	if !shouldExecute || len(assessment.ApprovedTrades) == 0 {
		return result, nil
	}

	// Stage 6: execution
	o.runs.SetStage(runID, "execution")
	o.execute(ctx, result, assessment.ApprovedTrades)
	return result, nil
}

// execute submits approved orders, recording failures on the result.
func (o *Orchestrator) execute(ctx context.Context, result *types.CandidateResult, approved []types.Order) {
	if !o.cfg.ExecutionEnabled {
		result.ExecutionError = "execution blocked by environment safety guard"
		o.stageFailure("execution_guard")
		o.logger.Warn("Execution requested but the environment guard is off",
			zap.String("run_id", result.RunID))
		return
	}
	if o.killSwitch.Active() {
		result.ExecutionError = fmt.Sprintf("kill switch activated during run: %s",
			o.killSwitch.State().Reason)
		o.stageFailure("execution")
		return
	}

	b, err := o.deps.Brokers.GetBroker(ctx, false)
	if err != nil {
		result.ExecutionError = err.Error()
		o.stageFailure("broker")
		o.logger.Error("No broker available for execution",
			zap.String("run_id", result.RunID),
			zap.Error(err))
		return
	}

	if m := o.deps.Metrics; m != nil {
		m.OrdersSubmitted.Add(float64(len(approved)))
	}

	fills, err := b.ExecuteOrders(ctx, approved, o.cfg.VerifyFills)
	result.ExecutionFills = fills
	if err != nil {
		result.ExecutionError = err.Error()
		o.stageFailure("execution")
	}
	if m := o.deps.Metrics; m != nil {
		m.OrdersFilled.Add(float64(len(fills)))
	}
	if len(fills) > 0 {
		result.Status = types.CandidateStatusExecuted
	}

	o.logger.Info("Execution complete",
		zap.String("run_id", result.RunID),
		zap.String("broker", b.Name()),
		zap.Int("orders", len(approved)),
		zap.Int("fills", len(fills)))
}

// CancelAllOrders cancels every open order on the current broker. Available
// while the kill switch is active.
func (o *Orchestrator) CancelAllOrders(ctx context.Context) (*broker.CancelResult, error) {
	b, err := o.deps.Brokers.GetBroker(ctx, false)
	if err != nil {
		return nil, err
	}
	canceler, ok := b.(broker.Canceler)
	if !ok {
		return nil, fmt.Errorf("broker %s does not support cancellation", b.Name())
	}
	return canceler.CancelAll(ctx)
}

// fail marks the run errored while keeping every upstream result.
func (o *Orchestrator) fail(result *types.CandidateResult, stage string, err error) (*types.CandidateResult, error) {
	result.Status = types.CandidateStatusError
	result.ExecutionError = err.Error()
	o.stageFailure(stage)
	o.logger.Error("Pipeline stage failed",
		zap.String("run_id", result.RunID),
		zap.String("stage", stage),
		zap.Error(err))
	return result, fmt.Errorf("%s stage: %w", stage, err)
}

func (o *Orchestrator) stageFailure(stage string) {
	if m := o.deps.Metrics; m != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (o *Orchestrator) persist(ctx context.Context, result *types.CandidateResult) {
	if o.deps.Persister == nil {
		return
	}
	if err := o.deps.Persister.SaveResult(ctx, result); err != nil {
		o.logger.Warn("Failed to persist run result",
			zap.String("run_id", result.RunID),
			zap.Error(err))
	}
}

// latestCloses maps each symbol to its most recent bar close.
func latestCloses(barsBySymbol map[string][]types.Bar) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(barsBySymbol))
	for symbol, bars := range barsBySymbol {
		var latest time.Time
		for _, bar := range bars {
			if bar.Timestamp.After(latest) || latest.IsZero() {
				latest = bar.Timestamp
				prices[symbol] = bar.Close
			}
		}
	}
	return prices
}

func equityFloats(curve []types.EquityPoint) []float64 {
	values := make([]float64, len(curve))
	for i, point := range curve {
		values[i] = point.Equity.InexactFloat64()
	}
	return values
}

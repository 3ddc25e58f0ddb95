// Package types provides shared type definitions for the strategy gate pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// RuleKind distinguishes entry rules from exit rules
type RuleKind string

const (
	RuleKindEntry RuleKind = "entry"
	RuleKindExit  RuleKind = "exit"
)

// RuleType identifies the evaluation algorithm of a strategy rule
type RuleType string

const (
	RuleTypeSignal        RuleType = "signal"
	RuleTypeCrossover     RuleType = "crossover"
	RuleTypeMomentum      RuleType = "momentum"
	RuleTypeMeanReversion RuleType = "mean_reversion"
)

// RuleParams holds the numeric parameters of a strategy rule. Zero values
// fall back to the evaluator's defaults.
type RuleParams struct {
	Window          int     `json:"window,omitempty"`
	FastWindow      int     `json:"fastWindow,omitempty"`
	SlowWindow      int     `json:"slowWindow,omitempty"`
	Lookback        int     `json:"lookback,omitempty"`
	Threshold       float64 `json:"threshold,omitempty"`
	ReturnThreshold float64 `json:"returnThreshold,omitempty"`
	Direction       string  `json:"direction,omitempty"` // "above" or "below"
}

// StrategyRule is one condition of a strategy. All entry rules must hold to
// open a position; any exit rule holding closes it.
type StrategyRule struct {
	Kind      RuleKind   `json:"kind"`
	Type      RuleType   `json:"type"`
	Indicator string     `json:"indicator"`
	Params    RuleParams `json:"params"`
}

// StrategyParams holds position sizing and timeframe settings.
type StrategyParams struct {
	PositionSizing string  `json:"positionSizing"` // "fixed_fraction" or "fixed_size"
	Fraction       float64 `json:"fraction,omitempty"`
	Timeframe      string  `json:"timeframe,omitempty"` // "1d", "1h", "1w"
}

// StrategySpec describes a candidate strategy. It is created upstream and
// treated as read-only by the pipeline.
type StrategySpec struct {
	StrategyID string         `json:"strategyId"`
	Name       string         `json:"name,omitempty"`
	Universe   []string       `json:"universe"`
	Rules      []StrategyRule `json:"rules"`
	Params     StrategyParams `json:"params"`
}

// Bar represents a single OHLCV candlestick
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Trade represents a simulated fill produced by the backtester
type Trade struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Reason    string          `json:"reason,omitempty"`
}

// EquityPoint is one point on the simulated equity curve
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// BacktestMetrics summarizes backtest performance. Derived once, never mutated.
type BacktestMetrics struct {
	Sharpe      decimal.Decimal `json:"sharpe"`
	MaxDrawdown decimal.Decimal `json:"maxDrawdown"`
	TotalReturn decimal.Decimal `json:"totalReturn"`
	WinRate     decimal.Decimal `json:"winRate"`
	TotalTrades int             `json:"totalTrades"`
}

// BacktestResult contains the trade log and metrics of one backtest run
type BacktestResult struct {
	StrategyID    string          `json:"strategyId"`
	Symbol        string          `json:"symbol"`
	Metrics       BacktestMetrics `json:"metrics"`
	Trades        []Trade         `json:"trades"`
	EquityCurve   []EquityPoint   `json:"equityCurve"`
	BarsProcessed int             `json:"barsProcessed"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// WalkForwardResult aggregates per-window backtest metrics. The aggregate is
// an unweighted mean across windows; Robustness is the share of windows with
// a positive total return.
type WalkForwardResult struct {
	Windows           []BacktestResult `json:"windows"`
	AggregateMetrics  BacktestMetrics  `json:"aggregateMetrics"`
	TrainMetrics      BacktestMetrics  `json:"trainMetrics"`
	ValidationMetrics BacktestMetrics  `json:"validationMetrics"`
	HoldoutMetrics    *BacktestMetrics `json:"holdoutMetrics,omitempty"`
	Robustness        decimal.Decimal  `json:"robustness"`
}

// Scenario is a fixed historical window used for crisis gating
type Scenario struct {
	ScenarioID  string    `json:"scenarioId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Tags        []string  `json:"tags"`
}

// GatingRule is a pass/fail threshold on a backtest metric. A rule with no
// tags applies to every scenario.
type GatingRule struct {
	Metric       string   `json:"metric"`   // "max_drawdown", "sharpe", "total_return"
	Operator     string   `json:"operator"` // "<", "<=", ">", ">=", "=="
	Threshold    float64  `json:"threshold"`
	ScenarioTags []string `json:"scenarioTags,omitempty"`
}

// ScenarioResult is the gating outcome for one scenario
type ScenarioResult struct {
	Scenario   Scenario        `json:"scenario"`
	Backtest   *BacktestResult `json:"backtest"`
	Passed     bool            `json:"passed"`
	Violations []string        `json:"violations"`
}

// GatingResult is the outcome of scenario gating. OverallPassed is true iff
// every scenario passed every applicable rule.
type GatingResult struct {
	Passed             bool             `json:"passed"`
	ScenarioResults    []ScenarioResult `json:"scenarioResults"`
	OverallPassed      bool             `json:"overallPassed"`
	BlockingViolations []string         `json:"blockingViolations"`
}

// PortfolioPosition is one holding in a portfolio snapshot
type PortfolioPosition struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
}

// PortfolioState is a point-in-time portfolio snapshot supplied by the broker
// layer or a synthetic default. It is never held as global pipeline state.
type PortfolioState struct {
	Cash      decimal.Decimal     `json:"cash"`
	Positions []PortfolioPosition `json:"positions"`
}

// Value returns cash plus mark-to-market position value using the supplied
// prices. Positions with no known price contribute nothing.
func (p PortfolioState) Value(latestPrices map[string]decimal.Decimal) decimal.Decimal {
	total := p.Cash
	for _, pos := range p.Positions {
		if price, ok := latestPrices[pos.Symbol]; ok {
			total = total.Add(pos.Quantity.Mul(price))
		}
	}
	return total
}

// Order is a proposed trade, produced and consumed within one pipeline run
type Order struct {
	ClientOrderID string           `json:"clientOrderId"`
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Type          OrderType        `json:"type"`
	LimitPrice    *decimal.Decimal `json:"limitPrice,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// RiskLevel grades a risk assessment
type RiskLevel string

const (
	RiskLevelSafe    RiskLevel = "safe"
	RiskLevelWarning RiskLevel = "warning"
	RiskLevelBlock   RiskLevel = "block"
)

// RiskAssessment is the outcome of deterministic risk checks. Each proposed
// order is either wholly approved or wholly rejected.
type RiskAssessment struct {
	ApprovedTrades  []Order         `json:"approvedTrades"`
	RejectedTrades  []Order         `json:"rejectedTrades"`
	Violations      []string        `json:"violations"`
	Warnings        []string        `json:"warnings,omitempty"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	RiskScore       decimal.Decimal `json:"riskScore"`
	CurrentDrawdown decimal.Decimal `json:"currentDrawdown"`
	DrawdownBlocked bool            `json:"drawdownBlocked"`
}

// Fill records a confirmed broker execution. One fill per order, or zero on
// failure.
type Fill struct {
	FillID    string          `json:"fillId"`
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// QualityStatus is the overall outcome of a data quality check
type QualityStatus string

const (
	QualityStatusPass    QualityStatus = "pass"
	QualityStatusWarning QualityStatus = "warning"
	QualityStatusFail    QualityStatus = "fail"
)

// IssueSeverity grades a single data quality issue
type IssueSeverity string

const (
	IssueSeverityInfo    IssueSeverity = "info"
	IssueSeverityWarning IssueSeverity = "warning"
	IssueSeverityError   IssueSeverity = "error"
)

// QualityIssue describes one data quality finding
type QualityIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Check       string        `json:"check"`
	Symbol      string        `json:"symbol,omitempty"`
	Description string        `json:"description"`
	BarIndex    int           `json:"barIndex,omitempty"`
	Timestamp   time.Time     `json:"timestamp,omitempty"`
}

// QualityReport summarizes data quality assessment. It is advisory: callers
// decide whether to proceed on warning or fail.
type QualityReport struct {
	OverallStatus   QualityStatus  `json:"overallStatus"`
	ChecksPerformed []string       `json:"checksPerformed"`
	Issues          []QualityIssue `json:"issues"`
	GapCount        int            `json:"gapCount"`
	OutlierCount    int            `json:"outlierCount"`
	BarsChecked     int            `json:"barsChecked"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// CandidateStatus is the terminal state of a pipeline run
type CandidateStatus string

const (
	CandidateStatusEvaluated       CandidateStatus = "evaluated"
	CandidateStatusExecuted        CandidateStatus = "executed"
	CandidateStatusRejectedQuality CandidateStatus = "rejected_quality"
	CandidateStatusRejectedGate    CandidateStatus = "rejected_gate"
	CandidateStatusRejectedRisk    CandidateStatus = "rejected_risk"
	CandidateStatusError           CandidateStatus = "error"
)

// CandidateResult is the full output of one pipeline run. Downstream stage
// failures never erase the results of upstream stages already computed.
type CandidateResult struct {
	RunID          string             `json:"runId"`
	Strategy       StrategySpec       `json:"strategy"`
	Status         CandidateStatus    `json:"status"`
	Quality        *QualityReport     `json:"quality,omitempty"`
	Backtest       *BacktestResult    `json:"backtest,omitempty"`
	Validation     *WalkForwardResult `json:"validation,omitempty"`
	Gating         *GatingResult      `json:"gating,omitempty"`
	Risk           *RiskAssessment    `json:"risk,omitempty"`
	ExecutionFills []Fill             `json:"executionFills,omitempty"`
	ExecutionError string             `json:"executionError,omitempty"`
	StartedAt      time.Time          `json:"startedAt"`
	CompletedAt    time.Time          `json:"completedAt"`
}

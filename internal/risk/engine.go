// Package risk provides deterministic pre-trade risk checks. The engine is
// stateless: every call receives the portfolio, prices, and equity history it
// needs, and identical inputs always produce identical assessments.
package risk

import (
	"fmt"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Score weights for the graded risk level.
const (
	exposureWeight = 0.6
	drawdownWeight = 0.4
)

// Engine applies notional, exposure, blacklist, and drawdown checks
type Engine struct {
	logger *zap.Logger
	cfg    types.RiskConfig
}

// NewEngine creates a risk engine.
func NewEngine(logger *zap.Logger, cfg types.RiskConfig) *Engine {
	return &Engine{
		logger: logger.Named("risk"),
		cfg:    cfg,
	}
}

// Assess checks each proposed order independently: an order failing any check
// is rejected whole, never resized. When the equity curve's current drawdown
// exceeds the configured threshold, every order is rejected regardless of
// individual checks.
func (e *Engine) Assess(
	portfolio types.PortfolioState,
	proposed []types.Order,
	latestPrices map[string]decimal.Decimal,
	equityCurve []float64,
) types.RiskAssessment {
	assessment := types.RiskAssessment{
		RiskScore:       decimal.Zero,
		CurrentDrawdown: decimal.Zero,
	}

	portfolioValue := portfolio.Value(latestPrices)

	var currentDrawdown float64
	if len(equityCurve) > 0 {
		currentDrawdown, _ = Drawdown(equityCurve)
		assessment.CurrentDrawdown = decimal.NewFromFloat(currentDrawdown)
	}

	// Circuit breaker trips before any per-order check
	if decimal.NewFromFloat(currentDrawdown).GreaterThan(e.cfg.MaxDrawdownThreshold) {
		assessment.DrawdownBlocked = true
		assessment.RejectedTrades = proposed
		assessment.Violations = append(assessment.Violations, fmt.Sprintf(
			"Current drawdown %.2f%% exceeds max drawdown threshold %s%%, all orders rejected",
			currentDrawdown*100, e.cfg.MaxDrawdownThreshold.Mul(decimal.NewFromInt(100)).StringFixed(2)))
		assessment.RiskLevel = types.RiskLevelBlock
		assessment.RiskScore = decimal.NewFromInt(1)

		e.logger.Warn("Drawdown circuit breaker tripped",
			zap.Float64("current_drawdown", currentDrawdown),
			zap.Int("rejected_orders", len(proposed)))
		return assessment
	}

	blacklist := make(map[string]bool, len(e.cfg.BlacklistSymbols))
	for _, symbol := range e.cfg.BlacklistSymbols {
		blacklist[symbol] = true
	}

	var totalProposedNotional decimal.Decimal

	for _, order := range proposed {
		if blacklist[order.Symbol] {
			assessment.Violations = append(assessment.Violations,
				fmt.Sprintf("Symbol %s is blacklisted", order.Symbol))
			assessment.RejectedTrades = append(assessment.RejectedTrades, order)
			continue
		}

		price := e.referencePrice(order, latestPrices)
		notional := order.Quantity.Abs().Mul(price)

		if notional.GreaterThan(e.cfg.MaxTradeNotional) {
			assessment.Violations = append(assessment.Violations, fmt.Sprintf(
				"Order for %s exceeds max trade notional (%s > %s)",
				order.Symbol, notional.StringFixed(2), e.cfg.MaxTradeNotional.StringFixed(2)))
			assessment.RejectedTrades = append(assessment.RejectedTrades, order)
			continue
		}

		if portfolioValue.GreaterThan(decimal.Zero) {
			exposure := notional.Div(portfolioValue)
			if exposure.GreaterThan(e.cfg.MaxPortfolioExposure) {
				assessment.Violations = append(assessment.Violations, fmt.Sprintf(
					"Order for %s exceeds max portfolio exposure (%s%% > %s%%)",
					order.Symbol,
					exposure.Mul(decimal.NewFromInt(100)).StringFixed(2),
					e.cfg.MaxPortfolioExposure.Mul(decimal.NewFromInt(100)).StringFixed(2)))
				assessment.RejectedTrades = append(assessment.RejectedTrades, order)
				continue
			}

			if order.Side == types.OrderSideBuy {
				existing := e.existingNotional(portfolio, order.Symbol, latestPrices)
				combined := existing.Add(notional).Div(portfolioValue)
				if combined.GreaterThan(e.cfg.MaxPositionPerSymbol) {
					assessment.Violations = append(assessment.Violations, fmt.Sprintf(
						"Position in %s would exceed per-symbol limit (%s%% > %s%%)",
						order.Symbol,
						combined.Mul(decimal.NewFromInt(100)).StringFixed(2),
						e.cfg.MaxPositionPerSymbol.Mul(decimal.NewFromInt(100)).StringFixed(2)))
					assessment.RejectedTrades = append(assessment.RejectedTrades, order)
					continue
				}
			}
		}

		totalProposedNotional = totalProposedNotional.Add(notional)
		assessment.ApprovedTrades = append(assessment.ApprovedTrades, order)
	}

	assessment.RiskScore = e.riskScore(totalProposedNotional, portfolioValue, currentDrawdown)
	assessment.RiskLevel = e.riskLevel(len(assessment.Violations) > 0, assessment.RiskScore)

	e.logger.Debug("Risk assessment complete",
		zap.Int("approved", len(assessment.ApprovedTrades)),
		zap.Int("rejected", len(assessment.RejectedTrades)),
		zap.String("risk_level", string(assessment.RiskLevel)),
		zap.String("risk_score", assessment.RiskScore.StringFixed(3)))

	return assessment
}

// referencePrice resolves the price used for notional checks: limit price,
// then latest quote, then the configured fallback.
func (e *Engine) referencePrice(order types.Order, latestPrices map[string]decimal.Decimal) decimal.Decimal {
	if order.LimitPrice != nil {
		return *order.LimitPrice
	}
	if price, ok := latestPrices[order.Symbol]; ok {
		return price
	}
	return e.cfg.FallbackPrice
}

func (e *Engine) existingNotional(portfolio types.PortfolioState, symbol string, latestPrices map[string]decimal.Decimal) decimal.Decimal {
	for _, pos := range portfolio.Positions {
		if pos.Symbol != symbol {
			continue
		}
		price, ok := latestPrices[symbol]
		if !ok {
			price = pos.AveragePrice
		}
		return pos.Quantity.Mul(price)
	}
	return decimal.Zero
}

// riskScore grades proximity to the exposure and drawdown limits on [0, 1].
func (e *Engine) riskScore(proposedNotional, portfolioValue decimal.Decimal, currentDrawdown float64) decimal.Decimal {
	var exposureRatio float64
	if portfolioValue.GreaterThan(decimal.Zero) && e.cfg.MaxPortfolioExposure.GreaterThan(decimal.Zero) {
		exposureRatio = proposedNotional.Div(portfolioValue).Div(e.cfg.MaxPortfolioExposure).InexactFloat64()
	}

	var drawdownRatio float64
	if e.cfg.MaxDrawdownThreshold.GreaterThan(decimal.Zero) {
		drawdownRatio = currentDrawdown / e.cfg.MaxDrawdownThreshold.InexactFloat64()
	}

	score := exposureWeight*clamp01(exposureRatio) + drawdownWeight*clamp01(drawdownRatio)
	return decimal.NewFromFloat(clamp01(score))
}

func (e *Engine) riskLevel(hasViolations bool, score decimal.Decimal) types.RiskLevel {
	if hasViolations {
		return types.RiskLevelBlock
	}
	if score.GreaterThanOrEqual(decimal.NewFromFloat(0.5)) {
		return types.RiskLevelWarning
	}
	return types.RiskLevelSafe
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

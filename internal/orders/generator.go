// Package orders converts backtest trade logs into concrete proposed orders
// for risk assessment and execution.
package orders

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Generator sizes orders from backtest signals and portfolio state
type Generator struct {
	logger *zap.Logger
	cfg    types.OrderConfig
}

// NewGenerator creates an order generator.
func NewGenerator(logger *zap.Logger, cfg types.OrderConfig) *Generator {
	return &Generator{
		logger: logger.Named("orders"),
		cfg:    cfg,
	}
}

// Generate derives each universe symbol's target position by netting the
// backtest trade log (buys minus sells), falling back to the strategy's
// position sizing when the log carries no signal for the symbol. An order is
// emitted only when the target differs from the current position by more than
// the dust threshold. Symbols without a quote are skipped, and a non-positive
// portfolio value yields no orders.
func (g *Generator) Generate(
	strategy types.StrategySpec,
	portfolio types.PortfolioState,
	latestPrices map[string]decimal.Decimal,
	backtestTrades []types.Trade,
) []types.Order {
	portfolioValue := portfolio.Value(latestPrices)
	if portfolioValue.LessThanOrEqual(decimal.Zero) {
		g.logger.Warn("Portfolio value is zero or negative, no orders generated")
		return nil
	}

	currentPositions := make(map[string]decimal.Decimal, len(portfolio.Positions))
	for _, pos := range portfolio.Positions {
		currentPositions[pos.Symbol] = pos.Quantity
	}

	targets := netTargets(backtestTrades)

	universe := strategy.Universe
	if len(universe) == 0 {
		universe = make([]string, 0, len(latestPrices))
		for symbol := range latestPrices {
			universe = append(universe, symbol)
		}
		sort.Strings(universe)
	}

	var orders []types.Order
	now := time.Now()

	for _, symbol := range universe {
		price, ok := latestPrices[symbol]
		if !ok {
			g.logger.Warn("No price for symbol, skipping", zap.String("symbol", symbol))
			continue
		}

		currentQty := currentPositions[symbol]
		targetQty, hasSignal := targets[symbol]

		if !hasSignal || targetQty.IsZero() {
			targetQty = g.sizedTarget(strategy.Params, portfolioValue, price)
		}
		targetQty = targetQty.Round(g.cfg.QuantityPrecision)

		diff := targetQty.Sub(currentQty)
		if diff.Abs().LessThanOrEqual(g.cfg.DustThreshold) {
			continue
		}

		side := types.OrderSideBuy
		quantity := diff
		if diff.LessThan(decimal.Zero) {
			side = types.OrderSideSell
			quantity = diff.Neg()
		}

		order := types.Order{
			ClientOrderID: uuid.New().String(),
			Symbol:        symbol,
			Side:          side,
			Quantity:      quantity,
			Type:          types.OrderTypeMarket,
			CreatedAt:     now,
		}
		orders = append(orders, order)

		g.logger.Info("Generated order",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("quantity", quantity.String()),
			zap.String("target", targetQty.String()),
			zap.String("current", currentQty.String()))
	}

	return orders
}

// netTargets nets the trade log into a target quantity per symbol, applying
// trades in timestamp order.
func netTargets(trades []types.Trade) map[string]decimal.Decimal {
	sorted := make([]types.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	targets := make(map[string]decimal.Decimal)
	for _, trade := range sorted {
		switch trade.Side {
		case types.OrderSideBuy:
			targets[trade.Symbol] = targets[trade.Symbol].Add(trade.Quantity)
		case types.OrderSideSell:
			targets[trade.Symbol] = targets[trade.Symbol].Sub(trade.Quantity)
		}
	}
	return targets
}

// sizedTarget sizes a position from strategy params when the backtest log has
// no signal for the symbol.
func (g *Generator) sizedTarget(params types.StrategyParams, portfolioValue, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	switch {
	case params.PositionSizing == "fixed_fraction" && params.Fraction > 0:
		return portfolioValue.Mul(decimal.NewFromFloat(params.Fraction)).Div(price)
	case params.PositionSizing == "fixed_size":
		return decimal.NewFromInt(1000).Div(price)
	default:
		return decimal.Zero
	}
}

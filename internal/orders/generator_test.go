package orders

import (
	"testing"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestGenerator() *Generator {
	return NewGenerator(zap.NewNop(), types.DefaultOrderConfig())
}

func fixedFractionStrategy(universe ...string) types.StrategySpec {
	return types.StrategySpec{
		StrategyID: "strat-1",
		Universe:   universe,
		Params:     types.StrategyParams{PositionSizing: "fixed_fraction", Fraction: 0.02},
	}
}

func TestGenerateSingleBuyRoundTrip(t *testing.T) {
	gen := newTestGenerator()
	trades := []types.Trade{
		{
			Timestamp: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Symbol:    "AAPL",
			Side:      types.OrderSideBuy,
			Quantity:  decimal.NewFromInt(20),
			Price:     decimal.NewFromInt(100),
		},
	}

	orders := gen.Generate(
		fixedFractionStrategy("AAPL"),
		types.PortfolioState{Cash: decimal.NewFromInt(100_000)},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		trades,
	)

	if len(orders) != 1 {
		t.Fatalf("Expected exactly one order, got %d", len(orders))
	}
	order := orders[0]
	if order.Side != types.OrderSideBuy || order.Symbol != "AAPL" {
		t.Errorf("Expected AAPL buy, got %s %s", order.Side, order.Symbol)
	}
	if !order.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected quantity 20, got %s", order.Quantity)
	}
	if order.ClientOrderID == "" {
		t.Error("Orders must carry a client order id")
	}
}

func TestGenerateFractionFallback(t *testing.T) {
	gen := newTestGenerator()

	// No backtest signal: size from the strategy's fraction
	orders := gen.Generate(
		fixedFractionStrategy("AAPL"),
		types.PortfolioState{Cash: decimal.NewFromInt(100_000)},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		nil,
	)

	if len(orders) != 1 {
		t.Fatalf("Expected fallback-sized order, got %d orders", len(orders))
	}
	// 100000 * 0.02 / 100 = 20 shares
	if !orders[0].Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected 20 shares, got %s", orders[0].Quantity)
	}
}

func TestGenerateSellToTarget(t *testing.T) {
	gen := newTestGenerator()
	portfolio := types.PortfolioState{
		Cash: decimal.NewFromInt(50_000),
		Positions: []types.PortfolioPosition{
			{Symbol: "AAPL", Quantity: decimal.NewFromInt(50), AveragePrice: decimal.NewFromInt(90)},
		},
	}
	trades := []types.Trade{
		{Timestamp: time.Now(), Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(30), Price: decimal.NewFromInt(100)},
	}

	orders := gen.Generate(fixedFractionStrategy("AAPL"), portfolio,
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}, trades)

	if len(orders) != 1 || orders[0].Side != types.OrderSideSell {
		t.Fatalf("Expected a sell down to the 30 share target, got %+v", orders)
	}
	if !orders[0].Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected sell of 20 shares, got %s", orders[0].Quantity)
	}
}

func TestGenerateDustSuppressed(t *testing.T) {
	gen := newTestGenerator()
	portfolio := types.PortfolioState{
		Cash: decimal.NewFromInt(98_000),
		Positions: []types.PortfolioPosition{
			{Symbol: "AAPL", Quantity: decimal.NewFromFloat(20.005), AveragePrice: decimal.NewFromInt(100)},
		},
	}
	trades := []types.Trade{
		{Timestamp: time.Now(), Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(20), Price: decimal.NewFromInt(100)},
	}

	orders := gen.Generate(fixedFractionStrategy("AAPL"), portfolio,
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}, trades)

	if len(orders) != 0 {
		t.Errorf("Sub-dust difference should emit no order, got %+v", orders)
	}
}

func TestGenerateMissingPriceSkipped(t *testing.T) {
	gen := newTestGenerator()

	orders := gen.Generate(
		fixedFractionStrategy("AAPL", "MSFT"),
		types.PortfolioState{Cash: decimal.NewFromInt(100_000)},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		nil,
	)

	if len(orders) != 1 || orders[0].Symbol != "AAPL" {
		t.Fatalf("Symbol without a quote should be skipped, got %+v", orders)
	}
}

func TestGenerateNonPositivePortfolio(t *testing.T) {
	gen := newTestGenerator()

	orders := gen.Generate(
		fixedFractionStrategy("AAPL"),
		types.PortfolioState{Cash: decimal.Zero},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		nil,
	)

	if len(orders) != 0 {
		t.Errorf("Non-positive portfolio value should yield no orders, got %d", len(orders))
	}
}

func TestNetTargetsOrdering(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Supplied out of order: net must still be buy 30 - sell 10 = 20
	trades := []types.Trade{
		{Timestamp: base.AddDate(0, 0, 2), Symbol: "AAPL", Side: types.OrderSideSell, Quantity: decimal.NewFromInt(10)},
		{Timestamp: base, Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(30)},
	}

	targets := netTargets(trades)
	if !targets["AAPL"].Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected net target 20, got %s", targets["AAPL"])
	}
}

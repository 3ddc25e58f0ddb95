package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperBroker is an in-memory broker that fills every order instantly at the
// configured mark price. It backs local runs and tests where no venue is
// reachable.
type PaperBroker struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	cash      decimal.Decimal
	positions map[string]types.PortfolioPosition
	prices    map[string]decimal.Decimal
	orders    map[string]*OrderStatus
	fills     map[string]types.Fill
	healthy   bool
}

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(logger *zap.Logger, startingCash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		logger:    logger.Named("paper"),
		cash:      startingCash,
		positions: make(map[string]types.PortfolioPosition),
		prices:    make(map[string]decimal.Decimal),
		orders:    make(map[string]*OrderStatus),
		fills:     make(map[string]types.Fill),
		healthy:   true,
	}
}

// Name implements Broker.
func (p *PaperBroker) Name() string { return "paper" }

// SetPrice sets the mark price used to fill orders for a symbol.
func (p *PaperBroker) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetHealthy toggles the health probe, used to exercise failover.
func (p *PaperBroker) SetHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// HealthCheck implements Broker.
func (p *PaperBroker) HealthCheck(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

// HealthStatus implements Broker.
func (p *PaperBroker) HealthStatus(ctx context.Context) HealthStatus {
	if !p.HealthCheck(ctx) {
		return HealthStatus{Healthy: false, Error: "paper broker marked unhealthy"}
	}
	return HealthStatus{Healthy: true, AccountStatus: "ACTIVE"}
}

// Account implements Broker.
func (p *PaperBroker) Account(context.Context) (*Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	value := p.cash
	for symbol, pos := range p.positions {
		if price, ok := p.prices[symbol]; ok {
			value = value.Add(pos.Quantity.Mul(price))
		}
	}
	return &Account{
		ID:             "paper-account",
		Status:         "ACTIVE",
		Cash:           p.cash,
		PortfolioValue: value,
	}, nil
}

// Positions implements Broker.
func (p *PaperBroker) Positions(context.Context) (*types.PortfolioState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]types.PortfolioPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos)
	}
	return &types.PortfolioState{Cash: p.cash, Positions: positions}, nil
}

// ExecuteOrders implements Broker. Every order fills immediately at the mark
// price (or limit price when no mark is set).
func (p *PaperBroker) ExecuteOrders(_ context.Context, orders []types.Order, _ bool) ([]types.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fills []types.Fill
	for _, order := range orders {
		price, ok := p.prices[order.Symbol]
		if !ok && order.LimitPrice != nil {
			price = *order.LimitPrice
			ok = true
		}
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			p.logger.Warn("No mark price for symbol, order not filled",
				zap.String("symbol", order.Symbol))
			continue
		}

		orderID := uuid.New().String()
		fill := types.Fill{
			FillID:    uuid.New().String(),
			OrderID:   orderID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Quantity:  order.Quantity,
			Price:     price,
			Timestamp: time.Now().UTC(),
		}

		p.apply(fill)
		p.orders[orderID] = &OrderStatus{
			OrderID:        orderID,
			Symbol:         order.Symbol,
			Side:           order.Side,
			Status:         "filled",
			Quantity:       order.Quantity,
			FilledQuantity: order.Quantity,
			FilledAvgPrice: price,
			FilledAt:       fill.Timestamp,
		}
		p.fills[orderID] = fill
		fills = append(fills, fill)

		p.logger.Info("Paper fill",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.String("quantity", order.Quantity.String()),
			zap.String("price", price.String()))
	}
	return fills, nil
}

// apply mutates cash and positions for a fill. Caller holds the lock.
func (p *PaperBroker) apply(fill types.Fill) {
	notional := fill.Quantity.Mul(fill.Price)
	pos := p.positions[fill.Symbol]
	pos.Symbol = fill.Symbol

	switch fill.Side {
	case types.OrderSideBuy:
		p.cash = p.cash.Sub(notional)
		newQty := pos.Quantity.Add(fill.Quantity)
		if newQty.GreaterThan(decimal.Zero) {
			totalCost := pos.Quantity.Mul(pos.AveragePrice).Add(notional)
			pos.AveragePrice = totalCost.Div(newQty)
		}
		pos.Quantity = newQty
		p.positions[fill.Symbol] = pos
	case types.OrderSideSell:
		p.cash = p.cash.Add(notional)
		pos.Quantity = pos.Quantity.Sub(fill.Quantity)
		if pos.Quantity.LessThanOrEqual(decimal.Zero) {
			delete(p.positions, fill.Symbol)
		} else {
			p.positions[fill.Symbol] = pos
		}
	}
}

// OrderStatus implements Broker.
func (p *PaperBroker) OrderStatus(_ context.Context, orderID string) (*OrderStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	copied := *status
	return &copied, nil
}

// VerifyFill implements Broker. Paper orders fill synchronously, so this is a
// lookup rather than a poll.
func (p *PaperBroker) VerifyFill(_ context.Context, orderID string) (*types.Fill, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if fill, ok := p.fills[orderID]; ok {
		return &fill, nil
	}
	return nil, nil
}

// CancelOrder implements Canceler. Paper orders are always filled, so there
// is never anything to cancel.
func (p *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

// CancelAll implements Canceler.
func (p *PaperBroker) CancelAll(context.Context) (*CancelResult, error) {
	return &CancelResult{}, nil
}

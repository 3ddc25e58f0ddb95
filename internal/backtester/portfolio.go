package backtester

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Portfolio tracks simulated cash and long positions during a backtest
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*simPosition
	peakEquity  decimal.Decimal
}

type simPosition struct {
	quantity     decimal.Decimal
	avgPrice     decimal.Decimal
	currentPrice decimal.Decimal
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*simPosition),
		peakEquity:  initialCash,
	}
}

// Cash returns available cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Quantity returns the held quantity for a symbol, zero if flat.
func (p *Portfolio) Quantity(symbol string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		return pos.quantity
	}
	return decimal.Zero
}

// HasPosition reports whether the portfolio holds the symbol.
func (p *Portfolio) HasPosition(symbol string) bool {
	return p.Quantity(symbol).GreaterThan(decimal.Zero)
}

// Equity returns cash plus mark-to-market position value.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// Drawdown returns the current decline from peak equity as a fraction.
func (p *Portfolio) Drawdown() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	return p.peakEquity.Sub(p.equityLocked()).Div(p.peakEquity)
}

// UpdatePrice marks a symbol's position to the given price and refreshes the
// equity peak.
func (p *Portfolio) UpdatePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.positions[symbol]; ok {
		pos.currentPrice = price
	}
	p.refreshPeakLocked()
}

// Buy debits total cost (fill value plus commission) from cash and adds to
// the position. The caller is responsible for checking affordability.
func (p *Portfolio) Buy(symbol string, quantity, fillPrice, commission decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := quantity.Mul(fillPrice).Add(commission)
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[symbol]; ok {
		totalQty := pos.quantity.Add(quantity)
		totalCost := pos.quantity.Mul(pos.avgPrice).Add(quantity.Mul(fillPrice))
		pos.avgPrice = totalCost.Div(totalQty)
		pos.quantity = totalQty
		pos.currentPrice = fillPrice
	} else {
		p.positions[symbol] = &simPosition{
			quantity:     quantity,
			avgPrice:     fillPrice,
			currentPrice: fillPrice,
		}
	}
	p.refreshPeakLocked()
}

// Sell credits net proceeds (fill value minus commission) to cash and reduces
// the position, removing it when fully closed.
func (p *Portfolio) Sell(symbol string, quantity, fillPrice, commission decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return
	}

	proceeds := quantity.Mul(fillPrice).Sub(commission)
	p.cash = p.cash.Add(proceeds)

	pos.quantity = pos.quantity.Sub(quantity)
	if pos.quantity.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
	}
	p.refreshPeakLocked()
}

func (p *Portfolio) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.quantity.Mul(pos.currentPrice))
	}
	return equity
}

func (p *Portfolio) refreshPeakLocked() {
	equity := p.equityLocked()
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
}

// Package broker provides execution venue abstractions: a capability
// interface implemented by concrete brokers, and a manager that selects a
// healthy venue with automatic failover.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoBrokerAvailable is returned when the primary and every configured
	// failover broker are unhealthy.
	ErrNoBrokerAvailable = errors.New("no broker available")

	// ErrAuth marks authentication or credential failures. Never retried.
	ErrAuth = errors.New("broker authentication failed")
)

// Account is a broker account snapshot
type Account struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Cash           decimal.Decimal `json:"cash"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	TradingBlocked bool            `json:"tradingBlocked"`
}

// HealthStatus is a broker's detailed health report
type HealthStatus struct {
	Healthy        bool   `json:"healthy"`
	AccountStatus  string `json:"accountStatus,omitempty"`
	TradingBlocked bool   `json:"tradingBlocked,omitempty"`
	Error          string `json:"error,omitempty"`
}

// OrderStatus is a broker's view of one submitted order
type OrderStatus struct {
	OrderID        string          `json:"orderId"`
	Symbol         string          `json:"symbol"`
	Side           types.OrderSide `json:"side"`
	Status         string          `json:"status"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	FilledAvgPrice decimal.Decimal `json:"filledAvgPrice"`
	FilledAt       time.Time       `json:"filledAt,omitempty"`
}

// CancelResult summarizes a cancel-all operation
type CancelResult struct {
	CancelledCount int      `json:"cancelledCount"`
	TotalOrders    int      `json:"totalOrders"`
	Errors         []string `json:"errors,omitempty"`
}

// Broker is the capability contract every execution venue implements.
// HealthCheck must be bounded and must never panic; a failing probe is
// reported as unhealthy, not as an error.
type Broker interface {
	Name() string
	HealthCheck(ctx context.Context) bool
	HealthStatus(ctx context.Context) HealthStatus
	Account(ctx context.Context) (*Account, error)
	Positions(ctx context.Context) (*types.PortfolioState, error)

	// ExecuteOrders submits orders sequentially, optionally polling each for
	// a fill. One failed order does not abort the rest.
	ExecuteOrders(ctx context.Context, orders []types.Order, verifyFills bool) ([]types.Fill, error)

	OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)

	// VerifyFill polls an order until filled, terminal, or timed out. Timeout
	// and terminal non-fill states return (nil, nil), never an error.
	VerifyFill(ctx context.Context, orderID string) (*types.Fill, error)
}

// Canceler is implemented by brokers that support order cancellation. Cancel
// operations must remain available while order submission is externally gated.
type Canceler interface {
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) (*CancelResult, error)
}

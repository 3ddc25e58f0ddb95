package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/quantpipe/strategy-gate/internal/retry"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultAlpacaBaseURL = "https://paper-api.alpaca.markets"

// AlpacaConfig holds Alpaca REST credentials and tuning
type AlpacaConfig struct {
	APIKey       string
	SecretKey    string
	BaseURL      string
	Timeout      time.Duration
	FillTimeout  time.Duration
	PollInterval time.Duration
}

// AlpacaBroker talks to the Alpaca trading REST API
type AlpacaBroker struct {
	logger       *zap.Logger
	client       *resty.Client
	retryPolicy  retry.Policy
	fillTimeout  time.Duration
	pollInterval time.Duration
}

// NewAlpacaBroker creates an Alpaca REST broker. Missing credentials are
// logged but do not fail construction; calls will surface ErrAuth.
func NewAlpacaBroker(logger *zap.Logger, cfg AlpacaConfig) *AlpacaBroker {
	logger = logger.Named("alpaca")

	if cfg.APIKey == "" || cfg.SecretKey == "" {
		logger.Warn("Alpaca API credentials are not fully configured, broker calls will fail")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAlpacaBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fillTimeout := cfg.FillTimeout
	if fillTimeout <= 0 {
		fillTimeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	return &AlpacaBroker{
		logger:       logger,
		client:       client,
		retryPolicy:  retry.DefaultPolicy(),
		fillTimeout:  fillTimeout,
		pollInterval: pollInterval,
	}
}

// Name implements Broker.
func (a *AlpacaBroker) Name() string { return "alpaca" }

type alpacaAccount struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Cash           string `json:"cash"`
	PortfolioValue string `json:"portfolio_value"`
	TradingBlocked bool   `json:"trading_blocked"`
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

type alpacaOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	LimitPrice     string `json:"limit_price"`
	FilledAt       string `json:"filled_at"`
	CreatedAt      string `json:"created_at"`
}

// Account implements Broker.
func (a *AlpacaBroker) Account(ctx context.Context) (*Account, error) {
	var raw alpacaAccount
	if err := a.get(ctx, "/v2/account", &raw); err != nil {
		return nil, err
	}
	return &Account{
		ID:             raw.ID,
		Status:         raw.Status,
		Cash:           parseDecimal(raw.Cash),
		PortfolioValue: parseDecimal(raw.PortfolioValue),
		TradingBlocked: raw.TradingBlocked,
	}, nil
}

// Positions implements Broker.
func (a *AlpacaBroker) Positions(ctx context.Context) (*types.PortfolioState, error) {
	var raw []alpacaPosition
	if err := a.get(ctx, "/v2/positions", &raw); err != nil {
		return nil, err
	}

	positions := make([]types.PortfolioPosition, 0, len(raw))
	for _, item := range raw {
		positions = append(positions, types.PortfolioPosition{
			Symbol:       item.Symbol,
			Quantity:     parseDecimal(item.Qty),
			AveragePrice: parseDecimal(item.AvgEntryPrice),
		})
	}

	account, err := a.Account(ctx)
	if err != nil {
		return nil, err
	}

	return &types.PortfolioState{Cash: account.Cash, Positions: positions}, nil
}

// ExecuteOrders implements Broker. Orders are submitted one at a time; a
// failure is logged and the remaining orders still go out.
func (a *AlpacaBroker) ExecuteOrders(ctx context.Context, orders []types.Order, verifyFills bool) ([]types.Fill, error) {
	var fills []types.Fill

	for _, order := range orders {
		if order.Type == types.OrderTypeLimit && order.LimitPrice == nil {
			a.logger.Warn("Limit order has no limit price, skipping",
				zap.String("symbol", order.Symbol))
			continue
		}

		submitted, err := a.submitOrder(ctx, order)
		if err != nil {
			a.logger.Error("Failed to execute order",
				zap.String("symbol", order.Symbol),
				zap.Error(err))
			continue
		}

		a.logger.Info("Submitted order",
			zap.String("order_id", submitted.ID),
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)))

		if submitted.Status == "filled" {
			fills = append(fills, fillFromOrder(submitted))
			continue
		}

		if verifyFills {
			fill, err := a.VerifyFill(ctx, submitted.ID)
			if err != nil {
				return fills, err
			}
			if fill != nil {
				fills = append(fills, *fill)
			} else {
				a.logger.Warn("Order was not filled within timeout",
					zap.String("order_id", submitted.ID),
					zap.String("symbol", order.Symbol))
			}
		} else {
			fills = append(fills, fillFromOrder(submitted))
		}
	}

	return fills, nil
}

func (a *AlpacaBroker) submitOrder(ctx context.Context, order types.Order) (*alpacaOrder, error) {
	payload := map[string]string{
		"symbol":        order.Symbol,
		"qty":           order.Quantity.String(),
		"side":          string(order.Side),
		"type":          string(order.Type),
		"time_in_force": "day",
	}
	if order.ClientOrderID != "" {
		payload["client_order_id"] = order.ClientOrderID
	}
	if order.LimitPrice != nil {
		payload["limit_price"] = order.LimitPrice.String()
	}

	var submitted alpacaOrder
	err := a.retryPolicy.Do(ctx, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(payload).
			SetResult(&submitted).
			Post("/v2/orders")
		return a.classify(resp, err)
	})
	if err != nil {
		return nil, err
	}
	return &submitted, nil
}

// OrderStatus implements Broker.
func (a *AlpacaBroker) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var raw alpacaOrder
	if err := a.get(ctx, "/v2/orders/"+orderID, &raw); err != nil {
		return nil, err
	}
	status := &OrderStatus{
		OrderID:        raw.ID,
		Symbol:         raw.Symbol,
		Side:           types.OrderSide(raw.Side),
		Status:         raw.Status,
		Quantity:       parseDecimal(raw.Qty),
		FilledQuantity: parseDecimal(raw.FilledQty),
		FilledAvgPrice: parseDecimal(raw.FilledAvgPrice),
	}
	if t, ok := parseTimestamp(raw.FilledAt); ok {
		status.FilledAt = t
	}
	return status, nil
}

// VerifyFill implements Broker. Polls until filled, terminal, or the fill
// timeout elapses. Transient status-read errors keep the poll alive.
func (a *AlpacaBroker) VerifyFill(ctx context.Context, orderID string) (*types.Fill, error) {
	deadline := time.Now().Add(a.fillTimeout)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			a.logger.Warn("Timeout waiting for fill", zap.String("order_id", orderID))
			return nil, nil
		}

		var raw alpacaOrder
		if err := a.get(ctx, "/v2/orders/"+orderID, &raw); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Error("Error checking order status",
				zap.String("order_id", orderID),
				zap.Error(err))
		} else {
			switch raw.Status {
			case "filled":
				fill := fillFromOrder(&raw)
				return &fill, nil
			case "canceled", "expired", "rejected":
				a.logger.Info("Order reached terminal state without fill",
					zap.String("order_id", orderID),
					zap.String("status", raw.Status))
				return nil, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CancelOrder implements Canceler.
func (a *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	err := a.retryPolicy.Do(ctx, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			Delete("/v2/orders/" + orderID)
		return a.classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	a.logger.Info("Cancelled order", zap.String("order_id", orderID))
	return nil
}

// CancelAll implements Canceler.
func (a *AlpacaBroker) CancelAll(ctx context.Context) (*CancelResult, error) {
	var open []alpacaOrder
	err := a.retryPolicy.Do(ctx, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParam("status", "open").
			SetResult(&open).
			Get("/v2/orders")
		return a.classify(resp, err)
	})
	if err != nil {
		return nil, err
	}

	result := &CancelResult{TotalOrders: len(open)}
	for _, order := range open {
		if err := a.CancelOrder(ctx, order.ID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.CancelledCount++
	}

	a.logger.Info("Cancel all complete",
		zap.Int("cancelled", result.CancelledCount),
		zap.Int("total", result.TotalOrders),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// HealthCheck implements Broker. Any failure reads as unhealthy.
func (a *AlpacaBroker) HealthCheck(ctx context.Context) bool {
	_, err := a.Account(ctx)
	if err != nil {
		a.logger.Warn("Health check failed", zap.Error(err))
		return false
	}
	return true
}

// HealthStatus implements Broker.
func (a *AlpacaBroker) HealthStatus(ctx context.Context) HealthStatus {
	account, err := a.Account(ctx)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return HealthStatus{
		Healthy:        true,
		AccountStatus:  account.Status,
		TradingBlocked: account.TradingBlocked,
	}
}

func (a *AlpacaBroker) get(ctx context.Context, path string, out interface{}) error {
	return a.retryPolicy.Do(ctx, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetResult(out).
			Get(path)
		return a.classify(resp, err)
	})
}

// classify maps a response to the error taxonomy: 401/403 are auth failures
// (never retried), 429 and 5xx are transient, network errors are transient.
func (a *AlpacaBroker) classify(resp *resty.Response, err error) error {
	if err != nil {
		return retry.MarkTransient(err)
	}

	code := resp.StatusCode()
	switch {
	case code < 400:
		return nil
	case code == 401 || code == 403:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, code, resp.String())
	case code == 429 || code >= 500:
		return retry.MarkTransient(fmt.Errorf("alpaca status %d: %s", code, resp.String()))
	default:
		return fmt.Errorf("alpaca status %d: %s", code, resp.String())
	}
}

func fillFromOrder(order *alpacaOrder) types.Fill {
	quantity := parseDecimal(order.FilledQty)
	if quantity.IsZero() {
		quantity = parseDecimal(order.Qty)
	}
	price := parseDecimal(order.FilledAvgPrice)
	if price.IsZero() {
		price = parseDecimal(order.LimitPrice)
	}

	timestamp, ok := parseTimestamp(order.FilledAt)
	if !ok {
		if t, ok := parseTimestamp(order.CreatedAt); ok {
			timestamp = t
		} else {
			timestamp = time.Now().UTC()
		}
	}

	return types.Fill{
		FillID:    order.ID,
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      types.OrderSide(order.Side),
		Quantity:  quantity,
		Price:     price,
		Timestamp: timestamp,
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

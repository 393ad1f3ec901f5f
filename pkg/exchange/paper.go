// Package exchange provides exchange client implementations. PaperClient
// simulates fills locally for dry runs; live connectivity plugs in behind
// the same interface.
package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/interfaces"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// PaperClient fills every order instantly at the current mark price. Mark
// prices are fed from the candle stream.
type PaperClient struct {
	logger *zap.Logger

	mu        sync.Mutex
	marks     map[string]float64
	orders    map[string]types.ExchangeOrderStatus
	positions map[string]*types.Position
}

// NewPaperClient creates a simulated exchange client
func NewPaperClient(logger *zap.Logger) *PaperClient {
	return &PaperClient{
		logger:    logger.Named("paper_exchange"),
		marks:     make(map[string]float64),
		orders:    make(map[string]types.ExchangeOrderStatus),
		positions: make(map[string]*types.Position),
	}
}

// SetMarkPrice updates the simulated mark price for a symbol
func (c *PaperClient) SetMarkPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = price
}

// PlaceOrder fills the order at the mark price. Orders for symbols without
// a mark price are rejected.
func (c *PaperClient) PlaceOrder(ctx context.Context, order *types.Order) (*interfaces.PlacedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark, ok := c.marks[order.Symbol]
	if !ok {
		return nil, fmt.Errorf("no mark price for %s", order.Symbol)
	}

	fillPrice := mark
	if order.Type == types.OrderTypeLimit && order.Price > 0 {
		fillPrice = order.Price
	}

	orderID := order.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	c.orders[orderID] = types.ExchangeStatusFilled

	c.logger.Debug("paper fill",
		zap.String("order_id", orderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("price", fillPrice),
		zap.Float64("quantity", order.Quantity))

	return &interfaces.PlacedOrder{
		OrderID:      orderID,
		Symbol:       order.Symbol,
		Status:       types.ExchangeStatusFilled,
		FilledQty:    order.Quantity,
		AvgFillPrice: fillPrice,
	}, nil
}

// CancelAllOrders is a no-op for the paper client
func (c *PaperClient) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

// CancelAllConditionalOrders is a no-op for the paper client
func (c *PaperClient) CancelAllConditionalOrders(ctx context.Context, symbol string) error {
	return nil
}

// GetOrderStatus returns the simulated status for a placed order
func (c *PaperClient) GetOrderStatus(ctx context.Context, orderID string) (types.ExchangeOrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}
	return status, nil
}

// GetOpenPositions returns the simulated open positions
func (c *PaperClient) GetOpenPositions(ctx context.Context) ([]*types.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p.Clone())
	}
	return out, nil
}

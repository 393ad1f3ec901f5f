package interfaces

import (
	"context"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// PlacedOrder is the exchange acknowledgement of an order placement
type PlacedOrder struct {
	OrderID      string
	Symbol       string
	Status       types.ExchangeOrderStatus
	FilledQty    float64
	AvgFillPrice float64
}

// ExchangeClient is the outbound surface to the futures exchange. The
// execution fabric only ever talks to the exchange through this interface;
// tests use in-memory fakes.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, order *types.Order) (*PlacedOrder, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	CancelAllConditionalOrders(ctx context.Context, symbol string) error
	GetOrderStatus(ctx context.Context, orderID string) (types.ExchangeOrderStatus, error)
	GetOpenPositions(ctx context.Context) ([]*types.Position, error)
}

// Journal is an append-only trade record store
type Journal interface {
	AppendTrade(record *types.TradeRecord) error
	ReadAllTrades() ([]*types.TradeRecord, error)
}

// Notifier delivers human-facing alerts (Telegram or similar). The core
// treats it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

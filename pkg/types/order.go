package types

import "time"

// OrderSide represents the exchange-level side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents supported order types
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the internal status of an order
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusTimeout         OrderStatus = "TIMEOUT"
)

// IsTerminal reports whether the status ends the placement+polling window
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed, OrderStatusTimeout:
		return true
	}
	return false
}

// Order represents an order submitted to the exchange
type Order struct {
	OrderID     string    `json:"orderId"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Type        OrderType `json:"type"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price,omitempty"`
	TimeInForce string    `json:"timeInForce,omitempty"`
}

// SlippageAnalysis compares the expected and actual fill price of an order
type SlippageAnalysis struct {
	Expected     float64 `json:"expected"`
	Actual       float64 `json:"actual"`
	Amount       float64 `json:"amount"`
	Percent      float64 `json:"percent"`
	WithinLimits bool    `json:"withinLimits"`
}

// OrderResult is the outcome of a pipeline placement
type OrderResult struct {
	OrderID        string            `json:"orderId"`
	Symbol         string            `json:"symbol"`
	Success        bool              `json:"success"`
	Status         OrderStatus       `json:"status"`
	FilledQuantity float64           `json:"filledQuantity"`
	AvgFillPrice   float64           `json:"avgFillPrice"`
	RetryCount     int               `json:"retryCount"`
	ExecutionTime  time.Duration     `json:"executionTime"`
	Slippage       *SlippageAnalysis `json:"slippage,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// ExchangeOrderStatus is the raw status string reported by the exchange
type ExchangeOrderStatus string

const (
	ExchangeStatusNew             ExchangeOrderStatus = "New"
	ExchangeStatusCreated         ExchangeOrderStatus = "Created"
	ExchangeStatusPartiallyFilled ExchangeOrderStatus = "PartiallyFilled"
	ExchangeStatusFilled          ExchangeOrderStatus = "Filled"
	ExchangeStatusCancelled       ExchangeOrderStatus = "Cancelled"
	ExchangeStatusRejected        ExchangeOrderStatus = "Rejected"
)

// InternalStatus maps an exchange status string to the internal order status.
// Unknown strings map to PENDING so polling continues until the deadline.
func (s ExchangeOrderStatus) InternalStatus() OrderStatus {
	switch s {
	case ExchangeStatusFilled:
		return OrderStatusFilled
	case ExchangeStatusPartiallyFilled:
		return OrderStatusPartiallyFilled
	case ExchangeStatusCancelled:
		return OrderStatusCancelled
	case ExchangeStatusRejected:
		return OrderStatusFailed
	case ExchangeStatusNew, ExchangeStatusCreated:
		return OrderStatusPending
	}
	return OrderStatusPending
}

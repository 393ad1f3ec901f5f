// Package execution implements the retrying order placement pipeline with
// slippage validation and status polling.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/faults"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/interfaces"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// Config holds order execution tuning
type Config struct {
	MaxRetries         int           `json:"max_retries"`
	RetryDelay         time.Duration `json:"retry_delay"`
	BackoffMultiplier  float64       `json:"backoff_multiplier"`
	OrderTimeout       time.Duration `json:"order_timeout"`
	PollInterval       time.Duration `json:"poll_interval"`
	MaxSlippagePercent float64       `json:"max_slippage_percent"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		BackoffMultiplier:  2,
		OrderTimeout:       30 * time.Second,
		PollInterval:       500 * time.Millisecond,
		MaxSlippagePercent: 0.5,
	}
}

// Metrics aggregates pipeline activity. Every read returns an independent
// copy.
type Metrics struct {
	TotalOrders          int64         `json:"total_orders"`
	SuccessfulOrders     int64         `json:"successful_orders"`
	FailedOrders         int64         `json:"failed_orders"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	AverageSlippage      float64       `json:"average_slippage"`
	AverageRetries       float64       `json:"average_retries"`
	TotalRetries         int64         `json:"total_retries"`
}

// Pipeline places orders with bounded retries, validates slippage and polls
// the exchange until the order reaches a terminal status
type Pipeline struct {
	config   *Config
	logger   *zap.Logger
	clk      clock.Clock
	bus      *events.Bus
	exchange interfaces.ExchangeClient

	mu            sync.Mutex
	totalOrders   int64
	successful    int64
	failed        int64
	totalExecTime time.Duration
	totalSlippage float64
	slippageCount int64
	totalRetries  int64
}

// NewPipeline creates an order execution pipeline
func NewPipeline(
	config *Config,
	logger *zap.Logger,
	clk clock.Clock,
	bus *events.Bus,
	exchange interfaces.ExchangeClient,
) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		config:   config,
		logger:   logger.Named("execution"),
		clk:      clk,
		bus:      bus,
		exchange: exchange,
	}
}

// PlaceOrder executes an order under the pipeline's configuration
func (p *Pipeline) PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderResult, error) {
	return p.PlaceOrderWithConfig(ctx, order, p.config)
}

// PlaceOrderWithConfig executes an order with a per-call configuration
// override. Only retryable errors are retried; non-retryable errors fail
// immediately with a zero retry count.
func (p *Pipeline) PlaceOrderWithConfig(ctx context.Context, order *types.Order, cfg *Config) (*types.OrderResult, error) {
	if order == nil {
		return nil, faults.Validation("execution", "nil_order", fmt.Errorf("order is required"))
	}
	if cfg == nil {
		cfg = p.config
	}
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}

	start := p.clk.Now()
	p.bus.Publish(events.Event{
		Type:      events.OrderExecutionStarted,
		Timestamp: start,
		Payload:   *order,
	})

	result := p.execute(ctx, order, cfg)
	result.ExecutionTime = p.clk.Now().Sub(start)
	p.record(result)

	if !result.Success {
		eventType := events.OrderExecutionFailed
		if result.Status == types.OrderStatusTimeout {
			eventType = events.OrderExecutionTimeout
		}
		p.bus.Publish(events.Event{
			Type:      eventType,
			Timestamp: p.clk.Now(),
			Payload:   *result,
		})
	}
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, order *types.Order, cfg *Config) *types.OrderResult {
	result := &types.OrderResult{
		OrderID: order.OrderID,
		Symbol:  order.Symbol,
		Status:  types.OrderStatusFailed,
	}

	placed, retries, err := p.placeWithRetry(ctx, order, cfg)
	result.RetryCount = retries
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if placed == nil || placed.OrderID == "" {
		result.Error = "invalid order result"
		return result
	}

	status := p.poll(ctx, placed, cfg)
	result.Status = status

	switch status {
	case types.OrderStatusFilled, types.OrderStatusPartiallyFilled:
		result.FilledQuantity = placed.FilledQty
		if result.FilledQuantity <= 0 && status == types.OrderStatusFilled {
			result.FilledQuantity = order.Quantity
		}
		result.AvgFillPrice = placed.AvgFillPrice
		if result.AvgFillPrice <= 0 {
			result.AvgFillPrice = order.Price
		}
		result.Success = result.FilledQuantity > 0
		result.Slippage = p.analyzeSlippage(order, result.AvgFillPrice, cfg)
	case types.OrderStatusTimeout:
		result.Error = fmt.Sprintf("order status polling timeout after %s", cfg.OrderTimeout)
	default:
		result.Error = fmt.Sprintf("order reached terminal status %s", status)
	}
	return result
}

// placeWithRetry invokes the exchange with exponential backoff on retryable
// errors. The returned count is the number of retries performed, not total
// attempts.
func (p *Pipeline) placeWithRetry(ctx context.Context, order *types.Order, cfg *Config) (*interfaces.PlacedOrder, int, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		placed, err := p.exchange.PlaceOrder(ctx, order)
		if err == nil {
			return placed, attempt, nil
		}
		lastErr = err

		if !faults.IsRetryable(err) {
			p.logger.Error("order placement failed with non-retryable error",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			return nil, 0, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := time.Duration(float64(cfg.RetryDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt)))
		p.logger.Warn("retrying order placement",
			zap.String("order_id", order.OrderID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := p.clk.Sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, cfg.MaxRetries, lastErr
}

// poll reads the order status until it is terminal or the deadline passes.
// Exchange errors during a read map to FAILED and stop polling.
func (p *Pipeline) poll(ctx context.Context, placed *interfaces.PlacedOrder, cfg *Config) types.OrderStatus {
	status := placed.Status.InternalStatus()
	if status.IsTerminal() {
		return status
	}

	deadline := p.clk.Now().Add(cfg.OrderTimeout)
	for {
		if !p.clk.Now().Before(deadline) {
			return types.OrderStatusTimeout
		}
		if err := p.clk.Sleep(ctx, cfg.PollInterval); err != nil {
			return types.OrderStatusTimeout
		}

		raw, err := p.exchange.GetOrderStatus(ctx, placed.OrderID)
		if err != nil {
			p.logger.Error("order status read failed",
				zap.String("order_id", placed.OrderID),
				zap.Error(err))
			return types.OrderStatusFailed
		}
		status = raw.InternalStatus()
		if status.IsTerminal() {
			return status
		}
	}
}

// analyzeSlippage compares the expected price against the actual fill. A
// breach logs a warning but never cancels the order retroactively.
func (p *Pipeline) analyzeSlippage(order *types.Order, actual float64, cfg *Config) *types.SlippageAnalysis {
	expected := order.Price
	if expected <= 0 || actual <= 0 {
		return nil
	}
	amount := actual - expected
	percent := math.Abs(amount) / expected * 100
	analysis := &types.SlippageAnalysis{
		Expected:     expected,
		Actual:       actual,
		Amount:       amount,
		Percent:      percent,
		WithinLimits: percent <= cfg.MaxSlippagePercent,
	}
	if !analysis.WithinLimits {
		p.logger.Warn("Slippage exceeds limits",
			zap.String("order_id", order.OrderID),
			zap.Float64("expected", expected),
			zap.Float64("actual", actual),
			zap.Float64("percent", percent),
			zap.Float64("max_percent", cfg.MaxSlippagePercent))
	}

	p.mu.Lock()
	p.totalSlippage += percent
	p.slippageCount++
	p.mu.Unlock()

	return analysis
}

func (p *Pipeline) record(result *types.OrderResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalOrders++
	p.totalExecTime += result.ExecutionTime
	p.totalRetries += int64(result.RetryCount)
	if result.Success {
		p.successful++
	} else {
		p.failed++
	}
}

// GetMetrics returns an independent copy of the pipeline metrics
func (p *Pipeline) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		TotalOrders:      p.totalOrders,
		SuccessfulOrders: p.successful,
		FailedOrders:     p.failed,
		TotalRetries:     p.totalRetries,
	}
	if p.totalOrders > 0 {
		m.AverageExecutionTime = p.totalExecTime / time.Duration(p.totalOrders)
		m.AverageRetries = float64(p.totalRetries) / float64(p.totalOrders)
	}
	if p.slippageCount > 0 {
		m.AverageSlippage = p.totalSlippage / float64(p.slippageCount)
	}
	return m
}

// ResetMetrics zeroes all counters
func (p *Pipeline) ResetMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalOrders = 0
	p.successful = 0
	p.failed = 0
	p.totalExecTime = 0
	p.totalSlippage = 0
	p.slippageCount = 0
	p.totalRetries = 0
}

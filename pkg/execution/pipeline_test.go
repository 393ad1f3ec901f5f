package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/faults"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/interfaces"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// placeResponse scripts one PlaceOrder outcome
type placeResponse struct {
	placed *interfaces.PlacedOrder
	err    error
}

// scriptedExchange replays scripted responses and records call times
type scriptedExchange struct {
	mu             sync.Mutex
	clk            clock.Clock
	placeScript    []placeResponse
	statusScript   []types.ExchangeOrderStatus
	statusErr      error
	placeCalls     []time.Time
	statusCalls    int
	defaultStatus  types.ExchangeOrderStatus
	defaultPlacing *interfaces.PlacedOrder
}

func (s *scriptedExchange) PlaceOrder(ctx context.Context, order *types.Order) (*interfaces.PlacedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeCalls = append(s.placeCalls, s.clk.Now())
	if len(s.placeScript) > 0 {
		resp := s.placeScript[0]
		s.placeScript = s.placeScript[1:]
		return resp.placed, resp.err
	}
	if s.defaultPlacing != nil {
		return s.defaultPlacing, nil
	}
	return &interfaces.PlacedOrder{
		OrderID:      "ex-1",
		Symbol:       order.Symbol,
		Status:       types.ExchangeStatusFilled,
		FilledQty:    order.Quantity,
		AvgFillPrice: order.Price,
	}, nil
}

func (s *scriptedExchange) GetOrderStatus(ctx context.Context, orderID string) (types.ExchangeOrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	if s.statusErr != nil {
		return "", s.statusErr
	}
	if len(s.statusScript) > 0 {
		status := s.statusScript[0]
		s.statusScript = s.statusScript[1:]
		return status, nil
	}
	if s.defaultStatus != "" {
		return s.defaultStatus, nil
	}
	return types.ExchangeStatusFilled, nil
}

func (s *scriptedExchange) CancelAllOrders(ctx context.Context, symbol string) error { return nil }
func (s *scriptedExchange) CancelAllConditionalOrders(ctx context.Context, symbol string) error {
	return nil
}
func (s *scriptedExchange) GetOpenPositions(ctx context.Context) ([]*types.Position, error) {
	return nil, nil
}

func (s *scriptedExchange) placeTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.placeCalls))
	copy(out, s.placeCalls)
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	exchange *scriptedExchange
	clk      *clock.FakeClock
	bus      *events.Bus
}

func newPipelineFixture(config *Config) *pipelineFixture {
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	bus := events.NewBus(logger)
	exchange := &scriptedExchange{clk: clk}
	return &pipelineFixture{
		pipeline: NewPipeline(config, logger, clk, bus, exchange),
		exchange: exchange,
		clk:      clk,
		bus:      bus,
	}
}

func limitOrder(price float64) *types.Order {
	return &types.Order{
		Symbol:   "BTCUSDT",
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeLimit,
		Quantity: 0.01,
		Price:    price,
	}
}

// placeAsync runs the placement on its own goroutine and drives the fake
// clock until it settles
func placeAsync(t *testing.T, f *pipelineFixture, order *types.Order, step time.Duration) *types.OrderResult {
	t.Helper()

	resCh := make(chan *types.OrderResult, 1)
	go func() {
		result, err := f.pipeline.PlaceOrder(context.Background(), order)
		require.NoError(t, err)
		resCh <- result
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case result := <-resCh:
			return result
		case <-time.After(2 * time.Millisecond):
			f.clk.Advance(step)
		case <-deadline:
			t.Fatal("order placement never settled")
		}
	}
}

func TestPipelineRejectsNilOrder(t *testing.T) {
	f := newPipelineFixture(nil)

	_, err := f.pipeline.PlaceOrder(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, faults.KindValidation, faults.KindOf(err))
}

func TestPipelineImmediateFill(t *testing.T) {
	f := newPipelineFixture(nil)

	var started int
	f.bus.Subscribe(events.OrderExecutionStarted, func(events.Event) { started++ })

	order := limitOrder(100)
	result, err := f.pipeline.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, 0.01, result.FilledQuantity)
	assert.Equal(t, 100.0, result.AvgFillPrice)
	assert.Equal(t, 0, result.RetryCount)
	assert.NotEmpty(t, order.OrderID) // assigned when absent
	assert.Equal(t, 1, started)

	require.NotNil(t, result.Slippage)
	assert.True(t, result.Slippage.WithinLimits)
	assert.Equal(t, 0.0, result.Slippage.Percent)
}

func TestPipelineFillDefaults(t *testing.T) {
	f := newPipelineFixture(nil)
	f.exchange.defaultPlacing = &interfaces.PlacedOrder{
		OrderID: "ex-1",
		Status:  types.ExchangeStatusFilled,
		// the exchange ack omitted fill details
	}

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0.01, result.FilledQuantity)
	assert.Equal(t, 100.0, result.AvgFillPrice)
}

func TestPipelineNonRetryableFailsImmediately(t *testing.T) {
	f := newPipelineFixture(nil)
	f.exchange.placeScript = []placeResponse{
		{err: faults.NonRetryable("exchange", "insufficient_margin", errors.New("insufficient margin"))},
	}

	var failed []types.OrderResult
	f.bus.Subscribe(events.OrderExecutionFailed, func(e events.Event) {
		failed = append(failed, e.Payload.(types.OrderResult))
	})

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, types.OrderStatusFailed, result.Status)
	assert.Equal(t, 0, result.RetryCount)
	assert.Contains(t, result.Error, "insufficient margin")
	// no retry was attempted
	assert.Len(t, f.exchange.placeTimes(), 1)
	require.Len(t, failed, 1)
}

func TestPipelineRetriesUntilExhausted(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 2
	config.RetryDelay = 0 // keep the test synchronous
	f := newPipelineFixture(config)

	retryable := faults.Retryable("exchange", "rate_limited", errors.New("rate limit exceeded"))
	f.exchange.placeScript = []placeResponse{{err: retryable}, {err: retryable}, {err: retryable}}

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Contains(t, result.Error, "rate limit")
	assert.Len(t, f.exchange.placeTimes(), 3)
}

func TestPipelineRetrySucceeds(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 0
	f := newPipelineFixture(config)

	retryable := faults.Retryable("exchange", "rate_limited", errors.New("rate limit exceeded"))
	f.exchange.placeScript = []placeResponse{{err: retryable}, {err: retryable}}

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)

	metrics := f.pipeline.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalRetries)
	assert.InDelta(t, 2.0, metrics.AverageRetries, 1e-9)
}

func TestPipelineRetryBackoffDoubles(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 2
	config.RetryDelay = time.Second
	config.BackoffMultiplier = 2
	f := newPipelineFixture(config)

	retryable := faults.Retryable("exchange", "rate_limited", errors.New("rate limit exceeded"))
	f.exchange.placeScript = []placeResponse{{err: retryable}, {err: retryable}, {err: retryable}}

	start := f.clk.Now()
	result := placeAsync(t, f, limitOrder(100), 250*time.Millisecond)
	assert.False(t, result.Success)

	times := f.exchange.placeTimes()
	require.Len(t, times, 3)
	assert.Equal(t, start, times[0])
	assert.Equal(t, start.Add(time.Second), times[1])
	assert.Equal(t, start.Add(3*time.Second), times[2])
}

func TestPipelinePollsUntilFilled(t *testing.T) {
	config := DefaultConfig()
	config.PollInterval = time.Second
	config.OrderTimeout = 10 * time.Second
	f := newPipelineFixture(config)

	f.exchange.defaultPlacing = &interfaces.PlacedOrder{OrderID: "ex-1", Status: types.ExchangeStatusNew}
	f.exchange.statusScript = []types.ExchangeOrderStatus{
		types.ExchangeStatusNew,
		types.ExchangeStatusNew,
		types.ExchangeStatusFilled,
	}

	result := placeAsync(t, f, limitOrder(100), 500*time.Millisecond)
	assert.True(t, result.Success)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, 3, f.exchange.statusCalls)
}

func TestPipelinePollTimeout(t *testing.T) {
	config := DefaultConfig()
	config.PollInterval = time.Second
	config.OrderTimeout = 3 * time.Second
	f := newPipelineFixture(config)

	var timeouts int
	var mu sync.Mutex
	f.bus.Subscribe(events.OrderExecutionTimeout, func(events.Event) {
		mu.Lock()
		timeouts++
		mu.Unlock()
	})

	f.exchange.defaultPlacing = &interfaces.PlacedOrder{OrderID: "ex-1", Status: types.ExchangeStatusNew}
	f.exchange.defaultStatus = types.ExchangeStatusNew

	result := placeAsync(t, f, limitOrder(100), 500*time.Millisecond)
	assert.False(t, result.Success)
	assert.Equal(t, types.OrderStatusTimeout, result.Status)
	assert.Contains(t, result.Error, "timeout")

	mu.Lock()
	assert.Equal(t, 1, timeouts)
	mu.Unlock()
}

func TestPipelinePollStatusReadError(t *testing.T) {
	config := DefaultConfig()
	config.PollInterval = time.Second
	f := newPipelineFixture(config)

	f.exchange.defaultPlacing = &interfaces.PlacedOrder{OrderID: "ex-1", Status: types.ExchangeStatusNew}
	f.exchange.statusErr = errors.New("connection reset")

	result := placeAsync(t, f, limitOrder(100), 500*time.Millisecond)
	assert.False(t, result.Success)
	assert.Equal(t, types.OrderStatusFailed, result.Status)
}

func TestPipelineRejectedOrder(t *testing.T) {
	f := newPipelineFixture(nil)
	f.exchange.defaultPlacing = &interfaces.PlacedOrder{OrderID: "ex-1", Status: types.ExchangeStatusRejected}

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, types.OrderStatusFailed, result.Status)
	assert.Contains(t, result.Error, "terminal status")
}

func TestPipelineInvalidAck(t *testing.T) {
	f := newPipelineFixture(nil)
	f.exchange.placeScript = []placeResponse{{placed: &interfaces.PlacedOrder{}}}

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid order result", result.Error)
}

func TestPipelineSlippageBreach(t *testing.T) {
	f := newPipelineFixture(nil)
	f.exchange.defaultPlacing = &interfaces.PlacedOrder{
		OrderID:      "ex-1",
		Status:       types.ExchangeStatusFilled,
		FilledQty:    0.01,
		AvgFillPrice: 101, // 1% past the 0.5% limit
	}

	result, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)

	// a breach is reported, not rolled back
	assert.True(t, result.Success)
	require.NotNil(t, result.Slippage)
	assert.False(t, result.Slippage.WithinLimits)
	assert.InDelta(t, 1.0, result.Slippage.Percent, 1e-9)
	assert.InDelta(t, 1.0, result.Slippage.Amount, 1e-9)

	metrics := f.pipeline.GetMetrics()
	assert.InDelta(t, 1.0, metrics.AverageSlippage, 1e-9)
}

func TestPipelineMarketOrderSkipsSlippage(t *testing.T) {
	f := newPipelineFixture(nil)
	f.exchange.defaultPlacing = &interfaces.PlacedOrder{
		OrderID:      "ex-1",
		Status:       types.ExchangeStatusFilled,
		FilledQty:    0.01,
		AvgFillPrice: 100,
	}

	order := &types.Order{
		Symbol:   "BTCUSDT",
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.01,
	}
	result, err := f.pipeline.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, result.Success)
	// no expected price, nothing to compare against
	assert.Nil(t, result.Slippage)
}

func TestPipelineMetricsAndReset(t *testing.T) {
	f := newPipelineFixture(nil)

	_, err := f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)

	f.exchange.placeScript = []placeResponse{
		{err: faults.NonRetryable("exchange", "bad_symbol", errors.New("invalid symbol"))},
	}
	_, err = f.pipeline.PlaceOrder(context.Background(), limitOrder(100))
	require.NoError(t, err)

	metrics := f.pipeline.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalOrders)
	assert.Equal(t, int64(1), metrics.SuccessfulOrders)
	assert.Equal(t, int64(1), metrics.FailedOrders)

	f.pipeline.ResetMetrics()
	metrics = f.pipeline.GetMetrics()
	assert.Equal(t, int64(0), metrics.TotalOrders)
	assert.Equal(t, 0.0, metrics.AverageSlippage)
}

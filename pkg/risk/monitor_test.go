package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/lifecycle"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

type recordingExecutor struct {
	mu     sync.Mutex
	orders []*types.Order
}

func (r *recordingExecutor) PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	return &types.OrderResult{Success: true, AvgFillPrice: order.Price}, nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type monitorFixture struct {
	monitor  *Monitor
	manager  *lifecycle.Manager
	clk      *clock.FakeClock
	bus      *events.Bus
	executor *recordingExecutor
}

func newMonitorFixture(config *MonitorConfig) *monitorFixture {
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	bus := events.NewBus(logger)
	machine := lifecycle.NewStateMachine(logger, clk)
	machine.Initialize()
	executor := &recordingExecutor{}
	manager := lifecycle.NewManager(nil, logger, clk, bus, machine, executor)
	return &monitorFixture{
		monitor:  NewMonitor(config, logger, clk, bus, manager),
		manager:  manager,
		clk:      clk,
		bus:      bus,
		executor: executor,
	}
}

func monitoredPos(id string, entryTime time.Time) *types.Position {
	return &types.Position{
		Symbol:     "BTCUSDT",
		PositionID: id,
		Side:       types.SideLong,
		Quantity:   0.01,
		EntryPrice: 100,
		EntryTime:  entryTime,
	}
}

// neutralSnapshot yields full time/drawdown scores and midpoint volume and
// profitability for a fresh break-even position
func neutralSnapshot() MarketSnapshot {
	return MarketSnapshot{
		LastPrice:        100,
		LastCandleVolume: 1000,
		AverageVolume:    1000,
		CurrentATR:       2,
		AverageATR:       2,
	}
}

func TestComputeFreshPosition(t *testing.T) {
	f := newMonitorFixture(nil)
	pos := monitoredPos("pos-1", f.clk.Now())

	score := f.monitor.Compute(pos, neutralSnapshot())
	assert.Equal(t, 100.0, score.TimeAtRisk)
	assert.Equal(t, 100.0, score.Drawdown)
	assert.Equal(t, 50.0, score.VolumeLiquidity)
	// ATR at its average scores full volatility
	assert.Equal(t, 100.0, score.Volatility)
	assert.Equal(t, 50.0, score.Profitability)
	assert.InDelta(t, 80.0, score.OverallScore, 1e-9)
	assert.Equal(t, types.DangerSafe, score.Level)
}

func TestComputeTimeAtRiskDecays(t *testing.T) {
	f := newMonitorFixture(nil)
	pos := monitoredPos("pos-1", f.clk.Now())

	f.clk.Advance(120 * time.Minute)
	score := f.monitor.Compute(pos, neutralSnapshot())
	assert.InDelta(t, 50.0, score.TimeAtRisk, 1e-9)

	f.clk.Advance(200 * time.Minute)
	score = f.monitor.Compute(pos, neutralSnapshot())
	assert.Equal(t, 0.0, score.TimeAtRisk)
}

func TestComputeDrawdownAndProfitability(t *testing.T) {
	f := newMonitorFixture(nil)
	pos := monitoredPos("pos-1", f.clk.Now())

	snap := neutralSnapshot()
	snap.LastPrice = 97.5 // -2.5% of the 5% max drawdown

	score := f.monitor.Compute(pos, snap)
	assert.InDelta(t, 50.0, score.Drawdown, 1e-9)
	// -2.5% against a +2% target pins profitability at the floor
	assert.Equal(t, 0.0, score.Profitability)

	snap.LastPrice = 102 // at the target PnL
	score = f.monitor.Compute(pos, snap)
	assert.Equal(t, 100.0, score.Drawdown)
	assert.InDelta(t, 100.0, score.Profitability, 1e-9)
}

func TestComputeShortSideInvertsPnL(t *testing.T) {
	f := newMonitorFixture(nil)
	pos := monitoredPos("pos-1", f.clk.Now())
	pos.Side = types.SideShort

	snap := neutralSnapshot()
	snap.LastPrice = 95 // +5% for a short

	score := f.monitor.Compute(pos, snap)
	assert.Equal(t, 100.0, score.Drawdown)
	assert.Equal(t, 100.0, score.Profitability)
}

func TestComputeVolumeComponent(t *testing.T) {
	f := newMonitorFixture(nil)
	pos := monitoredPos("pos-1", f.clk.Now())

	snap := neutralSnapshot()
	snap.LastCandleVolume = 2000
	score := f.monitor.Compute(pos, snap)
	assert.InDelta(t, 100.0, score.VolumeLiquidity, 1e-9)

	snap.LastCandleVolume = 0
	score = f.monitor.Compute(pos, snap)
	assert.Equal(t, 0.0, score.VolumeLiquidity)

	// no volume history falls back to the midpoint
	snap.AverageVolume = 0
	score = f.monitor.Compute(pos, snap)
	assert.Equal(t, 50.0, score.VolumeLiquidity)
}

func TestComputeVolatilityComponent(t *testing.T) {
	f := newMonitorFixture(nil)
	pos := monitoredPos("pos-1", f.clk.Now())

	// no penalty until ATR exceeds twice its average
	snap := neutralSnapshot()
	snap.CurrentATR = 4
	score := f.monitor.Compute(pos, snap)
	assert.InDelta(t, 100.0, score.Volatility, 1e-9)

	snap.CurrentATR = 5 // halfway between 2x and 3x
	score = f.monitor.Compute(pos, snap)
	assert.InDelta(t, 50.0, score.Volatility, 1e-9)

	snap.CurrentATR = 6 // three times the average floors the component
	score = f.monitor.Compute(pos, snap)
	assert.Equal(t, 0.0, score.Volatility)

	snap.AverageATR = 0
	score = f.monitor.Compute(pos, snap)
	assert.Equal(t, 100.0, score.Volatility)
}

func TestMonitorCheckInterval(t *testing.T) {
	config := DefaultMonitorConfig()
	config.CheckIntervalCandles = 2
	f := newMonitorFixture(config)

	var updates int
	f.bus.Subscribe(events.HealthScoreUpdated, func(events.Event) { updates++ })

	f.monitor.MonitorPosition(monitoredPos("pos-1", f.clk.Now()))
	ctx := context.Background()

	// the first candle always scores because no cached score exists yet
	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 1, updates)

	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 2, updates)

	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 2, updates)

	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 3, updates)

	// other symbols never touch this position
	f.monitor.OnCandle(ctx, "ETHUSDT", neutralSnapshot())
	assert.Equal(t, 3, updates)

	score := f.monitor.LastScore("pos-1")
	require.NotNil(t, score)
	assert.Equal(t, types.DangerSafe, score.Level)
	assert.Nil(t, f.monitor.LastScore("unknown"))
}

func TestMonitorUpdatePositionInvalidatesCache(t *testing.T) {
	config := DefaultMonitorConfig()
	config.CheckIntervalCandles = 100
	f := newMonitorFixture(config)

	var updates int
	f.bus.Subscribe(events.HealthScoreUpdated, func(events.Event) { updates++ })

	pos := monitoredPos("pos-1", f.clk.Now())
	f.monitor.MonitorPosition(pos)
	ctx := context.Background()

	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 1, updates)
	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 1, updates)

	f.monitor.UpdatePosition(pos)
	f.monitor.OnCandle(ctx, "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 2, updates)
}

func TestMonitorCriticalEscalation(t *testing.T) {
	f := newMonitorFixture(nil)

	var levelChanges, alerts, emergencies int
	f.bus.Subscribe(events.DangerLevelChanged, func(events.Event) { levelChanges++ })
	f.bus.Subscribe(events.RiskAlertTriggered, func(e events.Event) {
		alerts++
		alert := e.Payload.(RiskAlert)
		assert.Equal(t, "pos-1", alert.PositionID)
		assert.Equal(t, types.DangerCritical, alert.Score.Level)
	})
	f.bus.Subscribe(events.EmergencyCloseTriggered, func(events.Event) { emergencies++ })

	pos := monitoredPos("pos-1", f.clk.Now())
	f.manager.TrackPosition(pos)
	f.monitor.MonitorPosition(pos)

	// every component at its floor: stale, deep in loss, thin volume,
	// extreme volatility
	f.clk.Advance(241 * time.Minute)
	worst := MarketSnapshot{
		LastPrice:        95,
		LastCandleVolume: 0,
		AverageVolume:    1000,
		CurrentATR:       6,
		AverageATR:       2,
	}
	f.monitor.OnCandle(context.Background(), "BTCUSDT", worst)

	assert.Equal(t, 1, levelChanges)
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, emergencies)
	// the manager placed the emergency close order
	assert.Equal(t, 1, f.executor.count())

	score := f.monitor.LastScore("pos-1")
	require.NotNil(t, score)
	assert.Equal(t, 0.0, score.OverallScore)
	assert.Equal(t, types.DangerCritical, score.Level)

	// staying critical does not re-alert
	f.monitor.UpdatePosition(pos)
	f.monitor.OnCandle(context.Background(), "BTCUSDT", worst)
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, emergencies)
}

func TestMonitorStopMonitoring(t *testing.T) {
	f := newMonitorFixture(nil)

	var updates int
	f.bus.Subscribe(events.HealthScoreUpdated, func(events.Event) { updates++ })

	f.monitor.MonitorPosition(monitoredPos("pos-1", f.clk.Now()))
	f.monitor.StopMonitoring("pos-1")
	f.monitor.OnCandle(context.Background(), "BTCUSDT", neutralSnapshot())
	assert.Equal(t, 0, updates)
}

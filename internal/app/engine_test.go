package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/config"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/analytics"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/breaker"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/exchange"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/execution"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/lifecycle"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/metrics"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/processing"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/risk"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/shutdown"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

func newEngineFixture(t *testing.T) *Engine {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus(logger)

	cfg := &config.Config{}
	cfg.Stream.Symbols = []string{"BTCUSDT"}
	cfg.Trading.OrderQuantity = 0.03
	cfg.Trading.MaxOpenPositions = 3

	machine := lifecycle.NewStateMachine(logger, clk)
	machine.Initialize()
	paper := exchange.NewPaperClient(logger)
	pipeline := execution.NewPipeline(nil, logger, clk, bus, paper)
	manager := lifecycle.NewManager(nil, logger, clk, bus, machine, pipeline)
	monitor := risk.NewMonitor(nil, logger, clk, bus, manager)

	shutdownConfig := shutdown.DefaultConfig()
	shutdownConfig.StateDir = t.TempDir()
	coordinator := shutdown.NewCoordinator(shutdownConfig, logger, clk, bus, paper, manager, nil, nil)

	return NewEngine(cfg, logger, clk, bus,
		processing.NewPool(nil, logger, clk),
		processing.NewOrchestratorCache(10, logger, clk),
		breaker.NewRegistry(nil, logger, clk),
		machine, manager, monitor, pipeline,
		analytics.NewAnalyzer(logger, clk, nil),
		coordinator, metrics.NewCollector(), paper)
}

func enginePosition(e *Engine) *types.Position {
	return &types.Position{
		Symbol:         "BTCUSDT",
		PositionID:     "pos-1",
		Side:           types.SideLong,
		Quantity:       0.03,
		EntryPrice:     100,
		EntryTime:      e.clk.Now(),
		StopLoss:       stopPrice(100, types.SideLong),
		TakeProfits:    takeProfitLadder(100, types.SideLong),
		LifecycleState: types.LifecycleOpen,
	}
}

func positionState(t *testing.T, e *Engine, positionID string) types.PositionState {
	t.Helper()
	for _, rec := range e.machine.GetStatesBySymbol("BTCUSDT") {
		if rec.PositionID == positionID {
			return rec.CurrentState
		}
	}
	t.Fatalf("no state record for %s", positionID)
	return ""
}

func TestEngineTakeProfitLadderAdvancesAcrossCandles(t *testing.T) {
	e := newEngineFixture(t)
	ctx := context.Background()

	pos := enginePosition(e)
	e.manager.TrackPosition(pos)
	e.monitor.MonitorPosition(pos)
	e.paper.SetMarkPrice("BTCUSDT", 100)

	// ladder for entry 100: 100.5 / 101 / 101.5
	e.checkExits(ctx, candle(100.7, 100, 100.6, 10))
	assert.Equal(t, types.PositionStateTP1Hit, positionState(t, e, "pos-1"))

	tracked := e.manager.TrackedPositions()
	require.Len(t, tracked, 1)
	assert.True(t, tracked[0].Position.TakeProfits[0].Hit)
	assert.InDelta(t, 0.02, tracked[0].Position.Quantity, 1e-9)

	// a later candle must advance the next level; the TP1 fill survives
	// across candles
	e.checkExits(ctx, candle(101.3, 100.8, 101.2, 10))
	assert.Equal(t, types.PositionStateTP2Hit, positionState(t, e, "pos-1"))

	tracked = e.manager.TrackedPositions()
	require.Len(t, tracked, 1)
	assert.True(t, tracked[0].Position.TakeProfits[1].Hit)
	assert.InDelta(t, 0.01, tracked[0].Position.Quantity, 1e-9)

	// the final level closes the remainder through the pipeline
	e.checkExits(ctx, candle(102.1, 101.4, 102, 10))
	assert.Equal(t, 0, e.manager.OpenPositionCount())
}

func TestEngineStopLossTriggersEmergencyClose(t *testing.T) {
	e := newEngineFixture(t)
	ctx := context.Background()

	pos := enginePosition(e)
	e.manager.TrackPosition(pos)
	e.paper.SetMarkPrice("BTCUSDT", 98.9)

	// stop for entry 100 sits at 99
	e.checkExits(ctx, candle(99.5, 98.5, 98.9, 10))
	assert.Equal(t, 0, e.manager.OpenPositionCount())
}

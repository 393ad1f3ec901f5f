// Package app wires the execution fabric's components together and routes
// market data through them.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/api"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/config"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/analytics"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/breaker"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/exchange"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/execution"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/interfaces"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/journal"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/lifecycle"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/logger"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/metrics"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/processing"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/risk"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/shutdown"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/stream"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// strategy window sizes for level detection and market statistics
const (
	levelWindow   = 20
	statsWindow   = 50
	atrPeriod     = 14
	stopLossPct   = 1.0
	takeProfitPct = 0.5
)

// Engine routes candles from the market feed into the processing pool and
// supervises the resulting positions.
type Engine struct {
	cfg         *config.Config
	logger      *zap.Logger
	clk         clock.Clock
	bus         *events.Bus
	pool        *processing.Pool
	cache       *processing.OrchestratorCache
	breakers    *breaker.Registry
	machine     *lifecycle.StateMachine
	manager     *lifecycle.Manager
	monitor     *risk.Monitor
	pipeline    *execution.Pipeline
	analyzer    *analytics.Analyzer
	coordinator *shutdown.Coordinator
	collector   *metrics.Collector
	paper       *exchange.PaperClient
	feed        *stream.CandleStream

	mu        sync.Mutex
	trackers  map[string]*marketTracker
	positions map[string]*types.Position // opened by this engine, by positionID
}

// NewEngine creates the trading engine
func NewEngine(
	cfg *config.Config,
	log *zap.Logger,
	clk clock.Clock,
	bus *events.Bus,
	pool *processing.Pool,
	cache *processing.OrchestratorCache,
	breakers *breaker.Registry,
	machine *lifecycle.StateMachine,
	manager *lifecycle.Manager,
	monitor *risk.Monitor,
	pipeline *execution.Pipeline,
	analyzer *analytics.Analyzer,
	coordinator *shutdown.Coordinator,
	collector *metrics.Collector,
	paper *exchange.PaperClient,
) *Engine {
	e := &Engine{
		cfg:         cfg,
		logger:      log.Named("engine"),
		clk:         clk,
		bus:         bus,
		pool:        pool,
		cache:       cache,
		breakers:    breakers,
		machine:     machine,
		manager:     manager,
		monitor:     monitor,
		pipeline:    pipeline,
		analyzer:    analyzer,
		coordinator: coordinator,
		collector:   collector,
		paper:       paper,
		trackers:    make(map[string]*marketTracker),
		positions:   make(map[string]*types.Position),
	}
	e.feed = stream.NewCandleStream(&stream.Config{
		URL:               cfg.Stream.URL,
		Symbols:           cfg.Stream.Symbols,
		Interval:          cfg.Stream.Interval,
		HandshakeTimeout:  cfg.Stream.ConnectionTimeout,
		ReconnectDelay:    cfg.Stream.ReconnectDelay,
		MaxReconnectDelay: cfg.Stream.MaxReconnectDelay,
		PingInterval:      cfg.Stream.PingInterval,
	}, log, e.OnCandle)
	return e
}

// Feed returns the engine's candle stream
func (e *Engine) Feed() *stream.CandleStream {
	return e.feed
}

// Start wires the processing function, recovers persisted state and starts
// the pool and the market feed
func (e *Engine) Start(ctx context.Context) error {
	e.machine.Initialize()

	e.breakers.OnStateChange(func(strategyID string, from, to breaker.Status) {
		e.collector.ObserveBreakerTransition(strategyID, to)
		e.logger.Info("breaker transition",
			zap.String("strategy_id", strategyID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})

	e.coordinator.SetMetricsSource(e.SessionMetrics)
	if snapshot := e.coordinator.RecoverState(); snapshot != nil {
		for i := range snapshot.Positions {
			pos := &snapshot.Positions[i]
			e.monitor.MonitorPosition(pos)
			e.mu.Lock()
			e.positions[pos.PositionID] = pos.Clone()
			e.mu.Unlock()
		}
	}

	e.pool.SetProcessFunc(e.processJob)
	e.pool.Start()

	if err := e.feed.Start(ctx); err != nil {
		return fmt.Errorf("failed to start candle stream: %w", err)
	}
	e.logger.Info("engine started", zap.Strings("symbols", e.cfg.Stream.Symbols))
	return nil
}

// Stop runs the graceful shutdown sequence
func (e *Engine) Stop(ctx context.Context) error {
	e.feed.Stop()
	_, err := e.coordinator.Shutdown(ctx)
	return err
}

// OnCandle is the feed callback. It updates market state, submits a
// strategy job and drives lifecycle and risk checks.
func (e *Engine) OnCandle(candle types.Candle) {
	ctx := context.Background()

	e.collector.ObserveCandle(candle.Symbol)
	e.paper.SetMarkPrice(candle.Symbol, candle.Close)

	e.mu.Lock()
	tracker, ok := e.trackers[candle.Symbol]
	if !ok {
		tracker = newMarketTracker(statsWindow, atrPeriod)
		e.trackers[candle.Symbol] = tracker
	}
	tracker.Add(candle)
	lastPrice, lastVolume, avgVolume, curATR, avgATR := tracker.Snapshot()
	e.mu.Unlock()

	job := &types.Job{
		JobID:      uuid.NewString(),
		StrategyID: candle.Symbol,
		Candle:     &candle,
		Timestamp:  e.clk.Now(),
		Priority:   types.PriorityNormal,
	}
	go func() {
		result, err := e.pool.Submit(job)
		if err != nil {
			e.logger.Warn("job submission rejected",
				zap.String("strategy_id", job.StrategyID),
				zap.Error(err))
			return
		}
		e.collector.ObserveJob(result)
		stats := e.pool.Stats()
		e.collector.SetPoolGauges(stats.QueuedJobs, stats.ActiveJobs)
	}()

	e.checkExits(ctx, candle)
	e.manager.CheckPositions(ctx)
	e.monitor.OnCandle(ctx, candle.Symbol, risk.MarketSnapshot{
		LastPrice:        lastPrice,
		LastCandleVolume: lastVolume,
		AverageVolume:    avgVolume,
		CurrentATR:       curATR,
		AverageATR:       avgATR,
	})
	e.collector.SetOpenPositions(e.manager.OpenPositionCount())
	e.harvestClosedPositions()
}

// processJob is the pool's processing function: breaker-gated strategy
// evaluation through the cached orchestrator, opening a position on signal.
func (e *Engine) processJob(ctx context.Context, job *types.Job) (interface{}, error) {
	strategyID := job.StrategyID
	if !e.breakers.CanExecute(strategyID) {
		return map[string]string{"skipped": "circuit breaker open"}, nil
	}

	var orch *levelOrchestrator
	if cached, ok := e.cache.Get(strategyID); ok {
		orch = cached.(*levelOrchestrator)
	} else {
		orch = newLevelOrchestrator(strategyID, levelWindow)
		e.cache.Put(strategyID, orch)
	}

	if job.Candle == nil {
		err := fmt.Errorf("job for %s carries no candle", strategyID)
		e.breakers.RecordFailure(strategyID, err)
		return nil, err
	}

	signal := orch.Evaluate(*job.Candle)
	if signal.Action == ActionNone {
		e.breakers.RecordSuccess(strategyID)
		return signal, nil
	}

	if err := e.openPosition(ctx, job.Candle.Symbol, signal); err != nil {
		e.breakers.RecordFailure(strategyID, err)
		return nil, err
	}
	e.breakers.RecordSuccess(strategyID)
	return signal, nil
}

func (e *Engine) hasOpenPosition(symbol string) bool {
	for _, tp := range e.manager.TrackedPositions() {
		if tp.Position.Symbol == symbol {
			return true
		}
	}
	return false
}

// openPosition places the entry order and registers the position with the
// lifecycle manager and the risk monitor
func (e *Engine) openPosition(ctx context.Context, symbol string, signal Signal) error {
	if e.coordinator.IsShutdownInProgress() {
		return nil
	}
	if e.hasOpenPosition(symbol) {
		return nil
	}
	if e.manager.OpenPositionCount() >= e.cfg.Trading.MaxOpenPositions {
		return nil
	}

	side := types.SideLong
	orderSide := types.OrderSideBuy
	if signal.Action == ActionShort {
		side = types.SideShort
		orderSide = types.OrderSideSell
	}

	order := &types.Order{
		Symbol:   symbol,
		Side:     orderSide,
		Type:     types.OrderTypeMarket,
		Quantity: e.cfg.Trading.OrderQuantity,
	}
	result, err := e.pipeline.PlaceOrder(ctx, order)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("entry order failed: %s", result.Error)
	}
	e.collector.ObserveOrder(result)

	entry := result.AvgFillPrice
	if entry <= 0 {
		entry = signal.Close
	}
	pos := &types.Position{
		Symbol:         symbol,
		PositionID:     uuid.NewString(),
		Side:           side,
		Quantity:       result.FilledQuantity,
		EntryPrice:     entry,
		EntryTime:      e.clk.Now(),
		StopLoss:       stopPrice(entry, side),
		TakeProfits:    takeProfitLadder(entry, side),
		LifecycleState: types.LifecycleOpen,
	}

	e.manager.TrackPosition(pos)
	e.monitor.MonitorPosition(pos)
	e.mu.Lock()
	e.positions[pos.PositionID] = pos.Clone()
	e.mu.Unlock()
	e.logger.Info("position opened",
		zap.String("position_id", pos.PositionID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("entry", entry),
		zap.Float64("level", signal.Level))
	return nil
}

func stopPrice(entry float64, side types.PositionSide) float64 {
	if side == types.SideLong {
		return entry * (1 - stopLossPct/100)
	}
	return entry * (1 + stopLossPct/100)
}

func takeProfitLadder(entry float64, side types.PositionSide) []types.TakeProfit {
	dir := 1.0
	if side == types.SideShort {
		dir = -1
	}
	tps := make([]types.TakeProfit, 3)
	for i := range tps {
		step := takeProfitPct * float64(i+1) / 100
		tps[i] = types.TakeProfit{
			Level:       i + 1,
			SizePercent: 100.0 / 3,
			Price:       entry * (1 + dir*step),
		}
	}
	return tps
}

// tpTargets orders the TP states reached as levels fill
var tpTargets = []types.PositionState{
	types.PositionStateTP1Hit,
	types.PositionStateTP2Hit,
	types.PositionStateTP3Hit,
}

// checkExits advances TP states and triggers stop-loss closes against the
// candle's close price
func (e *Engine) checkExits(ctx context.Context, candle types.Candle) {
	for _, tp := range e.manager.TrackedPositions() {
		pos := tp.Position
		if pos.Symbol != candle.Symbol {
			continue
		}

		if stopHit(pos, candle.Close) {
			e.manager.TriggerEmergencyClose(ctx, lifecycle.EmergencyCloseRequest{
				PositionID: pos.PositionID,
				Reason:     "stop loss",
				Priority:   types.PriorityHigh,
			})
			continue
		}

		for i, level := range pos.TakeProfits {
			if level.Hit || !tpHit(pos, level.Price, candle.Close) {
				continue
			}
			res := e.machine.TransitionState(lifecycle.TransitionRequest{
				Symbol:      pos.Symbol,
				PositionID:  pos.PositionID,
				TargetState: tpTargets[i],
				Reason:      fmt.Sprintf("tp%d filled", i+1),
			})
			if !res.Allowed {
				break
			}
			if i == len(pos.TakeProfits)-1 {
				// the exit order itself closes the final tranche, so the
				// remaining quantity is not reduced here
				e.manager.TriggerEmergencyClose(ctx, lifecycle.EmergencyCloseRequest{
					PositionID: pos.PositionID,
					Reason:     "final take profit",
					Priority:   types.PriorityNormal,
				})
				break
			}
			if updated := e.manager.MarkTakeProfitHit(pos.PositionID, level.Level); updated != nil {
				pos = updated
			}
			e.monitor.UpdatePosition(pos)
		}
	}
}

func stopHit(pos *types.Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == types.SideLong {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func tpHit(pos *types.Position, target, price float64) bool {
	if pos.Side == types.SideLong {
		return price >= target
	}
	return price <= target
}

// harvestClosedPositions converts freshly closed state records into trade
// records for the analytics and stops their risk monitoring
func (e *Engine) harvestClosedPositions() {
	for _, symbol := range e.cfg.Stream.Symbols {
		for _, rec := range e.machine.GetStatesBySymbol(symbol) {
			if rec.CurrentState != types.PositionStateClosed || rec.ClosedAt == nil {
				continue
			}
			e.monitor.StopMonitoring(rec.PositionID)

			e.mu.Lock()
			pos := e.positions[rec.PositionID]
			delete(e.positions, rec.PositionID)
			e.mu.Unlock()

			trade := &types.TradeRecord{
				TradeID:    rec.PositionID,
				Symbol:     rec.Symbol,
				ExitPrice:  rec.ClosurePrice,
				EntryTime:  rec.CreatedAt,
				ExitTime:   *rec.ClosedAt,
				OpenedAt:   rec.CreatedAt,
				ExitReason: rec.ClosureReason,
			}
			if pos != nil {
				trade.Direction = string(pos.Side)
				trade.Quantity = pos.Quantity
				trade.EntryPrice = pos.EntryPrice
				trade.EntryTime = pos.EntryTime
				trade.OpenedAt = pos.EntryTime
				if rec.ClosurePrice > 0 && pos.EntryPrice > 0 {
					diff := rec.ClosurePrice - pos.EntryPrice
					if pos.Side == types.SideShort {
						diff = -diff
					}
					trade.PnL = diff * pos.Quantity
					trade.PnLPercent = diff / pos.EntryPrice * 100
				}
			}
			e.analyzer.RecordTrade(trade)
			e.collector.ObserveTrade(trade)
			e.machine.ClearState(rec.Symbol, rec.PositionID)
		}
	}
}

// SessionMetrics supplies the shutdown coordinator's snapshot inputs
func (e *Engine) SessionMetrics() (types.SessionMetrics, types.RiskMetrics) {
	report := e.analyzer.GetMetrics(analytics.PeriodAll)
	today := e.analyzer.GetMetrics(analytics.PeriodToday)
	pipeline := e.pipeline.GetMetrics()

	session := types.SessionMetrics{
		TotalTrades:  report.TotalTrades,
		TotalPnL:     report.TotalPnL,
		DailyPnL:     today.TotalPnL,
		OpenedOrders: int(pipeline.TotalOrders),
	}
	riskMetrics := types.RiskMetrics{
		PositionCount: e.manager.OpenPositionCount(),
		MaxDrawdown:   report.MaxDrawdown,
	}
	return session, riskMetrics
}

// Module provides every component for dependency injection
var Module = fx.Options(
	fx.Provide(
		func(cfg *config.Config) (*zap.Logger, error) {
			if cfg.Logging.Development {
				return logger.NewDevelopment(), nil
			}
			return logger.New(cfg.Logging.Level)
		},
		func() clock.Clock { return clock.NewSystemClock() },
		events.NewBus,
		metrics.NewCollector,
		exchange.NewPaperClient,
		func(c *exchange.PaperClient) interfaces.ExchangeClient { return c },
		func(cfg *config.Config, log *zap.Logger) (interfaces.Journal, error) {
			if !cfg.Journal.Enabled {
				return nil, nil
			}
			return journal.NewFileJournal(log, cfg.Journal.Path)
		},
		func(log *zap.Logger, clk clock.Clock, j interfaces.Journal) *analytics.Analyzer {
			return analytics.NewAnalyzer(log, clk, j)
		},
		func(cfg *config.Config, log *zap.Logger, clk clock.Clock) *processing.Pool {
			return processing.NewPool(&processing.PoolConfig{
				WorkerPoolSize:   cfg.Pool.WorkerPoolSize,
				QueueSize:        cfg.Pool.QueueSize,
				DefaultTimeout:   cfg.Pool.DefaultTimeout,
				ShutdownTimeout:  cfg.Pool.ShutdownTimeout,
				MaxResultHistory: cfg.Pool.MaxResultHistory,
			}, log, clk)
		},
		func(cfg *config.Config, log *zap.Logger, clk clock.Clock) *processing.OrchestratorCache {
			return processing.NewOrchestratorCache(cfg.Cache.MaxSize, log, clk)
		},
		func(cfg *config.Config, log *zap.Logger, clk clock.Clock) *breaker.Registry {
			return breaker.NewRegistry(&breaker.RegistryConfig{
				FailureThreshold: cfg.Breaker.FailureThreshold,
				Timeout:          cfg.Breaker.Timeout,
				BackoffBase:      cfg.Breaker.BackoffBase,
				MaxBackoff:       cfg.Breaker.MaxBackoff,
				HalfOpenAttempts: cfg.Breaker.HalfOpenAttempts,
				MaxBreakers:      cfg.Breaker.MaxBreakers,
			}, log, clk)
		},
		lifecycle.NewStateMachine,
		func(cfg *config.Config, log *zap.Logger, clk clock.Clock, bus *events.Bus, exch interfaces.ExchangeClient) *execution.Pipeline {
			return execution.NewPipeline(&execution.Config{
				MaxRetries:         cfg.Execution.MaxRetries,
				RetryDelay:         cfg.Execution.RetryDelay,
				BackoffMultiplier:  cfg.Execution.BackoffMultiplier,
				OrderTimeout:       cfg.Execution.OrderTimeout,
				PollInterval:       cfg.Execution.PollInterval,
				MaxSlippagePercent: cfg.Execution.MaxSlippagePercent,
			}, log, clk, bus, exch)
		},
		func(cfg *config.Config, log *zap.Logger, clk clock.Clock, bus *events.Bus, machine *lifecycle.StateMachine, pipeline *execution.Pipeline) *lifecycle.Manager {
			return lifecycle.NewManager(&lifecycle.ManagerConfig{
				WarningThresholdMinutes: cfg.Lifecycle.WarningThresholdMinutes,
				MaxHoldingTimeMinutes:   cfg.Lifecycle.MaxHoldingTimeMinutes,
				EnableAutomaticTimeout:  cfg.Lifecycle.EnableAutomaticTimeout,
			}, log, clk, bus, machine, pipeline)
		},
		func(cfg *config.Config, log *zap.Logger, clk clock.Clock, bus *events.Bus, manager *lifecycle.Manager) *risk.Monitor {
			return risk.NewMonitor(&risk.MonitorConfig{
				Weights: risk.Weights{
					TimeAtRisk:      cfg.Risk.TimeAtRiskWeight,
					Drawdown:        cfg.Risk.DrawdownWeight,
					VolumeLiquidity: cfg.Risk.VolumeLiquidityWeight,
					Volatility:      cfg.Risk.VolatilityWeight,
					Profitability:   cfg.Risk.ProfitabilityWeight,
				},
				CheckIntervalCandles:     cfg.Risk.CheckIntervalCandles,
				MaxHoldingTimeMinutes:    cfg.Risk.MaxHoldingTimeMinutes,
				MaxDrawdownPercent:       cfg.Risk.MaxDrawdownPercent,
				TargetPnLPercent:         cfg.Risk.TargetPnLPercent,
				HealthScoreThreshold:     cfg.Risk.HealthScoreThreshold,
				EmergencyCloseOnCritical: cfg.Risk.EmergencyCloseOnCritical,
			}, log, clk, bus, manager)
		},
		NewEngine,
		newCoordinator,
		newAPIServer,
	),
)

// newCoordinator builds the shutdown coordinator with the engine's metrics
// source resolved lazily to break the construction cycle
func newCoordinator(
	cfg *config.Config,
	log *zap.Logger,
	clk clock.Clock,
	bus *events.Bus,
	exch interfaces.ExchangeClient,
	manager *lifecycle.Manager,
	pool *processing.Pool,
) *shutdown.Coordinator {
	return shutdown.NewCoordinator(&shutdown.Config{
		StateDir:        cfg.Shutdown.StateDir,
		StateFileName:   cfg.Shutdown.StateFileName,
		ShutdownTimeout: cfg.Shutdown.ShutdownTimeout,
	}, log, clk, bus, exch, manager, pool, nil)
}

func newAPIServer(
	cfg *config.Config,
	log *zap.Logger,
	engine *Engine,
	pool *processing.Pool,
	breakers *breaker.Registry,
	manager *lifecycle.Manager,
	pipeline *execution.Pipeline,
	analyzer *analytics.Analyzer,
	coordinator *shutdown.Coordinator,
	collector *metrics.Collector,
) *api.Server {
	handlers := api.NewHandlers(log, pool, breakers, manager, pipeline,
		analyzer, coordinator, engine.Feed(), collector)
	return api.NewServer(&cfg.Server, log, handlers)
}

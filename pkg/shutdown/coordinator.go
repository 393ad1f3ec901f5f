// Package shutdown coordinates graceful teardown: draining the processing
// pool, cancelling open orders, closing positions and persisting a state
// snapshot for warm recovery.
package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/interfaces"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/lifecycle"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// Config holds shutdown coordinator tuning
type Config struct {
	StateDir        string        `json:"state_dir"`
	StateFileName   string        `json:"state_file_name"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		StateDir:        "data",
		StateFileName:   "bot-state.json",
		ShutdownTimeout: 60 * time.Second,
	}
}

// cancelRetryDelays backs off between order-cancellation attempts before
// degrading gracefully
var cancelRetryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Result summarizes a completed shutdown
type Result struct {
	Duration        time.Duration `json:"duration"`
	CancelledOrders int           `json:"cancelled_orders"`
	ClosedPositions int           `json:"closed_positions"`
	StatePersisted  bool          `json:"state_persisted"`
	Errors          []string      `json:"errors,omitempty"`
}

// Drainer is the slice of the processing pool the coordinator needs
type Drainer interface {
	Shutdown() error
}

// MetricsSource supplies the session and risk metrics for the snapshot
type MetricsSource func() (types.SessionMetrics, types.RiskMetrics)

// Coordinator runs the graceful shutdown sequence and owns state
// persistence and recovery.
type Coordinator struct {
	config   *Config
	logger   *zap.Logger
	clk      clock.Clock
	bus      *events.Bus
	exchange interfaces.ExchangeClient
	manager  *lifecycle.Manager
	drainer  Drainer
	metrics  MetricsSource

	mu                  sync.Mutex
	shutdownInProgress  bool
	hasSavedState       bool
	persistenceDisabled bool
}

// NewCoordinator creates a shutdown coordinator. The state directory is
// created eagerly; on failure persistence is disabled and shutdown degrades
// gracefully.
func NewCoordinator(
	config *Config,
	logger *zap.Logger,
	clk clock.Clock,
	bus *events.Bus,
	exchange interfaces.ExchangeClient,
	manager *lifecycle.Manager,
	drainer Drainer,
	metrics MetricsSource,
) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Coordinator{
		config:   config,
		logger:   logger.Named("shutdown"),
		clk:      clk,
		bus:      bus,
		exchange: exchange,
		manager:  manager,
		drainer:  drainer,
		metrics:  metrics,
	}
	if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
		c.logger.Warn("Could not create state directory, persistence will be disabled",
			zap.String("dir", config.StateDir),
			zap.Error(err))
		c.persistenceDisabled = true
	}
	return c
}

// SetMetricsSource installs the snapshot metrics supplier. Used when the
// supplier is constructed after the coordinator.
func (c *Coordinator) SetMetricsSource(metrics MetricsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
}

// IsShutdownInProgress reports whether Shutdown is currently running
func (c *Coordinator) IsShutdownInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownInProgress
}

// HasSavedState reports whether a snapshot was persisted or found on disk
func (c *Coordinator) HasSavedState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasSavedState
}

func (c *Coordinator) statePath() string {
	return filepath.Join(c.config.StateDir, c.config.StateFileName)
}

// Shutdown runs the full teardown sequence: drain the pool, cancel pending
// orders, close open positions, persist state. Individual step failures
// degrade gracefully and are collected into the result. Reentrant calls are
// rejected.
func (c *Coordinator) Shutdown(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.shutdownInProgress {
		c.mu.Unlock()
		return nil, fmt.Errorf("shutdown already in progress")
	}
	c.shutdownInProgress = true
	c.mu.Unlock()

	start := c.clk.Now()
	c.logger.Info("shutdown started")
	c.bus.Publish(events.Event{Type: events.ShutdownStarted, Timestamp: start})

	ctx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
	defer cancel()

	result := &Result{}

	if c.drainer != nil {
		if err := c.drainer.Shutdown(); err != nil {
			c.logger.Warn("pool drain incomplete", zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("pool drain: %v", err))
		}
	}

	result.CancelledOrders = c.cancelAllPendingOrders(ctx, result)
	result.ClosedPositions = c.closeAllPositions(ctx, result)
	result.StatePersisted = c.PersistState()
	result.Duration = c.clk.Now().Sub(start)

	if len(result.Errors) > 0 {
		c.logger.Warn("shutdown completed with errors",
			zap.Duration("duration", result.Duration),
			zap.Strings("errors", result.Errors))
	} else {
		c.logger.Info("shutdown completed",
			zap.Duration("duration", result.Duration),
			zap.Int("cancelled_orders", result.CancelledOrders),
			zap.Int("closed_positions", result.ClosedPositions))
	}
	// step failures degrade into result.Errors; the sequence itself still
	// completes, so subscribers always receive the final result
	c.bus.Publish(events.Event{Type: events.ShutdownCompleted, Timestamp: c.clk.Now(), Payload: *result})
	return result, nil
}

// cancelAllPendingOrders cancels regular and conditional orders for every
// symbol with a tracked position, retrying with backoff before degrading.
// Returns the number of symbols fully cancelled.
func (c *Coordinator) cancelAllPendingOrders(ctx context.Context, result *Result) int {
	symbols := make(map[string]struct{})
	for _, tp := range c.manager.TrackedPositions() {
		symbols[tp.Position.Symbol] = struct{}{}
	}

	cancelled := 0
	for symbol := range symbols {
		if c.cancelSymbol(ctx, symbol) {
			cancelled++
		} else {
			result.Errors = append(result.Errors,
				fmt.Sprintf("order cancellation failed for %s", symbol))
		}
	}
	return cancelled
}

func (c *Coordinator) cancelSymbol(ctx context.Context, symbol string) bool {
	for attempt := 0; ; attempt++ {
		err := c.exchange.CancelAllOrders(ctx, symbol)
		if err == nil {
			err = c.exchange.CancelAllConditionalOrders(ctx, symbol)
		}
		if err == nil {
			return true
		}
		if attempt >= len(cancelRetryDelays) {
			c.logger.Error("order cancellation abandoned",
				zap.String("symbol", symbol),
				zap.Error(err))
			return false
		}
		c.logger.Warn("order cancellation retry",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if err := c.clk.Sleep(ctx, cancelRetryDelays[attempt]); err != nil {
			return false
		}
	}
}

// closeAllPositions routes every tracked position through the lifecycle
// manager's emergency close. Returns the number of positions no longer
// tracked afterwards.
func (c *Coordinator) closeAllPositions(ctx context.Context, result *Result) int {
	tracked := c.manager.TrackedPositions()
	for _, tp := range tracked {
		c.manager.TriggerEmergencyClose(ctx, lifecycle.EmergencyCloseRequest{
			PositionID: tp.Position.PositionID,
			Reason:     "shutdown",
			Priority:   types.PriorityHigh,
		})
	}

	remaining := c.manager.OpenPositionCount()
	closed := len(tracked) - remaining
	if remaining > 0 {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%d positions could not be closed", remaining))
	}
	return closed
}

// PersistState writes the bot state snapshot to disk. Failures are logged
// and swallowed so shutdown can proceed.
func (c *Coordinator) PersistState() bool {
	c.mu.Lock()
	disabled := c.persistenceDisabled
	c.mu.Unlock()
	if disabled {
		return false
	}

	snapshot := c.buildSnapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err == nil {
		err = os.WriteFile(c.statePath(), data, 0o644)
	}
	if err != nil {
		c.logger.Warn("State persistence failed",
			zap.String("path", c.statePath()),
			zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.hasSavedState = true
	c.mu.Unlock()

	c.logger.Info("state persisted",
		zap.String("path", c.statePath()),
		zap.Int("positions", len(snapshot.Positions)))
	c.bus.Publish(events.Event{
		Type:      events.StatePersisted,
		Timestamp: c.clk.Now(),
		Payload:   *snapshot,
	})
	return true
}

func (c *Coordinator) buildSnapshot() *types.BotStateSnapshot {
	snapshot := &types.BotStateSnapshot{
		SnapshotTime: c.clk.Now(),
		Positions:    make([]types.Position, 0),
	}
	for _, tp := range c.manager.TrackedPositions() {
		snapshot.Positions = append(snapshot.Positions, *tp.Position)
	}
	c.mu.Lock()
	metrics := c.metrics
	c.mu.Unlock()
	if metrics != nil {
		snapshot.SessionMetrics, snapshot.RiskMetrics = metrics()
	}
	return snapshot
}

// RecoverState reads a previously persisted snapshot and re-tracks its
// positions. A missing or corrupt snapshot is not an error: the bot starts
// fresh.
func (c *Coordinator) RecoverState() *types.BotStateSnapshot {
	data, err := os.ReadFile(c.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("State recovery failed, starting with fresh state",
				zap.String("path", c.statePath()))
		} else {
			c.logger.Warn("State recovery failed, starting with fresh state",
				zap.String("path", c.statePath()),
				zap.Error(err))
		}
		return nil
	}

	var snapshot types.BotStateSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Warn("State recovery failed, starting with fresh state",
			zap.String("path", c.statePath()),
			zap.Error(err))
		return nil
	}

	for i := range snapshot.Positions {
		c.manager.TrackPosition(&snapshot.Positions[i])
	}

	c.mu.Lock()
	c.hasSavedState = true
	c.mu.Unlock()

	c.logger.Info("state recovered",
		zap.String("path", c.statePath()),
		zap.Int("positions", len(snapshot.Positions)),
		zap.Time("snapshot_time", snapshot.SnapshotTime))
	c.bus.Publish(events.Event{
		Type:      events.StateRecovered,
		Timestamp: c.clk.Now(),
		Payload:   snapshot,
	})
	return &snapshot
}

// ClearSavedState removes the snapshot file, typically after a clean start
func (c *Coordinator) ClearSavedState() {
	if err := os.Remove(c.statePath()); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("could not remove state file",
			zap.String("path", c.statePath()),
			zap.Error(err))
		return
	}
	c.mu.Lock()
	c.hasSavedState = false
	c.mu.Unlock()
}

package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// OrderExecutor is the slice of the order pipeline the lifecycle manager
// needs to close positions
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderResult, error)
}

// ManagerConfig holds lifecycle thresholds
type ManagerConfig struct {
	WarningThresholdMinutes int  `json:"warning_threshold_minutes"`
	MaxHoldingTimeMinutes   int  `json:"max_holding_time_minutes"`
	EnableAutomaticTimeout  bool `json:"enable_automatic_timeout"`
}

// DefaultManagerConfig returns default configuration
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		WarningThresholdMinutes: 180,
		MaxHoldingTimeMinutes:   240,
		EnableAutomaticTimeout:  true,
	}
}

// TrackedPosition is a position under lifecycle supervision
type TrackedPosition struct {
	Position       *types.Position      `json:"position"`
	LifecycleState types.LifecycleState `json:"lifecycleState"`
	HoldingTime    time.Duration        `json:"holdingTime"`
	WarningRaised  bool                 `json:"warningRaised"`
	CriticalRaised bool                 `json:"criticalRaised"`
}

// TimeoutEvent is the payload of the position-timeout events
type TimeoutEvent struct {
	PositionID         string
	Symbol             string
	HoldingTimeMinutes float64
	ThresholdMinutes   int
}

// EmergencyCloseRequest asks the manager to close a position out of band
type EmergencyCloseRequest struct {
	PositionID string
	Reason     string
	Priority   types.JobPriority
}

// lifecycleNext lists the legal lifecycle transitions. WARNING and
// CRITICAL may be bypassed straight to CLOSING for manual triggers.
var lifecycleNext = map[types.LifecycleState][]types.LifecycleState{
	types.LifecycleOpen:     {types.LifecycleWarning, types.LifecycleClosing},
	types.LifecycleWarning:  {types.LifecycleCritical, types.LifecycleClosing},
	types.LifecycleCritical: {types.LifecycleClosing},
	types.LifecycleClosing:  {types.LifecycleClosed},
	types.LifecycleClosed:   {},
}

// Manager tracks currently-open positions, raises holding-time warnings and
// triggers emergency closes through the order pipeline.
type Manager struct {
	config   *ManagerConfig
	logger   *zap.Logger
	clk      clock.Clock
	bus      *events.Bus
	machine  *StateMachine
	executor OrderExecutor

	mu        sync.Mutex
	positions map[string]*TrackedPosition // by positionID
}

// NewManager creates a trading lifecycle manager
func NewManager(
	config *ManagerConfig,
	logger *zap.Logger,
	clk clock.Clock,
	bus *events.Bus,
	machine *StateMachine,
	executor OrderExecutor,
) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	return &Manager{
		config:    config,
		logger:    logger.Named("lifecycle"),
		clk:       clk,
		bus:       bus,
		machine:   machine,
		executor:  executor,
		positions: make(map[string]*TrackedPosition),
	}
}

// TrackPosition registers an open position for lifecycle supervision
func (m *Manager) TrackPosition(pos *types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[pos.PositionID] = &TrackedPosition{
		Position:       pos.Clone(),
		LifecycleState: types.LifecycleOpen,
	}
	m.logger.Info("tracking position",
		zap.String("position_id", pos.PositionID),
		zap.String("symbol", pos.Symbol))
}

// UntrackPosition removes a position from supervision. Unknown ids are
// non-fatal.
func (m *Manager) UntrackPosition(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, positionID)
}

// TrackedPositions returns copies of the supervised positions
func (m *Manager) TrackedPositions() []*TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*TrackedPosition, 0, len(m.positions))
	for _, tp := range m.positions {
		cp := *tp
		cp.Position = tp.Position.Clone()
		out = append(out, &cp)
	}
	return out
}

// MarkTakeProfitHit records a filled take-profit level on the tracked
// position and reduces its quantity by that level's share of the entry
// size. Returns a copy of the updated position, or nil when the position or
// level is unknown or the level was already hit.
func (m *Manager) MarkTakeProfitHit(positionID string, level int) *types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, ok := m.positions[positionID]
	if !ok {
		return nil
	}
	pos := tp.Position

	remainingPct := 100.0
	var target *types.TakeProfit
	for i := range pos.TakeProfits {
		l := &pos.TakeProfits[i]
		if l.Hit {
			remainingPct -= l.SizePercent
		} else if l.Level == level {
			target = l
		}
	}
	if target == nil || remainingPct <= 0 {
		return nil
	}

	// the current quantity is the unhit share of the entry size
	entryQuantity := pos.Quantity * 100 / remainingPct
	target.Hit = true
	pos.Quantity -= entryQuantity * target.SizePercent / 100
	if pos.Quantity < 0 {
		pos.Quantity = 0
	}

	m.logger.Info("take profit filled",
		zap.String("position_id", positionID),
		zap.Int("level", level),
		zap.Float64("remaining_quantity", pos.Quantity))
	return pos.Clone()
}

// CheckPositions evaluates holding-time thresholds for every tracked
// position. Driven by the external candle tick.
func (m *Manager) CheckPositions(ctx context.Context) {
	now := m.clk.Now()

	m.mu.Lock()
	tracked := make([]*TrackedPosition, 0, len(m.positions))
	for _, tp := range m.positions {
		tracked = append(tracked, tp)
	}
	m.mu.Unlock()

	for _, tp := range tracked {
		m.checkPosition(ctx, tp, now)
	}
}

func (m *Manager) checkPosition(ctx context.Context, tp *TrackedPosition, now time.Time) {
	m.mu.Lock()
	if tp.LifecycleState == types.LifecycleClosing || tp.LifecycleState == types.LifecycleClosed {
		m.mu.Unlock()
		return
	}

	holding := now.Sub(tp.Position.EntryTime)
	tp.HoldingTime = holding
	holdingMinutes := holding.Minutes()

	var raiseWarning, raiseCritical bool
	if holdingMinutes >= float64(m.config.MaxHoldingTimeMinutes) && !tp.CriticalRaised {
		tp.CriticalRaised = true
		tp.LifecycleState = types.LifecycleCritical
		raiseCritical = true
	} else if holdingMinutes >= float64(m.config.WarningThresholdMinutes) && !tp.WarningRaised {
		tp.WarningRaised = true
		tp.LifecycleState = types.LifecycleWarning
		raiseWarning = true
	}
	positionID := tp.Position.PositionID
	symbol := tp.Position.Symbol
	m.mu.Unlock()

	if raiseWarning {
		m.logger.Warn("position holding time warning",
			zap.String("position_id", positionID),
			zap.Float64("holding_minutes", holdingMinutes))
		m.bus.Publish(events.Event{
			Type:      events.PositionTimeoutWarning,
			Timestamp: now,
			Payload: TimeoutEvent{
				PositionID:         positionID,
				Symbol:             symbol,
				HoldingTimeMinutes: holdingMinutes,
				ThresholdMinutes:   m.config.WarningThresholdMinutes,
			},
		})
	}

	if raiseCritical {
		m.logger.Error("position holding time critical",
			zap.String("position_id", positionID),
			zap.Float64("holding_minutes", holdingMinutes))
		m.bus.Publish(events.Event{
			Type:      events.PositionTimeoutCritical,
			Timestamp: now,
			Payload: TimeoutEvent{
				PositionID:         positionID,
				Symbol:             symbol,
				HoldingTimeMinutes: holdingMinutes,
				ThresholdMinutes:   m.config.MaxHoldingTimeMinutes,
			},
		})

		if m.config.EnableAutomaticTimeout {
			m.bus.Publish(events.Event{
				Type:      events.PositionTimeoutTriggered,
				Timestamp: now,
				Payload: TimeoutEvent{
					PositionID:         positionID,
					Symbol:             symbol,
					HoldingTimeMinutes: holdingMinutes,
					ThresholdMinutes:   m.config.MaxHoldingTimeMinutes,
				},
			})
			m.TriggerEmergencyClose(ctx, EmergencyCloseRequest{
				PositionID: positionID,
				Reason:     "max holding time exceeded",
				Priority:   types.PriorityHigh,
			})
		}
	}
}

// TriggerEmergencyClose transitions the position to CLOSING, places a
// market close order through the pipeline and records CLOSED on
// completion. Unknown position ids are non-fatal.
func (m *Manager) TriggerEmergencyClose(ctx context.Context, req EmergencyCloseRequest) {
	m.mu.Lock()
	tp, ok := m.positions[req.PositionID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("emergency close for unknown position",
			zap.String("position_id", req.PositionID))
		return
	}
	if tp.LifecycleState == types.LifecycleClosing || tp.LifecycleState == types.LifecycleClosed {
		m.mu.Unlock()
		return
	}
	tp.LifecycleState = types.LifecycleClosing
	pos := tp.Position.Clone()
	m.mu.Unlock()

	m.logger.Warn("emergency close triggered",
		zap.String("position_id", req.PositionID),
		zap.String("reason", req.Reason))

	order := &types.Order{
		Symbol:   pos.Symbol,
		Side:     closeSide(pos.Side),
		Type:     types.OrderTypeMarket,
		Quantity: pos.Quantity,
	}
	result, err := m.executor.PlaceOrder(ctx, order)
	if err != nil || !result.Success {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		} else {
			errMsg = result.Error
		}
		m.logger.Error("emergency close order failed",
			zap.String("position_id", req.PositionID),
			zap.String("error", errMsg))
		// leave the position in CLOSING; the shutdown coordinator or the
		// next check will retry
		return
	}

	m.machine.ClosePosition(pos.Symbol, pos.PositionID, req.Reason, &CloseExtras{
		Price: result.AvgFillPrice,
	})

	m.mu.Lock()
	tp.LifecycleState = types.LifecycleClosed
	delete(m.positions, req.PositionID)
	m.mu.Unlock()

	m.logger.Info("position closed",
		zap.String("position_id", req.PositionID),
		zap.String("reason", req.Reason))
}

func closeSide(side types.PositionSide) types.OrderSide {
	if side == types.SideLong {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

// ValidateStateTransition reports whether a lifecycle move is legal
func (m *Manager) ValidateStateTransition(from, to types.LifecycleState) bool {
	for _, next := range lifecycleNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OpenPositionCount returns the number of supervised positions
func (m *Manager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Package risk computes real-time position health scores and raises danger
// alerts on the event bus.
package risk

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/events"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/lifecycle"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// Weights distributes the five health components. They must sum to 1.
type Weights struct {
	TimeAtRisk      float64 `json:"time_at_risk"`
	Drawdown        float64 `json:"drawdown"`
	VolumeLiquidity float64 `json:"volume_liquidity"`
	Volatility      float64 `json:"volatility"`
	Profitability   float64 `json:"profitability"`
}

// DefaultWeights returns the uniform weighting
func DefaultWeights() Weights {
	return Weights{
		TimeAtRisk:      0.2,
		Drawdown:        0.2,
		VolumeLiquidity: 0.2,
		Volatility:      0.2,
		Profitability:   0.2,
	}
}

// MonitorConfig holds risk monitor tuning
type MonitorConfig struct {
	Weights                  Weights `json:"weights"`
	CheckIntervalCandles     int     `json:"check_interval_candles"`
	MaxHoldingTimeMinutes    int     `json:"max_holding_time_minutes"`
	MaxDrawdownPercent       float64 `json:"max_drawdown_percent"`
	TargetPnLPercent         float64 `json:"target_pnl_percent"`
	HealthScoreThreshold     float64 `json:"health_score_threshold"`
	EmergencyCloseOnCritical bool    `json:"emergency_close_on_critical"`
}

// DefaultMonitorConfig returns default configuration
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Weights:                  DefaultWeights(),
		CheckIntervalCandles:     5,
		MaxHoldingTimeMinutes:    240,
		MaxDrawdownPercent:       5,
		TargetPnLPercent:         2,
		HealthScoreThreshold:     30,
		EmergencyCloseOnCritical: true,
	}
}

// MarketSnapshot carries the market inputs of a health computation
type MarketSnapshot struct {
	LastPrice        float64
	LastCandleVolume float64
	AverageVolume    float64
	CurrentATR       float64
	AverageATR       float64
}

// RiskAlert is the payload of RISK_ALERT_TRIGGERED
type RiskAlert struct {
	PositionID string
	Symbol     string
	Score      types.HealthScore
}

type monitoredPosition struct {
	position     *types.Position
	candleCount  int
	lastScore    *types.HealthScore
	lastLevel    types.DangerLevel
	cacheValid   bool
	lastSnapshot MarketSnapshot
}

// Monitor computes a composite health score per monitored position every
// CheckIntervalCandles candles and escalates CRITICAL transitions.
type Monitor struct {
	config  *MonitorConfig
	logger  *zap.Logger
	clk     clock.Clock
	bus     *events.Bus
	manager *lifecycle.Manager

	mu        sync.Mutex
	positions map[string]*monitoredPosition // by positionID
}

// NewMonitor creates a real-time risk monitor
func NewMonitor(
	config *MonitorConfig,
	logger *zap.Logger,
	clk clock.Clock,
	bus *events.Bus,
	manager *lifecycle.Manager,
) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	return &Monitor{
		config:    config,
		logger:    logger.Named("risk"),
		clk:       clk,
		bus:       bus,
		manager:   manager,
		positions: make(map[string]*monitoredPosition),
	}
}

// MonitorPosition registers a position for health scoring
func (m *Monitor) MonitorPosition(pos *types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[pos.PositionID] = &monitoredPosition{
		position:  pos.Clone(),
		lastLevel: types.DangerSafe,
	}
}

// UpdatePosition replaces the stored position and invalidates the cached
// score
func (m *Monitor) UpdatePosition(pos *types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.positions[pos.PositionID]
	if !ok {
		return
	}
	mp.position = pos.Clone()
	mp.cacheValid = false
}

// StopMonitoring removes a position
func (m *Monitor) StopMonitoring(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, positionID)
}

// OnCandle feeds a new candle for the symbol. Every CheckIntervalCandles
// candles per position, the health score is recomputed and published.
func (m *Monitor) OnCandle(ctx context.Context, symbol string, snapshot MarketSnapshot) {
	m.mu.Lock()
	due := make([]*monitoredPosition, 0)
	for _, mp := range m.positions {
		if mp.position.Symbol != symbol {
			continue
		}
		mp.candleCount++
		mp.lastSnapshot = snapshot
		if mp.candleCount%m.config.CheckIntervalCandles == 0 || !mp.cacheValid {
			due = append(due, mp)
		}
	}
	m.mu.Unlock()

	for _, mp := range due {
		m.evaluate(ctx, mp, snapshot)
	}
}

// LastScore returns the cached score for a position, or nil
func (m *Monitor) LastScore(positionID string) *types.HealthScore {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.positions[positionID]
	if !ok || mp.lastScore == nil {
		return nil
	}
	score := *mp.lastScore
	return &score
}

func (m *Monitor) evaluate(ctx context.Context, mp *monitoredPosition, snap MarketSnapshot) {
	m.mu.Lock()
	pos := mp.position.Clone()
	prevLevel := mp.lastLevel
	m.mu.Unlock()

	score := m.Compute(pos, snap)

	m.mu.Lock()
	mp.lastScore = &score
	mp.lastLevel = score.Level
	mp.cacheValid = true
	m.mu.Unlock()

	m.bus.Publish(events.Event{
		Type:      events.HealthScoreUpdated,
		Timestamp: score.ComputedAt,
		Payload:   score,
	})

	if score.Level != prevLevel {
		m.logger.Info("danger level changed",
			zap.String("position_id", pos.PositionID),
			zap.String("from", string(prevLevel)),
			zap.String("to", string(score.Level)),
			zap.Float64("score", score.OverallScore))
		m.bus.Publish(events.Event{
			Type:      events.DangerLevelChanged,
			Timestamp: score.ComputedAt,
			Payload:   score,
		})
	}

	if score.Level == types.DangerCritical && prevLevel != types.DangerCritical {
		alert := RiskAlert{PositionID: pos.PositionID, Symbol: pos.Symbol, Score: score}
		m.bus.Publish(events.Event{
			Type:      events.RiskAlertTriggered,
			Timestamp: score.ComputedAt,
			Payload:   alert,
		})

		if m.config.EmergencyCloseOnCritical {
			m.bus.Publish(events.Event{
				Type:      events.EmergencyCloseTriggered,
				Timestamp: score.ComputedAt,
				Payload:   alert,
			})
			m.manager.TriggerEmergencyClose(ctx, lifecycle.EmergencyCloseRequest{
				PositionID: pos.PositionID,
				Reason:     "critical health score",
				Priority:   types.PriorityHigh,
			})
		}
	}
}

// Compute derives the five health components and the weighted overall
// score for a position against a market snapshot
func (m *Monitor) Compute(pos *types.Position, snap MarketSnapshot) types.HealthScore {
	now := m.clk.Now()
	minutesHeld := now.Sub(pos.EntryTime).Minutes()

	pnlPct := pnlPercent(pos, snap.LastPrice)
	lossPct := 0.0
	if pnlPct < 0 {
		lossPct = -pnlPct
	}

	timeAtRisk := 100 * (1 - clip(minutesHeld/float64(m.config.MaxHoldingTimeMinutes), 0, 1))
	drawdown := 100 * (1 - clip(lossPct/m.config.MaxDrawdownPercent, 0, 1))

	volumeLiquidity := 50.0
	if snap.AverageVolume > 0 {
		volumeLiquidity = 50 + 50*clip((snap.LastCandleVolume-snap.AverageVolume)/snap.AverageVolume, -1, 1)
	}

	// full score while ATR stays within twice its average, then penalized
	// linearly and floored once it reaches three times the average
	volatility := 100.0
	if snap.AverageATR > 0 {
		volatility = 100 * clip((3*snap.AverageATR-snap.CurrentATR)/snap.AverageATR, 0, 1)
	}

	profitability := 50.0
	if m.config.TargetPnLPercent > 0 {
		profitability = 50 + 50*clip(pnlPct/m.config.TargetPnLPercent, -1, 1)
	}

	w := m.config.Weights
	overall := w.TimeAtRisk*timeAtRisk +
		w.Drawdown*drawdown +
		w.VolumeLiquidity*volumeLiquidity +
		w.Volatility*volatility +
		w.Profitability*profitability

	return types.HealthScore{
		PositionID:      pos.PositionID,
		TimeAtRisk:      timeAtRisk,
		Drawdown:        drawdown,
		VolumeLiquidity: volumeLiquidity,
		Volatility:      volatility,
		Profitability:   profitability,
		OverallScore:    overall,
		Level:           types.DangerLevelForScore(overall),
		ComputedAt:      now,
	}
}

func pnlPercent(pos *types.Position, lastPrice float64) float64 {
	if pos.EntryPrice <= 0 || lastPrice <= 0 {
		return 0
	}
	change := (lastPrice - pos.EntryPrice) / pos.EntryPrice * 100
	if pos.Side == types.SideShort {
		change = -change
	}
	return change
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

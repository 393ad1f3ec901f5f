package types

import (
	"time"
)

// PositionSide represents the direction of a futures position
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Candle represents a single OHLCV candle for a symbol
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"openTime"`
	CloseTime time.Time `json:"closeTime"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TakeProfit describes a partial exit level attached to a position
type TakeProfit struct {
	Level       int     `json:"level"`
	SizePercent float64 `json:"sizePercent"`
	Price       float64 `json:"price"`
	Hit         bool    `json:"hit"`
}

// Position represents an open or closed futures position
type Position struct {
	Symbol      string       `json:"symbol"`
	PositionID  string       `json:"positionId"`
	Side        PositionSide `json:"side"`
	Quantity    float64      `json:"quantity"`
	EntryPrice  float64      `json:"entryPrice"`
	EntryTime   time.Time    `json:"entryTime"`
	StopLoss    float64      `json:"stopLoss,omitempty"`
	TakeProfits []TakeProfit `json:"takeProfits,omitempty"`

	LifecycleState LifecycleState `json:"lifecycleState"`

	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	ClosureReason string     `json:"closureReason,omitempty"`
	ClosurePnL    float64    `json:"closurePnL,omitempty"`
}

// Clone returns a deep copy of the position
func (p *Position) Clone() *Position {
	cp := *p
	if p.TakeProfits != nil {
		cp.TakeProfits = make([]TakeProfit, len(p.TakeProfits))
		copy(cp.TakeProfits, p.TakeProfits)
	}
	if p.ClosedAt != nil {
		closedAt := *p.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}

// PositionState represents fine-grained progress through take-profit levels
type PositionState string

const (
	PositionStateOpen   PositionState = "OPEN"
	PositionStateTP1Hit PositionState = "TP1_HIT"
	PositionStateTP2Hit PositionState = "TP2_HIT"
	PositionStateTP3Hit PositionState = "TP3_HIT"
	PositionStateClosed PositionState = "CLOSED"
)

// LifecycleState represents a position's coarse stage with respect to
// holding-time thresholds
type LifecycleState string

const (
	LifecycleOpen     LifecycleState = "OPEN"
	LifecycleWarning  LifecycleState = "WARNING"
	LifecycleCritical LifecycleState = "CRITICAL"
	LifecycleClosing  LifecycleState = "CLOSING"
	LifecycleClosed   LifecycleState = "CLOSED"
)

// DangerLevel classifies a health score into coarse risk buckets
type DangerLevel string

const (
	DangerSafe     DangerLevel = "SAFE"
	DangerWarning  DangerLevel = "WARNING"
	DangerCritical DangerLevel = "CRITICAL"
)

// DangerLevelForScore maps an overall health score to a danger level.
// SAFE >= 70, WARNING 30..69, CRITICAL < 30.
func DangerLevelForScore(score float64) DangerLevel {
	switch {
	case score >= 70:
		return DangerSafe
	case score >= 30:
		return DangerWarning
	default:
		return DangerCritical
	}
}

// HealthScore holds the composite risk score of a position
type HealthScore struct {
	PositionID      string      `json:"positionId"`
	TimeAtRisk      float64     `json:"timeAtRisk"`
	Drawdown        float64     `json:"drawdown"`
	VolumeLiquidity float64     `json:"volumeLiquidity"`
	Volatility      float64     `json:"volatility"`
	Profitability   float64     `json:"profitability"`
	OverallScore    float64     `json:"overallScore"`
	Level           DangerLevel `json:"level"`
	ComputedAt      time.Time   `json:"computedAt"`
}

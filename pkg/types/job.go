package types

import "time"

// JobPriority orders jobs inside the strategy processing pool
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the log-friendly name of the priority
func (p JobPriority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Job is a unit of strategy processing triggered by a new candle
type Job struct {
	JobID      string        `json:"jobId"`
	StrategyID string        `json:"strategyId"`
	Candle     *Candle       `json:"candle,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Priority   JobPriority   `json:"priority"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// JobResult is the settled outcome of a processed job
type JobResult struct {
	JobID          string        `json:"jobId"`
	StrategyID     string        `json:"strategyId"`
	Success        bool          `json:"success"`
	Result         interface{}   `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	StackTrace     string        `json:"stackTrace,omitempty"`
	ProcessingTime time.Duration `json:"processingTime"`
	StartedAt      time.Time     `json:"startedAt"`
	CompletedAt    time.Time     `json:"completedAt"`
}

// TradeRecord is a completed trade as stored in the journal
type TradeRecord struct {
	TradeID    string    `json:"tradeId"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnlPercent"`
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	OpenedAt   time.Time `json:"openedAt"`
	ExitReason string    `json:"exitReason"`
}

// SessionMetrics summarizes the current trading session for persistence
type SessionMetrics struct {
	StartedAt    time.Time `json:"startedAt"`
	TotalTrades  int       `json:"totalTrades"`
	TotalPnL     float64   `json:"totalPnL"`
	DailyPnL     float64   `json:"dailyPnL"`
	OpenedOrders int       `json:"openedOrders"`
}

// RiskMetrics summarizes portfolio-level risk for persistence
type RiskMetrics struct {
	PositionCount    int     `json:"positionCount"`
	ExposureRatio    float64 `json:"exposureRatio"`
	CurrentDailyLoss float64 `json:"currentDailyLoss"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
}

// BotStateSnapshot is a serialized record of positions and metrics
// sufficient to warm-start the bot
type BotStateSnapshot struct {
	SnapshotTime   time.Time      `json:"snapshotTime"`
	Positions      []Position     `json:"positions"`
	SessionMetrics SessionMetrics `json:"sessionMetrics"`
	RiskMetrics    RiskMetrics    `json:"riskMetrics"`
}

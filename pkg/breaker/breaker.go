// Package breaker implements per-strategy circuit breakers. Each breaker is
// a CLOSED/OPEN/HALF_OPEN state machine with exponential-backoff recovery;
// transitions are linearizable per strategy through the breaker's own lock.
package breaker

import (
	"math"
	"time"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
)

// Status is the breaker state
type Status string

const (
	StatusClosed   Status = "CLOSED"
	StatusOpen     Status = "OPEN"
	StatusHalfOpen Status = "HALF_OPEN"
)

// maxRecentErrors bounds the per-breaker error history
const maxRecentErrors = 10

// State is a snapshot of a single breaker
type State struct {
	StrategyID       string    `json:"strategy_id"`
	Status           Status    `json:"status"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	LastSuccessTime  time.Time `json:"last_success_time"`
	NextRetryTime    time.Time `json:"next_retry_time"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	TotalFailures    int64     `json:"total_failures"`
	TotalSuccesses   int64     `json:"total_successes"`
	RecentErrors     []string  `json:"recent_errors,omitempty"`
}

// Metrics summarizes a breaker's health
type Metrics struct {
	StrategyID       string        `json:"strategy_id"`
	Status           Status        `json:"status"`
	FailureRate      float64       `json:"failure_rate"`
	TimeInState      time.Duration `json:"time_in_state"`
	RecoveryAttempts int           `json:"recovery_attempts"`
	TotalFailures    int64         `json:"total_failures"`
	TotalSuccesses   int64         `json:"total_successes"`
}

// breaker holds the mutable per-strategy state. All access goes through the
// registry, which locks the breaker before touching it.
type breaker struct {
	strategyID       string
	status           Status
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	nextRetryTime    time.Time
	recoveryAttempts int
	totalFailures    int64
	totalSuccesses   int64
	recentErrors     []string
	stateChangedAt   time.Time

	cachedMetrics *Metrics
}

func (b *breaker) transition(to Status, now time.Time) (from Status) {
	from = b.status
	b.status = to
	b.stateChangedAt = now
	b.cachedMetrics = nil
	return from
}

// openDuration computes the OPEN period for the given recovery attempt with
// exponential backoff capped at maxBackoff
func openDuration(base time.Duration, backoffBase float64, attempts int, maxBackoff time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(backoffBase, float64(attempts)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// canExecute evaluates the gate, transitioning OPEN to HALF_OPEN once the
// retry time has passed
func (b *breaker) canExecute(clk clock.Clock) (bool, *stateChange) {
	now := clk.Now()
	switch b.status {
	case StatusClosed:
		return true, nil
	case StatusOpen:
		if now.Before(b.nextRetryTime) {
			return false, nil
		}
		from := b.transition(StatusHalfOpen, now)
		b.successCount = 0
		return true, &stateChange{strategyID: b.strategyID, from: from, to: StatusHalfOpen}
	case StatusHalfOpen:
		return true, nil
	}
	return false, nil
}

type stateChange struct {
	strategyID string
	from, to   Status
}

func (b *breaker) snapshot() *State {
	recent := make([]string, len(b.recentErrors))
	copy(recent, b.recentErrors)
	return &State{
		StrategyID:       b.strategyID,
		Status:           b.status,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastFailureTime:  b.lastFailureTime,
		LastSuccessTime:  b.lastSuccessTime,
		NextRetryTime:    b.nextRetryTime,
		RecoveryAttempts: b.recoveryAttempts,
		TotalFailures:    b.totalFailures,
		TotalSuccesses:   b.totalSuccesses,
		RecentErrors:     recent,
	}
}

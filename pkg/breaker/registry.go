package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
)

// RegistryConfig holds circuit breaker tuning
type RegistryConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	Timeout          time.Duration `json:"timeout"`
	BackoffBase      float64       `json:"backoff_base"`
	MaxBackoff       time.Duration `json:"max_backoff"`
	HalfOpenAttempts int           `json:"half_open_attempts"`
	MaxBreakers      int           `json:"max_breakers"`
}

// DefaultRegistryConfig returns default configuration
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		BackoffBase:      2,
		MaxBackoff:       5 * time.Minute,
		HalfOpenAttempts: 3,
		MaxBreakers:      100,
	}
}

// StateChangeCallback observes breaker transitions
type StateChangeCallback func(strategyID string, from, to Status)

// Registry manages one breaker per strategy, created on first touch
type Registry struct {
	config *RegistryConfig
	logger *zap.Logger
	clk    clock.Clock

	mu        sync.Mutex
	breakers  map[string]*breaker
	callbacks map[int]StateChangeCallback
	nextCBID  int
}

// NewRegistry creates a circuit breaker registry
func NewRegistry(config *RegistryConfig, logger *zap.Logger, clk clock.Clock) *Registry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	return &Registry{
		config:    config,
		logger:    logger.Named("breaker"),
		clk:       clk,
		breakers:  make(map[string]*breaker),
		callbacks: make(map[int]StateChangeCallback),
	}
}

// getOrCreate returns the breaker for the strategy, creating it on first
// touch. Exceeding MaxBreakers warns but still creates.
func (r *Registry) getOrCreate(strategyID string) *breaker {
	b, ok := r.breakers[strategyID]
	if ok {
		return b
	}
	if r.config.MaxBreakers > 0 && len(r.breakers) >= r.config.MaxBreakers {
		r.logger.Warn("breaker count exceeds configured maximum",
			zap.Int("count", len(r.breakers)+1),
			zap.Int("max", r.config.MaxBreakers))
	}
	b = &breaker{
		strategyID:     strategyID,
		status:         StatusClosed,
		stateChangedAt: r.clk.Now(),
	}
	r.breakers[strategyID] = b
	return b
}

// CanExecute reports whether the strategy may run. In OPEN, the first call
// at or after the retry time transitions to HALF_OPEN and is allowed.
func (r *Registry) CanExecute(strategyID string) bool {
	r.mu.Lock()
	b := r.getOrCreate(strategyID)
	allowed, change := b.canExecute(r.clk)
	cbs := r.callbackListLocked()
	r.mu.Unlock()

	if change != nil {
		r.notify(cbs, change)
	}
	return allowed
}

// RecordSuccess records a successful execution for the strategy
func (r *Registry) RecordSuccess(strategyID string) {
	r.mu.Lock()
	b := r.getOrCreate(strategyID)
	now := r.clk.Now()

	b.totalSuccesses++
	b.lastSuccessTime = now
	b.cachedMetrics = nil

	var change *stateChange
	switch b.status {
	case StatusClosed:
		b.failureCount = 0
		b.successCount++
	case StatusHalfOpen:
		b.successCount++
		if b.successCount >= r.config.HalfOpenAttempts {
			from := b.transition(StatusClosed, now)
			b.failureCount = 0
			b.successCount = 0
			b.recoveryAttempts = 0
			change = &stateChange{strategyID: strategyID, from: from, to: StatusClosed}
		}
	}
	cbs := r.callbackListLocked()
	r.mu.Unlock()

	if change != nil {
		r.logger.Info("breaker recovered", zap.String("strategy_id", strategyID))
		r.notify(cbs, change)
	}
}

// RecordFailure records a failed execution, keeping the last ten error
// messages for inspection
func (r *Registry) RecordFailure(strategyID string, err error) {
	r.mu.Lock()
	b := r.getOrCreate(strategyID)
	now := r.clk.Now()

	b.totalFailures++
	b.lastFailureTime = now
	b.cachedMetrics = nil
	if err != nil {
		b.recentErrors = append(b.recentErrors, err.Error())
		if len(b.recentErrors) > maxRecentErrors {
			b.recentErrors = b.recentErrors[len(b.recentErrors)-maxRecentErrors:]
		}
	}

	var change *stateChange
	switch b.status {
	case StatusClosed:
		b.failureCount++
		if b.failureCount >= r.config.FailureThreshold {
			from := b.transition(StatusOpen, now)
			b.nextRetryTime = now.Add(r.config.Timeout)
			b.successCount = 0
			b.recoveryAttempts = 0
			change = &stateChange{strategyID: strategyID, from: from, to: StatusOpen}
		}
	case StatusHalfOpen:
		from := b.transition(StatusOpen, now)
		b.recoveryAttempts++
		b.nextRetryTime = now.Add(openDuration(
			r.config.Timeout, r.config.BackoffBase, b.recoveryAttempts, r.config.MaxBackoff))
		change = &stateChange{strategyID: strategyID, from: from, to: StatusOpen}
	case StatusOpen:
		b.failureCount++
	}
	nextRetry := b.nextRetryTime
	cbs := r.callbackListLocked()
	r.mu.Unlock()

	if change != nil {
		r.logger.Warn("breaker opened",
			zap.String("strategy_id", strategyID),
			zap.Time("next_retry", nextRetry),
			zap.Error(err))
		r.notify(cbs, change)
	}
}

// GetState returns a copy of the breaker state, or nil if never touched
func (r *Registry) GetState(strategyID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[strategyID]
	if !ok {
		return nil
	}
	return b.snapshot()
}

// GetMetrics returns derived breaker metrics. The computed value is cached
// and invalidated on every state mutation.
func (r *Registry) GetMetrics(strategyID string) *Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[strategyID]
	if !ok {
		return nil
	}
	if b.cachedMetrics != nil {
		m := *b.cachedMetrics
		m.TimeInState = r.clk.Now().Sub(b.stateChangedAt)
		return &m
	}

	m := &Metrics{
		StrategyID:       strategyID,
		Status:           b.status,
		RecoveryAttempts: b.recoveryAttempts,
		TotalFailures:    b.totalFailures,
		TotalSuccesses:   b.totalSuccesses,
	}
	total := b.totalFailures + b.totalSuccesses
	if total > 0 {
		m.FailureRate = float64(b.totalFailures) / float64(total)
	}
	b.cachedMetrics = m

	out := *m
	out.TimeInState = r.clk.Now().Sub(b.stateChangedAt)
	return &out
}

// States returns a snapshot of every breaker
func (r *Registry) States() map[string]*State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*State, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.snapshot()
	}
	return out
}

// Reset returns a single breaker to CLOSED with zeroed counters
func (r *Registry) Reset(strategyID string) {
	r.mu.Lock()
	b, ok := r.breakers[strategyID]
	var change *stateChange
	if ok {
		from := b.transition(StatusClosed, r.clk.Now())
		b.failureCount = 0
		b.successCount = 0
		b.recoveryAttempts = 0
		b.recentErrors = nil
		if from != StatusClosed {
			change = &stateChange{strategyID: strategyID, from: from, to: StatusClosed}
		}
	}
	cbs := r.callbackListLocked()
	r.mu.Unlock()

	if change != nil {
		r.notify(cbs, change)
	}
}

// ResetAll resets every breaker to CLOSED
func (r *Registry) ResetAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Reset(id)
	}
}

// OnStateChange registers a transition observer and returns a handle for
// OffStateChange
func (r *Registry) OnStateChange(cb StateChangeCallback) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextCBID
	r.nextCBID++
	r.callbacks[id] = cb
	return id
}

// OffStateChange removes a previously registered observer
func (r *Registry) OffStateChange(handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, handle)
}

func (r *Registry) callbackListLocked() []StateChangeCallback {
	cbs := make([]StateChangeCallback, 0, len(r.callbacks))
	for _, cb := range r.callbacks {
		cbs = append(cbs, cb)
	}
	return cbs
}

func (r *Registry) notify(cbs []StateChangeCallback, change *stateChange) {
	for _, cb := range cbs {
		cb(change.strategyID, change.from, change.to)
	}
}

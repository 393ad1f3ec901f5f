package lifecycle

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// stateRank orders position states along the legal path. A transition is
// legal when it advances exactly one TP rank, or jumps to CLOSED from any
// non-terminal state. CLOSED is a sink.
var stateRank = map[types.PositionState]int{
	types.PositionStateOpen:   0,
	types.PositionStateTP1Hit: 1,
	types.PositionStateTP2Hit: 2,
	types.PositionStateTP3Hit: 3,
	types.PositionStateClosed: 4,
}

// TransitionRequest asks the state machine to advance a position
type TransitionRequest struct {
	Symbol      string
	PositionID  string
	TargetState types.PositionState
	Reason      string
	Metadata    map[string]interface{}
}

// TransitionResult reports whether the transition was applied
type TransitionResult struct {
	Allowed      bool
	CurrentState types.PositionState
}

// transitionEntry is one hop in a position's state history
type transitionEntry struct {
	From   types.PositionState
	To     types.PositionState
	Reason string
	At     time.Time
}

// PositionStateRecord is the full per-position record held by the machine
type PositionStateRecord struct {
	Symbol        string                 `json:"symbol"`
	PositionID    string                 `json:"positionId"`
	CurrentState  types.PositionState    `json:"currentState"`
	PreBEMode     bool                   `json:"preBEMode"`
	TrailingMode  bool                   `json:"trailingMode"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	ClosedAt      *time.Time             `json:"closedAt,omitempty"`
	ClosureReason string                 `json:"closureReason,omitempty"`
	ClosurePrice  float64                `json:"closurePrice,omitempty"`
	ClosurePnL    float64                `json:"closurePnL,omitempty"`
}

type positionRecord struct {
	PositionStateRecord
	history []transitionEntry
}

// StateMachineStatistics aggregates the machine's population
type StateMachineStatistics struct {
	TotalPositions     int                         `json:"total_positions"`
	ClosedPositions    int                         `json:"closed_positions"`
	Distribution       map[types.PositionState]int `json:"distribution"`
	AverageTimeInState time.Duration               `json:"average_time_in_state"`
}

// ExitModeUpdate is a partial update of a position's exit-mode metadata.
// Nil fields are left untouched.
type ExitModeUpdate struct {
	PreBEMode    *bool
	TrailingMode *bool
	Metadata     map[string]interface{}
}

// StateMachine enforces legal transitions between position states and
// stores per-position metadata. Initialize must be called before use.
type StateMachine struct {
	logger *zap.Logger
	clk    clock.Clock

	mu            sync.RWMutex
	isInitialized bool
	records       map[string]*positionRecord // key: symbol + "/" + positionID
}

// NewStateMachine creates a position state machine
func NewStateMachine(logger *zap.Logger, clk clock.Clock) *StateMachine {
	return &StateMachine{
		logger:  logger.Named("statemachine"),
		clk:     clk,
		records: make(map[string]*positionRecord),
	}
}

// Initialize prepares the machine for use. Idempotent.
func (m *StateMachine) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isInitialized {
		return
	}
	m.isInitialized = true
	m.logger.Info("position state machine initialized")
}

// IsInitialized reports whether Initialize has been called
func (m *StateMachine) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isInitialized
}

func key(symbol, positionID string) string {
	return symbol + "/" + positionID
}

// TransitionState advances a position toward the target state. The record
// is created on first touch with initial state OPEN. Illegal transitions
// are rejected without mutation.
func (m *StateMachine) TransitionState(req TransitionRequest) TransitionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.getOrCreateLocked(req.Symbol, req.PositionID)

	if !legalTransition(rec.CurrentState, req.TargetState) {
		m.logger.Warn("rejected illegal position state transition",
			zap.String("symbol", req.Symbol),
			zap.String("position_id", req.PositionID),
			zap.String("from", string(rec.CurrentState)),
			zap.String("to", string(req.TargetState)),
			zap.String("reason", req.Reason))
		return TransitionResult{Allowed: false, CurrentState: rec.CurrentState}
	}

	now := m.clk.Now()
	rec.history = append(rec.history, transitionEntry{
		From:   rec.CurrentState,
		To:     req.TargetState,
		Reason: req.Reason,
		At:     now,
	})
	rec.CurrentState = req.TargetState
	rec.UpdatedAt = now
	mergeMetadata(rec, req.Metadata)

	m.logger.Debug("position state advanced",
		zap.String("symbol", req.Symbol),
		zap.String("position_id", req.PositionID),
		zap.String("state", string(req.TargetState)),
		zap.String("reason", req.Reason))

	return TransitionResult{Allowed: true, CurrentState: rec.CurrentState}
}

func legalTransition(from, to types.PositionState) bool {
	fromRank, ok := stateRank[from]
	if !ok {
		return false
	}
	toRank, ok := stateRank[to]
	if !ok {
		return false
	}
	if from == types.PositionStateClosed {
		return false
	}
	if to == types.PositionStateClosed {
		return true
	}
	return toRank == fromRank+1
}

func (m *StateMachine) getOrCreateLocked(symbol, positionID string) *positionRecord {
	k := key(symbol, positionID)
	rec, ok := m.records[k]
	if !ok {
		now := m.clk.Now()
		rec = &positionRecord{
			PositionStateRecord: PositionStateRecord{
				Symbol:       symbol,
				PositionID:   positionID,
				CurrentState: types.PositionStateOpen,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
		}
		m.records[k] = rec
	}
	return rec
}

func mergeMetadata(rec *positionRecord, meta map[string]interface{}) {
	if len(meta) == 0 {
		return
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]interface{})
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}
}

// UpdateExitMode merges the preBE / trailing exit-mode metadata without
// erasing unrelated fields. Returns false for unknown positions.
func (m *StateMachine) UpdateExitMode(symbol, positionID string, update ExitModeUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key(symbol, positionID)]
	if !ok {
		return false
	}
	if update.PreBEMode != nil {
		rec.PreBEMode = *update.PreBEMode
	}
	if update.TrailingMode != nil {
		rec.TrailingMode = *update.TrailingMode
	}
	mergeMetadata(rec, update.Metadata)
	rec.UpdatedAt = m.clk.Now()
	return true
}

// CloseExtras carries optional closure details
type CloseExtras struct {
	Price float64
	PnL   float64
}

// ClosePosition transitions the position to CLOSED and stamps the closure
// fields. Returns the transition result; closing an already closed position
// is rejected.
func (m *StateMachine) ClosePosition(symbol, positionID, reason string, extras *CloseExtras) TransitionResult {
	res := m.TransitionState(TransitionRequest{
		Symbol:      symbol,
		PositionID:  positionID,
		TargetState: types.PositionStateClosed,
		Reason:      reason,
	})
	if !res.Allowed {
		return res
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[key(symbol, positionID)]
	now := m.clk.Now()
	rec.ClosedAt = &now
	rec.ClosureReason = reason
	if extras != nil {
		rec.ClosurePrice = extras.Price
		rec.ClosurePnL = extras.PnL
	}
	return res
}

// GetState returns the current state for a position, or empty string when
// the position is unknown
func (m *StateMachine) GetState(symbol, positionID string) types.PositionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key(symbol, positionID)]
	if !ok {
		return ""
	}
	return rec.CurrentState
}

// GetFullState returns a copy of the full record, or nil when unknown
func (m *StateMachine) GetFullState(symbol, positionID string) *PositionStateRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key(symbol, positionID)]
	if !ok {
		return nil
	}
	return copyRecord(rec)
}

func copyRecord(rec *positionRecord) *PositionStateRecord {
	cp := rec.PositionStateRecord
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	if rec.ClosedAt != nil {
		closedAt := *rec.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}

// GetStatesBySymbol returns copies of every record for the symbol
func (m *StateMachine) GetStatesBySymbol(symbol string) []*PositionStateRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*PositionStateRecord, 0)
	for _, rec := range m.records {
		if rec.Symbol == symbol {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// ClearState removes a position record, reporting whether it existed
func (m *StateMachine) ClearState(symbol, positionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(symbol, positionID)
	if _, ok := m.records[k]; !ok {
		return false
	}
	delete(m.records, k)
	return true
}

// GetStatistics aggregates totals, the distribution by state and the
// average time positions have spent in their current state
func (m *StateMachine) GetStatistics() *StateMachineStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StateMachineStatistics{
		Distribution: make(map[types.PositionState]int),
	}
	now := m.clk.Now()
	var totalInState time.Duration
	for _, rec := range m.records {
		stats.TotalPositions++
		stats.Distribution[rec.CurrentState]++
		if rec.CurrentState == types.PositionStateClosed {
			stats.ClosedPositions++
		}
		totalInState += now.Sub(rec.UpdatedAt)
	}
	if stats.TotalPositions > 0 {
		stats.AverageTimeInState = totalInState / time.Duration(stats.TotalPositions)
	}
	return stats
}

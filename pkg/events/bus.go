// Package events provides a synchronous in-process event bus. Publish
// dispatches to subscribers on the caller's goroutine so that "before" and
// "after" transition events observe a consistent order.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a class of event on the bus
type EventType string

const (
	PositionTimeoutWarning   EventType = "POSITION_TIMEOUT_WARNING"
	PositionTimeoutCritical  EventType = "POSITION_TIMEOUT_CRITICAL"
	PositionTimeoutTriggered EventType = "POSITION_TIMEOUT_TRIGGERED"
	HealthScoreUpdated       EventType = "HEALTH_SCORE_UPDATED"
	DangerLevelChanged       EventType = "DANGER_LEVEL_CHANGED"
	RiskAlertTriggered       EventType = "RISK_ALERT_TRIGGERED"
	EmergencyCloseTriggered  EventType = "EMERGENCY_CLOSE_TRIGGERED"
	OrderExecutionStarted    EventType = "ORDER_EXECUTION_STARTED"
	OrderExecutionFailed     EventType = "ORDER_EXECUTION_FAILED"
	OrderExecutionTimeout    EventType = "ORDER_EXECUTION_TIMEOUT"
	ShutdownStarted          EventType = "SHUTDOWN_STARTED"
	ShutdownCompleted        EventType = "SHUTDOWN_COMPLETED"
	ShutdownFailed           EventType = "SHUTDOWN_FAILED"
	StatePersisted           EventType = "STATE_PERSISTED"
	StateRecovered           EventType = "STATE_RECOVERED"
)

// Event is a typed message broadcast to subscribers
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// Handler consumes a published event
type Handler func(Event)

// Bus broadcasts typed events to subscribers synchronously
type Bus struct {
	mu     sync.RWMutex
	logger *zap.Logger
	nextID int
	subs   map[EventType]map[int]Handler
}

// NewBus creates an event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("events"),
		subs:   make(map[EventType]map[int]Handler),
	}
}

// Subscribe registers a handler for an event type and returns an
// unsubscribe function. Handlers run synchronously inside Publish.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[t] == nil {
		b.subs[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[t], id)
	}
}

// Publish dispatches the event to every subscriber of its type. A panicking
// handler is recovered and logged so one subscriber cannot take down the
// publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type]))
	for _, h := range b.subs[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h)
	}
}

func (b *Bus) dispatch(event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	h(event)
}

// SubscriberCount returns the number of handlers registered for a type
func (b *Bus) SubscriberCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

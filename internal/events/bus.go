package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType represents the engine events observable on the bus
type EventType string

const (
	EventPriceUpdate      EventType = "PRICE_UPDATE"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventMarginCall       EventType = "MARGIN_CALL"
	EventStopOut          EventType = "STOP_OUT"
	EventAccountBreached  EventType = "ACCOUNT_BREACHED"
	EventDailyReset       EventType = "DAILY_RESET"
	EventFeedConnected    EventType = "FEED_CONNECTED"
	EventFeedDisconnected EventType = "FEED_DISCONNECTED"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishPriceUpdate publishes an accepted price tick. Decimals travel as
// strings so subscribers cannot round them through binary floats.
func (eb *EventBus) PublishPriceUpdate(symbol string, bid, ask, last decimal.Decimal, ts time.Time) {
	eb.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"bid":    bid.String(),
			"ask":    ask.String(),
			"last":   last.String(),
			"ts":     ts.UnixMilli(),
		},
	})
}

// PublishPositionClosed publishes an engine-triggered close
func (eb *EventBus) PublishPositionClosed(accountID, positionID, symbol, direction, reason string, exitPrice, pnl decimal.Decimal) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"account_id":  accountID,
			"position_id": positionID,
			"symbol":      symbol,
			"direction":   direction,
			"reason":      reason,
			"exit_price":  exitPrice.String(),
			"pnl":         pnl.String(),
		},
	})
}

// PublishMarginCall publishes a margin level warning (no state change)
func (eb *EventBus) PublishMarginCall(accountID string, marginLevel, equity decimal.Decimal) {
	eb.Publish(Event{
		Type: EventMarginCall,
		Data: map[string]interface{}{
			"account_id":   accountID,
			"margin_level": marginLevel.String(),
			"equity":       equity.String(),
		},
	})
}

// PublishStopOut publishes a forced liquidation of the worst position
func (eb *EventBus) PublishStopOut(accountID, positionID, symbol string, marginLevel, pnl decimal.Decimal) {
	eb.Publish(Event{
		Type: EventStopOut,
		Data: map[string]interface{}{
			"account_id":   accountID,
			"position_id":  positionID,
			"symbol":       symbol,
			"margin_level": marginLevel.String(),
			"pnl":          pnl.String(),
		},
	})
}

// PublishAccountBreached publishes a terminal account breach
func (eb *EventBus) PublishAccountBreached(accountID, reason string, equity decimal.Decimal) {
	eb.Publish(Event{
		Type: EventAccountBreached,
		Data: map[string]interface{}{
			"account_id": accountID,
			"reason":     reason,
			"equity":     equity.String(),
		},
	})
}

// PublishDailyReset publishes a day-start anchor snapshot
func (eb *EventBus) PublishDailyReset(accountID, dayStartDate string, anchor decimal.Decimal) {
	eb.Publish(Event{
		Type: EventDailyReset,
		Data: map[string]interface{}{
			"account_id":     accountID,
			"day_start_date": dayStartDate,
			"anchor":         anchor.String(),
		},
	})
}

// PublishFeedState publishes feed connectivity transitions
func (eb *EventBus) PublishFeedState(connected bool, attempts int64) {
	eventType := EventFeedConnected
	if !connected {
		eventType = EventFeedDisconnected
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"connected": connected,
			"attempts":  attempts,
		},
	})
}

package events

import (
	"sync"
	"time"

	"clinicqueue/internal/models"
)

// Queue event types.
const (
	TokenBooked   = "token.booked"
	QueueAdvanced = "queue.advanced"
	EpochClosed   = "queue.epoch_closed"
	QueueReset    = "queue.reset"
)

// Reasons an epoch ends.
const (
	ReasonDrained = "drained"
	ReasonReset   = "reset"
)

// Event is a queue transition observed by subscribers.
type Event struct {
	Type      string
	CreatedAt time.Time

	// Token is set for TokenBooked.
	Token *models.Token
	// CurrentNumber is the serving pointer after the transition.
	CurrentNumber int
	// Served is the token number that was just marked visited (QueueAdvanced).
	Served int
	// Reason and Tokens are set for EpochClosed; Tokens is the closing epoch's list.
	Reason string
	Tokens []models.Token
	// Waiting is the number of waiting tokens after the transition.
	Waiting int
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for queue events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns the first handler error.
// Every handler runs even if an earlier one fails.
func (b *EventBus) Publish(event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var firstErr error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Lifecycle event names emitted by the pipeline.
const (
	EventStarted          = "transaction:started"
	EventComplianceReview = "transaction:compliance_review"
	EventProcessing       = "transaction:processing"
	EventApproved         = "transaction:approved"
	EventRejected         = "transaction:rejected"
	EventCompleted        = "transaction:completed"
	EventFailed           = "transaction:failed"
	EventCancelled        = "transaction:cancelled"
)

// Event carries a lifecycle notification to subscribers.
type Event struct {
	Name          string                 `json:"name"`
	TransactionID string                 `json:"transaction_id"`
	UserID        int64                  `json:"user_id"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

type Handler func(Event)

// Bus is an in-process publish/subscribe channel. Handlers run on their own
// goroutine per event, so a slow or panicking listener cannot stall the
// pipeline or other listeners.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logrus.Entry
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      logrus.WithField("component", "event_bus"),
	}
}

// Subscribe registers a handler for the named event. Subscribe with "*" to
// receive every event.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Emit delivers the event to all matching handlers asynchronously and
// returns immediately.
func (b *Bus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.handlers[event.Name])+len(b.handlers["*"]))
	matched = append(matched, b.handlers[event.Name]...)
	matched = append(matched, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, handler := range matched {
		h := handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.WithFields(logrus.Fields{
						"event":          event.Name,
						"transaction_id": event.TransactionID,
						"panic":          r,
					}).Error("Event handler panicked")
				}
			}()
			h(event)
		}()
	}
}

// SubscriberCount returns the number of handlers registered for an event name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

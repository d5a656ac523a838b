package client

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/elliotchance/orderedmap/v2"

	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
)

// EventType identifies a lifecycle event emitted by a Session.
type EventType string

const (
	EventStarting                   EventType = "starting"
	EventCreated                    EventType = "created"
	EventConnecting                 EventType = "connecting"
	EventReconnecting               EventType = "reconnecting"
	EventConnected                  EventType = "connected"
	EventReady                      EventType = "ready"
	EventBusy                       EventType = "busy"
	EventIdle                       EventType = "idle"
	EventRestarting                 EventType = "restarting"
	EventAutorestarting             EventType = "autorestarting"
	EventInterrupting               EventType = "interrupting"
	EventDisconnected               EventType = "disconnected"
	EventConnectionFailed           EventType = "connection_failed"
	EventConnectionDead             EventType = "connection_dead"
	EventKilled                     EventType = "killed"
	EventDead                       EventType = "dead"
	EventReceivedUnsolicitedMessage EventType = "received_unsolicited_message"
	EventProtocolError              EventType = "protocol_error"
)

func (t EventType) String() string {
	return string(t)
}

// Event is a lifecycle notification. Only the fields relevant to the event's Type are set.
type Event struct {
	Type EventType

	// KernelId is the kernel the session was attached to when the event was emitted.
	KernelId string

	// Attempt is set for reconnecting, autorestarting, connection_failed and connection_dead.
	Attempt int

	// URL is set for connecting and connection_failed.
	URL string

	// Message is set for received_unsolicited_message.
	Message *messaging.Message

	// Err is set for connection_failed, protocol_error and, when known, dead.
	Err error
}

func (e Event) String() string {
	switch e.Type {
	case EventReconnecting, EventAutorestarting, EventConnectionDead:
		return fmt.Sprintf("Event[%s, attempt=%d]", e.Type, e.Attempt)
	case EventConnectionFailed:
		return fmt.Sprintf("Event[%s, url=%s, attempt=%d, err=%v]", e.Type, e.URL, e.Attempt, e.Err)
	case EventReceivedUnsolicitedMessage:
		return fmt.Sprintf("Event[%s, msg=%s]", e.Type, e.Message.JupyterMessageId())
	case EventProtocolError:
		return fmt.Sprintf("Event[%s, err=%v]", e.Type, e.Err)
	default:
		return fmt.Sprintf("Event[%s]", e.Type)
	}
}

// EventHandler is invoked for every event emitted after it was subscribed.
type EventHandler func(event Event)

// EventBus fans lifecycle events out to subscribers in subscription order.
type EventBus struct {
	subscribers *orderedmap.OrderedMap[uint64, EventHandler]
	nextId      uint64

	log logger.Logger
	mu  sync.Mutex
}

// NewEventBus creates an EventBus without subscribers.
func NewEventBus() *EventBus {
	bus := &EventBus{
		subscribers: orderedmap.NewOrderedMap[uint64, EventHandler](),
	}
	config.InitLogger(&bus.log, bus)

	return bus
}

// Subscribe registers a handler and returns a function that removes it again.
func (b *EventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextId
	b.nextId += 1
	b.subscribers.Set(id, handler)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subscribers.Delete(id)
	}
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.subscribers.Len()
}

// Emit delivers the event to every subscriber. A panicking subscriber is logged and skipped.
func (b *EventBus) Emit(event Event) {
	b.mu.Lock()
	handlers := make([]EventHandler, 0, b.subscribers.Len())
	for el := b.subscribers.Front(); el != nil; el = el.Next() {
		handlers = append(handlers, el.Value)
	}
	b.mu.Unlock()

	b.log.Debug("Emitting %v to %d subscriber(s).", event, len(handlers))

	for _, handler := range handlers {
		b.deliver(handler, event)
	}
}

func (b *EventBus) deliver(handler EventHandler, event Event) {
	defer func() {
		if err := recover(); err != nil {
			b.log.Error("Event handler panicked while handling %v: %v\n%s", event, err, string(debug.Stack()))
		}
	}()

	handler(event)
}

package rudp

import "net"

// EventType enumerates the terminal, application-visible connection
// lifecycle events (spec §4.9, §7 "Only terminal events ... surface as
// application events"). Adapted from the teacher's core/events EventType
// enum, generalized from game events (PlayerConnect, VehicleSpawn, ...)
// to transport lifecycle events.
type EventType int

const (
	EventConnecting EventType = iota
	EventConnected
	EventDisconnected
	EventClientConnected
	EventClientDisconnected
	EventStarted
	EventStopped
)

// Cause distinguishes why a connection ended (spec §4.9 "Disconnected
// with cause").
type Cause int

const (
	CauseNone Cause = iota
	CauseTimeout
	CauseLocalClose
	CauseRemoteDisconnect
)

// Event is a single lifecycle notification handed to application
// callbacks. Addr carries the remote endpoint (unset for Started/Stopped);
// Cause is set for disconnect events.
type Event struct {
	Type   EventType
	Addr   net.Addr
	Cause  Cause
	Server bool // true when the Cause-bearing side observing this is the server
}

// EventHandler handles one Event.
type EventHandler func(Event)

// EventManager dispatches lifecycle events to registered handlers.
// Adapted from the teacher's core/events.EventManager (Register/Trigger),
// generalized to the rudp.Event type.
type EventManager struct {
	handlers map[EventType][]EventHandler
}

// NewEventManager creates an empty EventManager.
func NewEventManager() *EventManager {
	return &EventManager{handlers: make(map[EventType][]EventHandler)}
}

// On registers handler for eventType.
func (em *EventManager) On(eventType EventType, handler EventHandler) {
	em.handlers[eventType] = append(em.handlers[eventType], handler)
}

// Fire invokes every handler registered for event.Type, in registration
// order. Handlers run synchronously on the caller's goroutine (the
// application thread driving tick(), per spec §5 "Scheduling model").
func (em *EventManager) Fire(event Event) {
	for _, h := range em.handlers[event.Type] {
		h(event)
	}
}

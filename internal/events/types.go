// Package events provides the event system for mcpconn.
package events

import (
	"encoding/json"
	"time"
)

// ConnState represents the lifecycle state of a tool-server connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateSpawning
	StateHandshaking
	StateDiscovering
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSpawning:
		return "spawning"
	case StateHandshaking:
		return "handshaking"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsSetup returns true while a connection is still being established.
func (s ConnState) IsSetup() bool {
	return s == StateSpawning || s == StateHandshaking || s == StateDiscovering
}

// IsTerminal returns true for states a connection never leaves.
func (s ConnState) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// LastExit contains information about the last process exit.
type LastExit struct {
	Code      int       `json:"code"`
	Signal    string    `json:"signal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerStatus represents the current runtime status of a connection.
type ServerStatus struct {
	Name      string     `json:"name"`
	State     ConnState  `json:"state"`
	PID       int        `json:"pid,omitempty"`
	LastExit  *LastExit  `json:"lastExit,omitempty"`
	ToolCount int        `json:"toolCount"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// Tool is the event-level view of a discovered tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// EventType identifies the kind of event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventLogReceived
	EventToolsUpdated
	EventNotification
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventLogReceived:
		return "log_received"
	case EventToolsUpdated:
		return "tools_updated"
	case EventNotification:
		return "notification"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	ServerName() string
	Timestamp() time.Time
}

type baseEvent struct {
	server    string
	timestamp time.Time
}

func (e baseEvent) ServerName() string   { return e.server }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// StateChangedEvent is emitted when a connection moves between states.
type StateChangedEvent struct {
	baseEvent
	OldState ConnState
	NewState ConnState
	Status   ServerStatus
}

func (e StateChangedEvent) Type() EventType { return EventStateChanged }

// NewStateChangedEvent creates a new state changed event.
func NewStateChangedEvent(server string, oldState, newState ConnState, status ServerStatus) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: baseEvent{server: server, timestamp: time.Now()},
		OldState:  oldState,
		NewState:  newState,
		Status:    status,
	}
}

// LogReceivedEvent is emitted for each stderr line of a tool server.
type LogReceivedEvent struct {
	baseEvent
	Line string
}

func (e LogReceivedEvent) Type() EventType { return EventLogReceived }

// NewLogReceivedEvent creates a new log received event.
func NewLogReceivedEvent(server, line string) LogReceivedEvent {
	return LogReceivedEvent{
		baseEvent: baseEvent{server: server, timestamp: time.Now()},
		Line:      line,
	}
}

// ToolsUpdatedEvent is emitted when discovery replaces a server's tools.
type ToolsUpdatedEvent struct {
	baseEvent
	Tools []Tool
}

func (e ToolsUpdatedEvent) Type() EventType { return EventToolsUpdated }

// NewToolsUpdatedEvent creates a new tools updated event.
func NewToolsUpdatedEvent(server string, tools []Tool) ToolsUpdatedEvent {
	return ToolsUpdatedEvent{
		baseEvent: baseEvent{server: server, timestamp: time.Now()},
		Tools:     tools,
	}
}

// NotificationEvent carries a server-initiated JSON-RPC notification.
type NotificationEvent struct {
	baseEvent
	Method string
	Params json.RawMessage
}

func (e NotificationEvent) Type() EventType { return EventNotification }

// NewNotificationEvent creates a new notification event.
func NewNotificationEvent(server, method string, params json.RawMessage) NotificationEvent {
	return NotificationEvent{
		baseEvent: baseEvent{server: server, timestamp: time.Now()},
		Method:    method,
		Params:    params,
	}
}

// ErrorEvent is emitted when an error occurs.
type ErrorEvent struct {
	baseEvent
	Err     error
	Message string
}

func (e ErrorEvent) Type() EventType { return EventError }

// NewErrorEvent creates a new error event.
func NewErrorEvent(server string, err error, message string) ErrorEvent {
	return ErrorEvent{
		baseEvent: baseEvent{server: server, timestamp: time.Now()},
		Err:       err,
		Message:   message,
	}
}

package testutil

import (
	"sync"
	"time"

	"github.com/Bigsy/mcpconn/internal/events"
)

// EventCollector is a thread-safe event collector for test assertions.
// Subscribe it to an event bus and then query collected events.
type EventCollector struct {
	mu     sync.Mutex
	events []events.Event
	states map[string][]events.ConnState
	tools  map[string][]events.Tool
	logs   map[string][]string
	notify chan struct{}
}

// NewEventCollector creates a new EventCollector.
func NewEventCollector() *EventCollector {
	return &EventCollector{
		events: make([]events.Event, 0),
		states: make(map[string][]events.ConnState),
		tools:  make(map[string][]events.Tool),
		logs:   make(map[string][]string),
		notify: make(chan struct{}),
	}
}

// Handler returns a function suitable for bus.Subscribe().
func (c *EventCollector) Handler(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)

	switch evt := e.(type) {
	case events.StateChangedEvent:
		c.states[evt.ServerName()] = append(c.states[evt.ServerName()], evt.NewState)
	case events.ToolsUpdatedEvent:
		c.tools[evt.ServerName()] = evt.Tools
	case events.LogReceivedEvent:
		c.logs[evt.ServerName()] = append(c.logs[evt.ServerName()], evt.Line)
	}

	// Wake waiters by swapping the broadcast channel
	close(c.notify)
	c.notify = make(chan struct{})
}

// Events returns all collected events.
func (c *EventCollector) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.Event, len(c.events))
	copy(result, c.events)
	return result
}

// StatesFor returns all states observed for a server.
func (c *EventCollector) StatesFor(server string) []events.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.ConnState, len(c.states[server]))
	copy(result, c.states[server])
	return result
}

// ToolsFor returns the most recent tools for a server, or nil.
func (c *EventCollector) ToolsFor(server string) []events.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := c.tools[server]
	if tools == nil {
		return nil
	}
	result := make([]events.Tool, len(tools))
	copy(result, tools)
	return result
}

// LogsFor returns the stderr lines observed for a server.
func (c *EventCollector) LogsFor(server string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, len(c.logs[server]))
	copy(result, c.logs[server])
	return result
}

// WaitForState blocks until the specified state is observed or timeout expires.
func (c *EventCollector) WaitForState(server string, state events.ConnState, timeout time.Duration) bool {
	_, ok := c.WaitForAnyState(server, []events.ConnState{state}, timeout)
	return ok
}

// WaitForAnyState blocks until any of the specified states is observed or timeout expires.
// Returns the observed state and true, or StateDisconnected and false on timeout.
func (c *EventCollector) WaitForAnyState(server string, states []events.ConnState, timeout time.Duration) (events.ConnState, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	want := make(map[events.ConnState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	for {
		c.mu.Lock()
		for _, s := range c.states[server] {
			if want[s] {
				c.mu.Unlock()
				return s, true
			}
		}
		wake := c.notify
		c.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return events.StateDisconnected, false
		}
	}
}

// Clear resets the collector's state.
func (c *EventCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make([]events.Event, 0)
	c.states = make(map[string][]events.ConnState)
	c.tools = make(map[string][]events.Tool)
	c.logs = make(map[string][]string)
}

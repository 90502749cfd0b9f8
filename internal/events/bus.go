package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler is a function that handles events.
type Handler func(Event)

// Bus is a goroutine-safe event bus for dispatching events.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	ch       chan Event
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
	log      *zap.SugaredLogger
}

// NewBus creates a new event bus. A nil logger discards drop warnings.
func NewBus(log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Bus{
		handlers: make([]Handler, 0),
		ch:       make(chan Event, 100), // Buffer to prevent blocking publishers
		done:     make(chan struct{}),
		log:      log,
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.ch:
			b.dispatch(event)
		case <-b.done:
			return
		}
	}
}

// dispatch sends an event to all registered handlers.
func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(event)
		}
	}
}

// Subscribe registers a handler to receive events.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Mark as nil rather than removing to preserve indices
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Publish sends an event to all subscribers without blocking.
// When the buffer is full the event is dropped and counted.
func (b *Bus) Publish(event Event) {
	select {
	case b.ch <- event:
	default:
		b.dropped.Add(1)
		if b.log != nil {
			b.log.Warnf("event bus full, dropping event type=%s server=%s", event.Type(), event.ServerName())
		}
	}
}

// Dropped returns how many events were dropped because the buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts down the event bus. It is safe to call more than once.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.done)
	})
}

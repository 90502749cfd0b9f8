package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/logging"
)

// maxAbandoned bounds the set of timed-out ids whose late replies are
// swallowed quietly.
const maxAbandoned = 1024

// NotificationHandler receives server-initiated notifications.
type NotificationHandler func(Message)

// CorrelatorOptions configures a Correlator.
type CorrelatorOptions struct {
	// RequestTimeout bounds each Await. Zero uses config.DefaultRequestTimeout.
	RequestTimeout time.Duration
	// MaxConsecutiveTimeouts fails the correlator after this many timeouts in
	// a row. Zero uses config.DefaultMaxConsecutiveTimeouts.
	MaxConsecutiveTimeouts int
	// OnNotification receives notifications. Nil logs them at debug level.
	OnNotification NotificationHandler
	// NewID generates request ids. Nil uses random UUIDs.
	NewID func() string
}

// Call is an issued request waiting for its reply. The read loop fills ch
// at most once, while holding the correlator lock.
type Call struct {
	ID     string
	Method string
	ch     chan Message
}

// Correlator pairs outgoing requests with incoming replies on one connection.
// Run owns the read side; any number of goroutines may Call concurrently.
type Correlator struct {
	transport Transport
	log       *zap.SugaredLogger
	opts      CorrelatorOptions

	mu        sync.Mutex
	pending   map[string]*Call
	abandoned map[string]time.Time
	timeouts  int
	err       error

	done     chan struct{}
	doneOnce sync.Once
}

// NewCorrelator creates a correlator over t. Call Run to start reading.
func NewCorrelator(t Transport, log *zap.SugaredLogger, opts CorrelatorOptions) *Correlator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout
	}
	if opts.MaxConsecutiveTimeouts <= 0 {
		opts.MaxConsecutiveTimeouts = config.DefaultMaxConsecutiveTimeouts
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Correlator{
		transport: t,
		log:       logging.OrNop(log),
		opts:      opts,
		pending:   make(map[string]*Call),
		abandoned: make(map[string]time.Time),
		done:      make(chan struct{}),
	}
}

// Run reads and dispatches messages until the stream ends, a read fails or
// ctx is cancelled. On return every waiting caller is released with
// ErrConnectionFailed. The returned error is the cause.
func (c *Correlator) Run(ctx context.Context) error {
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			var decErr *DecodeError
			if errors.As(err, &decErr) {
				c.log.Warnf("discarding undecodable line: %v", decErr)
				continue
			}
			c.fail(err)
			return err
		}
		c.Dispatch(msg)
	}
}

// Done is closed once the correlator has failed.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

// Err returns why the correlator failed, or nil while it is healthy.
func (c *Correlator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of requests awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) fail(cause error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %w", ErrConnectionFailed, cause)
	}
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// Issue registers a pending slot under a fresh id and writes the request.
func (c *Correlator) Issue(ctx context.Context, method string, params any) (*Call, error) {
	id := c.opts.NewID()
	msg, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	call := &Call{ID: id, Method: method, ch: make(chan Message, 1)}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = call
	c.mu.Unlock()

	if err := c.transport.Send(ctx, msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	return call, nil
}

// Await waits for the reply to call. A reply delivered before Await starts
// is returned immediately. After RequestTimeout it returns ErrTimeout and
// the id is abandoned so a late reply is discarded quietly.
func (c *Correlator) Await(ctx context.Context, call *Call) (Message, error) {
	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case msg := <-call.ch:
		return msg, nil

	case <-timer.C:
		if msg, ok := c.abandon(call); ok {
			return msg, nil
		}
		c.countTimeout()
		return Message{}, fmt.Errorf("%s after %v: %w", call.Method, c.opts.RequestTimeout, ErrTimeout)

	case <-ctx.Done():
		if msg, ok := c.abandon(call); ok {
			return msg, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, fmt.Errorf("%s: %w: %w", call.Method, ErrTimeout, ctx.Err())
		}
		return Message{}, fmt.Errorf("%s: %w", call.Method, ctx.Err())

	case <-c.done:
		c.mu.Lock()
		delete(c.pending, call.ID)
		err := c.err
		c.mu.Unlock()
		// A reply may have landed just before the loop stopped.
		select {
		case msg := <-call.ch:
			return msg, nil
		default:
		}
		return Message{}, fmt.Errorf("%s: %w", call.Method, err)
	}
}

// Call issues a request and waits for its reply.
func (c *Correlator) Call(ctx context.Context, method string, params any) (Message, error) {
	call, err := c.Issue(ctx, method, params)
	if err != nil {
		return Message{}, err
	}
	return c.Await(ctx, call)
}

// Notify writes a notification. No reply is expected.
func (c *Correlator) Notify(ctx context.Context, method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// abandon gives up on call. If the reply was already routed it is returned
// with ok set and nothing is abandoned.
func (c *Correlator) abandon(call *Call) (msg Message, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, waiting := c.pending[call.ID]; !waiting {
		select {
		case msg := <-call.ch:
			return msg, true
		default:
			return Message{}, false
		}
	}
	delete(c.pending, call.ID)

	if len(c.abandoned) >= maxAbandoned {
		var oldestID string
		var oldest time.Time
		for aid, at := range c.abandoned {
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = aid, at
			}
		}
		delete(c.abandoned, oldestID)
	}
	c.abandoned[call.ID] = time.Now()
	return Message{}, false
}

func (c *Correlator) countTimeout() {
	c.mu.Lock()
	c.timeouts++
	n := c.timeouts
	c.mu.Unlock()

	if n >= c.opts.MaxConsecutiveTimeouts {
		c.log.Warnf("%d consecutive request timeouts, marking connection failed", n)
		c.fail(fmt.Errorf("%d consecutive timeouts", n))
	}
}

// Dispatch routes one incoming message: replies fill their pending slot,
// notifications go to the handler and server requests are refused.
func (c *Correlator) Dispatch(msg Message) {
	switch msg.Kind {
	case KindResponse:
		c.mu.Lock()
		call, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
			c.timeouts = 0
			call.ch <- msg
		}
		_, late := c.abandoned[msg.ID]
		if late {
			delete(c.abandoned, msg.ID)
		}
		c.mu.Unlock()

		switch {
		case ok:
			return
		case late:
			c.log.Debugf("discarding late reply for abandoned request id=%s", msg.ID)
		default:
			c.log.Warnf("discarding reply with unknown id=%q", msg.ID)
		}

	case KindNotification:
		if c.opts.OnNotification != nil {
			c.opts.OnNotification(msg)
			return
		}
		c.log.Debugf("ignoring notification %s", msg.Method)

	case KindRequest:
		c.log.Warnf("refusing server request %s id=%s", msg.Method, msg.ID)
		reply := NewErrorResponse(msg, NewRPCError(ErrCodeMethodNotFound, "Method not found: "+msg.Method, nil))
		// Replying from the read loop could deadlock against a server blocked on its own write.
		go func() {
			if err := c.transport.Send(context.Background(), reply); err != nil {
				c.log.Debugf("reply to server request %s: %v", msg.ID, err)
			}
		}()
	}
}

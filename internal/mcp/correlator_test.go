package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type received struct {
	msg Message
	err error
}

// chanTransport is an in-memory Transport driven by the test.
type chanTransport struct {
	in     chan received
	sent   chan Message
	closed chan struct{}
	once   sync.Once
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		in:     make(chan received, 16),
		sent:   make(chan Message, 16),
		closed: make(chan struct{}),
	}
}

func (t *chanTransport) Send(ctx context.Context, msg Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case t.sent <- msg:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *chanTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case r := <-t.in:
		return r.msg, r.err
	case <-t.closed:
		return Message{}, ErrEndOfStream
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (t *chanTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *chanTransport) deliver(m Message) {
	t.in <- received{msg: m}
}

func (t *chanTransport) nextSent(tb testing.TB) Message {
	tb.Helper()
	select {
	case m := <-t.sent:
		return m
	case <-time.After(2 * time.Second):
		tb.Fatal("nothing sent")
		return Message{}
	}
}

func resultMsg(id string, v string) Message {
	return Message{Kind: KindResponse, ID: id, Result: json.RawMessage(v)}
}

// startCorrelator runs a correlator's read loop until the test ends.
func startCorrelator(t *testing.T, opts CorrelatorOptions) (*Correlator, *chanTransport, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	tr := newChanTransport()
	c := NewCorrelator(tr, zap.New(core).Sugar(), opts)

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		tr.Close()
		<-runDone
	})
	return c, tr, logs
}

func TestCorrelator_RepliesMatchedByID(t *testing.T) {
	c, tr, _ := startCorrelator(t, CorrelatorOptions{})

	type outcome struct {
		method string
		msg    Message
		err    error
	}
	outcomes := make(chan outcome, 2)
	for _, method := range []string{"first", "second"} {
		go func(method string) {
			m, err := c.Call(context.Background(), method, nil)
			outcomes <- outcome{method, m, err}
		}(method)
	}

	reqs := map[string]Message{}
	for i := 0; i < 2; i++ {
		m := tr.nextSent(t)
		assert.Equal(t, KindRequest, m.Kind)
		reqs[m.Method] = m
	}
	assert.NotEqual(t, reqs["first"].ID, reqs["second"].ID)

	// Reply out of order.
	tr.deliver(resultMsg(reqs["second"].ID, `"for second"`))
	tr.deliver(resultMsg(reqs["first"].ID, `"for first"`))

	for i := 0; i < 2; i++ {
		o := <-outcomes
		require.NoError(t, o.err)
		assert.JSONEq(t, `"for `+o.method+`"`, string(o.msg.Result))
	}
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_ForeignIDDiscarded(t *testing.T) {
	c, tr, logs := startCorrelator(t, CorrelatorOptions{})

	done := make(chan Message, 1)
	go func() {
		m, err := c.Call(context.Background(), "tools/list", nil)
		assert.NoError(t, err)
		done <- m
	}()

	req := tr.nextSent(t)
	tr.deliver(resultMsg("someone-else", `{"tools":["wrong"]}`))
	tr.deliver(resultMsg(req.ID, `{"tools":[]}`))

	select {
	case m := <-done:
		assert.JSONEq(t, `{"tools":[]}`, string(m.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("call did not complete")
	}
	assert.Equal(t, 1, logs.FilterMessageSnippet("unknown id").Len())
}

func TestCorrelator_NotificationsRoutedToHandler(t *testing.T) {
	got := make(chan Message, 1)
	_, tr, _ := startCorrelator(t, CorrelatorOptions{
		OnNotification: func(m Message) { got <- m },
	})

	tr.deliver(Message{Kind: KindNotification, Method: "notifications/tools/list_changed"})

	select {
	case m := <-got:
		assert.Equal(t, "notifications/tools/list_changed", m.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestCorrelator_ServerRequestRefused(t *testing.T) {
	_, tr, _ := startCorrelator(t, CorrelatorOptions{})

	tr.deliver(Message{Kind: KindRequest, ID: "srv-1", Method: "sampling/createMessage"})

	reply := tr.nextSent(t)
	assert.Equal(t, KindResponse, reply.Kind)
	assert.Equal(t, "srv-1", reply.ID)
	require.NotNil(t, reply.Error)
	assert.Equal(t, ErrCodeMethodNotFound, reply.Error.Code)
}

func TestCorrelator_DecodeErrorsDoNotStopLoop(t *testing.T) {
	c, tr, logs := startCorrelator(t, CorrelatorOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "ping", nil)
		done <- err
	}()

	req := tr.nextSent(t)
	tr.in <- received{err: &DecodeError{Line: "garbage", Err: errors.New("bad")}}
	tr.deliver(resultMsg(req.ID, `{}`))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not complete")
	}
	assert.Equal(t, 1, logs.FilterMessageSnippet("undecodable").Len())
}

func TestCorrelator_TimeoutAbandonsRequest(t *testing.T) {
	c, tr, logs := startCorrelator(t, CorrelatorOptions{RequestTimeout: 50 * time.Millisecond})

	_, err := c.Call(context.Background(), "tools/call", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.Pending())

	req := tr.nextSent(t)
	tr.deliver(resultMsg(req.ID, `{}`))

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("late reply").Len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, logs.FilterMessageSnippet("unknown id").Len())
	assert.NoError(t, c.Err(), "a single timeout keeps the connection")
}

func TestCorrelator_ContextDeadlineIsTimeout(t *testing.T) {
	c, _, _ := startCorrelator(t, CorrelatorOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "slow", nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCorrelator_ConsecutiveTimeoutsFailConnection(t *testing.T) {
	c, _, _ := startCorrelator(t, CorrelatorOptions{
		RequestTimeout:         20 * time.Millisecond,
		MaxConsecutiveTimeouts: 2,
	})

	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "hang", nil)
		require.ErrorIs(t, err, ErrTimeout)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("correlator not failed")
	}
	assert.ErrorIs(t, c.Err(), ErrConnectionFailed)

	_, err := c.Call(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestCorrelator_SuccessResetsTimeoutCount(t *testing.T) {
	c, tr, _ := startCorrelator(t, CorrelatorOptions{
		RequestTimeout:         30 * time.Millisecond,
		MaxConsecutiveTimeouts: 2,
	})

	_, err := c.Call(context.Background(), "hang", nil)
	require.ErrorIs(t, err, ErrTimeout)
	tr.nextSent(t)

	go func() {
		req := tr.nextSent(t)
		tr.deliver(resultMsg(req.ID, `{}`))
	}()
	_, err = c.Call(context.Background(), "ok", nil)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "hang", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.NoError(t, c.Err())
}

func TestCorrelator_EndOfStreamReleasesCallers(t *testing.T) {
	c, tr, _ := startCorrelator(t, CorrelatorOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "tools/list", nil)
		done <- err
	}()
	tr.nextSent(t)
	tr.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(2 * time.Second):
		t.Fatal("caller not released")
	}
}

func TestCorrelator_UsesConfiguredIDs(t *testing.T) {
	n := 0
	c, tr, _ := startCorrelator(t, CorrelatorOptions{NewID: func() string {
		n++
		return "req-" + string(rune('0'+n))
	}})

	call, err := c.Issue(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-1", call.ID)
	assert.Equal(t, "req-1", tr.nextSent(t).ID)
}

func TestCorrelator_ReplyBeforeAwait(t *testing.T) {
	c, tr, logs := startCorrelator(t, CorrelatorOptions{})

	call, err := c.Issue(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	tr.deliver(resultMsg(tr.nextSent(t).ID, `{"tools":[]}`))
	require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, time.Millisecond)

	msg, err := c.Await(context.Background(), call)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(msg.Result))
	assert.Equal(t, 0, logs.FilterMessageSnippet("discarding").Len())
}

func TestCorrelator_RoutedReplyWinsOverCancel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tr := newChanTransport()
	c := NewCorrelator(tr, zap.New(core).Sugar(), CorrelatorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Both the reply and ctx are ready, so either select branch may run.
	for i := 0; i < 50; i++ {
		call, err := c.Issue(context.Background(), "ping", nil)
		require.NoError(t, err)
		tr.nextSent(t)
		c.Dispatch(resultMsg(call.ID, `"pong"`))

		msg, err := c.Await(ctx, call)
		require.NoError(t, err)
		assert.JSONEq(t, `"pong"`, string(msg.Result))
	}
	assert.NoError(t, c.Err())
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0, logs.FilterMessageSnippet("discarding").Len())
}

func TestCorrelator_CancelledWrapsMethod(t *testing.T) {
	c, _, _ := startCorrelator(t, CorrelatorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.Call(ctx, "tools/call", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "tools/call:")
	assert.NotErrorIs(t, err, ErrTimeout)
}

// echoServer answers every request read from r with its own method name.
func echoServer(r io.Reader, w io.WriteCloser) {
	defer w.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		req, err := DecodeMessage(scanner.Bytes())
		if err != nil || req.Kind != KindRequest {
			continue
		}
		reply, err := NewResultResponse(req, req.Method)
		if err != nil {
			return
		}
		data, err := EncodeMessage(reply)
		if err != nil {
			return
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return
		}
	}
}

func TestCorrelator_FastServerLosesNoReplies(t *testing.T) {
	clientOut, serverIn := io.Pipe()
	serverOut, clientIn := io.Pipe()
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		echoServer(clientOut, clientIn)
	}()

	tr := NewStdioTransport(serverIn, serverOut, nil)
	c := NewCorrelator(tr, nil, CorrelatorOptions{RequestTimeout: 5 * time.Second})
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()
	defer func() {
		tr.Close()
		<-runDone
		clientOut.Close()
		<-serverDone
	}()

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				method := fmt.Sprintf("m-%d-%d", w, i)
				msg, err := c.Call(context.Background(), method, nil)
				if err != nil {
					errs <- err
					continue
				}
				var got string
				if err := json.Unmarshal(msg.Result, &got); err != nil || got != method {
					errs <- fmt.Errorf("%s: got reply %s", method, msg.Result)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		failed = append(failed, err)
	}
	assert.Empty(t, failed)
	assert.Equal(t, 0, c.Pending())
	assert.NoError(t, c.Err())
}

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/logging"
)

// DebugLogging enables verbose payload logging (MCP Send/Recv messages).
var DebugLogging bool

// StdioTransport carries JSON-RPC messages over a child's stdin/stdout.
// Uses NDJSON (newline-delimited JSON) which is the standard for MCP stdio.
type StdioTransport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	writer *bufio.Writer
	reader *bufio.Reader
	log    *zap.SugaredLogger

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser, log *zap.SugaredLogger) *StdioTransport {
	return &StdioTransport{
		stdin:  stdin,
		stdout: stdout,
		writer: bufio.NewWriter(stdin),
		reader: bufio.NewReader(stdout),
		log:    logging.OrNop(log),
		closed: make(chan struct{}),
	}
}

func (t *StdioTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Send encodes msg as one line and flushes it before returning.
func (t *StdioTransport) Send(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if DebugLogging {
		t.log.Debugf("MCP Send: %s", data)
	}

	// NDJSON: just append newline
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// readResult holds the result of an async read operation.
type readResult struct {
	line []byte
	err  error
}

// Receive reads the next message, skipping blank lines. End of input yields
// ErrEndOfStream. A malformed line yields a *DecodeError and leaves the
// transport usable. Cancelling ctx closes the transport to unblock the read.
func (t *StdioTransport) Receive(ctx context.Context) (Message, error) {
	if t.isClosed() {
		return Message{}, ErrTransportClosed
	}

	// Run the blocking read in a goroutine
	resultCh := make(chan readResult, 1)
	go func() {
		line, err := t.readLine()
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return Message{}, result.err
		}
		if DebugLogging {
			t.log.Debugf("MCP Recv: %s", result.line)
		}
		return DecodeMessage(result.line)

	case <-ctx.Done():
		// Closing stdout unblocks the read goroutine.
		_ = t.Close()
		return Message{}, ctx.Err()
	}
}

func (t *StdioTransport) readLine() ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		line, err := t.reader.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			// A final line without a terminator still counts.
			return trimmed, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEndOfStream
			}
			if t.isClosed() {
				return nil, ErrTransportClosed
			}
			return nil, fmt.Errorf("read line: %w", err)
		}
	}
}

// Close closes both pipes. It is safe to call more than once.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = errors.Join(t.stdin.Close(), t.stdout.Close())
	})
	return err
}

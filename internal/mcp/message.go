package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind distinguishes the three JSON-RPC message shapes.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is a decoded JSON-RPC 2.0 message. Requests carry ID, Method and
// Params; notifications carry Method and Params; responses carry ID and
// either Result or Error.
type Message struct {
	Kind   Kind
	ID     string
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError

	// rawID preserves a non-string id so replies echo it exactly.
	rawID json.RawMessage
}

// HasResult reports whether a response carried a result member.
func (m Message) HasResult() bool {
	return len(m.Result) > 0
}

// wireMessage is the on-the-wire envelope.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewRequest builds a request message.
func NewRequest(id, method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindRequest, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindNotification, Method: method, Params: raw}, nil
}

// NewErrorResponse builds an error reply to req.
func NewErrorResponse(req Message, rpcErr *RPCError) Message {
	return Message{Kind: KindResponse, ID: req.ID, rawID: req.rawID, Error: rpcErr}
}

// NewResultResponse builds a successful reply to req.
func NewResultResponse(req Message, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result: %w", err)
	}
	return Message{Kind: KindResponse, ID: req.ID, rawID: req.rawID, Result: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// EncodeMessage renders m as a single JSON object without a trailing newline.
// encoding/json escapes control characters, so the output never contains a
// raw newline.
func EncodeMessage(m Message) ([]byte, error) {
	w := wireMessage{JSONRPC: "2.0", Params: m.Params}

	switch m.Kind {
	case KindRequest:
		if m.Method == "" {
			return nil, errors.New("encode request: empty method")
		}
		w.Method = m.Method
		w.ID = m.idJSON()
	case KindNotification:
		if m.Method == "" {
			return nil, errors.New("encode notification: empty method")
		}
		w.Method = m.Method
	case KindResponse:
		if (m.Error == nil) == (len(m.Result) == 0) {
			return nil, errors.New("encode response: exactly one of result or error is required")
		}
		w.ID = m.idJSON()
		w.Params = nil
		w.Result = m.Result
		w.Error = m.Error
	default:
		return nil, fmt.Errorf("encode: unknown message kind %d", m.Kind)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	return data, nil
}

func (m Message) idJSON() json.RawMessage {
	if len(m.rawID) > 0 {
		return m.rawID
	}
	data, _ := json.Marshal(m.ID)
	return data
}

// DecodeMessage parses one line into a Message. Malformed input yields a
// *DecodeError carrying the offending line.
func DecodeMessage(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)

	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return Message{}, &DecodeError{Line: string(line), Err: err}
	}

	m := Message{Method: w.Method, Params: w.Params, Result: w.Result, Error: w.Error}

	hasID := len(w.ID) > 0 && !bytes.Equal(w.ID, []byte("null"))
	if hasID {
		var s string
		if err := json.Unmarshal(w.ID, &s); err == nil {
			m.ID = s
		} else {
			m.ID = string(w.ID)
			m.rawID = w.ID
		}
	}

	switch {
	case w.Method != "" && hasID:
		m.Kind = KindRequest
	case w.Method != "":
		m.Kind = KindNotification
	case hasID || w.Result != nil || w.Error != nil:
		m.Kind = KindResponse
	default:
		return Message{}, &DecodeError{Line: string(line), Err: errors.New("not a JSON-RPC message")}
	}
	return m, nil
}

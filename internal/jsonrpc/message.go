package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only JSON-RPC version spoken on the worker pipes.
const Version = "2.0"

// Request is an outbound call. It is never mutated after it has been sent.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification carries no id and is never answered.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Error is a JSON-RPC error object as sent by the peer.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func NewRequest(id uint64, method string, params any) Request {
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification sends an empty object when params is nil.
func NewNotification(method string, params any) Notification {
	if params == nil {
		params = struct{}{}
	}
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is a decoded inbound line. Exactly one of the Kind-specific views is
// meaningful, selected by Kind.
type Message struct {
	kind   Kind
	id     json.RawMessage
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
}

func (m Message) Kind() Kind {
	return m.kind
}

// ID returns the numeric identifier of a request or response. ok is false when the
// message has no id or the id is not an unsigned integer (string ids never match).
func (m Message) ID() (uint64, bool) {
	if len(m.id) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(string(m.id), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// RawID is the id exactly as it appeared on the wire, for logging.
func (m Message) RawID() string {
	return string(m.id)
}

// Decode classifies one inbound line. Lines that are not JSON yield a
// *ProtocolError; JSON that is not a message yields a KindInvalid Message.
func Decode(line []byte) (Message, error) {
	trimmed := bytes.TrimSpace(line)
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if !json.Valid(trimmed) {
		var value any
		err := json.Unmarshal(trimmed, &value)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return Message{}, &ProtocolError{Line: string(trimmed), Err: err}
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{kind: KindInvalid}, nil
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		// Valid JSON whose fields have the wrong types, e.g. "method": 3.
		return Message{kind: KindInvalid}, nil
	}
	msg := Message{
		Method: raw.Method,
		Params: raw.Params,
		Result: raw.Result,
		Error:  raw.Error,
	}
	if !isNull(raw.ID) {
		msg.id = raw.ID
	}
	hasID := len(msg.id) > 0
	switch {
	case raw.Method != "" && hasID:
		msg.kind = KindRequest
	case raw.Method != "":
		msg.kind = KindNotification
	case hasID && (len(raw.Result) > 0 || raw.Error != nil):
		msg.kind = KindResponse
	default:
		msg.kind = KindInvalid
	}
	return msg, nil
}

// Encode renders v as a single line terminated by exactly one newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

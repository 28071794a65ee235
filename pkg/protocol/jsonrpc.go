// Package protocol defines the JSON-RPC 2.0 wire envelope used by MCP and the
// structural classification of raw messages into the four envelope shapes:
// request, notification, success response, and error response.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// JSONRPCVersion is the only supported JSON-RPC version.
	JSONRPCVersion = "2.0"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// MCP-specific error codes.
const (
	// ConnectionClosed indicates the transport closed while a request was
	// still pending.
	ConnectionClosed = -32000
	// RequestTimeout indicates a request received no terminal event within
	// its deadline.
	RequestTimeout = -32001
)

// RequestID is a caller-chosen correlation identifier. The wire form is
// either a JSON string or a JSON integer; both round-trip unchanged. The
// zero value is "absent" and never appears on the wire.
type RequestID struct {
	value any // string or int64
}

// NewStringID creates a string-valued request ID.
func NewStringID(s string) RequestID {
	return RequestID{value: s}
}

// NewIntID creates an integer-valued request ID.
func NewIntID(n int64) RequestID {
	return RequestID{value: n}
}

// IsValid reports whether the ID carries a value.
func (id RequestID) IsValid() bool {
	return id.value != nil
}

// Int64 returns the integer value of the ID, if it is integer-valued.
func (id RequestID) Int64() (int64, bool) {
	n, ok := id.value.(int64)
	return n, ok
}

// String returns the canonical textual form of the ID. String IDs return
// their value verbatim, integer IDs their decimal representation.
func (id RequestID) String() string {
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Integer IDs are kept as
// integers; anything other than a string or an integral number is rejected.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		id.value = nil
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		id.value = s
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("request id must be a string or integer: %w", err)
	}
	n, err := num.Int64()
	if err != nil {
		return fmt.Errorf("request id must be an integer, got %q", num.String())
	}
	id.value = n
	return nil
}

// Message is the closed set of envelope shapes a peer can deliver. The only
// implementations are *Request, *Notification, and *Response (the latter
// covering both the success and error shapes, which are mutually exclusive).
type Message interface {
	isMessage()
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// Request is a JSON-RPC 2.0 request: it carries an ID and expects exactly
// one Response in return.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a request, marshaling params to raw JSON. A nil params
// omits the field entirely.
func NewRequest(id RequestID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal request params: %w", err)
	}
	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}, nil
}

// Notification is a one-way JSON-RPC 2.0 message. It carries no ID and never
// receives a reply.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a notification, marshaling params to raw JSON.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal notification params: %w", err)
	}
	return &Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}, nil
}

// Response is a JSON-RPC 2.0 reply. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewResponse creates a success response. A nil result is encoded as an
// empty object so the result member is always present.
func NewResponse(id RequestID, result any) (*Response, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id RequestID, code int, message string, data any) (*Response, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal error data: %w", err)
		}
		raw = b
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
			Data:    raw,
		},
	}, nil
}

// ErrorObject is the wire form of a JSON-RPC 2.0 error.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so wire errors can travel through
// ordinary Go error returns.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// messageProbe captures the structural fields in one decode pass.
type messageProbe struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

func (p *messageProbe) hasID() bool {
	return len(p.ID) > 0 && !bytes.Equal(bytes.TrimSpace(p.ID), []byte("null"))
}

// ParseMessage classifies a raw JSON value into one of the envelope shapes:
// id+method is a request, method without id a notification, id+result a
// success response, and id+error an error response. Anything else is an
// invalid-request error; malformed JSON is a parse error.
func ParseMessage(data []byte) (Message, error) {
	var probe messageProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ErrorObject{Code: ParseError, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if probe.JSONRPC != JSONRPCVersion {
		return nil, &ErrorObject{Code: InvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", probe.JSONRPC)}
	}

	switch {
	case probe.Method != nil && probe.hasID():
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &ErrorObject{Code: InvalidRequest, Message: err.Error()}
		}
		return &req, nil
	case probe.Method != nil:
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return nil, &ErrorObject{Code: InvalidRequest, Message: err.Error()}
		}
		return &notif, nil
	case probe.hasID() && (len(probe.Result) > 0 || len(probe.Error) > 0):
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, &ErrorObject{Code: InvalidRequest, Message: err.Error()}
		}
		if resp.Result != nil && resp.Error != nil {
			return nil, &ErrorObject{Code: InvalidRequest, Message: "response carries both result and error"}
		}
		return &resp, nil
	default:
		return nil, &ErrorObject{Code: InvalidRequest, Message: "message matches no JSON-RPC envelope shape"}
	}
}

// IsBatch reports whether the raw value is a JSON-RPC batch (a JSON array).
func IsBatch(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ParseBatch splits a batch into its messages, preserving order. A
// non-array input is parsed as a single message and returned as a
// one-element slice.
func ParseBatch(data []byte) ([]Message, error) {
	if !IsBatch(data) {
		msg, err := ParseMessage(data)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &ErrorObject{Code: ParseError, Message: fmt.Sprintf("invalid batch: %v", err)}
	}
	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		msg, err := ParseMessage(item)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

package errors

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// ParseError creates an error for a payload that failed JSON decoding.
func ParseError(cause error) MCPError {
	return Wrap(cause, CodeParseError, "parse error").
		WithDetail(cause.Error())
}

// InvalidRequest creates an error for a structurally invalid envelope.
func InvalidRequest(reason string) MCPError {
	return New(CodeInvalidRequest, "invalid request").WithDetail(reason)
}

// MethodNotFound creates an error for an unhandled request method.
func MethodNotFound(method string) MCPError {
	return Newf(CodeMethodNotFound, "method not found: %s", method)
}

// InvalidParams creates an error for parameters that failed to decode or
// validate.
func InvalidParams(method string, cause error) MCPError {
	return Wrap(cause, CodeInvalidParams, fmt.Sprintf("invalid params for %s", method))
}

// Internal wraps an unclassified handler failure. Only message is exposed.
func Internal(message string) MCPError {
	return New(CodeInternalError, message)
}

// RequestTimeout creates an error for a request whose deadline elapsed.
func RequestTimeout(id protocol.RequestID, timeout time.Duration) MCPError {
	return Newf(CodeRequestTimeout, "request %s timed out after %s", id, timeout).
		WithData(&TimeoutData{RequestID: id, Timeout: timeout})
}

// RequestCancelled creates an error for a request cancelled by its caller.
func RequestCancelled(id protocol.RequestID, reason string) MCPError {
	err := Newf(CodeRequestCancelled, "request %s cancelled", id)
	if reason != "" {
		err = err.WithDetail(reason)
	}
	return err
}

// ConnectionClosed creates the error assigned to every request still
// pending when the transport closes.
func ConnectionClosed() MCPError {
	return New(CodeConnectionClosed, "connection closed")
}

// Unauthorized creates an error for a 401 that could not be resolved by
// re-authorization.
func Unauthorized(detail string) MCPError {
	err := New(CodeUnauthorized, "unauthorized")
	if detail != "" {
		err = err.WithDetail(detail)
	}
	return err
}

// CapabilityError creates a pre-I/O error for a method whose capability was
// not negotiated. No transport send occurs for these.
func CapabilityError(method, capability string) MCPError {
	return Newf(CodeCapabilityError, "capability %q required for %s was not negotiated", capability, method)
}

// TransportError creates a generic transport failure.
func TransportError(transport, operation string, cause error) MCPError {
	message := fmt.Sprintf("%s transport error", transport)
	if operation != "" {
		message = fmt.Sprintf("%s transport error during %s", transport, operation)
	}
	return Wrap(cause, CodeTransportError, message).
		WithData(&TransportData{Transport: transport, Operation: operation})
}

// TransportState creates an error for a transport lifecycle violation.
func TransportState(transport, reason string) MCPError {
	return Newf(CodeTransportState, "%s transport: %s", transport, reason)
}

// ConnectionLost creates an error for a dropped connection.
func ConnectionLost(transport string, cause error) MCPError {
	return Wrap(cause, CodeConnectionLost, fmt.Sprintf("%s connection lost", transport)).
		WithData(&TransportData{Transport: transport})
}

// HTTPError creates a transport error carrying the HTTP status code and
// response body of a failed exchange.
func HTTPError(statusCode int, body string) MCPError {
	return Newf(CodeTransportError, "HTTP %d", statusCode).
		WithDetail(body).
		WithData(&TransportData{Transport: "streamable_http", StatusCode: statusCode})
}

// HTTPStatusCode extracts the status code from an HTTP transport error, or
// 0 when the error carries none.
func HTTPStatusCode(err error) int {
	mcpErr, ok := As(err)
	if !ok {
		return 0
	}
	if data, ok := mcpErr.Data().(*TransportData); ok {
		return data.StatusCode
	}
	return 0
}

// TransportData is the structured data attached to transport errors.
type TransportData struct {
	Transport  string `json:"transport"`
	Operation  string `json:"operation,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// TimeoutData is the structured data attached to timeout errors.
type TimeoutData struct {
	RequestID protocol.RequestID `json:"request_id"`
	Timeout   time.Duration      `json:"timeout"`
}

// ToErrorObject renders an error as a wire error object. Structured
// protocol errors propagate verbatim; everything else is wrapped as an
// internal error exposing only the message, never local detail.
func ToErrorObject(err error) *protocol.ErrorObject {
	if err == nil {
		return nil
	}

	var obj *protocol.ErrorObject
	for e := err; e != nil; e = unwrapOnce(e) {
		if o, ok := e.(*protocol.ErrorObject); ok {
			obj = o
			break
		}
	}
	if obj != nil {
		return obj
	}

	if mcpErr, ok := As(err); ok {
		var data json.RawMessage
		if d := mcpErr.Data(); d != nil {
			if b, marshalErr := json.Marshal(d); marshalErr == nil {
				data = b
			}
		}
		return &protocol.ErrorObject{
			Code:    mcpErr.Code(),
			Message: mcpErr.Message(),
			Data:    data,
		}
	}

	return &protocol.ErrorObject{
		Code:    CodeInternalError,
		Message: err.Error(),
	}
}

// FromErrorObject converts a wire error object into an MCPError.
func FromErrorObject(obj *protocol.ErrorObject) MCPError {
	if obj == nil {
		return nil
	}
	err := New(obj.Code, obj.Message)
	if len(obj.Data) > 0 {
		err = err.WithData(obj.Data)
	}
	return err
}

package errors

// JSON-RPC 2.0 standard error codes. These mirror the wire-level constants
// in pkg/protocol so callers can work entirely in this package.
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the payload is not a valid JSON-RPC
	// envelope.
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates no handler is registered for the method.
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates the method parameters failed to decode.
	CodeInvalidParams int = -32602

	// CodeInternalError indicates an unclassified failure inside a handler.
	CodeInternalError int = -32603
)

// MCP-specific error codes.
const (
	// CodeConnectionClosed is assigned to requests still pending when the
	// transport closes.
	CodeConnectionClosed int = -32000

	// CodeRequestTimeout indicates a request's deadline elapsed with no
	// terminal event.
	CodeRequestTimeout int = -32001

	// CodeUnauthorized indicates the peer rejected the caller's
	// credentials and re-authorization failed.
	CodeUnauthorized int = -32002

	// CodeCapabilityError indicates a method was used whose capability was
	// not negotiated.
	CodeCapabilityError int = -32003

	// CodeRequestCancelled indicates the caller cancelled the request
	// before it resolved.
	CodeRequestCancelled int = -32004
)

// Transport error codes (-32500 to -32599).
const (
	// CodeTransportError is a generic transport failure.
	CodeTransportError int = -32500

	// CodeConnectionFailed indicates a connection could not be established.
	CodeConnectionFailed int = -32501

	// CodeConnectionLost indicates an established connection dropped.
	CodeConnectionLost int = -32502

	// CodeTransportState indicates a transport lifecycle violation, such
	// as starting twice or sending before start.
	CodeTransportState int = -32503
)

// codeInfo provides the canonical category and severity for an error code.
type codeInfo struct {
	category Category
	severity Severity
}

var codeRegistry = map[int]codeInfo{
	CodeParseError:       {CategoryProtocol, SeverityError},
	CodeInvalidRequest:   {CategoryProtocol, SeverityError},
	CodeMethodNotFound:   {CategoryProtocol, SeverityError},
	CodeInvalidParams:    {CategoryValidation, SeverityError},
	CodeInternalError:    {CategoryInternal, SeverityError},
	CodeConnectionClosed: {CategoryTransport, SeverityError},
	CodeRequestTimeout:   {CategoryTimeout, SeverityWarning},
	CodeUnauthorized:     {CategoryAuth, SeverityError},
	CodeCapabilityError:  {CategoryCapability, SeverityError},
	CodeRequestCancelled: {CategoryCancelled, SeverityInfo},
	CodeTransportError:   {CategoryTransport, SeverityError},
	CodeConnectionFailed: {CategoryTransport, SeverityCritical},
	CodeConnectionLost:   {CategoryTransport, SeverityError},
	CodeTransportState:   {CategoryTransport, SeverityError},
}

// CategoryForCode returns the canonical category for an error code, or
// CategoryInternal for codes outside the registry.
func CategoryForCode(code int) Category {
	if info, ok := codeRegistry[code]; ok {
		return info.category
	}
	return CategoryInternal
}

// SeverityForCode returns the canonical severity for an error code.
func SeverityForCode(code int) Severity {
	if info, ok := codeRegistry[code]; ok {
		return info.severity
	}
	return SeverityError
}

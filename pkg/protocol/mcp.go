package protocol

import "encoding/json"

const (
	// LatestProtocolVersion is the newest protocol revision this runtime
	// speaks.
	LatestProtocolVersion = "2025-03-26"
)

// SupportedProtocolVersions lists every protocol revision this runtime
// accepts during the initialize exchange, newest first.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2024-11-05",
}

// IsSupportedProtocolVersion reports whether the runtime can speak the
// given protocol revision.
func IsSupportedProtocolVersion(version string) bool {
	for _, v := range SupportedProtocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

// Lifecycle and utility methods.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
)

// Notification methods.
const (
	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
	NotificationProgress    = "notifications/progress"
)

// Implementation identifies a client or server implementation.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RootsCapability advertises client support for the roots feature.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability advertises client support for sampling.
type SamplingCapability struct{}

// ClientCapabilities is the fixed record of optional features a client may
// declare during initialization. The record is immutable once the
// handshake completes.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Roots        *RootsCapability           `json:"roots,omitempty"`
	Sampling     *SamplingCapability        `json:"sampling,omitempty"`
}

// LoggingCapability advertises server support for log message notifications.
type LoggingCapability struct{}

// CompletionsCapability advertises server support for argument completion.
type CompletionsCapability struct{}

// PromptsCapability advertises server support for prompts.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability advertises server support for resources.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability advertises server support for tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the fixed record of optional features a server may
// declare during initialization. Capability checks for any method must
// reference only the value captured at handshake completion.
type ServerCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Logging      *LoggingCapability         `json:"logging,omitempty"`
	Completions  *CompletionsCapability     `json:"completions,omitempty"`
	Prompts      *PromptsCapability         `json:"prompts,omitempty"`
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Tools        *ToolsCapability           `json:"tools,omitempty"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize. The capability
// fields decided here are frozen for the connection's lifetime.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ProgressParams is the payload of a notifications/progress notification.
// ProgressToken correlates the update with an in-flight request.
type ProgressParams struct {
	ProgressToken RequestID `json:"progressToken"`
	Progress      float64   `json:"progress"`
	Total         float64   `json:"total,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// CancelledParams is the payload of a notifications/cancelled notification.
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// RequestMeta is the reserved _meta member on request params, used to carry
// the progress token for requests that want progress updates.
type RequestMeta struct {
	ProgressToken RequestID `json:"progressToken,omitempty"`
}

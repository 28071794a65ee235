// Package transport provides a config-driven transport layer for MCP
// communication.
//
// Key features:
// - Unified TransportConfig-based creation
// - Automatic middleware composition (reliability, observability)
// - Support for stdio, Streamable HTTP, and legacy SSE transports
// - Resumable server streams with deterministic reconnection backoff
//
// Usage:
//
//	config := transport.DefaultTransportConfig(transport.TransportTypeStreamableHTTP)
//	config.Endpoint = "https://api.example.com/mcp"
//	t, err := transport.NewTransport(config)
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// MessageHandler receives every inbound protocol message, in arrival order.
type MessageHandler func(msg protocol.Message)

// ErrorHandler receives transport-level faults that are not tied to a
// single Send call (parse failures, stream errors, reconnect exhaustion).
type ErrorHandler func(err error)

// CloseHandler is invoked exactly once when the transport shuts down,
// whether by Close or by a fatal connection failure.
type CloseHandler func()

// Transport is the minimal contract between the protocol engine and a
// concrete communication channel. Implementations deliver inbound
// messages through the registered MessageHandler and never interpret
// message semantics themselves.
type Transport interface {
	// Start begins reading from the underlying channel. It returns an
	// error if the transport is already started or already closed.
	Start(ctx context.Context) error

	// Send transmits a single message. It reports delivery failures
	// only; responses arrive through the MessageHandler.
	Send(ctx context.Context, msg protocol.Message) error

	// Close releases resources and stops delivery. It is idempotent.
	Close() error

	// Handler registration. Handlers must be set before Start.
	SetMessageHandler(handler MessageHandler)
	SetErrorHandler(handler ErrorHandler)
	SetCloseHandler(handler CloseHandler)

	// SessionID returns the active session identifier, or "" if the
	// transport has none (stdio) or has not yet been assigned one.
	SessionID() string
}

// TransportType identifies the base transport implementation
type TransportType string

const (
	TransportTypeStdio          TransportType = "stdio"
	TransportTypeStreamableHTTP TransportType = "streamable_http"
	TransportTypeSSE            TransportType = "sse"
)

// TransportConfig is the unified configuration for all transports
type TransportConfig struct {
	// Type of transport to create
	Type TransportType `json:"type"`

	// Endpoint is the server URL for HTTP-based transports.
	Endpoint string `json:"endpoint,omitempty"`

	// Custom reader/writer for stdio (testing and subprocess wiring)
	StdioReader io.Reader `json:"-"`
	StdioWriter io.Writer `json:"-"`

	// Auth supplies bearer tokens for HTTP-based transports.
	Auth AuthProvider `json:"-"`

	// Logger receives transport diagnostics. Defaults to a nop logger.
	Logger logging.Logger `json:"-"`

	// OnResumptionToken, when set, observes every SSE event id as it is
	// recorded, letting callers persist resumption state externally.
	OnResumptionToken func(eventID string) `json:"-"`

	// Feature configuration
	Features FeatureConfig `json:"features"`

	// Component configurations
	Connection    ConnectionConfig    `json:"connection"`
	Reconnection  ReconnectionConfig  `json:"reconnection"`
	Reliability   ReliabilityConfig   `json:"reliability"`
	Observability ObservabilityConfig `json:"observability"`
	Performance   PerformanceConfig   `json:"performance"`
}

// FeatureConfig controls which middleware are enabled
type FeatureConfig struct {
	EnableReliability   bool `json:"enable_reliability"`
	EnableObservability bool `json:"enable_observability"`
}

// ConnectionConfig for HTTP connection management
type ConnectionConfig struct {
	Timeout         time.Duration `json:"timeout"`
	KeepAlive       time.Duration `json:"keep_alive"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout"`
}

// ReconnectionConfig governs automatic recovery of dropped server
// streams. The delay before attempt n is
// min(InitialDelay * GrowthFactor^n, MaxDelay).
type ReconnectionConfig struct {
	Enabled      bool          `json:"enabled"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	GrowthFactor float64       `json:"growth_factor"`
	// MaxRetries bounds consecutive failed attempts. Zero means retry
	// without limit.
	MaxRetries int `json:"max_retries"`
}

// ReliabilityConfig for send retries
type ReliabilityConfig struct {
	MaxRetries         int           `json:"max_retries"`
	InitialRetryDelay  time.Duration `json:"initial_retry_delay"`
	MaxRetryDelay      time.Duration `json:"max_retry_delay"`
	RetryBackoffFactor float64       `json:"retry_backoff_factor"`
}

// PerformanceConfig for buffer tuning
type PerformanceConfig struct {
	// BufferSize is the read chunk size for stream transports.
	BufferSize int `json:"buffer_size"`
}

// ErrUnsupportedTransportType is returned for unknown transport types
var ErrUnsupportedTransportType = errors.New("unsupported transport type")

// NewTransport creates a transport from the unified config and wraps it
// in the middleware stack the config enables.
func NewTransport(config TransportConfig) (Transport, error) {
	if err := validateTransportConfig(config); err != nil {
		return nil, err
	}

	var base Transport
	var err error

	switch config.Type {
	case TransportTypeStdio:
		base, err = newStdioTransport(config)
	case TransportTypeStreamableHTTP:
		base, err = newStreamableHTTPTransport(config)
	case TransportTypeSSE:
		return nil, ErrSSERequiresConnection
	default:
		return nil, ErrUnsupportedTransportType
	}

	if err != nil {
		return nil, err
	}

	middleware := NewMiddlewareBuilder(config).Build()
	return ChainMiddleware(middleware...).Wrap(base), nil
}

func validateTransportConfig(config TransportConfig) error {
	switch config.Type {
	case TransportTypeStdio:
		return nil
	case TransportTypeStreamableHTTP, TransportTypeSSE:
		if config.Endpoint == "" {
			return errors.New("endpoint is required for HTTP transports")
		}
		return nil
	default:
		return ErrUnsupportedTransportType
	}
}

// DefaultTransportConfig returns a production-ready configuration for
// the given transport type.
func DefaultTransportConfig(transportType TransportType) TransportConfig {
	return TransportConfig{
		Type:   transportType,
		Logger: logging.NewNopLogger(),
		Features: FeatureConfig{
			EnableReliability:   true,
			EnableObservability: true,
		},
		Connection: ConnectionConfig{
			Timeout:         30 * time.Second,
			KeepAlive:       30 * time.Second,
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
		},
		Reconnection: ReconnectionConfig{
			Enabled:      true,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			GrowthFactor: 1.5,
			MaxRetries:   2,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:         3,
			InitialRetryDelay:  500 * time.Millisecond,
			MaxRetryDelay:      10 * time.Second,
			RetryBackoffFactor: 2.0,
		},
		Observability: DefaultObservabilityConfig(),
		Performance: PerformanceConfig{
			BufferSize: 8192,
		},
	}
}

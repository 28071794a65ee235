// Package client provides the client side of the MCP handshake on top
// of the protocol engine: initialize negotiation, capability gating of
// outbound requests, and session lifecycle.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mcpwire/mcpwire/pkg/engine"
	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
	"github.com/mcpwire/mcpwire/pkg/transport"
)

// Client negotiates and speaks the protocol over one transport.
type Client struct {
	engine *engine.Engine
	logger logging.Logger

	clientInfo      protocol.Implementation
	capabilities    protocol.ClientCapabilities
	requestVersion  string
	engineOpts      []engine.Option

	mu          sync.Mutex
	initialized bool
	serverInfo  protocol.Implementation
	serverCaps  protocol.ServerCapabilities
	version     string
}

// Option configures a Client.
type Option func(*Client)

// WithClientInfo sets the implementation identity sent at initialize.
func WithClientInfo(info protocol.Implementation) Option {
	return func(c *Client) { c.clientInfo = info }
}

// WithCapabilities sets the capabilities offered at initialize.
func WithCapabilities(caps protocol.ClientCapabilities) Option {
	return func(c *Client) { c.capabilities = caps }
}

// WithLogger sets the client's logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProtocolVersion overrides the protocol revision requested at
// initialize. Defaults to the latest supported revision.
func WithProtocolVersion(version string) Option {
	return func(c *Client) { c.requestVersion = version }
}

// WithEngineOptions passes extra options to the underlying engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *Client) { c.engineOpts = append(c.engineOpts, opts...) }
}

// New creates a client over the given transport. The transport must not
// be started.
func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		logger:         logging.NewNopLogger(),
		clientInfo:     protocol.Implementation{Name: "mcpwire", Version: "dev"},
		requestVersion: protocol.LatestProtocolVersion,
	}
	for _, opt := range opts {
		opt(c)
	}

	engineOpts := append([]engine.Option{
		engine.WithLogger(c.logger),
		engine.WithCapabilityChecker(c.assertServerCapability),
	}, c.engineOpts...)
	c.engine = engine.New(t, engineOpts...)
	return c
}

// Connect starts the transport and performs the initialize handshake:
// version agreement, capability exchange, then the initialized
// notification. Capabilities decided here are frozen for the
// connection's lifetime.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.engine.Start(ctx); err != nil {
		return err
	}

	result, err := c.engine.Call(ctx, protocol.MethodInitialize, &protocol.InitializeParams{
		ProtocolVersion: c.requestVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.clientInfo,
	})
	if err != nil {
		c.engine.Close()
		return err
	}

	var init protocol.InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.engine.Close()
		return mcperrors.ParseError(err)
	}

	if !protocol.IsSupportedProtocolVersion(init.ProtocolVersion) {
		c.engine.Close()
		return mcperrors.New(mcperrors.CodeInvalidRequest,
			fmt.Sprintf("server chose unsupported protocol version %q", init.ProtocolVersion))
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = init.ServerInfo
	c.serverCaps = init.Capabilities
	c.version = init.ProtocolVersion
	c.mu.Unlock()

	if err := c.engine.Notify(ctx, protocol.NotificationInitialized, nil); err != nil {
		return err
	}

	c.logger.Info("connected",
		logging.String("server", init.ServerInfo.Name),
		logging.String("protocol_version", init.ProtocolVersion))
	return nil
}

// Call issues a request. The method must be allowed by the server's
// negotiated capabilities.
func (c *Client) Call(ctx context.Context, method string, params interface{}, opts ...engine.RequestOption) (json.RawMessage, error) {
	return c.engine.Call(ctx, method, params, opts...)
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	return c.engine.Notify(ctx, method, params)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.engine.Ping(ctx)
}

// OnNotification registers a handler for server-sent notifications.
func (c *Client) OnNotification(method string, handler engine.NotificationHandler) {
	c.engine.RegisterNotificationHandler(method, handler)
}

// OnRequest registers a handler for server-initiated requests, such as
// sampling or roots listing.
func (c *Client) OnRequest(method string, handler engine.RequestHandler) {
	c.engine.RegisterRequestHandler(method, handler)
}

// ServerInfo returns the server identity from the handshake.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities frozen at the handshake.
func (c *Client) ServerCapabilities() protocol.ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCaps
}

// ProtocolVersion returns the negotiated protocol revision.
func (c *Client) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// TerminateSession explicitly ends the server session when the
// transport supports it.
func (c *Client) TerminateSession(ctx context.Context) error {
	if st, ok := c.engine.Transport().(transport.SessionTerminator); ok {
		return st.TerminateSession(ctx)
	}
	return nil
}

// Close shuts the client down. In-flight calls fail.
func (c *Client) Close() error {
	return c.engine.Close()
}

// assertServerCapability rejects methods whose server capability was
// not negotiated, before any bytes hit the wire.
func (c *Client) assertServerCapability(method string) error {
	c.mu.Lock()
	initialized := c.initialized
	caps := c.serverCaps
	c.mu.Unlock()

	// The handshake itself, liveness probes, and protocol-internal
	// notifications are always allowed.
	switch method {
	case protocol.MethodInitialize, protocol.MethodPing:
		return nil
	}
	if strings.HasPrefix(method, "notifications/") {
		return nil
	}
	if !initialized {
		return mcperrors.TransportState("client", "not initialized")
	}

	switch {
	case strings.HasPrefix(method, "tools/"):
		if caps.Tools == nil {
			return mcperrors.CapabilityError(method, "tools")
		}
	case strings.HasPrefix(method, "resources/"):
		if caps.Resources == nil {
			return mcperrors.CapabilityError(method, "resources")
		}
	case strings.HasPrefix(method, "prompts/"):
		if caps.Prompts == nil {
			return mcperrors.CapabilityError(method, "prompts")
		}
	case strings.HasPrefix(method, "completion/"):
		if caps.Completions == nil {
			return mcperrors.CapabilityError(method, "completions")
		}
	case strings.HasPrefix(method, "logging/"):
		if caps.Logging == nil {
			return mcperrors.CapabilityError(method, "logging")
		}
	}
	return nil
}

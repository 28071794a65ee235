// Package server provides the server side of the MCP handshake:
// initialize negotiation, capability-checked handler registration, and
// per-connection engine wiring over any Transport.
package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mcpwire/mcpwire/pkg/engine"
	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
	"github.com/mcpwire/mcpwire/pkg/transport"
)

// Server declares capabilities and serves connections. One Server may
// serve many transports; each connection gets its own engine.
type Server struct {
	serverInfo   protocol.Implementation
	capabilities protocol.ServerCapabilities
	instructions string
	logger       logging.Logger

	mu                   sync.Mutex
	requestHandlers      map[string]engine.RequestHandler
	notificationHandlers map[string]engine.NotificationHandler
}

// Option configures a Server.
type Option func(*Server)

// WithServerInfo sets the identity reported at initialize.
func WithServerInfo(info protocol.Implementation) Option {
	return func(s *Server) { s.serverInfo = info }
}

// WithCapabilities declares the capabilities offered at initialize.
func WithCapabilities(caps protocol.ServerCapabilities) Option {
	return func(s *Server) { s.capabilities = caps }
}

// WithInstructions sets the usage hint returned at initialize.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithLogger sets the server's logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server.
func New(opts ...Option) *Server {
	s := &Server{
		serverInfo:           protocol.Implementation{Name: "mcpwire", Version: "dev"},
		logger:               logging.NewNopLogger(),
		requestHandlers:      make(map[string]engine.RequestHandler),
		notificationHandlers: make(map[string]engine.NotificationHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequestHandler installs a handler served to every connection.
// Registration fails when the method's capability was not declared, so
// misconfiguration surfaces at setup rather than at the first call.
func (s *Server) RegisterRequestHandler(method string, handler engine.RequestHandler) error {
	if err := s.assertDeclaredCapability(method); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requestHandlers[method]; exists {
		s.logger.Warn("replacing request handler", logging.String("method", method))
	}
	s.requestHandlers[method] = handler
	return nil
}

// RegisterNotificationHandler installs a notification handler served to
// every connection.
func (s *Server) RegisterNotificationHandler(method string, handler engine.NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notificationHandlers[method]; exists {
		s.logger.Warn("replacing notification handler", logging.String("method", method))
	}
	s.notificationHandlers[method] = handler
}

// Connection is one served transport with its negotiated client state.
type Connection struct {
	engine *engine.Engine

	mu          sync.Mutex
	initialized bool
	clientInfo  protocol.Implementation
	clientCaps  protocol.ClientCapabilities
}

// Serve wires a connection's engine over the transport and starts it.
// The returned Connection reflects handshake state as it progresses.
func (s *Server) Serve(ctx context.Context, t transport.Transport) (*Connection, error) {
	conn := &Connection{}
	conn.engine = engine.New(t,
		engine.WithLogger(s.logger),
		engine.WithCapabilityChecker(conn.assertClientCapability),
	)

	conn.engine.RegisterRequestHandler(protocol.MethodInitialize,
		func(rc *engine.RequestContext, params json.RawMessage) (interface{}, error) {
			return s.handleInitialize(conn, params)
		})
	conn.engine.RegisterNotificationHandler(protocol.NotificationInitialized,
		func(ctx context.Context, params json.RawMessage) error {
			s.logger.Debug("client reported initialized")
			return nil
		})

	s.mu.Lock()
	for method, handler := range s.requestHandlers {
		conn.engine.RegisterRequestHandler(method, handler)
	}
	for method, handler := range s.notificationHandlers {
		conn.engine.RegisterNotificationHandler(method, handler)
	}
	s.mu.Unlock()

	if err := conn.engine.Start(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// handleInitialize negotiates the protocol version and freezes the
// client's declared capabilities for this connection. A requested
// version we support is echoed back; anything else is answered with the
// latest revision we do support, per the version negotiation rules.
func (s *Server) handleInitialize(conn *Connection, params json.RawMessage) (interface{}, error) {
	var init protocol.InitializeParams
	if err := json.Unmarshal(params, &init); err != nil {
		return nil, mcperrors.InvalidParams(protocol.MethodInitialize, err)
	}

	version := protocol.LatestProtocolVersion
	if protocol.IsSupportedProtocolVersion(init.ProtocolVersion) {
		version = init.ProtocolVersion
	}

	conn.mu.Lock()
	conn.initialized = true
	conn.clientInfo = init.ClientInfo
	conn.clientCaps = init.Capabilities
	conn.mu.Unlock()

	s.logger.Info("client initialized",
		logging.String("client", init.ClientInfo.Name),
		logging.String("protocol_version", version))

	return &protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.capabilities,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	}, nil
}

// assertDeclaredCapability checks a handler registration against the
// server's own declared capabilities.
func (s *Server) assertDeclaredCapability(method string) error {
	switch {
	case strings.HasPrefix(method, "tools/"):
		if s.capabilities.Tools == nil {
			return mcperrors.CapabilityError(method, "tools")
		}
	case strings.HasPrefix(method, "resources/"):
		if s.capabilities.Resources == nil {
			return mcperrors.CapabilityError(method, "resources")
		}
	case strings.HasPrefix(method, "prompts/"):
		if s.capabilities.Prompts == nil {
			return mcperrors.CapabilityError(method, "prompts")
		}
	case strings.HasPrefix(method, "completion/"):
		if s.capabilities.Completions == nil {
			return mcperrors.CapabilityError(method, "completions")
		}
	case strings.HasPrefix(method, "logging/"):
		if s.capabilities.Logging == nil {
			return mcperrors.CapabilityError(method, "logging")
		}
	}
	return nil
}

// Call issues a server-initiated request to this connection's client,
// subject to the client's negotiated capabilities.
func (c *Connection) Call(ctx context.Context, method string, params interface{}, opts ...engine.RequestOption) (json.RawMessage, error) {
	return c.engine.Call(ctx, method, params, opts...)
}

// Notify sends a notification to the client.
func (c *Connection) Notify(ctx context.Context, method string, params interface{}) error {
	return c.engine.Notify(ctx, method, params)
}

// Ping checks that the client is responsive.
func (c *Connection) Ping(ctx context.Context) error {
	return c.engine.Ping(ctx)
}

// ClientInfo returns the client identity from the handshake.
func (c *Connection) ClientInfo() protocol.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientInfo
}

// ClientCapabilities returns the capabilities frozen at the handshake.
func (c *Connection) ClientCapabilities() protocol.ClientCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientCaps
}

// Initialized reports whether the handshake has completed.
func (c *Connection) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Close shuts the connection down.
func (c *Connection) Close() error {
	return c.engine.Close()
}

// assertClientCapability gates server-initiated requests on what the
// client declared at initialize.
func (c *Connection) assertClientCapability(method string) error {
	c.mu.Lock()
	initialized := c.initialized
	caps := c.clientCaps
	c.mu.Unlock()

	switch method {
	case protocol.MethodPing:
		return nil
	}
	if strings.HasPrefix(method, "notifications/") {
		return nil
	}
	if !initialized {
		return mcperrors.TransportState("server", "client not initialized")
	}

	switch {
	case strings.HasPrefix(method, "sampling/"):
		if caps.Sampling == nil {
			return mcperrors.CapabilityError(method, "sampling")
		}
	case strings.HasPrefix(method, "roots/"):
		if caps.Roots == nil {
			return mcperrors.CapabilityError(method, "roots")
		}
	}
	return nil
}

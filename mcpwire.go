package mcpwire

import (
	"github.com/mcpwire/mcpwire/pkg/client"
	"github.com/mcpwire/mcpwire/pkg/protocol"
	"github.com/mcpwire/mcpwire/pkg/server"
	"github.com/mcpwire/mcpwire/pkg/transport"
)

// Version is the current version of the module.
const Version = "0.1.0"

// Convenience exports for the most common entry points.
var (
	// NewClient creates a new MCP client over a transport.
	NewClient = client.New

	// NewServer creates a new MCP server.
	NewServer = server.New

	// NewTransport builds a transport from a TransportConfig.
	NewTransport = transport.NewTransport

	// DefaultTransportConfig returns a config with sane defaults for
	// the given transport type.
	DefaultTransportConfig = transport.DefaultTransportConfig
)

// Protocol revision constants.
const (
	// LatestProtocolVersion is the newest protocol revision supported.
	LatestProtocolVersion = protocol.LatestProtocolVersion
)

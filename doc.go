// Package mcpwire implements the Model Context Protocol (MCP) wire
// runtime for Go: the JSON-RPC 2.0 message layer, a request/response
// engine with timeouts, cancellation, and progress, and stdio,
// Streamable HTTP, and Server-Sent Events transports.
//
// # Layout
//
// The module is split into focused sub-packages:
//
//   - pkg/protocol: JSON-RPC message types, parsing, and MCP payloads
//   - pkg/engine: request correlation, dispatch, timeouts, cancellation
//   - pkg/transport: transport implementations and middleware
//   - pkg/client: the client side of the initialize handshake
//   - pkg/server: the server side of the initialize handshake
//   - pkg/errors: structured protocol and transport errors
//   - pkg/logging: structured leveled logging
//
// # Creating a client
//
// Build a transport from a config, then connect a client over it:
//
//	cfg := mcpwire.DefaultTransportConfig(transport.TransportTypeStdio)
//	t, err := mcpwire.NewTransport(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c := mcpwire.NewClient(t,
//	    client.WithClientInfo(protocol.Implementation{Name: "my-client", Version: "1.0.0"}))
//	if err := c.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	result, err := c.Call(ctx, "tools/list", nil)
//
// # Creating a server
//
// Declare capabilities, register handlers, and serve a transport:
//
//	srv := mcpwire.NewServer(
//	    server.WithServerInfo(protocol.Implementation{Name: "my-server", Version: "1.0.0"}),
//	    server.WithCapabilities(protocol.ServerCapabilities{Tools: &protocol.ToolsCapability{}}),
//	)
//	srv.RegisterRequestHandler("tools/list", listTools)
//
//	conn, err := srv.Serve(ctx, t)
//
// Handlers registered for a capability-scoped method require that
// capability to be declared, and client-directed requests are gated on
// the capabilities the client announced at initialize.
package mcpwire

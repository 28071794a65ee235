package transport

import (
	"context"

	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// Middleware wraps a Transport with additional behavior
type Middleware interface {
	// Wrap returns a new Transport that adds functionality
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is a function that implements Middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware composes multiple middleware into one. The first
// middleware in the list becomes the outermost layer.
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(t Transport) Transport {
		for i := len(middleware) - 1; i >= 0; i-- {
			t = middleware[i].Wrap(t)
		}
		return t
	})
}

// middlewareTransport is a base type for middleware implementations
// that forwards every call to the wrapped transport. Embedders override
// only the methods they care about.
type middlewareTransport struct {
	inner Transport
}

func (m *middlewareTransport) Start(ctx context.Context) error {
	return m.inner.Start(ctx)
}

func (m *middlewareTransport) Send(ctx context.Context, msg protocol.Message) error {
	return m.inner.Send(ctx, msg)
}

func (m *middlewareTransport) Close() error {
	return m.inner.Close()
}

func (m *middlewareTransport) SetMessageHandler(handler MessageHandler) {
	m.inner.SetMessageHandler(handler)
}

func (m *middlewareTransport) SetErrorHandler(handler ErrorHandler) {
	m.inner.SetErrorHandler(handler)
}

func (m *middlewareTransport) SetCloseHandler(handler CloseHandler) {
	m.inner.SetCloseHandler(handler)
}

func (m *middlewareTransport) SessionID() string {
	return m.inner.SessionID()
}

// TerminateSession forwards to the wrapped transport when it supports
// explicit termination, so the capability survives middleware layering.
func (m *middlewareTransport) TerminateSession(ctx context.Context) error {
	if st, ok := m.inner.(SessionTerminator); ok {
		return st.TerminateSession(ctx)
	}
	return nil
}

// MiddlewareBuilder assembles the middleware stack a config enables
type MiddlewareBuilder struct {
	config TransportConfig
}

// NewMiddlewareBuilder creates a builder for the given config
func NewMiddlewareBuilder(config TransportConfig) *MiddlewareBuilder {
	return &MiddlewareBuilder{config: config}
}

// Build returns the middleware list, outermost first: observability
// wraps reliability so retries are measured as part of one send.
func (mb *MiddlewareBuilder) Build() []Middleware {
	var middleware []Middleware

	if mb.config.Features.EnableObservability {
		middleware = append(middleware, NewObservabilityMiddleware(mb.config.Observability, mb.config.Logger))
	}
	if mb.config.Features.EnableReliability {
		middleware = append(middleware, NewReliabilityMiddleware(mb.config.Reliability, mb.config.Logger))
	}

	return middleware
}

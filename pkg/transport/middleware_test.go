package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// fakeTransport records calls and returns scripted send results.
type fakeTransport struct {
	mu             sync.Mutex
	sendResults    []error
	sendCount      int
	started        bool
	closed         bool
	messageHandler MessageHandler
	sessionID      string
	terminated     bool
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.sendCount
	f.sendCount++
	if i < len(f.sendResults) {
		return f.sendResults[i]
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) SetMessageHandler(handler MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageHandler = handler
}

func (f *fakeTransport) SetErrorHandler(handler ErrorHandler) {}
func (f *fakeTransport) SetCloseHandler(handler CloseHandler) {}
func (f *fakeTransport) SessionID() string                    { return f.sessionID }

func (f *fakeTransport) TerminateSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeTransport) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount
}

func fastReliability(maxRetries int) ReliabilityConfig {
	return ReliabilityConfig{
		MaxRetries:         maxRetries,
		InitialRetryDelay:  time.Millisecond,
		MaxRetryDelay:      5 * time.Millisecond,
		RetryBackoffFactor: 2.0,
	}
}

func TestReliabilityMiddlewareRetriesTransientFailures(t *testing.T) {
	transient := mcperrors.TransportError("stdio", "send", assert.AnError)
	fake := &fakeTransport{sendResults: []error{transient, transient, nil}}

	wrapped := NewReliabilityMiddleware(fastReliability(3), nil).Wrap(fake)

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	require.NoError(t, wrapped.Send(context.Background(), note))
	assert.Equal(t, 3, fake.sends())
}

func TestReliabilityMiddlewareGivesUpAfterBudget(t *testing.T) {
	transient := mcperrors.TransportError("stdio", "send", assert.AnError)
	fake := &fakeTransport{sendResults: []error{transient, transient, transient, transient}}

	wrapped := NewReliabilityMiddleware(fastReliability(2), nil).Wrap(fake)

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	err = wrapped.Send(context.Background(), note)
	require.Error(t, err)
	// initial attempt + 2 retries
	assert.Equal(t, 3, fake.sends())
}

func TestReliabilityMiddlewareDoesNotRetryPermanentErrors(t *testing.T) {
	cases := []error{
		mcperrors.Unauthorized("nope"),
		mcperrors.HTTPError(500, "boom"),
		mcperrors.ConnectionClosed(),
		mcperrors.TransportState("stdio", "not started"),
	}
	for _, permanent := range cases {
		fake := &fakeTransport{sendResults: []error{permanent}}
		wrapped := NewReliabilityMiddleware(fastReliability(3), nil).Wrap(fake)

		note, err := protocol.NewNotification("x", nil)
		require.NoError(t, err)
		err = wrapped.Send(context.Background(), note)
		require.Error(t, err)
		assert.Equal(t, 1, fake.sends(), "error %v must not be retried", permanent)
	}
}

func TestObservabilityMiddlewareCountsTraffic(t *testing.T) {
	registry := prometheus.NewRegistry()
	config := ObservabilityConfig{
		EnableMetrics:     true,
		MetricsPrefix:     "test_mw",
		MetricsRegisterer: registry,
	}

	fake := &fakeTransport{}
	wrapped := NewObservabilityMiddleware(config, nil).Wrap(fake)

	var received []protocol.Message
	wrapped.SetMessageHandler(func(msg protocol.Message) {
		received = append(received, msg)
	})

	req, err := protocol.NewRequest(protocol.NewIntID(1), "ping", nil)
	require.NoError(t, err)
	require.NoError(t, wrapped.Send(context.Background(), req))

	resp, err := protocol.NewResponse(protocol.NewIntID(1), nil)
	require.NoError(t, err)
	fake.messageHandler(resp)

	require.Len(t, received, 1)

	sent := testutil.ToFloat64(
		newTransportMetrics("test_mw", registry).messagesSent.WithLabelValues("request"))
	assert.Equal(t, 1.0, sent)
	recv := testutil.ToFloat64(
		newTransportMetrics("test_mw", registry).messagesReceived.WithLabelValues("response"))
	assert.Equal(t, 1.0, recv)
}

func TestObservabilityMiddlewareCountsSendErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	config := ObservabilityConfig{
		EnableMetrics:     true,
		MetricsPrefix:     "test_mw_err",
		MetricsRegisterer: registry,
	}

	fake := &fakeTransport{sendResults: []error{mcperrors.ConnectionClosed()}}
	wrapped := NewObservabilityMiddleware(config, nil).Wrap(fake)

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	require.Error(t, wrapped.Send(context.Background(), note))

	errs := testutil.ToFloat64(
		newTransportMetrics("test_mw_err", registry).sendErrors.WithLabelValues("notification"))
	assert.Equal(t, 1.0, errs)
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return MiddlewareFunc(func(t Transport) Transport {
			return &taggedTransport{middlewareTransport{inner: t}, name, &order}
		})
	}

	fake := &fakeTransport{}
	wrapped := ChainMiddleware(tag("outer"), tag("inner")).Wrap(fake)

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	require.NoError(t, wrapped.Send(context.Background(), note))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type taggedTransport struct {
	middlewareTransport
	name  string
	order *[]string
}

func (t *taggedTransport) Send(ctx context.Context, msg protocol.Message) error {
	*t.order = append(*t.order, t.name)
	return t.inner.Send(ctx, msg)
}

func TestMiddlewarePreservesSessionTermination(t *testing.T) {
	fake := &fakeTransport{sessionID: "s"}
	wrapped := ChainMiddleware(
		NewReliabilityMiddleware(fastReliability(1), nil),
		NewObservabilityMiddleware(ObservabilityConfig{}, nil),
	).Wrap(fake)

	st, ok := wrapped.(SessionTerminator)
	require.True(t, ok)
	require.NoError(t, st.TerminateSession(context.Background()))
	assert.True(t, fake.terminated)
	assert.Equal(t, "s", wrapped.SessionID())
}

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransportStdio(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStdio)
	tr, err := NewTransport(config)
	require.NoError(t, err)
	require.NotNil(t, tr)

	// Default features wrap the base in middleware.
	_, isBase := tr.(*stdioTransport)
	assert.False(t, isBase)
}

func TestNewTransportNoMiddlewareWhenDisabled(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStdio)
	config.Features.EnableReliability = false
	config.Features.EnableObservability = false

	tr, err := NewTransport(config)
	require.NoError(t, err)
	_, isBase := tr.(*stdioTransport)
	assert.True(t, isBase)
}

func TestNewTransportHTTPRequiresEndpoint(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStreamableHTTP)
	_, err := NewTransport(config)
	require.Error(t, err)

	config.Endpoint = "http://localhost:9000/mcp"
	tr, err := NewTransport(config)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestNewTransportUnknownType(t *testing.T) {
	_, err := NewTransport(TransportConfig{Type: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnsupportedTransportType)
}

func TestNewTransportSSEIsPerConnection(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeSSE)
	config.Endpoint = "http://localhost:9000/sse"
	_, err := NewTransport(config)
	assert.ErrorIs(t, err, ErrSSERequiresConnection)
}

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("abc")
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = p.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthRefreshUnsupported)
}

func TestFuncTokenProviderCachesUntilRefresh(t *testing.T) {
	calls := 0
	p := NewFuncTokenProvider(func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "first", nil
		}
		return "second", nil
	})

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	// Cached: no second fetch.
	token, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)
	assert.Equal(t, 1, calls)

	token, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", token)
}

func TestFuncTokenProviderPropagatesFetchError(t *testing.T) {
	wantErr := errors.New("idp down")
	p := NewFuncTokenProvider(func(ctx context.Context) (string, error) {
		return "", wantErr
	})

	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestDefaultTransportConfig(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStreamableHTTP)

	assert.Equal(t, TransportTypeStreamableHTTP, config.Type)
	assert.True(t, config.Features.EnableReliability)
	assert.True(t, config.Features.EnableObservability)
	assert.True(t, config.Reconnection.Enabled)
	assert.Equal(t, 1.5, config.Reconnection.GrowthFactor)
	assert.NotNil(t, config.Logger)
}

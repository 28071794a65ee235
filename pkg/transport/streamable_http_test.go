package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

func newTestStreamableHTTP(t *testing.T, endpoint string, mutate func(*TransportConfig)) (*streamableHTTPTransport, *messageCollector) {
	t.Helper()
	config := DefaultTransportConfig(TransportTypeStreamableHTTP)
	config.Endpoint = endpoint
	config.Reconnection.InitialDelay = 10 * time.Millisecond
	config.Reconnection.MaxDelay = 50 * time.Millisecond
	if mutate != nil {
		mutate(&config)
	}

	transport, err := newStreamableHTTPTransport(config)
	require.NoError(t, err)

	collector := newMessageCollector()
	collector.attach(transport)
	require.NoError(t, transport.Start(context.Background()))
	t.Cleanup(func() { transport.Close() })
	return transport, collector
}

func mustRequest(t *testing.T, id int64, method string) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(protocol.NewIntID(id), method, nil)
	require.NoError(t, err)
	return req
}

func TestStreamableHTTPJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, contentTypeJSON, r.Header.Get("Content-Type"))

		var req protocol.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set(headerSessionID, "sess-1")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}`, req.ID.String())
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, nil)

	require.NoError(t, transport.Send(context.Background(), mustRequest(t, 1, "ping")))

	msgs := collector.waitMessages(t, 1)
	resp, ok := msgs[0].(*protocol.Response)
	require.True(t, ok)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "sess-1", transport.SessionID())
}

func TestStreamableHTTPSessionHeaderOnSubsequentRequests(t *testing.T) {
	var sawSession atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerSessionID) == "sess-2" {
			sawSession.Store(true)
		}
		w.Header().Set(headerSessionID, "sess-2")
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	transport, _ := newTestStreamableHTTP(t, server.URL, nil)

	note, err := protocol.NewNotification("one", nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))
	require.NoError(t, transport.Send(context.Background(), note))
	assert.True(t, sawSession.Load())
}

func TestStreamableHTTPBatchJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		fmt.Fprint(w, `[{"jsonrpc":"2.0","id":1,"result":{}},{"jsonrpc":"2.0","method":"notifications/message"}]`)
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, nil)
	require.NoError(t, transport.Send(context.Background(), mustRequest(t, 1, "x")))

	msgs := collector.waitMessages(t, 2)
	assert.IsType(t, &protocol.Response{}, msgs[0])
	assert.IsType(t, &protocol.Notification{}, msgs[1])
}

func TestStreamableHTTPPerExchangeEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeSSE)
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n")
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, nil)
	require.NoError(t, transport.Send(context.Background(), mustRequest(t, 1, "tools/call")))

	msgs := collector.waitMessages(t, 2)
	assert.IsType(t, &protocol.Notification{}, msgs[0])
	assert.IsType(t, &protocol.Response{}, msgs[1])
}

func TestStreamableHTTPNon2xxFailsWithStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	transport, _ := newTestStreamableHTTP(t, server.URL, func(c *TransportConfig) {
		c.Features.EnableReliability = false
	})

	err := transport.Send(context.Background(), mustRequest(t, 1, "x"))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, mcperrors.HTTPStatusCode(err))
}

func TestStreamableHTTPAuthRefreshOn401(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	tokens := []string{"stale", "fresh"}
	var idx int
	provider := NewFuncTokenProvider(func(ctx context.Context) (string, error) {
		token := tokens[idx]
		if idx < len(tokens)-1 {
			idx++
		}
		return token, nil
	})

	transport, _ := newTestStreamableHTTP(t, server.URL, func(c *TransportConfig) {
		c.Auth = provider
	})

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))
	assert.Equal(t, int32(2), calls.Load())
}

func TestStreamableHTTPUnauthorizedAfterRefreshFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	transport, _ := newTestStreamableHTTP(t, server.URL, func(c *TransportConfig) {
		c.Auth = NewFuncTokenProvider(func(ctx context.Context) (string, error) {
			return "always-rejected", nil
		})
		c.Features.EnableReliability = false
	})

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	err = transport.Send(context.Background(), note)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeUnauthorized))
}

func TestStreamableHTTPInitializedOpensListeningStream(t *testing.T) {
	getOpened := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			select {
			case getOpened <- struct{}{}:
			default:
			}
			w.Header().Set("Content-Type", contentTypeSSE)
			fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/message\"}\n\n")
		}
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, nil)

	note, err := protocol.NewNotification(protocol.NotificationInitialized, nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))

	select {
	case <-getOpened:
	case <-time.After(2 * time.Second):
		t.Fatal("listening stream never opened")
	}
	collector.waitMessages(t, 1)
}

func TestStreamableHTTP405OnListeningStreamIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, nil)

	note, err := protocol.NewNotification(protocol.NotificationInitialized, nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, collector.errors())
	assert.False(t, transport.isClosed())
}

func TestStreamableHTTPResumptionTokenAndReconnect(t *testing.T) {
	var mu sync.Mutex
	var lastEventIDs []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			mu.Lock()
			lastEventIDs = append(lastEventIDs, r.Header.Get(headerLastEventID))
			n := len(lastEventIDs)
			mu.Unlock()

			w.Header().Set("Content-Type", contentTypeSSE)
			if n == 1 {
				// First stream delivers one event then drops.
				fmt.Fprint(w, "id: 7\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/message\",\"params\":{\"level\":\"info\"}}\n\n")
				return
			}
			fmt.Fprint(w, "id: 8\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/message\",\"params\":{\"level\":\"warn\"}}\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}
	}))
	t.Cleanup(server.Close)

	var tokens []string
	var tokenMu sync.Mutex
	transport, collector := newTestStreamableHTTP(t, server.URL, func(c *TransportConfig) {
		c.OnResumptionToken = func(eventID string) {
			tokenMu.Lock()
			tokens = append(tokens, eventID)
			tokenMu.Unlock()
		}
	})

	note, err := protocol.NewNotification(protocol.NotificationInitialized, nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))

	collector.waitMessages(t, 2)

	mu.Lock()
	require.GreaterOrEqual(t, len(lastEventIDs), 2)
	assert.Equal(t, "", lastEventIDs[0])
	assert.Equal(t, "7", lastEventIDs[1])
	mu.Unlock()

	tokenMu.Lock()
	assert.Contains(t, tokens, "7")
	assert.Contains(t, tokens, "8")
	tokenMu.Unlock()
}

func TestStreamableHTTPReconnectBudgetTerminalError(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			gets.Add(1)
			// Deliver an id so the stream counts as dirty, then drop.
			w.Header().Set("Content-Type", contentTypeSSE)
			fmt.Fprint(w, "id: 1\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/message\"}\n\n")
		}
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, func(c *TransportConfig) {
		c.Reconnection.MaxRetries = 2
	})

	note, err := protocol.NewNotification(protocol.NotificationInitialized, nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))

	deadline := time.After(3 * time.Second)
	for {
		if errs := collector.errors(); len(errs) > 0 {
			assert.True(t, mcperrors.IsCode(errs[0], mcperrors.CodeConnectionLost))
			break
		}
		select {
		case <-deadline:
			t.Fatal("terminal reconnect error never reported")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// initial open + 2 retry attempts
	assert.Equal(t, int32(3), gets.Load())
}

func TestStreamableHTTPTerminateSession(t *testing.T) {
	var deleteSession atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Header().Set(headerSessionID, "sess-3")
			w.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			deleteSession.Store(r.Header.Get(headerSessionID))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(server.Close)

	transport, _ := newTestStreamableHTTP(t, server.URL, nil)

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), note))
	require.Equal(t, "sess-3", transport.SessionID())

	require.NoError(t, transport.TerminateSession(context.Background()))
	assert.Equal(t, "sess-3", deleteSession.Load())
	assert.Empty(t, transport.SessionID())
}

func TestStreamableHTTPTerminateSession405IsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	transport, _ := newTestStreamableHTTP(t, server.URL, nil)
	assert.NoError(t, transport.TerminateSession(context.Background()))
}

func TestStreamableHTTPCloseFiresOnceAndStopsStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	transport, collector := newTestStreamableHTTP(t, server.URL, nil)
	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	collector.waitClosed(t)

	note, err := protocol.NewNotification("x", nil)
	require.NoError(t, err)
	err = transport.Send(context.Background(), note)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeConnectionClosed))
}

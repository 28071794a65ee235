package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

const (
	headerSessionID   = "Mcp-Session-Id"
	headerLastEventID = "Last-Event-ID"

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// SessionTerminator is implemented by transports that support explicit
// server-side session termination.
type SessionTerminator interface {
	TerminateSession(ctx context.Context) error
}

// streamableHTTPTransport is the client side of the Streamable HTTP
// transport: every outbound message is an HTTP POST, and server push
// arrives over per-response event streams plus an optional persistent
// GET stream opened after the initialized notification.
type streamableHTTPTransport struct {
	baseTransport

	endpoint     string
	client       *http.Client
	auth         AuthProvider
	reconnection ReconnectionConfig
	onResumption func(eventID string)

	stateMu     sync.Mutex
	sessionID   string
	lastEventID string
	listening   bool

	streamCtx    context.Context
	streamCancel context.CancelFunc
	streamWG     sync.WaitGroup
}

func newStreamableHTTPTransport(config TransportConfig) (*streamableHTTPTransport, error) {
	dialer := &net.Dialer{
		Timeout:   config.Connection.Timeout,
		KeepAlive: config.Connection.KeepAlive,
	}
	httpTransport := &http.Transport{
		DialContext:     dialer.DialContext,
		MaxIdleConns:    config.Connection.MaxIdleConns,
		IdleConnTimeout: config.Connection.IdleConnTimeout,
	}

	return &streamableHTTPTransport{
		baseTransport: newBaseTransport("streamable_http", config.Logger),
		endpoint:      config.Endpoint,
		client:        &http.Client{Transport: httpTransport},
		auth:          config.Auth,
		reconnection:  config.Reconnection,
		onResumption:  config.OnResumptionToken,
	}, nil
}

func (t *streamableHTTPTransport) Start(ctx context.Context) error {
	if err := t.markStarted(); err != nil {
		return err
	}
	t.streamCtx, t.streamCancel = context.WithCancel(context.Background())
	return nil
}

func (t *streamableHTTPTransport) Send(ctx context.Context, msg protocol.Message) error {
	if err := t.checkSendable(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return mcperrors.Internal(err.Error())
	}

	resp, err := t.doRequest(ctx, http.MethodPost, body, "")
	if err != nil {
		return err
	}
	t.captureSession(resp)

	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
		// Fire-and-forget. Once we have told the server we are
		// initialized, open the listening stream for server push.
		if isInitializedNotification(msg) {
			t.startListening()
		}
		return nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return t.handleExchangeBody(resp, requestIDOf(msg))

	default:
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return mcperrors.HTTPError(resp.StatusCode, string(text))
	}
}

// handleExchangeBody routes a 2xx POST response by content type: an
// event stream is drained in the background scoped to this exchange, a
// JSON body delivers its message (or batch) inline.
func (t *streamableHTTPTransport) handleExchangeBody(resp *http.Response, replayID *protocol.RequestID) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	switch mediaType {
	case contentTypeSSE:
		t.streamWG.Add(1)
		go func() {
			defer t.streamWG.Done()
			defer resp.Body.Close()
			t.runExchangeStream(resp.Body, replayID)
		}()
		return nil

	case contentTypeJSON:
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcperrors.TransportError("streamable_http", "read response", err)
		}
		return t.deliverJSONBody(data)

	default:
		resp.Body.Close()
		if resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 {
			return nil
		}
		return mcperrors.TransportError("streamable_http", "response",
			fmt.Errorf("unexpected content type %q", mediaType))
	}
}

func (t *streamableHTTPTransport) deliverJSONBody(data []byte) error {
	if protocol.IsBatch(data) {
		msgs, err := protocol.ParseBatch(data)
		if err != nil {
			return mcperrors.ParseError(err)
		}
		for _, msg := range msgs {
			t.deliverMessage(msg)
		}
		return nil
	}

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return mcperrors.ParseError(err)
	}
	t.deliverMessage(msg)
	return nil
}

// runExchangeStream consumes the event-stream body of one POST
// exchange. If the stream dies before completing and reconnection is
// enabled, the exchange is resumed over GET with Last-Event-ID so the
// server can replay, rewriting any replayed response id back to the
// original request id.
func (t *streamableHTTPTransport) runExchangeStream(body io.Reader, replayID *protocol.RequestID) {
	parser := newSSEParser(func(evt sseEvent) {
		t.handleSSEEvent(evt, replayID)
	})
	err := consumeSSEStream(body, parser)
	if err == nil || t.isClosed() {
		return
	}

	t.logger.WithError(err).Warn("exchange stream interrupted")
	t.resumeStream(newReconnectScheduler(t.reconnection), replayID, false)
}

// startListening opens the persistent GET stream for unsolicited server
// push. A 405 means the server opted out, which is not an error.
func (t *streamableHTTPTransport) startListening() {
	t.stateMu.Lock()
	if t.listening {
		t.stateMu.Unlock()
		return
	}
	t.listening = true
	t.stateMu.Unlock()

	t.streamWG.Add(1)
	go func() {
		defer t.streamWG.Done()

		resp, err := t.doRequest(t.streamCtx, http.MethodGet, nil, "")
		if err != nil {
			if !t.isClosed() {
				t.deliverError(err)
			}
			return
		}
		if resp.StatusCode == http.StatusMethodNotAllowed {
			resp.Body.Close()
			t.logger.Debug("server does not offer a listening stream")
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer resp.Body.Close()
			text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			t.deliverError(mcperrors.HTTPError(resp.StatusCode, string(text)))
			return
		}
		t.captureSession(resp)

		parser := newSSEParser(func(evt sseEvent) {
			t.handleSSEEvent(evt, nil)
		})
		err = consumeSSEStream(resp.Body, parser)
		resp.Body.Close()
		if t.isClosed() {
			return
		}
		if err != nil {
			t.logger.WithError(err).Warn("listening stream interrupted")
		}
		t.resumeStream(newReconnectScheduler(t.reconnection), nil, true)
	}()
}

// resumeStream repeatedly re-opens a dropped stream with the recorded
// resumption token. The scheduler's attempt counter spans the whole
// recovery sequence: a successful reconnection does not reset it. When
// the retry budget runs out a single terminal error is reported.
// persistent selects the listening-stream behavior, where even a clean
// stream end schedules another attempt; exchange resumes stop once a
// replayed stream completes.
func (t *streamableHTTPTransport) resumeStream(sched *reconnectScheduler, replayID *protocol.RequestID, persistent bool) {
	if !t.reconnection.Enabled {
		return
	}

	for {
		delay, ok := sched.NextDelay()
		if !ok {
			t.deliverError(mcperrors.ConnectionLost("streamable_http",
				fmt.Errorf("stream not recovered after %d attempts", sched.Attempt())))
			return
		}
		if !sleepFor(t.streamCtx, delay) {
			return
		}

		resp, err := t.doRequest(t.streamCtx, http.MethodGet, nil, t.currentEventID())
		if err != nil {
			if t.isClosed() {
				return
			}
			t.logger.WithError(err).Debug("stream reconnect failed",
				logging.Int("attempt", sched.Attempt()))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			if resp.StatusCode == http.StatusMethodNotAllowed {
				return
			}
			t.logger.Debug("stream reconnect rejected",
				logging.Int("status", resp.StatusCode))
			continue
		}
		t.captureSession(resp)

		parser := newSSEParser(func(evt sseEvent) {
			t.handleSSEEvent(evt, replayID)
		})
		err = consumeSSEStream(resp.Body, parser)
		resp.Body.Close()
		if t.isClosed() {
			return
		}
		if err == nil && !persistent {
			return
		}
	}
}

// handleSSEEvent records resumption tokens and delivers message events.
// Events whose name is neither empty nor "message" are ignored.
func (t *streamableHTTPTransport) handleSSEEvent(evt sseEvent, replayID *protocol.RequestID) {
	if evt.hasID {
		t.stateMu.Lock()
		t.lastEventID = evt.id
		onResumption := t.onResumption
		t.stateMu.Unlock()
		if onResumption != nil {
			onResumption(evt.id)
		}
	}

	if evt.name != "" && evt.name != "message" {
		return
	}
	if evt.data == "" {
		return
	}

	msg, err := protocol.ParseMessage([]byte(evt.data))
	if err != nil {
		t.deliverError(mcperrors.ParseError(err))
		return
	}
	if replayID != nil {
		if resp, ok := msg.(*protocol.Response); ok {
			resp.ID = *replayID
		}
	}
	t.deliverMessage(msg)
}

// doRequest issues one HTTP exchange with session, auth, and resumption
// headers attached. A 401 triggers one token refresh and one retry when
// an auth provider is configured; a second 401 fails for good.
func (t *streamableHTTPTransport) doRequest(ctx context.Context, method string, body []byte, lastEventID string) (*http.Response, error) {
	token := ""
	if t.auth != nil {
		var err error
		token, err = t.auth.Token(ctx)
		if err != nil {
			return nil, mcperrors.Unauthorized(err.Error())
		}
	}

	resp, err := t.doOnce(ctx, method, body, lastEventID, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || t.auth == nil {
		return resp, nil
	}
	resp.Body.Close()

	token, err = t.auth.Refresh(ctx)
	if err != nil {
		return nil, mcperrors.Unauthorized(err.Error())
	}
	resp, err = t.doOnce(ctx, method, body, lastEventID, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, mcperrors.Unauthorized("request rejected after token refresh")
	}
	return resp, nil
}

func (t *streamableHTTPTransport) doOnce(ctx context.Context, method string, body []byte, lastEventID, token string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.endpoint, reqBody)
	if err != nil {
		return nil, mcperrors.TransportError("streamable_http", "build request", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)
	if sessionID := t.SessionID(); sessionID != "" {
		req.Header.Set(headerSessionID, sessionID)
	}
	if lastEventID != "" {
		req.Header.Set(headerLastEventID, lastEventID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, mcperrors.TransportError("streamable_http", strings.ToLower(method), err)
	}
	return resp, nil
}

// captureSession adopts the session id from any successful exchange.
func (t *streamableHTTPTransport) captureSession(resp *http.Response) {
	if sessionID := resp.Header.Get(headerSessionID); sessionID != "" {
		t.stateMu.Lock()
		t.sessionID = sessionID
		t.stateMu.Unlock()
	}
}

func (t *streamableHTTPTransport) currentEventID() string {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.lastEventID
}

func (t *streamableHTTPTransport) SessionID() string {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.sessionID
}

// TerminateSession asks the server to discard the session via DELETE. A
// 405 means explicit termination is unsupported and counts as success.
func (t *streamableHTTPTransport) TerminateSession(ctx context.Context) error {
	resp, err := t.doRequest(ctx, http.MethodDelete, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed ||
		(resp.StatusCode >= 200 && resp.StatusCode < 300) {
		t.stateMu.Lock()
		t.sessionID = ""
		t.stateMu.Unlock()
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return mcperrors.HTTPError(resp.StatusCode, string(text))
}

// Close aborts all stream subscriptions and pending reconnection timers
// before reporting closure.
func (t *streamableHTTPTransport) Close() error {
	if !t.markClosed() {
		return nil
	}
	if t.streamCancel != nil {
		t.streamCancel()
	}
	t.client.CloseIdleConnections()
	t.fireClose()
	return nil
}

func isInitializedNotification(msg protocol.Message) bool {
	note, ok := msg.(*protocol.Notification)
	return ok && note.Method == protocol.NotificationInitialized
}

// requestIDOf returns the id of an outbound request, or nil for
// notifications and responses.
func requestIDOf(msg protocol.Message) *protocol.RequestID {
	req, ok := msg.(*protocol.Request)
	if !ok {
		return nil
	}
	id := req.ID
	return &id
}

var _ Transport = (*streamableHTTPTransport)(nil)
var _ SessionTerminator = (*streamableHTTPTransport)(nil)

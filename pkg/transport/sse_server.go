package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// ErrSSERequiresConnection is returned by the factory for the SSE type:
// server-side SSE transports are bound to an accepted GET connection and
// are created by SSEHandler, not from config alone.
var ErrSSERequiresConnection = errors.New("sse transports are created per connection; use NewSSEHandler")

// SSEServerTransport is the server end of the legacy HTTP+SSE pairing.
// One instance serves one client: outbound messages flow as events over
// the hijacked GET connection, inbound messages arrive out-of-band via
// POST and are injected with HandleMessage, so the protocol engine sees
// a single unified inbound channel.
type SSEServerTransport struct {
	baseTransport

	sessionID string
	endpoint  string

	writeMu sync.Mutex
	w       http.ResponseWriter
	flush   http.Flusher
}

// NewSSEServerTransport binds a transport to an accepted GET connection.
// messageEndpoint is the URL clients must POST inbound traffic to; the
// session id is appended as a query parameter when it is advertised.
func NewSSEServerTransport(messageEndpoint string, w http.ResponseWriter, logger logging.Logger) (*SSEServerTransport, error) {
	flush, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	return &SSEServerTransport{
		baseTransport: newBaseTransport("sse", logger),
		sessionID:     uuid.NewString(),
		endpoint:      messageEndpoint,
		w:             w,
		flush:         flush,
	}, nil
}

// Start emits the SSE response headers and the endpoint event telling
// the peer where to POST.
func (t *SSEServerTransport) Start(ctx context.Context) error {
	if err := t.markStarted(); err != nil {
		return err
	}

	header := t.w.Header()
	header.Set("Content-Type", contentTypeSSE)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	t.w.WriteHeader(http.StatusOK)

	endpointURL := fmt.Sprintf("%s?sessionId=%s", t.endpoint, url.QueryEscape(t.sessionID))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeSSEEvent(t.w, "endpoint", endpointURL); err != nil {
		return mcperrors.TransportError("sse", "start", err)
	}
	t.flush.Flush()
	return nil
}

// Send relays one outbound message as an event: message frame.
func (t *SSEServerTransport) Send(ctx context.Context, msg protocol.Message) error {
	if err := t.checkSendable(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return mcperrors.Internal(err.Error())
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeSSEEvent(t.w, "message", string(data)); err != nil {
		return mcperrors.TransportError("sse", "send", err)
	}
	t.flush.Flush()
	return nil
}

// HandleMessage injects a raw inbound body received over the POST side
// into this transport's message stream.
func (t *SSEServerTransport) HandleMessage(data []byte) error {
	if t.isClosed() {
		return mcperrors.ConnectionClosed()
	}

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		parseErr := mcperrors.ParseError(err)
		t.deliverError(parseErr)
		return parseErr
	}
	t.deliverMessage(msg)
	return nil
}

func (t *SSEServerTransport) Close() error {
	if !t.markClosed() {
		return nil
	}
	t.fireClose()
	return nil
}

func (t *SSEServerTransport) SessionID() string { return t.sessionID }

var _ Transport = (*SSEServerTransport)(nil)

// ConnectionHandler receives each accepted SSE connection, wrapped in
// the configured middleware, before any traffic flows on it.
type ConnectionHandler func(t Transport)

// SSEHandler serves the two HTTP endpoints of the legacy SSE pairing
// and tracks live sessions: GET upgrades into a push stream, POST
// relays inbound messages into the matching session's transport.
type SSEHandler struct {
	config     TransportConfig
	endpoint   string
	onConnect  ConnectionHandler
	logger     logging.Logger
	middleware Middleware

	mu       sync.Mutex
	sessions map[string]*SSEServerTransport
}

// NewSSEHandler creates the handler pair. messageEndpoint is the URL
// advertised to clients for POSTing inbound messages.
func NewSSEHandler(config TransportConfig, messageEndpoint string, onConnect ConnectionHandler) *SSEHandler {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SSEHandler{
		config:     config,
		endpoint:   messageEndpoint,
		onConnect:  onConnect,
		logger:     logger,
		middleware: ChainMiddleware(NewMiddlewareBuilder(config).Build()...),
		sessions:   make(map[string]*SSEServerTransport),
	}
}

// ServeHTTP dispatches on method: GET opens a stream, POST relays a
// message to an existing session.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleSSE(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SSEHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	transport, err := NewSSEServerTransport(h.endpoint, w, h.logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.sessions[transport.SessionID()] = transport
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, transport.SessionID())
		h.mu.Unlock()
		transport.Close()
	}()

	wrapped := h.middleware.Wrap(transport)
	if h.onConnect != nil {
		h.onConnect(wrapped)
	}
	// The connection handler may have started the transport already,
	// for example by serving a protocol engine over it.
	if err := wrapped.Start(r.Context()); err != nil && !mcperrors.IsCode(err, mcperrors.CodeTransportState) {
		h.logger.WithError(err).Error("sse stream start failed")
		return
	}

	h.logger.Info("sse stream opened", logging.String("session", transport.SessionID()))

	// Hold the connection open until the client goes away.
	<-r.Context().Done()
	h.logger.Info("sse stream closed", logging.String("session", transport.SessionID()))
}

func (h *SSEHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	transport, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := transport.HandleMessage(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SessionCount reports the number of live streams.
func (h *SSEHandler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

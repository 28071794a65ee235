// Package engine implements the protocol core that sits between a
// Transport and application code: outbound request correlation with
// timeouts and cancellation, inbound dispatch to registered handlers,
// progress routing, and capability enforcement.
//
// One Engine owns one Transport. Handlers are registered before Start;
// after Start the engine drives all traffic through the transport's
// callbacks.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
	"github.com/mcpwire/mcpwire/pkg/transport"
)

// RequestHandler serves one inbound request. A returned error that is
// already a structured protocol error goes to the peer verbatim; any
// other error is wrapped as an internal error exposing only its
// message.
type RequestHandler func(ctx *RequestContext, params json.RawMessage) (interface{}, error)

// NotificationHandler serves one inbound notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// ProgressHandler observes progress notifications for one outbound
// request.
type ProgressHandler func(params protocol.ProgressParams)

// callResult settles one pending request: exactly one of resp or err.
type callResult struct {
	resp *protocol.Response
	err  error
}

// pendingRequest tracks one in-flight outbound request.
type pendingRequest struct {
	method          string
	id              protocol.RequestID
	ch              chan callResult
	timer           *time.Timer
	timeout         time.Duration
	onProgress      ProgressHandler
	resetOnProgress bool
}

// Engine correlates requests with responses over a Transport and
// dispatches inbound traffic to registered handlers.
type Engine struct {
	transport transport.Transport
	logger    logging.Logger

	defaultTimeout  time.Duration
	resetOnProgress bool
	checkCapability CapabilityChecker

	nextID atomic.Int64

	mu                   sync.Mutex
	closed               bool
	pending              map[string]*pendingRequest
	inflight             map[string]context.CancelFunc
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
}

// New creates an engine bound to the given transport. The transport
// must not be started; Start wires the engine's callbacks first.
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:            t,
		logger:               logging.NewNopLogger(),
		defaultTimeout:       30 * time.Second,
		pending:              make(map[string]*pendingRequest),
		inflight:             make(map[string]context.CancelFunc),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
	}
	for _, opt := range opts {
		opt(e)
	}

	// Built-in liveness probe; applications may re-register it.
	e.requestHandlers[protocol.MethodPing] = func(ctx *RequestContext, params json.RawMessage) (interface{}, error) {
		return struct{}{}, nil
	}
	return e
}

// Start wires the transport callbacks and starts the transport.
func (e *Engine) Start(ctx context.Context) error {
	e.transport.SetMessageHandler(e.handleMessage)
	e.transport.SetErrorHandler(func(err error) {
		e.logger.WithError(err).Warn("transport error")
	})
	e.transport.SetCloseHandler(func() {
		e.failAllPending(mcperrors.ConnectionClosed())
	})
	return e.transport.Start(ctx)
}

// Close shuts down the transport and fails every pending request.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.transport.Close()
	e.failAllPending(mcperrors.ConnectionClosed())
	return err
}

// RegisterRequestHandler installs the handler for a method. Registering
// the same method again replaces the previous handler; the replacement
// is logged.
func (e *Engine) RegisterRequestHandler(method string, handler RequestHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.requestHandlers[method]; exists {
		e.logger.Warn("replacing request handler", logging.String("method", method))
	}
	e.requestHandlers[method] = handler
}

// RegisterNotificationHandler installs the handler for a notification
// method, replacing any previous registration.
func (e *Engine) RegisterNotificationHandler(method string, handler NotificationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.notificationHandlers[method]; exists {
		e.logger.Warn("replacing notification handler", logging.String("method", method))
	}
	e.notificationHandlers[method] = handler
}

// PendingCount reports the number of in-flight outbound requests.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Call sends a request and blocks until it resolves, times out, or ctx
// is cancelled. Capability checks run before any transport activity.
func (e *Engine) Call(ctx context.Context, method string, params interface{}, opts ...RequestOption) (json.RawMessage, error) {
	if e.checkCapability != nil {
		if err := e.checkCapability(method); err != nil {
			return nil, err
		}
	}

	ro := requestOptions{
		timeout:         e.defaultTimeout,
		resetOnProgress: e.resetOnProgress,
	}
	for _, opt := range opts {
		opt(&ro)
	}

	id := protocol.NewIntID(e.nextID.Add(1))
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.InvalidParams(method, err)
	}
	if ro.onProgress != nil {
		req.Params, err = injectProgressToken(req.Params, id)
		if err != nil {
			return nil, mcperrors.InvalidParams(method, err)
		}
	}

	pending := &pendingRequest{
		method:          method,
		id:              id,
		ch:              make(chan callResult, 1),
		timeout:         ro.timeout,
		onProgress:      ro.onProgress,
		resetOnProgress: ro.resetOnProgress,
	}
	key := id.String()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, mcperrors.ConnectionClosed()
	}
	e.pending[key] = pending
	e.mu.Unlock()

	if ro.timeout > 0 {
		pending.timer = time.AfterFunc(ro.timeout, func() {
			e.settle(key, callResult{err: mcperrors.RequestTimeout(id, ro.timeout)})
		})
	}

	if err := e.transport.Send(ctx, req); err != nil {
		e.discard(key)
		return nil, err
	}

	select {
	case res := <-pending.ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, mcperrors.FromErrorObject(res.resp.Error)
		}
		return res.resp.Result, nil

	case <-ctx.Done():
		if e.discard(key) {
			e.sendCancelNotification(id, ctx.Err().Error())
		}
		return nil, mcperrors.RequestCancelled(id, ctx.Err().Error())
	}
}

// Notify sends a notification; it does not wait for anything.
func (e *Engine) Notify(ctx context.Context, method string, params interface{}) error {
	if e.checkCapability != nil {
		if err := e.checkCapability(method); err != nil {
			return err
		}
	}
	note, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	return e.transport.Send(ctx, note)
}

// Ping round-trips the built-in liveness probe.
func (e *Engine) Ping(ctx context.Context, opts ...RequestOption) error {
	_, err := e.Call(ctx, protocol.MethodPing, nil, opts...)
	return err
}

// Transport exposes the underlying transport, for session inspection.
func (e *Engine) Transport() transport.Transport {
	return e.transport
}

// settle resolves a pending request exactly once: the entry is removed
// under the lock before any callback or channel delivery happens, so a
// racing timeout and response cannot both win.
func (e *Engine) settle(key string, res callResult) {
	e.mu.Lock()
	pending, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	if pending.timer != nil {
		pending.timer.Stop()
	}
	pending.ch <- res
}

// discard removes a pending entry without delivering a result; the
// caller already knows the outcome. Reports whether the entry was still
// pending.
func (e *Engine) discard(key string) bool {
	e.mu.Lock()
	pending, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	if pending.timer != nil {
		pending.timer.Stop()
	}
	return true
}

func (e *Engine) failAllPending(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*pendingRequest)
	e.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- callResult{err: err}
	}
}

// sendCancelNotification tells the peer an outbound request was
// abandoned. Best effort: the request is already rejected locally.
func (e *Engine) sendCancelNotification(id protocol.RequestID, reason string) {
	note, err := protocol.NewNotification(protocol.NotificationCancelled,
		&protocol.CancelledParams{RequestID: id, Reason: reason})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.transport.Send(ctx, note); err != nil {
		e.logger.WithError(err).Debug("cancel notification not delivered")
	}
}

// handleMessage is the single inbound entry point. Responses and
// notifications are handled inline to preserve arrival order; request
// handlers run in their own goroutine so a slow handler cannot stall
// the stream.
func (e *Engine) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Response:
		e.handleResponse(m)
	case *protocol.Notification:
		e.handleNotification(m)
	case *protocol.Request:
		e.handleRequest(m)
	}
}

func (e *Engine) handleResponse(resp *protocol.Response) {
	key := resp.ID.String()

	e.mu.Lock()
	_, known := e.pending[key]
	e.mu.Unlock()
	if !known {
		// Stale, duplicate, or unknown id. Normal network condition.
		e.logger.Debug("dropping response for unknown request",
			logging.String("id", key))
		return
	}
	e.settle(key, callResult{resp: resp})
}

func (e *Engine) handleNotification(note *protocol.Notification) {
	switch note.Method {
	case protocol.NotificationCancelled:
		e.handleCancelled(note.Params)
		return
	case protocol.NotificationProgress:
		e.handleProgress(note.Params)
		return
	}

	e.mu.Lock()
	handler := e.notificationHandlers[note.Method]
	e.mu.Unlock()
	if handler == nil {
		e.logger.Debug("no handler for notification",
			logging.String("method", note.Method))
		return
	}
	if err := handler(context.Background(), note.Params); err != nil {
		e.logger.WithError(err).Warn("notification handler failed",
			logging.String("method", note.Method))
	}
}

// handleCancelled marks the referenced in-flight inbound request's
// context as cancelled. Cooperative only: the handler keeps running
// until it observes the context.
func (e *Engine) handleCancelled(params json.RawMessage) {
	var p protocol.CancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.logger.WithError(err).Warn("malformed cancelled notification")
		return
	}

	e.mu.Lock()
	cancel := e.inflight[p.RequestID.String()]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handleProgress routes a progress notification to the pending request
// identified by its progress token, optionally pushing the request's
// timeout out.
func (e *Engine) handleProgress(params json.RawMessage) {
	var p protocol.ProgressParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.logger.WithError(err).Warn("malformed progress notification")
		return
	}

	e.mu.Lock()
	pending := e.pending[p.ProgressToken.String()]
	e.mu.Unlock()
	if pending == nil || pending.onProgress == nil {
		return
	}

	if pending.resetOnProgress && pending.timer != nil && pending.timeout > 0 {
		pending.timer.Reset(pending.timeout)
	}
	pending.onProgress(p)
}

func (e *Engine) handleRequest(req *protocol.Request) {
	e.mu.Lock()
	handler := e.requestHandlers[req.Method]
	e.mu.Unlock()

	if handler == nil {
		e.respondError(req.ID, mcperrors.MethodNotFound(req.Method))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	key := req.ID.String()
	e.mu.Lock()
	e.inflight[key] = cancel
	e.mu.Unlock()

	rc := &RequestContext{
		Context:       ctx,
		ID:            req.ID,
		Method:        req.Method,
		engine:        e,
		progressToken: progressTokenOf(req.Params),
	}

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.inflight, key)
			e.mu.Unlock()
			cancel()
		}()

		result, err := handler(rc, req.Params)
		if err != nil {
			e.respondError(req.ID, err)
			return
		}
		resp, err := protocol.NewResponse(req.ID, result)
		if err != nil {
			e.respondError(req.ID, mcperrors.Internal(err.Error()))
			return
		}
		e.respond(resp)
	}()
}

func (e *Engine) respondError(id protocol.RequestID, err error) {
	obj := mcperrors.ToErrorObject(err)
	e.respond(&protocol.Response{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Error:   obj,
	})
}

func (e *Engine) respond(resp *protocol.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.transport.Send(ctx, resp); err != nil {
		e.logger.WithError(err).Warn("failed to send response",
			logging.String("id", resp.ID.String()))
	}
}

// injectProgressToken sets params._meta.progressToken so the peer can
// address progress notifications back to this request.
func injectProgressToken(params json.RawMessage, id protocol.RequestID) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &obj); err != nil {
			return nil, err
		}
	}

	meta := make(map[string]json.RawMessage)
	if raw, ok := obj["_meta"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, err
		}
	}
	token, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	meta["progressToken"] = token

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	obj["_meta"] = rawMeta
	return json.Marshal(obj)
}

// progressTokenOf extracts the progress token from inbound request
// params, or nil when the caller did not ask for progress.
func progressTokenOf(params json.RawMessage) *protocol.RequestID {
	if len(params) == 0 {
		return nil
	}
	var probe struct {
		Meta *protocol.RequestMeta `json:"_meta"`
	}
	if err := json.Unmarshal(params, &probe); err != nil {
		return nil
	}
	if probe.Meta == nil || !probe.Meta.ProgressToken.IsValid() {
		return nil
	}
	token := probe.Meta.ProgressToken
	return &token
}

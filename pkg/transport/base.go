package transport

import (
	"sync"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// baseTransport carries the lifecycle state and callback wiring shared
// by every concrete transport: the started/closed guards, handler
// registration, and exactly-once close notification.
type baseTransport struct {
	mu      sync.Mutex
	started bool
	closed  bool

	messageHandler MessageHandler
	errorHandler   ErrorHandler
	closeHandler   CloseHandler
	closeOnce      sync.Once

	name   string
	logger logging.Logger
}

func newBaseTransport(name string, logger logging.Logger) baseTransport {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return baseTransport{name: name, logger: logger}
}

func (b *baseTransport) SetMessageHandler(handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageHandler = handler
}

func (b *baseTransport) SetErrorHandler(handler ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandler = handler
}

func (b *baseTransport) SetCloseHandler(handler CloseHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeHandler = handler
}

// markStarted transitions to the started state, rejecting repeat starts
// and starts after close.
func (b *baseTransport) markStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mcperrors.TransportState(b.name, "already closed")
	}
	if b.started {
		return mcperrors.TransportState(b.name, "already started")
	}
	b.started = true
	return nil
}

// checkSendable verifies the transport can accept an outbound message.
func (b *baseTransport) checkSendable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mcperrors.ConnectionClosed()
	}
	if !b.started {
		return mcperrors.TransportState(b.name, "not started")
	}
	return nil
}

// markClosed transitions to the closed state. It reports whether this
// call performed the transition.
func (b *baseTransport) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

func (b *baseTransport) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *baseTransport) deliverMessage(msg protocol.Message) {
	b.mu.Lock()
	handler := b.messageHandler
	b.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (b *baseTransport) deliverError(err error) {
	b.mu.Lock()
	handler := b.errorHandler
	b.mu.Unlock()
	if handler != nil {
		handler(err)
	} else {
		b.logger.WithError(err).Error("transport error with no handler registered")
	}
}

// fireClose invokes the close handler at most once per transport.
func (b *baseTransport) fireClose() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		handler := b.closeHandler
		b.mu.Unlock()
		if handler != nil {
			handler()
		}
	})
}

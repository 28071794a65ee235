package engine

import (
	"context"

	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// RequestContext is handed to request handlers. Its embedded Context is
// cancelled when the peer sends notifications/cancelled for this
// request; handlers observe it at their own pace — cancellation never
// preempts a running handler.
type RequestContext struct {
	context.Context

	// ID is the inbound request's correlation id.
	ID protocol.RequestID
	// Method is the inbound request's method.
	Method string

	engine        *Engine
	progressToken *protocol.RequestID
}

// Cancelled reports whether the peer has cancelled this request.
func (rc *RequestContext) Cancelled() bool {
	return rc.Context.Err() != nil
}

// SupportsProgress reports whether the caller asked for progress
// updates on this request.
func (rc *RequestContext) SupportsProgress() bool {
	return rc.progressToken != nil
}

// ReportProgress emits a progress notification addressed to this
// request's caller. It is a no-op when the caller did not supply a
// progress token.
func (rc *RequestContext) ReportProgress(progress, total float64, message string) error {
	if rc.progressToken == nil {
		return nil
	}
	note, err := protocol.NewNotification(protocol.NotificationProgress,
		&protocol.ProgressParams{
			ProgressToken: *rc.progressToken,
			Progress:      progress,
			Total:         total,
			Message:       message,
		})
	if err != nil {
		return err
	}
	return rc.engine.transport.Send(rc.Context, note)
}

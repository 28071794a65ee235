package engine

import (
	"time"

	"github.com/mcpwire/mcpwire/pkg/logging"
)

// CapabilityChecker vets a method before any transport activity. It
// returns a capability error when the method's capability was not
// negotiated for this connection.
type CapabilityChecker func(method string) error

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDefaultTimeout sets the timeout applied to calls that do not
// override it. Zero disables the default timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.defaultTimeout = d
	}
}

// WithCapabilityChecker installs the pre-send capability assertion.
func WithCapabilityChecker(check CapabilityChecker) Option {
	return func(e *Engine) {
		e.checkCapability = check
	}
}

// WithResetTimeoutOnProgress makes every call's timeout restart when a
// progress notification for it arrives, unless the call overrides it.
func WithResetTimeoutOnProgress(reset bool) Option {
	return func(e *Engine) {
		e.resetOnProgress = reset
	}
}

// requestOptions carries per-call settings.
type requestOptions struct {
	timeout         time.Duration
	onProgress      ProgressHandler
	resetOnProgress bool
}

// RequestOption configures a single Call.
type RequestOption func(*requestOptions)

// WithTimeout overrides the engine default for one call. Zero or
// negative disables the timeout entirely.
func WithTimeout(d time.Duration) RequestOption {
	return func(ro *requestOptions) {
		ro.timeout = d
	}
}

// WithProgress attaches a progress handler to one call. The request's
// params gain a _meta.progressToken addressing notifications back to
// this call.
func WithProgress(handler ProgressHandler) RequestOption {
	return func(ro *requestOptions) {
		ro.onProgress = handler
	}
}

// WithProgressTimeoutReset restarts this call's timeout on each
// progress notification.
func WithProgressTimeoutReset() RequestOption {
	return func(ro *requestOptions) {
		ro.resetOnProgress = true
	}
}

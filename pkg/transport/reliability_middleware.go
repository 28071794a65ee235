package transport

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// reliabilityMiddleware retries failed sends with exponential backoff.
// Only transient delivery faults are retried; state errors, auth
// failures, and server-reported HTTP errors pass through untouched.
type reliabilityMiddleware struct {
	middlewareTransport
	config ReliabilityConfig
	logger logging.Logger
}

// NewReliabilityMiddleware creates retry middleware from config
func NewReliabilityMiddleware(config ReliabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return MiddlewareFunc(func(t Transport) Transport {
		return &reliabilityMiddleware{
			middlewareTransport: middlewareTransport{inner: t},
			config:              config,
			logger:              logger,
		}
	})
}

func (m *reliabilityMiddleware) Send(ctx context.Context, msg protocol.Message) error {
	if m.config.MaxRetries <= 0 {
		return m.inner.Send(ctx, msg)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.InitialRetryDelay
	bo.MaxInterval = m.config.MaxRetryDelay
	bo.Multiplier = m.config.RetryBackoffFactor
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(m.config.MaxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := m.inner.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if !isRetryableSendError(err) {
			return backoff.Permanent(err)
		}
		m.logger.WithError(err).Debug("retrying send", logging.Int("attempt", attempt))
		return err
	}, policy)
}

// isRetryableSendError reports whether a send failure is worth another
// attempt. HTTP status errors carry a server verdict and are final.
func isRetryableSendError(err error) bool {
	mcpErr, ok := mcperrors.As(err)
	if !ok {
		return false
	}
	switch mcpErr.Code() {
	case mcperrors.CodeTransportError:
		return mcperrors.HTTPStatusCode(err) == 0
	case mcperrors.CodeConnectionLost:
		return true
	default:
		return false
	}
}

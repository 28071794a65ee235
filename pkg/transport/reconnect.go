package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectScheduler computes the delay before each consecutive stream
// recovery attempt: initialDelay * growthFactor^attempt, capped at
// maxDelay, with attempt counting from zero. The counter is never reset
// implicitly; a fresh scheduler is created per logical stream.
type reconnectScheduler struct {
	policy  ReconnectionConfig
	backoff *backoff.ExponentialBackOff
	attempt int
}

func newReconnectScheduler(policy ReconnectionConfig) *reconnectScheduler {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = policy.GrowthFactor
	bo.MaxInterval = policy.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &reconnectScheduler{policy: policy, backoff: bo}
}

// NextDelay returns the delay to wait before the next attempt. It
// reports false once the retry budget is exhausted; MaxRetries of zero
// means the budget never runs out.
func (s *reconnectScheduler) NextDelay() (time.Duration, bool) {
	if s.policy.MaxRetries > 0 && s.attempt >= s.policy.MaxRetries {
		return 0, false
	}
	s.attempt++

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

// Attempt returns the number of attempts granted so far.
func (s *reconnectScheduler) Attempt() int {
	return s.attempt
}

// sleepFor blocks for the given delay or until ctx is cancelled,
// reporting whether the full delay elapsed.
func sleepFor(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

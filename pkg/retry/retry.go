// Package retry holds the retry policy applied to outbound calls
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

// ErrInvalidAttempts is returned when a policy allows no attempts
var ErrInvalidAttempts = errors.New("max attempts must be positive")

// Policy describes how a call is retried. Backoff grows by Multiplier from
// InitialBackoff and is capped at MaxBackoff.
type Policy struct {
	MaxAttempts    int           `yaml:"maxAttempts" default:"3"`
	InitialBackoff time.Duration `yaml:"initialBackoff" default:"1s"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" default:"30s"`
	Multiplier     float64       `yaml:"multiplier" default:"2"`

	// Retryable decides whether an error is worth another attempt.
	// Defaults to failure.IsRetryable.
	Retryable func(error) bool `yaml:"-"`
}

// Default returns the policy used for single HTTP calls and schema probes
func Default() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

// Validate checks the policy
func (p *Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidAttempts
	}

	return nil
}

// Backoff returns the delay before the given retry (attempt starts at 1)
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if p.MaxBackoff > 0 && delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}

	if p.MaxBackoff > 0 && time.Duration(delay) > p.MaxBackoff {
		return p.MaxBackoff
	}

	return time.Duration(delay)
}

// Hinter is implemented by errors that carry a server-requested delay,
// such as a Retry-After header.
type Hinter interface {
	RetryAfter() time.Duration
}

// delay returns the backoff before the given retry, stretched to a
// server-requested delay when err carries one.
func (p Policy) delay(attempt int, err error) time.Duration {
	d := p.Backoff(attempt)

	var h Hinter
	if errors.As(err, &h) {
		if hint := h.RetryAfter(); hint > d {
			d = hint
		}

		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			d = p.MaxBackoff
		}
	}

	return d
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}

	return failure.IsRetryable(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget runs out. onRetry, when non-nil, is told about every retry.
// When the budget is exhausted the last error is returned classified as
// failure.KindExhausted.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !p.retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(p.delay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &failure.Error{
		Kind:    failure.KindExhausted,
		Op:      op,
		Message: "retries exhausted",
		Err:     lastErr,
	}
}

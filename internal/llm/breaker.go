package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"jarvis-shell/internal/logger"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32 = 3
	defaultOpenTimeout        = 30 * time.Second
)

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive unreachable errors before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a half-open trial request.
	OpenTimeout time.Duration
}

// Breaker wraps a Completer so a dead backend fails fast instead of costing a
// full timeout on every novel request.
type Breaker struct {
	inner Completer
	cb    *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps inner. Zero config fields take defaults.
func NewBreaker(inner Completer, cfg BreakerConfig) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "model",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
		// Only transport failures count; a chatty or empty model is still reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnreachable) || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

// Complete routes the call through the circuit breaker.
func (b *Breaker) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.inner.Complete(ctx, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: circuit open: %v", ErrUnreachable, err)
	}
	return out, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

var _ Completer = (*Breaker)(nil)

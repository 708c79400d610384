package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts is the total number of attempts (first call included)
// an Executor makes for a recoverable failure.
const DefaultMaxAttempts = 3

// Executor runs facade operations with the reconnect-and-retry policy.
//
// A failed call is retried only when Recoverable reports true for its error;
// before each retry Reconnect is invoked (best-effort logout + login). Retries
// are immediate. Once the attempts are exhausted, or on the first
// non-recoverable failure, the cause is wrapped in a TransportError.
type Executor struct {
	// Tracker names the adapter in wrapped errors and logs.
	Tracker string

	// MaxAttempts bounds the total number of attempts. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Recoverable classifies failures. Nil means no failure is recoverable.
	Recoverable func(error) bool

	// Reconnect re-establishes the remote session between attempts.
	Reconnect func(ctx context.Context)

	// Logger receives retry diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// NeverRecoverable is the default recovery predicate.
func NeverRecoverable(error) bool { return false }

// Do runs fn under the retry policy.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	recoverable := e.Recoverable
	if recoverable == nil {
		recoverable = NeverRecoverable
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !recoverable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		logger.Debug("call failed - retrying",
			"tracker", e.Tracker, "op", op,
			"attempt", attempt, "max_attempts", maxAttempts,
			"error", err)
		if e.Reconnect != nil {
			e.Reconnect(ctx)
		}
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(maxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		return AsTransportError(e.Tracker, op, err)
	}
	return nil
}

// Execute is Do for operations that return a value.
func Execute[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

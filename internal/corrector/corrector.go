package corrector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults for Config.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Config bounds retries.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// ExhaustedError is the single failure a caller sees once retries stop.
type ExhaustedError struct {
	Attempts int
	Kind     ErrorKind
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Corrector runs operations with classification-aware retries.
type Corrector struct {
	cfg      Config
	observer Observer
	sleeper  Sleeper
}

// Option customizes a Corrector.
type Option func(*Corrector)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(c *Corrector) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithSleeper replaces the timer-based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Corrector) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// New builds a Corrector, filling zero config values with defaults.
func New(cfg Config, opts ...Option) *Corrector {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	c := &Corrector{cfg: cfg, observer: NopObserver{}, sleeper: TimerSleeper{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observed returns a copy of c reporting to o.
func (c *Corrector) Observed(o Observer) *Corrector {
	cp := *c
	if o != nil {
		cp.observer = o
	}
	return &cp
}

// MaxAttempts returns the configured attempt limit.
func (c *Corrector) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// Backoff is the wait after the failed attempt with zero-based index attempt:
// base * 2^attempt, tripled for rate limiting.
func (c *Corrector) Backoff(kind ErrorKind, attempt int) time.Duration {
	return c.cfg.BaseDelay * time.Duration(int64(1)<<uint(attempt)) * time.Duration(kind.multiplier())
}

// Operation is a single attempt.
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op until it succeeds, fails with a non-retryable kind, or runs out
// of attempts. Cancellation of ctx stops immediately and returns the
// cancellation error unwrapped.
func Do[T any](ctx context.Context, c *Corrector, op Operation[T]) (T, error) {
	var (
		zero     T
		lastErr  error
		lastKind ErrorKind
		attempts int
	)
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		attempts++
		v, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				c.observer.OnSuccess(attempt)
			}
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}

		lastErr, lastKind = err, Classify(err)
		if !lastKind.Retryable() || attempt == c.cfg.MaxAttempts-1 {
			c.observer.OnRetry(attempts, lastKind, 0, err)
			break
		}
		delay := c.Backoff(lastKind, attempt)
		c.observer.OnRetry(attempts, lastKind, delay, err)
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	c.observer.OnFailure(attempts, lastKind, lastErr)
	return zero, &ExhaustedError{Attempts: attempts, Kind: lastKind, Err: lastErr}
}

// DoWithTimeout is Do with every attempt raced against timeout. An attempt
// that runs out of time fails with ErrTimeout and is retried like any other
// timeout.
func DoWithTimeout[T any](ctx context.Context, c *Corrector, timeout time.Duration, op Operation[T]) (T, error) {
	return Do(ctx, c, Timed(timeout, op))
}

// Timed races one call of op against timeout and fails with ErrTimeout when
// the timer wins. A non-positive timeout returns op unchanged.
func Timed[T any](timeout time.Duration, op Operation[T]) Operation[T] {
	if timeout <= 0 {
		return op
	}
	return func(ctx context.Context) (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type outcome struct {
			v   T
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			v, err := op(attemptCtx)
			done <- outcome{v: v, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return out.v, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return out.v, out.err
		case <-attemptCtx.Done():
			var zero T
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	}
}

// BatchResult is the outcome of one operation in RunBatch.
type BatchResult[T any] struct {
	Value T
	Err   error
}

// RunBatch runs ops one after another, each with its own retries. With
// continueOnError false it stops at the first failure and returns the results
// gathered so far together with that failure.
func RunBatch[T any](ctx context.Context, c *Corrector, ops []Operation[T], continueOnError bool) ([]BatchResult[T], error) {
	results := make([]BatchResult[T], 0, len(ops))
	for _, op := range ops {
		v, err := Do(ctx, c, op)
		results = append(results, BatchResult[T]{Value: v, Err: err})
		if err == nil {
			continue
		}
		if ctx.Err() != nil || !continueOnError {
			return results, err
		}
	}
	return results, nil
}

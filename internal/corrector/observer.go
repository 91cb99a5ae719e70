package corrector

import (
	"context"
	"fmt"
	"time"
)

// Observer is notified about retry progress. OnRetry fires after every failed
// attempt, counted from 1; delay is zero when no further attempt follows.
// OnSuccess receives the zero-based index of the attempt that succeeded and
// fires only when that is not the first.
type Observer interface {
	OnRetry(attempt int, kind ErrorKind, delay time.Duration, err error)
	OnSuccess(attempt int)
	OnFailure(attempts int, kind ErrorKind, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

// OnRetry implements Observer.
func (NopObserver) OnRetry(int, ErrorKind, time.Duration, error) {}

// OnSuccess implements Observer.
func (NopObserver) OnSuccess(int) {}

// OnFailure implements Observer.
func (NopObserver) OnFailure(int, ErrorKind, error) {}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	Retry   func(attempt int, kind ErrorKind, delay time.Duration, err error)
	Success func(attempt int)
	Failure func(attempts int, kind ErrorKind, err error)
}

// OnRetry implements Observer.
func (f ObserverFuncs) OnRetry(attempt int, kind ErrorKind, delay time.Duration, err error) {
	if f.Retry != nil {
		f.Retry(attempt, kind, delay, err)
	}
}

// OnSuccess implements Observer.
func (f ObserverFuncs) OnSuccess(attempt int) {
	if f.Success != nil {
		f.Success(attempt)
	}
}

// OnFailure implements Observer.
func (f ObserverFuncs) OnFailure(attempts int, kind ErrorKind, err error) {
	if f.Failure != nil {
		f.Failure(attempts, kind, err)
	}
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer and wakes early when ctx is done.
type TimerSleeper struct{}

// Sleep implements Sleeper.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

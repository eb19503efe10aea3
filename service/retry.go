package service

import (
	"context"
	"math"
	"time"
)

// RetryStrategy decides how long ApplyTransitionWithRetry waits before
// re-running a transition that lost an optimistic version race.
type RetryStrategy interface {
	// SleepDuration returns the wait before the next attempt. attempt starts
	// at 0 and grows after each conflict.
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(int, error) time.Duration { return 0 }

// ExponentialBackoffStrategy waits Base * Factor^attempt, capped at Max.
//
//	WithRetry(ExponentialBackoffStrategy{
//	    Base:   20 * time.Millisecond,
//	    Factor: 2,
//	    Max:    time.Second,
//	}, 5)
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(e.Base) * math.Pow(factor, float64(attempt)))
	if e.Max > 0 && (delay > e.Max || delay < 0) {
		return e.Max
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

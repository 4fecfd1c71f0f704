// Package pace holds the cancellation-aware delay helpers used between
// remote calls. A tick-level timeout must be able to interrupt any delay
// in progress, so nothing here calls time.Sleep directly.
package pace

import (
	"context"
	"math/rand"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Jitter sleeps for a uniformly random duration in [min, max). The
// inter-item submission delay uses this to avoid a recognizable cadence.
func Jitter(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	return Sleep(ctx, d)
}

// Retry runs fn up to attempts times, sleeping base, 2*base, 4*base, ...
// between tries. It stops early when fn succeeds, when retryable returns
// false, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error, retryable func(error) bool) error {
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if serr := Sleep(ctx, delay); serr != nil {
			return err
		}
		delay *= 2
	}
	return err
}

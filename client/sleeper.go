package client

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/tevino/abool"
)

// Sleeper interface is used for tasks that need to be done on some
// interval, like reconnecting.
type Sleeper interface {
	Reset()
	SleepContext(ctx context.Context) error
	After() time.Duration
	Duration() time.Duration
}

// BackoffSleeper is a sleeper that backs off on subsequent attempts.
// The first call never waits.
type BackoffSleeper struct {
	backoff.Backoff
	beenRun *abool.AtomicBool
}

var _ Sleeper = (*BackoffSleeper)(nil)

// NewFixedSleeper returns a BackoffSleeper that does not wait initially and then
// waits exactly interval between attempts. A zero interval never waits.
func NewFixedSleeper(interval time.Duration) *BackoffSleeper {
	return &BackoffSleeper{
		Backoff: backoff.Backoff{
			Min:    interval,
			Max:    interval,
			Factor: 1,
		},
		beenRun: abool.New(),
	}
}

// SleepContext waits for the next backoff duration or until ctx is done.
func (bs *BackoffSleeper) SleepContext(ctx context.Context) error {
	d := bs.After()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// After returns the duration for the next stop, and increments the backoff.
func (bs *BackoffSleeper) After() time.Duration {
	if bs.beenRun.SetToIf(false, true) {
		return 0
	}
	// backoff.Backoff substitutes its own defaults for a zero Max
	if bs.Backoff.Max <= 0 {
		return 0
	}
	return bs.Backoff.Duration()
}

// Duration returns the current duration value.
func (bs *BackoffSleeper) Duration() time.Duration {
	if !bs.beenRun.IsSet() || bs.Backoff.Max <= 0 {
		return 0
	}
	return bs.ForAttempt(bs.Attempt())
}

// Reset resets the backoff intervals.
func (bs *BackoffSleeper) Reset() {
	bs.beenRun.UnSet()
	bs.Backoff.Reset()
}

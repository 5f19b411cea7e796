package subscription

import (
	"time"

	"github.com/jpillora/backoff"
	"github.com/tevino/abool"
)

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 10 * time.Second
)

// Sleeper paces reconnect attempts of a price stream.
type Sleeper interface {
	// Reset starts a new series of attempts.
	Reset()
	// After returns the wait before the next attempt and advances the series.
	After() time.Duration
	// Duration returns the wait of the current attempt, for logs.
	Duration() time.Duration
}

// BackoffSleeper tries the first reconnect right away and then backs off
// exponentially with jitter.
type BackoffSleeper struct {
	backoff.Backoff
	attempted *abool.AtomicBool
}

var _ Sleeper = (*BackoffSleeper)(nil)

// NewBackoffSleeper bounds the backoff by min and max. Non-positive bounds
// mean 1s and 10s.
func NewBackoffSleeper(min, max time.Duration) *BackoffSleeper {
	if min <= 0 {
		min = defaultReconnectMin
	}
	if max <= 0 {
		max = defaultReconnectMax
	}
	return &BackoffSleeper{
		Backoff:   backoff.Backoff{Min: min, Max: max, Jitter: true},
		attempted: abool.New(),
	}
}

func (bs *BackoffSleeper) After() time.Duration {
	if bs.attempted.SetToIf(false, true) {
		return 0
	}
	return bs.Backoff.Duration()
}

func (bs *BackoffSleeper) Duration() time.Duration {
	if !bs.attempted.IsSet() {
		return 0
	}
	return bs.ForAttempt(bs.Attempt())
}

func (bs *BackoffSleeper) Reset() {
	bs.attempted.UnSet()
	bs.Backoff.Reset()
}

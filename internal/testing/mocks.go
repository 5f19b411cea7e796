package testing

import "time"

// NeverSleeper lets a price stream reconnect immediately.
type NeverSleeper struct{}

func (NeverSleeper) Reset() {}

func (NeverSleeper) After() time.Duration { return 0 }

func (NeverSleeper) Duration() time.Duration { return 0 }

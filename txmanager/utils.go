package txmanager

import (
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// LifecycleState of a service guarded by StartStopOnce.
type LifecycleState int

const (
	LifecycleUnstarted LifecycleState = iota
	LifecycleStarted
	LifecycleStopped
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleUnstarted:
		return "unstarted"
	case LifecycleStarted:
		return "started"
	case LifecycleStopped:
		return "stopped"
	}
	return "unknown"
}

// StartStopOnce lets a coordinator or updater be started once and stopped
// once. It is meant to be embedded.
type StartStopOnce struct {
	lifecycleMu sync.Mutex
	lifecycle   LifecycleState
}

// advance moves from one state to the next and reports whether it did.
func (once *StartStopOnce) advance(from, to LifecycleState) bool {
	once.lifecycleMu.Lock()
	defer once.lifecycleMu.Unlock()
	if once.lifecycle != from {
		return false
	}
	once.lifecycle = to
	return true
}

func (once *StartStopOnce) StartOnce(name string, fn func() error) error {
	if !once.advance(LifecycleUnstarted, LifecycleStarted) {
		return errors.Errorf("%s is %s, cannot start", name, once.Lifecycle())
	}
	return fn()
}

func (once *StartStopOnce) StopOnce(name string, fn func() error) error {
	if !once.advance(LifecycleStarted, LifecycleStopped) {
		return errors.Errorf("%s is %s, cannot stop", name, once.Lifecycle())
	}
	return fn()
}

// OkayToStart marks the service started if it never was.
func (once *StartStopOnce) OkayToStart() bool {
	return once.advance(LifecycleUnstarted, LifecycleStarted)
}

func (once *StartStopOnce) Lifecycle() LifecycleState {
	once.lifecycleMu.Lock()
	defer once.lifecycleMu.Unlock()
	return once.lifecycle
}

// WithJitter spreads d by up to 10% either way so that batch loops started
// together drift apart.
func WithJitter(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(spread)-spread/2)
}

// WrapIfError wraps *err with msg when it is set. Use it with defer on a named
// error result.
func WrapIfError(err *error, msg string) {
	if *err != nil {
		*err = errors.Wrap(*err, msg)
	}
}

package txmanager_test

import (
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/txmanager"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopOnce(t *testing.T) {
	var once txmanager.StartStopOnce
	assert.Equal(t, txmanager.LifecycleUnstarted, once.Lifecycle())

	calls := 0
	fn := func() error { calls++; return nil }

	require.NoError(t, once.StartOnce("svc", fn))
	assert.EqualError(t, once.StartOnce("svc", fn), "svc is started, cannot start")
	assert.False(t, once.OkayToStart())

	require.NoError(t, once.StopOnce("svc", fn))
	assert.EqualError(t, once.StopOnce("svc", fn), "svc is stopped, cannot stop")
	assert.Equal(t, 2, calls)
	assert.Equal(t, "stopped", once.Lifecycle().String())
}

func TestWithJitter(t *testing.T) {
	assert.Equal(t, time.Duration(3), txmanager.WithJitter(3))

	for i := 0; i < 100; i++ {
		d := txmanager.WithJitter(10 * time.Second)
		assert.GreaterOrEqual(t, d, 9*time.Second)
		assert.Less(t, d, 11*time.Second)
	}
}

func TestWrapIfError(t *testing.T) {
	run := func(fail bool) (err error) {
		defer txmanager.WrapIfError(&err, "run failed")
		if fail {
			return errors.New("boom")
		}
		return nil
	}
	assert.NoError(t, run(false))
	assert.EqualError(t, run(true), "run failed: boom")
}

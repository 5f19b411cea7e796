package subscription_test

import (
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/subscription"
	"github.com/stretchr/testify/assert"
)

func TestBackoffSleeper(t *testing.T) {
	bs := subscription.NewBackoffSleeper(100*time.Millisecond, time.Second)

	assert.Equal(t, time.Duration(0), bs.Duration())
	assert.Equal(t, time.Duration(0), bs.After(), "first attempt is immediate")

	for i := 0; i < 10; i++ {
		d := bs.After()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}

	bs.Reset()
	assert.Equal(t, time.Duration(0), bs.After())
}

func TestNewBackoffSleeper_Defaults(t *testing.T) {
	bs := subscription.NewBackoffSleeper(0, 0)
	assert.Equal(t, time.Second, bs.Min)
	assert.Equal(t, 10*time.Second, bs.Max)
}

package staleness

import (
	"math/big"
	"time"

	"github.com/celer-network/oracle-updater/types"
)

type Reason string

const (
	ReasonNone        = Reason("")
	ReasonHeartbeat   = Reason("heartbeat")
	ReasonDeviation   = Reason("deviation")
	ReasonEarlyUpdate = Reason("early_update")
	// ReasonNotNewer is reported when the candidate is not newer than the
	// on-chain value, which is never due.
	ReasonNotNewer = Reason("not_newer")
)

// Result tells whether a feed needs updating and which rule fired.
type Result struct {
	Due    bool
	Reason Reason
	Age    time.Duration
}

var bipsDenominator = big.NewInt(10000)

// Evaluate applies the heartbeat, deviation and early update rules, in that
// order, to a feed's on-chain value and a fetched candidate. A candidate that
// is not newer than the on-chain value is never due, even past the heartbeat.
func Evaluate(feed *types.Feed, onChain, candidate types.PriceValue, now time.Time) Result {
	age := now.Sub(onChain.PublishTime)
	if onChain.PublishTime.IsZero() {
		age = time.Duration(1<<63 - 1)
	}
	if !candidate.PublishTime.After(onChain.PublishTime) {
		return Result{Reason: ReasonNotNewer, Age: age}
	}

	if age >= feed.Heartbeat {
		return Result{Due: true, Reason: ReasonHeartbeat, Age: age}
	}
	if Deviates(onChain, candidate, feed.UpdateThresholdBips) {
		return Result{Due: true, Reason: ReasonDeviation, Age: age}
	}
	if feed.EarlyUpdate > 0 && age >= feed.Heartbeat-feed.EarlyUpdate {
		return Result{Due: true, Reason: ReasonEarlyUpdate, Age: age}
	}
	return Result{Age: age}
}

// Deviates reports whether |candidate - onChain| / |onChain| >= bips / 10000
// using exact integer arithmetic. Values with different exponents are scaled
// to the finer one first. An unchanged price never deviates; a zero on-chain
// price deviates on any change.
func Deviates(onChain, candidate types.PriceValue, bips uint64) bool {
	o, c := scaleToCommonExpo(onChain, candidate)

	diff := new(big.Int).Sub(c, o)
	diff.Abs(diff)
	if diff.Sign() == 0 {
		return false
	}
	if o.Sign() == 0 {
		return true
	}

	lhs := diff.Mul(diff, bipsDenominator)
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(bips), new(big.Int).Abs(o))
	return lhs.Cmp(rhs) >= 0
}

func scaleToCommonExpo(a, b types.PriceValue) (*big.Int, *big.Int) {
	x, y := big.NewInt(a.Price), big.NewInt(b.Price)
	switch {
	case a.Expo > b.Expo:
		x.Mul(x, pow10(int64(a.Expo)-int64(b.Expo)))
	case b.Expo > a.Expo:
		y.Mul(y, pow10(int64(b.Expo)-int64(a.Expo)))
	}
	return x, y
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

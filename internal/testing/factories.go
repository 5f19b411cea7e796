package testing

import (
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/batch"
	"github.com/celer-network/oracle-updater/staleness"
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewPriceSet returns a fetched price for every member of b, each with its
// own signed blob.
func NewPriceSet(t testing.TB, b *types.Batch, publishTime time.Time) *types.PriceSet {
	t.Helper()

	set := &types.PriceSet{Endpoint: "Pyth Official", Prices: map[common.Hash]types.PriceUpdate{}}
	for i, f := range b.Feeds {
		set.Prices[f.ID] = types.PriceUpdate{
			FeedID: f.ID,
			Value: types.PriceValue{
				Price:       300000000000 + int64(i),
				Conf:        150000000,
				Expo:        -8,
				PublishTime: publishTime,
			},
			UpdateData: randomBytes(64),
		}
	}
	return set
}

// NewCandidate returns a candidate covering every member of b where the first
// member is due on heartbeat.
func NewCandidate(t testing.TB, b *types.Batch, publishTime time.Time) *batch.Candidate {
	t.Helper()

	set := NewPriceSet(t, b, publishTime)
	results := map[common.Hash]staleness.Result{
		b.Feeds[0].ID: {Due: true, Reason: staleness.ReasonHeartbeat},
	}
	candidates := batch.Plan([]*types.Batch{b}, results, set)
	require.Len(t, candidates, 1)
	return candidates[0]
}

// OnChainValues returns the on-chain view after the candidate was written.
func OnChainValues(candidate *batch.Candidate) map[common.Hash]types.PriceValue {
	values := make(map[common.Hash]types.PriceValue, len(candidate.Values))
	for _, v := range candidate.Values {
		values[v.FeedID] = v.Value
	}
	return values
}

// NewPendingUpdate returns a pending update in the given state.
func NewPendingUpdate(t testing.TB, chain, batchID string, state models.PendingUpdateState) *models.PendingUpdate {
	t.Helper()

	return &models.PendingUpdate{
		ID:       uuid.New(),
		Chain:    chain,
		BatchID:  batchID,
		State:    state,
		DueSince: time.Unix(1700000000, 0),
	}
}

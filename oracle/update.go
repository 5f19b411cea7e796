package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// FeedUpdate is one oracle update bundled into a batch transaction.
type FeedUpdate struct {
	Oracle     common.Address
	FeedID     common.Hash
	UpdateData [][]byte
	Fee        *big.Int
}

// PackBatchUpdate encodes all updates as one aggregate3Value call and returns
// the calldata together with the total value to attach.
func PackBatchUpdate(updates []FeedUpdate) ([]byte, *big.Int, error) {
	if len(updates) == 0 {
		return nil, nil, errors.New("PackBatchUpdate: no updates")
	}
	total := new(big.Int)
	calls := make([]Call3Value, 0, len(updates))
	for _, u := range updates {
		data, err := PackUpdate(u.FeedID, u.UpdateData)
		if err != nil {
			return nil, nil, err
		}
		fee := u.Fee
		if fee == nil {
			fee = new(big.Int)
		}
		total.Add(total, fee)
		calls = append(calls, Call3Value{
			Target:       u.Oracle,
			AllowFailure: true,
			Value:        fee,
			CallData:     data,
		})
	}
	input, err := PackAggregate3Value(calls)
	if err != nil {
		return nil, nil, errors.Wrap(err, "PackBatchUpdate failed")
	}
	return input, total, nil
}

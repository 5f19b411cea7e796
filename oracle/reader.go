package oracle

import (
	"context"
	"math/big"
	"time"

	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/types"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Reader reads current on-chain Pyth values for a chain through Multicall3.
type Reader struct {
	client client.Client
	chain  *types.Chain
	logger types.Logger
}

func NewReader(ethClient client.Client, chain *types.Chain, logger types.Logger) *Reader {
	return &Reader{client: ethClient, chain: chain, logger: logger}
}

// ReadPrices returns the on-chain value of every requested feed. A feed the
// Pyth contract has never seen comes back as the zero value, which any
// heartbeat treats as expired.
func (r *Reader) ReadPrices(ctx context.Context, ids []common.Hash) (map[common.Hash]types.PriceValue, error) {
	calls := make([]Call3, 0, len(ids))
	for _, id := range ids {
		data, err := PackGetPriceUnsafe(id)
		if err != nil {
			return nil, errors.Wrap(err, "ReadPrices failed")
		}
		calls = append(calls, Call3{Target: r.chain.PythAddress, AllowFailure: true, CallData: data})
	}
	input, err := PackAggregate3(calls)
	if err != nil {
		return nil, errors.Wrap(err, "ReadPrices failed")
	}

	to := r.chain.MulticallAddress
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, errors.Wrapf(types.ErrRPCFailure, "ReadPrices: %v", err)
	}
	results, err := UnpackAggregate3(out)
	if err != nil {
		return nil, errors.Wrap(types.ErrRPCFailure, err.Error())
	}
	if len(results) != len(ids) {
		return nil, errors.Wrapf(types.ErrRPCFailure, "ReadPrices: expected %d results, got %d", len(ids), len(results))
	}

	values := make(map[common.Hash]types.PriceValue, len(ids))
	for i, res := range results {
		if !res.Success {
			r.logger.Debugw("Reader: price not available on chain", "feedID", ids[i].Hex())
			values[ids[i]] = types.PriceValue{}
			continue
		}
		v, err := UnpackPrice(res.ReturnData)
		if err != nil {
			return nil, errors.Wrap(types.ErrRPCFailure, err.Error())
		}
		values[ids[i]] = v
	}
	return values, nil
}

// UpdateFee asks the Pyth contract what it charges for the given payload.
func (r *Reader) UpdateFee(ctx context.Context, updateData [][]byte) (*big.Int, error) {
	input, err := PackGetUpdateFee(updateData)
	if err != nil {
		return nil, errors.Wrap(err, "UpdateFee failed")
	}
	to := r.chain.PythAddress
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, errors.Wrapf(types.ErrRPCFailure, "UpdateFee: %v", err)
	}
	fee, err := UnpackUpdateFee(out)
	if err != nil {
		return nil, errors.Wrap(types.ErrRPCFailure, err.Error())
	}
	return fee, nil
}

func unixTime(ts *big.Int) time.Time {
	if ts == nil || ts.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0)
}

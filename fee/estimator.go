package fee

import (
	"context"
	"math"
	"math/big"
	"sort"

	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/celer-network/oracle-updater/types"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/pkg/errors"
)

const (
	TxTypeLegacy  = uint8(0)
	TxTypeDynamic = uint8(2)
)

// Estimator proposes gas prices and limits for one chain and worker.
type Estimator struct {
	client   client.Client
	txConfig types.TxConfig
	logger   types.Logger
}

func NewEstimator(ethClient client.Client, txConfig types.TxConfig, logger types.Logger) *Estimator {
	return &Estimator{client: ethClient, txConfig: txConfig, logger: logger}
}

// Estimate builds a complete fee plan for the given call.
func (e *Estimator) Estimate(ctx context.Context, call ethereum.CallMsg) (*models.FeePlan, error) {
	gasLimit, err := e.GasLimit(ctx, call)
	if err != nil {
		return nil, err
	}
	price, tip, err := e.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	plan := &models.FeePlan{
		TxType:     e.txConfig.TxType,
		GasLimit:   gasLimit,
		Multiplier: e.txConfig.GasPriceMultiplier.String(),
	}
	if e.txConfig.TxType == TxTypeDynamic {
		plan.GasFeeCap = price
		plan.GasTipCap = tip
	} else {
		plan.GasPrice = price
	}
	e.logger.Debugw("Estimator: fee plan",
		"txType", plan.TxType,
		"gasLimit", plan.GasLimit,
		"price", price,
		"tip", tip,
		"multiplier", plan.Multiplier,
	)
	return plan, nil
}

// GasPrice returns the proposed price (fee cap for dynamic transactions) and
// the tip. Legacy transactions use the node's suggested gas price. Dynamic ones
// use the configured percentile of recent base fees scaled by the base fee
// multiplier, plus the tip. Either way the result is scaled by the worker's
// gas price multiplier.
func (e *Estimator) GasPrice(ctx context.Context) (*big.Int, *big.Int, error) {
	if e.txConfig.TxType == TxTypeLegacy {
		return e.legacyGasPrice(ctx)
	}

	params := e.txConfig.EIP1559
	history, err := e.client.FeeHistory(ctx, params.HistoricalBlocks, nil, []float64{params.Percentile})
	if err != nil {
		return nil, nil, errors.Wrapf(types.ErrRPCFailure, "FeeHistory: %v", err)
	}

	baseFee := Percentile(history.BaseFee, params.Percentile)
	if baseFee.Sign() == 0 {
		// Chains without a base fee only offer a legacy gas price.
		return e.legacyGasPrice(ctx)
	}
	base := params.BaseFeeMultiplier.Apply(baseFee)

	var rewards []*big.Int
	for _, r := range history.Reward {
		if len(r) > 0 && r[0] != nil {
			rewards = append(rewards, r[0])
		}
	}
	tip := Percentile(rewards, params.Percentile)
	if tip.Sign() == 0 {
		tip, err = e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, errors.Wrapf(types.ErrRPCFailure, "SuggestGasTipCap: %v", err)
		}
	}

	price := e.txConfig.GasPriceMultiplier.Apply(new(big.Int).Add(base, tip))
	tip = e.txConfig.GasPriceMultiplier.Apply(tip)
	return price, tip, nil
}

func (e *Estimator) legacyGasPrice(ctx context.Context) (*big.Int, *big.Int, error) {
	suggested, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, errors.Wrapf(types.ErrRPCFailure, "SuggestGasPrice: %v", err)
	}
	scaled := e.txConfig.GasPriceMultiplier.Apply(suggested)
	return scaled, scaled, nil
}

// GasLimit applies the configured gas limit policy.
func (e *Estimator) GasLimit(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	switch policy := e.txConfig.GasLimit.(type) {
	case types.FixedGasLimit:
		return policy.Limit, nil
	case types.EstimatedGasLimit:
		estimate, err := e.client.EstimateGas(ctx, call)
		if err != nil {
			return 0, errors.Wrapf(types.ErrRPCFailure, "EstimateGas: %v", err)
		}
		return policy.Multiplier.ApplyUint64(estimate), nil
	default:
		return 0, errors.Wrapf(types.ErrConfigInvalid, "unknown gas limit policy %T", policy)
	}
}

// Percentile returns the nearest-rank percentile of values, or zero when there
// are none. The input is not modified.
func Percentile(values []*big.Int, p float64) *big.Int {
	var sorted []*big.Int
	for _, v := range values {
		if v != nil {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return new(big.Int)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return new(big.Int).Set(sorted[rank-1])
}

package txmanager

import (
	"context"
	"math/big"
	"time"

	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/fee"
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/celer-network/oracle-updater/types"

	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// maxEthNodeRequestTime bounds a single send when the caller has no tighter
// deadline.
const maxEthNodeRequestTime = 15 * time.Second

// Submission describes a transaction the node accepted.
type Submission struct {
	TxHash  gethCommon.Hash
	Nonce   uint64
	Value   *big.Int
	FeePlan *models.FeePlan
}

// newTransaction builds an unsigned transaction of the type the fee plan was
// made for.
func newTransaction(
	chainID *big.Int,
	nonce uint64,
	to gethCommon.Address,
	value *big.Int,
	data []byte,
	plan *models.FeePlan,
) (*gethTypes.Transaction, error) {
	switch plan.TxType {
	case fee.TxTypeDynamic:
		if plan.GasFeeCap == nil || plan.GasTipCap == nil {
			return nil, errors.New("dynamic fee plan without fee caps")
		}
		return gethTypes.NewTx(&gethTypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: plan.GasTipCap,
			GasFeeCap: bigMax(plan.GasFeeCap, plan.GasTipCap),
			Gas:       plan.GasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		}), nil
	case fee.TxTypeLegacy:
		if plan.GasPrice == nil {
			return nil, errors.New("legacy fee plan without gas price")
		}
		return gethTypes.NewTx(&gethTypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: plan.GasPrice,
			Gas:      plan.GasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		}), nil
	default:
		return nil, errors.Wrapf(types.ErrConfigInvalid, "unsupported tx type %d", plan.TxType)
	}
}

// sendTransaction broadcasts the signed transaction and returns an error (or
// nil) depending on the status. A transaction the node already knows counts
// as sent.
func sendTransaction(ctx context.Context, ethClient client.Client, signedTx *gethTypes.Transaction, logger types.Logger) *client.SendError {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxEthNodeRequestTime)
		defer cancel()
	}
	err := ethClient.SendTransaction(ctx, signedTx)
	err = errors.WithStack(err)

	logger.Debugw("TxManager: Broadcasting transaction",
		"txHash", signedTx.Hash(),
		"nonce", signedTx.Nonce(),
		"gasFeeCap", signedTx.GasFeeCap(),
		"gasTipCap", signedTx.GasTipCap(),
	)
	sendErr := client.NewSendError(err)
	if sendErr.IsTransactionAlreadyInMempool() {
		logger.Debugw("Submitter: transaction already in mempool", "txHash", signedTx.Hash(), "nodeErr", sendErr.Error())
		return nil
	}
	return sendErr
}

package txmanager

import (
	"context"
	"time"

	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/types"

	ethereum "github.com/ethereum/go-ethereum"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

type TrackStatus string

const (
	TrackConfirmed = TrackStatus("confirmed")
	TrackTimedOut  = TrackStatus("timed_out")
	TrackReverted  = TrackStatus("reverted")
	// TrackCancelled means the caller stopped waiting.
	TrackCancelled = TrackStatus("cancelled")
)

type TrackResult struct {
	Status        TrackStatus
	Confirmations uint64
}

// Tracker waits for a sent transaction to reach the required depth.
type Tracker interface {
	// Track polls until the transaction is confirmed, reverts, the
	// confirmation timeout elapses or ctx is cancelled. progress is called
	// whenever the observed depth changes.
	Track(ctx context.Context, txHash gethCommon.Hash, progress func(confirmations uint64)) TrackResult
}

type ethTracker struct {
	ethClient client.Client
	txConfig  types.TxConfig
	logger    types.Logger
}

var _ Tracker = (*ethTracker)(nil)

func NewTracker(ethClient client.Client, txConfig types.TxConfig, logger types.Logger) Tracker {
	return &ethTracker{ethClient: ethClient, txConfig: txConfig, logger: logger}
}

// Track polls at a fixed cadence. It never reports later than the
// confirmation timeout.
func (et *ethTracker) Track(ctx context.Context, txHash gethCommon.Hash, progress func(uint64)) TrackResult {
	required := et.txConfig.RequiredConfirmations
	if required == 0 {
		required = 1
	}
	ctx, cancel := context.WithTimeout(ctx, et.txConfig.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(et.txConfig.ConfirmationPollingInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				et.logger.Debugw("Tracker: gave up waiting",
					"txHash", txHash.Hex(),
					"confirmations", last,
					"required", required,
				)
				return TrackResult{Status: TrackTimedOut, Confirmations: last}
			}
			return TrackResult{Status: TrackCancelled, Confirmations: last}
		case <-ticker.C:
		}

		confirmations, receipt, err := et.confirmations(ctx, txHash)
		if err != nil {
			if ctx.Err() == nil {
				et.logger.Warnw("Tracker: could not fetch confirmations", "txHash", txHash.Hex(), "err", err)
			}
			continue
		}
		if receipt != nil && receipt.Status == gethTypes.ReceiptStatusFailed {
			et.logger.Warnw("Tracker: transaction reverted",
				"txHash", txHash.Hex(),
				"blockNumber", receipt.BlockNumber,
			)
			return TrackResult{Status: TrackReverted, Confirmations: confirmations}
		}
		if confirmations != last {
			last = confirmations
			if progress != nil {
				progress(confirmations)
			}
		}
		if confirmations >= required {
			return TrackResult{Status: TrackConfirmed, Confirmations: confirmations}
		}
	}
}

// confirmations returns zero while the transaction is not in a block.
func (et *ethTracker) confirmations(ctx context.Context, txHash gethCommon.Hash) (uint64, *gethTypes.Receipt, error) {
	receipt, err := et.ethClient.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return 0, nil, nil
	} else if err != nil {
		return 0, nil, errors.Wrapf(types.ErrRPCFailure, "TransactionReceipt: %v", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return 0, nil, nil
	}
	head, err := et.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, nil, errors.Wrapf(types.ErrRPCFailure, "BlockNumber: %v", err)
	}
	included := receipt.BlockNumber.Uint64()
	if head < included {
		return 0, receipt, nil
	}
	return head - included + 1, receipt, nil
}

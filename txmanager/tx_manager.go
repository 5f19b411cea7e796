package txmanager

import (
	"github.com/celer-network/oracle-updater/cache"
	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/store"
	"github.com/celer-network/oracle-updater/types"
)

// NewTxManager wires the submitter, tracker and coordinator for one chain.
func NewTxManager(
	ethClient client.Client,
	chain *types.Chain,
	store store.Store,
	onChainCache *cache.OnChainCache,
	config *types.Config,
) (*Coordinator, error) {
	submitter, err := NewSubmitter(ethClient, chain, config.Logger)
	if err != nil {
		return nil, err
	}
	tracker := NewTracker(ethClient, chain.TxConfig, config.Logger)
	config.Logger.Infow("TxManager: signer loaded",
		"chain", chain.Name,
		"address", submitter.From().Hex(),
		"worker", config.Worker.Index,
	)
	return NewCoordinator(chain, config.Worker, submitter, tracker, onChainCache, store, config.Logger), nil
}

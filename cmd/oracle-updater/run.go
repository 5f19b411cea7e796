package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/celer-network/oracle-updater/cache"
	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/logger"
	"github.com/celer-network/oracle-updater/oracle"
	"github.com/celer-network/oracle-updater/pricefeed"
	"github.com/celer-network/oracle-updater/store/tendermint"
	"github.com/celer-network/oracle-updater/subscription"
	"github.com/celer-network/oracle-updater/txmanager"
	"github.com/celer-network/oracle-updater/types"
	"github.com/celer-network/oracle-updater/updater"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the updater until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dropped, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, dropped)
		},
	}
}

func run(ctx context.Context, cfg *types.Config, dropped []string) error {
	lggr, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer lggr.Close()
	cfg.Logger = lggr

	for _, name := range dropped {
		lggr.Warnw("Main: endpoint dropped, its url is empty", "endpoint", name)
	}
	lggr.Infow("Main: starting",
		"worker", cfg.Worker.Index,
		"chains", len(cfg.Chains),
		"endpoints", len(cfg.Endpoints),
	)

	db, err := tendermint.OpenDB(cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()
	st := tendermint.NewTMStore(db)
	onChainCache := cache.New(cfg.OnChainCacheTTL)

	source := pricefeed.NewSource(cfg, pricefeed.NewHermesClient())
	var services []updater.Service
	ids := feedIDs(cfg.Chains)
	for _, endpoint := range cfg.Endpoints {
		if !endpoint.Mode.AllowsSubscription() {
			continue
		}
		stream, err := subscription.NewPriceStream(endpoint, ids, lggr)
		if err != nil {
			return err
		}
		source.AttachStream(endpoint.Name, stream)
		services = append(services, stream)
	}

	var chains []*updater.ChainRuntime
	for _, chain := range cfg.Chains {
		ethClient, err := dialChain(ctx, chain, lggr)
		if err != nil {
			return err
		}
		defer ethClient.Close()

		coordinator, err := txmanager.NewTxManager(ethClient, chain, st, onChainCache, cfg)
		if err != nil {
			return err
		}
		reader := oracle.NewReader(ethClient, chain, lggr)
		chains = append(chains, &updater.ChainRuntime{
			Chain:       chain,
			ReadPrices:  reader.ReadPrices,
			Coordinator: coordinator,
		})
	}

	pinger, err := updater.NewUptimePinger(cfg.Chains, lggr)
	if err != nil {
		return err
	}
	services = append(services, pinger)

	u := updater.New(cfg, source, onChainCache, chains, services...)
	if cfg.StatusAddr != "" {
		u.ServeStatus(updater.NewStatusServer(cfg.StatusAddr, u, st))
	}
	return u.Run(ctx)
}

// dialChain connects to the chain's nodes and refuses to continue when the
// node serves a different chain than configured.
func dialChain(ctx context.Context, chain *types.Chain, lggr types.Logger) (*client.Impl, error) {
	ethClient, err := client.NewImpl(chain, lggr)
	if err != nil {
		return nil, err
	}
	if err := ethClient.Dial(ctx); err != nil {
		ethClient.Close()
		return nil, err
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		ethClient.Close()
		return nil, errors.Wrapf(types.ErrRPCFailure, "%s: could not read chain id: %v", chain.Name, err)
	}
	if chainID.Cmp(chain.ChainID) != 0 {
		ethClient.Close()
		return nil, errors.Wrapf(types.ErrConfigInvalid, "%s: node serves chain %s, configured %s", chain.Name, chainID, chain.ChainID)
	}
	return ethClient, nil
}

// feedIDs collects every feed across chains once, for the price streams.
func feedIDs(chains []*types.Chain) []common.Hash {
	seen := map[common.Hash]bool{}
	var ids []common.Hash
	for _, chain := range chains {
		for _, b := range chain.Batches {
			for _, id := range b.FeedIDs() {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

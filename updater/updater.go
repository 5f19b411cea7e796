package updater

import (
	"context"
	"time"

	"github.com/celer-network/oracle-updater/batch"
	"github.com/celer-network/oracle-updater/cache"
	"github.com/celer-network/oracle-updater/staleness"
	"github.com/celer-network/oracle-updater/txmanager"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// PriceSource returns a usable set of fresh prices for the given feeds.
type PriceSource interface {
	Fetch(ctx context.Context, ids []common.Hash) (*types.PriceSet, error)
}

// Coordinator is the submission state machine of one chain.
type Coordinator interface {
	Start() error
	Stop() error
	Observe(ctx context.Context, obs txmanager.Observation) txmanager.State
	State(batchID string) txmanager.State
	Snapshot() []txmanager.BatchStatus
}

// Service is anything started before the batch loops and stopped after them.
type Service interface {
	Start() error
	Stop() error
}

// ChainRuntime holds what the batch loops of one chain need.
type ChainRuntime struct {
	Chain       *types.Chain
	ReadPrices  cache.ReadFunc
	Coordinator Coordinator
}

// FeedObservation is the latest evaluation of one feed.
type FeedObservation struct {
	OnChain   types.PriceValue
	Candidate types.PriceValue
	Result    staleness.Result
	Observed  time.Time
}

// Updater runs one polling loop per batch. Loops are independent: a slow or
// failing batch never delays another.
type Updater struct {
	config   *types.Config
	source   PriceSource
	cache    *cache.OnChainCache
	chains   []*ChainRuntime
	services []Service
	status   *StatusServer
	logger   types.Logger
	now      func() time.Time

	observed cmap.ConcurrentMap[string, FeedObservation]

	txmanager.StartStopOnce
}

func New(config *types.Config, source PriceSource, onChainCache *cache.OnChainCache, chains []*ChainRuntime, services ...Service) *Updater {
	return &Updater{
		config:   config,
		source:   source,
		cache:    onChainCache,
		chains:   chains,
		services: services,
		logger:   config.Logger,
		now:      time.Now,
		observed: cmap.New[FeedObservation](),
	}
}

// ServeStatus makes Run also serve the status endpoint.
func (u *Updater) ServeStatus(status *StatusServer) {
	u.status = status
}

// Chains returns the chain runtimes in configuration order.
func (u *Updater) Chains() []*ChainRuntime {
	return u.chains
}

// Observed returns the latest evaluation of a feed, if any.
func (u *Updater) Observed(chain string, id common.Hash) (FeedObservation, bool) {
	return u.observed.Get(observedKey(chain, id))
}

// Run starts every service and coordinator, polls until ctx is cancelled and
// then stops everything again.
func (u *Updater) Run(ctx context.Context) (err error) {
	if !u.OkayToStart() {
		return errors.New("Updater is already started")
	}

	var started []Service
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			err = multierr.Append(err, started[i].Stop())
		}
	}()
	for _, s := range u.services {
		if err := s.Start(); err != nil {
			return errors.Wrap(err, "could not start service")
		}
		started = append(started, s)
	}
	for _, rt := range u.chains {
		if err := rt.Coordinator.Start(); err != nil {
			return errors.Wrapf(err, "could not start coordinator of %s", rt.Chain.Name)
		}
		started = append(started, rt.Coordinator)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range u.chains {
		for _, b := range rt.Chain.Batches {
			rt, b := rt, b
			g.Go(func() error {
				u.pollBatch(gctx, rt, b)
				return nil
			})
		}
	}
	if u.status != nil {
		g.Go(func() error {
			return u.status.Run(gctx)
		})
	}

	u.logger.Infow("Updater: started",
		"worker", u.config.Worker.Index,
		"chains", len(u.chains),
		"endpoints", len(u.config.Endpoints),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	u.logger.Infow("Updater: stopped", "worker", u.config.Worker.Index)
	return nil
}

// pollBatch runs a cycle every polling interval, measured start to start.
func (u *Updater) pollBatch(ctx context.Context, rt *ChainRuntime, b *types.Batch) {
	u.logger.Infow("Updater: polling batch",
		"chain", rt.Chain.Name,
		"batchID", b.ID,
		"customerID", b.CustomerID,
		"feeds", len(b.Feeds),
		"interval", b.PollingInterval,
		"writeDelay", b.WriteDelay,
	)
	for {
		pollTimer := time.NewTimer(txmanager.WithJitter(b.PollingInterval))

		u.Cycle(ctx, rt, b)

		select {
		case <-ctx.Done():
			// NOTE: See: https://godoc.org/time#Timer.Stop for an explanation of this pattern
			if !pollTimer.Stop() {
				<-pollTimer.C
			}
			return
		case <-pollTimer.C:
			continue
		}
	}
}

// Cycle fetches, evaluates and hands one observation of the batch to the
// coordinator. A cycle without usable prices or on-chain values is skipped and
// leaves the coordinator untouched.
func (u *Updater) Cycle(ctx context.Context, rt *ChainRuntime, b *types.Batch) txmanager.State {
	now := u.now()
	ids := b.FeedIDs()

	set, err := u.source.Fetch(ctx, ids)
	if err != nil {
		u.logger.Warnw("Updater: skipping cycle, no usable price source",
			"chain", rt.Chain.Name,
			"batchID", b.ID,
			"customerID", b.CustomerID,
			"err", err,
		)
		return rt.Coordinator.State(b.ID)
	}

	onChain, generation, err := u.cache.Read(ctx, rt.Chain.Name, b, now, rt.ReadPrices)
	if err != nil {
		u.logger.Warnw("Updater: skipping cycle, could not read on-chain values",
			"chain", rt.Chain.Name,
			"batchID", b.ID,
			"customerID", b.CustomerID,
			"err", err,
		)
		return rt.Coordinator.State(b.ID)
	}

	results := batch.Evaluate(b, onChain, set, now)
	for id, res := range results {
		u.observed.Set(observedKey(rt.Chain.Name, id), FeedObservation{
			OnChain:   onChain[id],
			Candidate: set.Prices[id].Value,
			Result:    res,
			Observed:  now,
		})
	}

	var candidate *batch.Candidate
	if candidates := batch.Plan([]*types.Batch{b}, results, set); len(candidates) > 0 {
		candidate = candidates[0]
	}
	if candidate != nil {
		u.logger.Debugw("Updater: batch has due feeds",
			"chain", rt.Chain.Name,
			"batchID", b.ID,
			"due", len(candidate.Due),
			"reasons", candidate.Reasons(),
			"source", set.Endpoint,
		)
	}

	return rt.Coordinator.Observe(ctx, txmanager.Observation{
		Batch:      b,
		Candidate:  candidate,
		OnChain:    onChain,
		Generation: generation,
		Now:        now,
	})
}

func observedKey(chain string, id common.Hash) string {
	return chain + "|" + id.Hex()
}

package txmanager

import (
	"context"
	"sync"
	"time"

	"github.com/celer-network/oracle-updater/batch"
	"github.com/celer-network/oracle-updater/cache"
	"github.com/celer-network/oracle-updater/store"
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/celer-network/oracle-updater/types"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type State string

const (
	StateIdle                 = State("idle")
	StateWaiting              = State("waiting")
	StateSubmitting           = State("submitting")
	StateAwaitingConfirmation = State("awaiting_confirmation")
)

// Observation is the result of one evaluation cycle of a batch.
type Observation struct {
	Batch *types.Batch
	// Candidate is nil when no member of the batch is due.
	Candidate *batch.Candidate
	OnChain   map[gethCommon.Hash]types.PriceValue
	// Generation is the on-chain cache generation OnChain was read under.
	Generation uint64
	Now        time.Time
}

// BatchStatus is a point in time view of one batch for reporting.
type BatchStatus struct {
	BatchID       string
	State         State
	DueSince      time.Time
	Deadline      time.Time
	TxHash        *gethCommon.Hash
	Confirmations uint64
}

type batchState struct {
	state     State
	pending   *models.PendingUpdate
	candidate *batch.Candidate
	deadline  time.Time
	cancel    context.CancelFunc
}

// Coordinator runs the per batch submission state machine of one worker on
// one chain:
//
//	Idle -> Observed -> Waiting -> Submitting -> AwaitingConfirmation
//
// A batch observed due waits for the worker's write delay, measured from the
// first due observation, before it is submitted. A batch observed non-due
// while waiting, or while its transaction is still unmined, is superseded.
// Terminal outcomes are recorded and return the batch to Idle.
type Coordinator struct {
	chain     *types.Chain
	worker    types.WorkerIdentity
	submitter Submitter
	tracker   Tracker
	cache     *cache.OnChainCache
	store     store.Store
	logger    types.Logger
	now       func() time.Time

	mutex   sync.Mutex
	batches map[string]*batchState
	wg      sync.WaitGroup

	StartStopOnce
}

func NewCoordinator(
	chain *types.Chain,
	worker types.WorkerIdentity,
	submitter Submitter,
	tracker Tracker,
	onChainCache *cache.OnChainCache,
	store store.Store,
	logger types.Logger,
) *Coordinator {
	return &Coordinator{
		chain:     chain,
		worker:    worker,
		submitter: submitter,
		tracker:   tracker,
		cache:     onChainCache,
		store:     store,
		logger:    logger,
		now:       time.Now,
		batches:   map[string]*batchState{},
	}
}

// Start restores persisted pending updates. Waiting batches keep their
// deadline and broadcast transactions are tracked again. An update that was
// interrupted mid-submission is recorded as failed, since it is unknown
// whether it reached a node.
func (c *Coordinator) Start() error {
	return c.StartOnce("Coordinator", func() error {
		updates, err := c.store.GetPendingUpdates()
		if err != nil {
			return errors.Wrap(err, "could not load pending updates")
		}

		c.mutex.Lock()
		defer c.mutex.Unlock()
		for _, pending := range updates {
			if pending.Chain != c.chain.Name {
				continue
			}
			b := c.chain.BatchByID(pending.BatchID)
			if b == nil {
				c.logger.Warnw("Coordinator: dropping pending update of unknown batch",
					"chain", c.chain.Name,
					"batchID", pending.BatchID,
				)
				c.deletePending(pending)
				continue
			}
			bs := c.stateOf(b.ID)
			bs.pending = pending
			switch {
			case pending.State == models.PendingUpdateWaiting:
				bs.state = StateWaiting
				bs.deadline = pending.DueSince.Add(b.WriteDelay)
			case pending.State == models.PendingUpdateAwaitingConfirmation && pending.TxHash != nil:
				bs.state = StateAwaitingConfirmation
				c.track(b, bs)
			default:
				c.finish(b, bs, models.OutcomeFailed, "interrupted before broadcast", c.now())
				continue
			}
			c.logger.Infow("Coordinator: resumed pending update",
				"chain", c.chain.Name,
				"batchID", b.ID,
				"state", bs.state,
			)
		}
		return nil
	})
}

// Stop abandons every tracking goroutine. Their pending updates stay
// persisted for the next Start.
func (c *Coordinator) Stop() error {
	return c.StopOnce("Coordinator", func() error {
		c.mutex.Lock()
		for _, bs := range c.batches {
			if bs.cancel != nil {
				bs.cancel()
			}
		}
		c.mutex.Unlock()
		c.wg.Wait()
		return nil
	})
}

// State returns the current state of a batch.
func (c *Coordinator) State(batchID string) State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stateOf(batchID).state
}

// Snapshot reports every batch this coordinator has seen.
func (c *Coordinator) Snapshot() []BatchStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	statuses := make([]BatchStatus, 0, len(c.chain.Batches))
	for _, b := range c.chain.Batches {
		bs := c.stateOf(b.ID)
		status := BatchStatus{BatchID: b.ID, State: bs.state, Deadline: bs.deadline}
		if bs.pending != nil {
			status.DueSince = bs.pending.DueSince
			status.TxHash = bs.pending.TxHash
			status.Confirmations = bs.pending.Confirmations
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Observe feeds one evaluation cycle into the state machine and returns the
// resulting state. When the write delay has elapsed the batch is submitted
// before Observe returns.
func (c *Coordinator) Observe(ctx context.Context, obs Observation) State {
	b := obs.Batch

	c.mutex.Lock()
	bs := c.stateOf(b.ID)
	if gen := c.cache.Generation(c.chain.Name, b.ID); obs.Generation < gen {
		c.logger.Debugw("Coordinator: discarding observation read before a confirmed write",
			"chain", c.chain.Name,
			"batchID", b.ID,
			"generation", obs.Generation,
			"current", gen,
		)
		defer c.mutex.Unlock()
		return bs.state
	}

	switch bs.state {
	case StateIdle:
		if obs.Candidate == nil {
			c.mutex.Unlock()
			return StateIdle
		}
		c.observed(b, bs, obs)
	case StateWaiting:
		if obs.Candidate == nil {
			c.finish(b, bs, models.OutcomeSuperseded, "no longer due while waiting", obs.Now)
			c.mutex.Unlock()
			return StateIdle
		}
		bs.candidate = obs.Candidate
	case StateSubmitting:
		c.mutex.Unlock()
		return StateSubmitting
	case StateAwaitingConfirmation:
		defer c.mutex.Unlock()
		if obs.Candidate == nil && !isOwnWrite(bs.pending, obs.OnChain) {
			bs.cancel()
			c.finish(b, bs, models.OutcomeSuperseded, "no longer due before inclusion", obs.Now)
		}
		return bs.state
	}

	if obs.Now.Before(bs.deadline) {
		defer c.mutex.Unlock()
		return bs.state
	}

	candidate := bs.candidate
	pending := bs.pending
	bs.state = StateSubmitting
	pending.State = models.PendingUpdateSubmitting
	pending.ProposedValues = proposedValues(candidate)
	c.putPending(pending)
	c.mutex.Unlock()

	c.logger.Infow("Coordinator: submitting batch",
		"chain", c.chain.Name,
		"batchID", b.ID,
		"customerID", b.CustomerID,
		"worker", c.worker.Index,
		"dueFor", obs.Now.Sub(pending.DueSince),
	)
	sub, err := c.submitter.Submit(ctx, candidate)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if bs.pending != pending {
		// Stopped or superseded while sending.
		return bs.state
	}
	if err != nil {
		outcome := models.OutcomeFailed
		if errors.Is(err, types.ErrSubmissionRejected) {
			outcome = models.OutcomeRejected
		}
		c.logger.Warnw("Coordinator: submission failed",
			"chain", c.chain.Name,
			"batchID", b.ID,
			"customerID", b.CustomerID,
			"worker", c.worker.Index,
			"err", err,
		)
		c.finish(b, bs, outcome, err.Error(), obs.Now)
		return StateIdle
	}

	pending.State = models.PendingUpdateAwaitingConfirmation
	pending.TxHash = &sub.TxHash
	pending.Nonce = sub.Nonce
	pending.FeePlan = sub.FeePlan
	pending.SubmittedAt = obs.Now
	bs.state = StateAwaitingConfirmation
	c.putPending(pending)
	c.track(b, bs)
	return bs.state
}

// observed moves an idle batch into Waiting with a deadline of the worker's
// write delay from now.
func (c *Coordinator) observed(b *types.Batch, bs *batchState, obs Observation) {
	bs.pending = &models.PendingUpdate{
		ID:       uuid.New(),
		Chain:    c.chain.Name,
		BatchID:  b.ID,
		State:    models.PendingUpdateWaiting,
		DueSince: obs.Now,
	}
	bs.candidate = obs.Candidate
	bs.deadline = obs.Now.Add(b.WriteDelay)
	bs.state = StateWaiting
	c.putPending(bs.pending)

	c.logger.Infow("Coordinator: batch due",
		"chain", c.chain.Name,
		"batchID", b.ID,
		"customerID", b.CustomerID,
		"worker", c.worker.Index,
		"reasons", obs.Candidate.Reasons(),
		"source", obs.Candidate.Source,
		"writeDelay", b.WriteDelay,
	)
}

// track starts waiting for the batch's transaction in the background. Must be
// called with the mutex held.
func (c *Coordinator) track(b *types.Batch, bs *batchState) {
	ctx, cancel := context.WithCancel(context.Background())
	bs.cancel = cancel
	pending := bs.pending
	txHash := *pending.TxHash

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		res := c.tracker.Track(ctx, txHash, func(confirmations uint64) {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			if bs.pending == pending {
				pending.Confirmations = confirmations
			}
		})
		c.complete(b, bs, pending, res)
	}()
}

func (c *Coordinator) complete(b *types.Batch, bs *batchState, pending *models.PendingUpdate, res TrackResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if bs.pending != pending || res.Status == TrackCancelled {
		return
	}
	pending.Confirmations = res.Confirmations

	switch res.Status {
	case TrackConfirmed:
		// Cached values predate our write; drop them before the next
		// evaluation of this batch can see them.
		c.cache.Invalidate(c.chain.Name, b)
		c.finish(b, bs, models.OutcomeConfirmed, "", c.now())
	case TrackReverted:
		c.finish(b, bs, models.OutcomeTimedOut, "reverted", c.now())
	default:
		c.finish(b, bs, models.OutcomeTimedOut, types.ErrConfirmationTimeout.Error(), c.now())
	}
}

// finish records the terminal outcome of the batch's pending update and
// returns the batch to Idle. Must be called with the mutex held.
func (c *Coordinator) finish(b *types.Batch, bs *batchState, outcome models.SubmissionOutcome, reason string, now time.Time) {
	pending := bs.pending
	if pending != nil {
		record := &models.SubmissionRecord{
			ID:       pending.ID,
			Chain:    c.chain.Name,
			BatchID:  b.ID,
			TxHash:   pending.TxHash,
			Outcome:  outcome,
			Reason:   reason,
			FeePlan:  pending.FeePlan,
			Recorded: now,
		}
		if err := c.store.PutSubmissionRecord(record); err != nil {
			c.logger.Errorw("Coordinator: could not save submission record", "batchID", b.ID, "err", err)
		}
		c.deletePending(pending)
	}

	var txHash string
	if pending != nil && pending.TxHash != nil {
		txHash = pending.TxHash.Hex()
	}
	c.logger.Infow("Coordinator: batch "+string(outcome),
		"chain", c.chain.Name,
		"batchID", b.ID,
		"customerID", b.CustomerID,
		"worker", c.worker.Index,
		"txHash", txHash,
		"reason", reason,
	)

	*bs = batchState{state: StateIdle}
}

func (c *Coordinator) stateOf(batchID string) *batchState {
	bs, ok := c.batches[batchID]
	if !ok {
		bs = &batchState{state: StateIdle}
		c.batches[batchID] = bs
	}
	return bs
}

func (c *Coordinator) putPending(pending *models.PendingUpdate) {
	if err := c.store.PutPendingUpdate(pending); err != nil {
		c.logger.Errorw("Coordinator: could not save pending update", "batchID", pending.BatchID, "err", err)
	}
}

func (c *Coordinator) deletePending(pending *models.PendingUpdate) {
	if err := c.store.DeletePendingUpdate(pending.Chain, pending.BatchID); err != nil {
		c.logger.Errorw("Coordinator: could not delete pending update", "batchID", pending.BatchID, "err", err)
	}
}

// isOwnWrite reports whether the on-chain values are the ones we proposed,
// i.e. our transaction was included before the tracker noticed.
func isOwnWrite(pending *models.PendingUpdate, onChain map[gethCommon.Hash]types.PriceValue) bool {
	if pending.Confirmations > 0 {
		return true
	}
	if len(pending.ProposedValues) == 0 {
		return false
	}
	for _, v := range pending.ProposedValues {
		current, ok := onChain[v.FeedID]
		if !ok || current.Price != v.Price || !current.PublishTime.Equal(v.PublishTime) {
			return false
		}
	}
	return true
}

func proposedValues(candidate *batch.Candidate) []models.ProposedValue {
	values := make([]models.ProposedValue, 0, len(candidate.Values))
	for _, v := range candidate.Values {
		values = append(values, models.ProposedValue{
			FeedID:      v.FeedID,
			Price:       v.Value.Price,
			Conf:        v.Value.Conf,
			Expo:        v.Value.Expo,
			PublishTime: v.Value.PublishTime,
		})
	}
	return values
}
